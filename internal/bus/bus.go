package bus

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("bus closed")

// Envelope is one inbound team message with the identity the transport
// vouches for.
type Envelope struct {
	SenderID   string
	SenderName string
	Raw        []byte
}

// Bus carries raw team messages between cooperating agents. Delivery is
// best effort and unordered across senders.
type Bus interface {
	Broadcast(ctx context.Context, raw []byte) error
	Unicast(ctx context.Context, to string, raw []byte) error
	Inbound() <-chan Envelope
	Close() error
}

const inboundBuffer = 256

// Nop drops everything. It stands in when an agent plays alone.
type Nop struct{ ch chan Envelope }

func NewNop() *Nop { return &Nop{ch: make(chan Envelope)} }

func (n *Nop) Broadcast(context.Context, []byte) error       { return nil }
func (n *Nop) Unicast(context.Context, string, []byte) error { return nil }
func (n *Nop) Inbound() <-chan Envelope                      { return n.ch }
func (n *Nop) Close() error                                  { return nil }
