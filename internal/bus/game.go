package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"courier.ai/internal/protocol"
)

// GameTransport is the part of the game connection that relays chat:
// SAY to one agent, SHOUT to all, MSG frames coming back.
type GameTransport interface {
	Say(ctx context.Context, to string, msg json.RawMessage) error
	Shout(ctx context.Context, msg json.RawMessage) error
	Relayed() <-chan protocol.RelayMsg
}

// Game routes team messages through the game server's own relay. The
// server stamps from_id, so the sender identity is trustworthy.
type Game struct {
	t    GameTransport
	self string

	inbound chan Envelope
	cancel  context.CancelFunc
	once    sync.Once
	done    chan struct{}
}

func NewGame(t GameTransport, selfID string) *Game {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Game{
		t:       t,
		self:    selfID,
		inbound: make(chan Envelope, inboundBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go g.pump(ctx)
	return g
}

func (g *Game) pump(ctx context.Context) {
	defer close(g.done)
	defer close(g.inbound)
	src := g.t.Relayed()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-src:
			if !ok {
				return
			}
			if m.FromID == g.self || len(m.Msg) == 0 {
				continue
			}
			env := Envelope{SenderID: m.FromID, SenderName: m.FromName, Raw: []byte(m.Msg)}
			select {
			case g.inbound <- env:
			default:
			}
		}
	}
}

func (g *Game) closed() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

func (g *Game) Broadcast(ctx context.Context, raw []byte) error {
	if g.closed() {
		return ErrClosed
	}
	if !json.Valid(raw) {
		return fmt.Errorf("team message is not JSON")
	}
	return g.t.Shout(ctx, json.RawMessage(raw))
}

func (g *Game) Unicast(ctx context.Context, to string, raw []byte) error {
	if g.closed() {
		return ErrClosed
	}
	if !json.Valid(raw) {
		return fmt.Errorf("team message is not JSON")
	}
	return g.t.Say(ctx, to, json.RawMessage(raw))
}

func (g *Game) Inbound() <-chan Envelope { return g.inbound }

// Close stops relaying. The game connection itself stays open.
func (g *Game) Close() error {
	g.once.Do(func() {
		g.cancel()
		<-g.done
	})
	return nil
}
