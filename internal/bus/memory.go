package bus

import (
	"context"
	"sync"
)

// Hub connects in-process agents. Each member gets a buffered inbox; a
// message for a full inbox is dropped.
type Hub struct {
	mu      sync.RWMutex
	members map[string]*Memory
	order   []string
}

func NewHub() *Hub {
	return &Hub{members: map[string]*Memory{}}
}

// Join adds a member. Joining twice with one id replaces the old member.
func (h *Hub) Join(id, name string) *Memory {
	m := &Memory{hub: h, id: id, name: name, inbox: make(chan Envelope, inboundBuffer)}
	h.mu.Lock()
	if old, ok := h.members[id]; ok {
		old.closeInbox()
	} else {
		h.order = append(h.order, id)
	}
	h.members[id] = m
	h.mu.Unlock()
	return m
}

func (h *Hub) leave(m *Memory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.members[m.id] != m {
		return
	}
	delete(h.members, m.id)
	for i, id := range h.order {
		if id == m.id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *Hub) deliver(from *Memory, to string, raw []byte) {
	env := Envelope{SenderID: from.id, SenderName: from.name, Raw: append([]byte(nil), raw...)}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if to != "" {
		if m, ok := h.members[to]; ok {
			m.offer(env)
		}
		return
	}
	for _, id := range h.order {
		if id != from.id {
			h.members[id].offer(env)
		}
	}
}

type Memory struct {
	hub  *Hub
	id   string
	name string

	mu     sync.Mutex
	closed bool
	inbox  chan Envelope
}

func (m *Memory) Broadcast(ctx context.Context, raw []byte) error {
	return m.send(ctx, "", raw)
}

func (m *Memory) Unicast(ctx context.Context, to string, raw []byte) error {
	return m.send(ctx, to, raw)
}

func (m *Memory) send(ctx context.Context, to string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	m.hub.deliver(m, to, raw)
	return nil
}

func (m *Memory) Inbound() <-chan Envelope { return m.inbox }

func (m *Memory) Close() error {
	m.hub.leave(m)
	m.closeInbox()
	return nil
}

func (m *Memory) offer(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.inbox <- env:
	default:
	}
}

func (m *Memory) closeInbox() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.inbox)
}
