package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"courier.ai/internal/arena"
	"courier.ai/internal/planning"
	"courier.ai/internal/protocol"
)

func startArena(t *testing.T) string {
	t.Helper()
	width, height, tiles, err := arena.ParseLayout([]string{
		"D....",
		".....",
	})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	w, err := arena.New(arena.Config{Width: width, Height: height, Tiles: tiles, TickRateHz: 50, Seed: 3})
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(NewServer(w, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, name string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url+"?name="+name, "", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextSensed(t *testing.T, c *Client, typ string) protocol.Sensed {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-c.Sensing():
			if !ok {
				t.Fatalf("sensing closed: %v", c.Err())
			}
			if s.Type == typ {
				return s
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q", typ)
		}
	}
}

func TestClient_MapThenSelf(t *testing.T) {
	url := startArena(t)
	c := dial(t, url, "alice")

	m := nextSensed(t, c, protocol.TypeMap)
	if m.Map == nil || m.Map.Width != 5 || m.Map.Height != 2 || len(m.Map.Tiles) != 10 {
		t.Fatalf("map: %+v", m.Map)
	}
	you := nextSensed(t, c, protocol.TypeYou)
	if you.You == nil || you.You.Name != "alice" || you.You.ID == "" {
		t.Fatalf("you: %+v", you.You)
	}
	nextSensed(t, c, protocol.TypeAgentsSensing)
	nextSensed(t, c, protocol.TypeParcelsSensing)
}

func TestClient_ActionsAreAcked(t *testing.T) {
	url := startArena(t)
	c := dial(t, url, "alice")
	nextSensed(t, c, protocol.TypeMap)
	you := nextSensed(t, c, protocol.TypeYou)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// One of the two vertical moves is always possible on a two-row map.
	dir := planning.Up
	if you.You.Y == 1 {
		dir = planning.Down
	}
	if err := c.Move(ctx, dir); err != nil {
		t.Fatalf("move %s: %v", dir, err)
	}

	_, err := c.Pickup(ctx)
	if Code(err) != protocol.ErrNoParcel {
		// A parcel may have spawned under us; anything else is a failure.
		if err != nil {
			t.Fatalf("pickup: %v", err)
		}
	}
	if err := c.Move(ctx, planning.Pickup); Code(err) != protocol.ErrBadRequest {
		t.Fatalf("non-move action: %v", err)
	}
}

func TestClient_SayAndShout(t *testing.T) {
	url := startArena(t)
	a := dial(t, url, "a")
	b := dial(t, url, "b")
	youA := nextSensed(t, a, protocol.TypeYou)
	youB := nextSensed(t, b, protocol.TypeYou)

	ctx := context.Background()
	if err := a.Say(ctx, youB.You.ID, json.RawMessage(`{"type":"LEADER"}`)); err != nil {
		t.Fatalf("say: %v", err)
	}
	select {
	case m := <-b.Relayed():
		if m.FromID != youA.You.ID || m.FromName != "a" || string(m.Msg) != `{"type":"LEADER"}` {
			t.Fatalf("relay: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for say")
	}

	if err := b.Shout(ctx, json.RawMessage(`{"type":"INFORM"}`)); err != nil {
		t.Fatalf("shout: %v", err)
	}
	select {
	case m := <-a.Relayed():
		if m.FromID != youB.You.ID {
			t.Fatalf("relay: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for shout")
	}
}

func TestClient_AckTimeoutIsStale(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "tok", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.AckTimeout = 50 * time.Millisecond

	err = c.Move(context.Background(), planning.Left)
	if Code(err) != protocol.ErrStale {
		t.Fatalf("expected stale, got %v", err)
	}
}

func TestClient_ServerGoneEndsStream(t *testing.T) {
	url := startArena(t)
	c := dial(t, url, "a")
	nextSensed(t, c, protocol.TypeMap)
	_ = c.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not stop")
	}
	if err := c.Shout(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error after close")
	}
}
