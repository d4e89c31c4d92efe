package arena

import (
	"encoding/json"
	"testing"

	"courier.ai/internal/protocol"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	width, height, tiles, err := ParseLayout([]string{
		"....D",
		".#...",
		".....",
	})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	w, err := New(Config{Width: width, Height: height, Tiles: tiles, Seed: 7, ObsRadius: 2, DecayEveryTicks: 1000, ParcelSpawnEveryTicks: 1000})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return w
}

func join(t *testing.T, w *World, name string, x, y int) (*agentState, chan []byte) {
	t.Helper()
	out := make(chan []byte, 64)
	resp := w.handleJoin(JoinRequest{Name: name, Out: out})
	if resp.Err != nil {
		t.Fatalf("join: %v", resp.Err)
	}
	a := w.agents[resp.AgentID]
	a.X, a.Y = x, y
	return a, out
}

func drain(out chan []byte) map[string][][]byte {
	got := map[string][][]byte{}
	for {
		select {
		case b := <-out:
			base, _ := protocol.DecodeBase(b)
			got[base.Type] = append(got[base.Type], b)
		default:
			return got
		}
	}
}

func lastAck(t *testing.T, frames map[string][][]byte) protocol.AckMsg {
	t.Helper()
	acks := frames[protocol.TypeAck]
	if len(acks) == 0 {
		t.Fatalf("no ack")
	}
	var ack protocol.AckMsg
	if err := json.Unmarshal(acks[len(acks)-1], &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	return ack
}

func act(id, typ, dir string) Envelope {
	return Envelope{AgentID: id, Action: &protocol.ActionReq{Type: typ, ReqID: typ + dir, Direction: dir}}
}

func TestParseLayout(t *testing.T) {
	width, height, tiles, err := ParseLayout([]string{"D.#", "..."})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if width != 3 || height != 2 || len(tiles) != 5 {
		t.Fatalf("got %dx%d with %d tiles", width, height, len(tiles))
	}
	if tiles[0] != (protocol.MapTile{X: 0, Y: 1, Delivery: true}) {
		t.Fatalf("first row must be the top: %+v", tiles[0])
	}
	if _, _, _, err := ParseLayout([]string{"..x"}); err == nil {
		t.Fatalf("expected error for unknown glyph")
	}
	if _, _, _, err := ParseLayout(nil); err == nil {
		t.Fatalf("expected error for empty layout")
	}
}

func TestJoin_SendsMapAndSelf(t *testing.T) {
	w := newTestWorld(t)
	_, out := join(t, w, "bob", 0, 0)
	frames := drain(out)
	if len(frames[protocol.TypeMap]) != 1 || len(frames[protocol.TypeYou]) != 1 {
		t.Fatalf("frames: %v", frames)
	}
	var m protocol.MapMsg
	_ = json.Unmarshal(frames[protocol.TypeMap][0], &m)
	if m.Width != 5 || m.Height != 3 || len(m.Tiles) != 14 {
		t.Fatalf("map: %+v", m)
	}
}

func TestMove_BlockedByWallAndAgent(t *testing.T) {
	w := newTestWorld(t)
	a, out := join(t, w, "a", 1, 0)
	join(t, w, "b", 2, 0)
	drain(out)

	// (1,1) is a wall.
	w.step(nil, []Envelope{act(a.ID, protocol.TypeMove, "up")})
	if ack := lastAck(t, drain(out)); ack.OK || ack.Code != protocol.ErrBlocked {
		t.Fatalf("wall: %+v", ack)
	}
	w.step(nil, []Envelope{act(a.ID, protocol.TypeMove, "right")})
	if ack := lastAck(t, drain(out)); ack.OK || ack.Code != protocol.ErrBlocked {
		t.Fatalf("agent: %+v", ack)
	}
	w.step(nil, []Envelope{act(a.ID, protocol.TypeMove, "left")})
	if ack := lastAck(t, drain(out)); !ack.OK || a.X != 0 {
		t.Fatalf("left: %+v at %d", ack, a.X)
	}
	w.step(nil, []Envelope{act(a.ID, protocol.TypeMove, "sideways")})
	if ack := lastAck(t, drain(out)); ack.Code != protocol.ErrBadRequest {
		t.Fatalf("bad dir: %+v", ack)
	}
}

func TestPickupCarryDeliver(t *testing.T) {
	w := newTestWorld(t)
	a, out := join(t, w, "a", 3, 2)
	w.parcels["p1"] = &parcelState{ID: "p1", X: 3, Y: 2, Reward: 9}

	w.step(nil, []Envelope{act(a.ID, protocol.TypePickup, "")})
	ack := lastAck(t, drain(out))
	if !ack.OK || len(ack.Parcels) != 1 || ack.Parcels[0] != "p1" {
		t.Fatalf("pickup: %+v", ack)
	}
	w.step(nil, []Envelope{act(a.ID, protocol.TypeMove, "right")})
	if p := w.parcels["p1"]; p.X != 4 || p.Y != 2 {
		t.Fatalf("parcel did not follow: %+v", p)
	}
	w.step(nil, []Envelope{act(a.ID, protocol.TypePutdown, "")})
	ack = lastAck(t, drain(out))
	if !ack.OK || a.Score != 9 || len(w.parcels) != 0 || w.Metrics().Delivered != 1 {
		t.Fatalf("deliver: ack=%+v score=%d parcels=%d", ack, a.Score, len(w.parcels))
	}
	w.step(nil, []Envelope{act(a.ID, protocol.TypePickup, "")})
	if ack := lastAck(t, drain(out)); ack.Code != protocol.ErrNoParcel {
		t.Fatalf("empty pickup: %+v", ack)
	}
}

func TestPutdownOffStationDrops(t *testing.T) {
	w := newTestWorld(t)
	a, out := join(t, w, "a", 0, 0)
	w.parcels["p1"] = &parcelState{ID: "p1", X: 0, Y: 0, Reward: 5, CarriedBy: a.ID}
	w.step(nil, []Envelope{act(a.ID, protocol.TypePutdown, "")})
	if ack := lastAck(t, drain(out)); !ack.OK {
		t.Fatalf("putdown: %+v", ack)
	}
	if w.parcels["p1"].CarriedBy != "" || a.Score != 0 {
		t.Fatalf("parcel should lie on the floor")
	}
}

func TestSensingRadiusAndDecay(t *testing.T) {
	w := newTestWorld(t)
	w.cfg.DecayEveryTicks = 1
	a, out := join(t, w, "a", 0, 0)
	join(t, w, "near", 0, 2)
	join(t, w, "far", 4, 2)
	w.parcels["p1"] = &parcelState{ID: "p1", X: 2, Y: 0, Reward: 1}
	w.parcels["p2"] = &parcelState{ID: "p2", X: 1, Y: 0, Reward: 3}
	drain(out)

	w.step(nil, nil)
	frames := drain(out)
	var agents protocol.AgentsSensingMsg
	_ = json.Unmarshal(frames[protocol.TypeAgentsSensing][0], &agents)
	if len(agents.Agents) != 1 || agents.Agents[0].Name != "near" {
		t.Fatalf("agents: %+v", agents.Agents)
	}
	var parcels protocol.ParcelsSensingMsg
	_ = json.Unmarshal(frames[protocol.TypeParcelsSensing][0], &parcels)
	if len(parcels.Parcels) != 1 || parcels.Parcels[0].ID != "p2" || parcels.Parcels[0].Reward != 2 {
		t.Fatalf("parcels: %+v", parcels.Parcels)
	}
	if _, ok := w.parcels["p1"]; ok {
		t.Fatalf("p1 should have expired")
	}
	_ = a
}

func TestRelay(t *testing.T) {
	w := newTestWorld(t)
	a, outA := join(t, w, "a", 0, 0)
	b, outB := join(t, w, "b", 4, 2)
	_, outC := join(t, w, "c", 2, 2)
	drain(outA)
	drain(outB)
	drain(outC)

	w.step(nil, []Envelope{
		{AgentID: a.ID, Chat: &protocol.SayReq{Type: protocol.TypeSay, To: b.ID, Msg: json.RawMessage(`{"x":1}`)}},
		{AgentID: b.ID, Chat: &protocol.SayReq{Type: protocol.TypeShout, Msg: json.RawMessage(`{"x":2}`)}},
	})
	if n := len(drain(outA)[protocol.TypeMsg]); n != 1 {
		t.Fatalf("a got %d msgs, want the shout only", n)
	}
	msgsB := drain(outB)[protocol.TypeMsg]
	if len(msgsB) != 1 {
		t.Fatalf("b got %d msgs", len(msgsB))
	}
	var relay protocol.RelayMsg
	_ = json.Unmarshal(msgsB[0], &relay)
	if relay.FromID != a.ID || relay.FromName != "a" || string(relay.Msg) != `{"x":1}` {
		t.Fatalf("relay: %+v", relay)
	}
	if n := len(drain(outC)[protocol.TypeMsg]); n != 1 {
		t.Fatalf("c got %d msgs", n)
	}
}

func TestLeaveReleasesParcels(t *testing.T) {
	w := newTestWorld(t)
	a, _ := join(t, w, "a", 0, 0)
	w.parcels["p1"] = &parcelState{ID: "p1", Reward: 5, CarriedBy: a.ID}
	w.step([]string{a.ID}, nil)
	if len(w.agents) != 0 || w.parcels["p1"].CarriedBy != "" {
		t.Fatalf("leave did not clean up")
	}
}
