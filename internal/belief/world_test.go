package belief

import (
	"errors"
	"testing"
	"time"

	"courier.ai/internal/protocol"
)

func TestWorld_SensingBeforeMapIsNoop(t *testing.T) {
	w := NewWorld(Config{})
	w.SenseAgents([]protocol.AgentInfo{{ID: "b", X: 1, Y: 1}}, false)
	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 1, Y: 1, Reward: 3}}, false)
	if len(w.Agents()) != 0 || len(w.Parcels()) != 0 {
		t.Fatalf("expected empty registries before map")
	}
	if _, err := w.View(); !errors.Is(err, ErrNoMap) {
		t.Fatalf("expected ErrNoMap, got %v", err)
	}
	w.SetMap(2, 2, openMap(2, 2))
	if _, err := w.View(); !errors.Is(err, ErrNoSelf) {
		t.Fatalf("expected ErrNoSelf, got %v", err)
	}
}

func TestWorld_AgentVisibility(t *testing.T) {
	w := newTestWorld(newClock(), 5, 5)
	w.SenseSelf(protocol.AgentInfo{ID: "me", X: 0, Y: 0})
	w.SenseAgents([]protocol.AgentInfo{{ID: "b", X: 2, Y: 2}, {ID: "me", X: 0, Y: 0}}, false)
	if len(w.Agents()) != 1 {
		t.Fatalf("self must not be registered as another agent")
	}
	w.SenseAgents([]protocol.AgentInfo{{ID: "c", X: 3, Y: 3}}, true)
	w.SenseAgents(nil, false)

	b, _ := w.Agent("b")
	if b.Visible {
		t.Fatalf("directly sensed agent absent from batch should be invisible")
	}
	c, _ := w.Agent("c")
	if !c.Visible || !c.External {
		t.Fatalf("externally reported agent should stay visible: %+v", c)
	}
	if w.Grid().Occupied(Point{2, 2}) {
		t.Fatalf("invisible agent still occupies its tile")
	}
	if !w.Grid().Occupied(Point{3, 3}) || !w.Grid().Occupied(Point{0, 0}) {
		t.Fatalf("occupancy must cover visible agents and self")
	}

	// A direct sighting ends the external status.
	w.SenseAgents([]protocol.AgentInfo{{ID: "c", X: 4, Y: 3}}, false)
	w.SenseAgents(nil, false)
	c, _ = w.Agent("c")
	if c.Visible {
		t.Fatalf("agent should no longer be sticky after direct sensing")
	}
}

func TestWorld_ExternalDoesNotOverrideDirect(t *testing.T) {
	w := newTestWorld(newClock(), 5, 5)
	w.SenseAgents([]protocol.AgentInfo{{ID: "b", X: 2, Y: 2}}, false)
	w.SenseAgents([]protocol.AgentInfo{{ID: "b", X: 4, Y: 4}}, true)
	b, _ := w.Agent("b")
	if b.X != 2 || b.External {
		t.Fatalf("relayed report overrode our own sighting: %+v", b)
	}
}

func TestWorld_OccupancyRoundsMidMove(t *testing.T) {
	w := newTestWorld(newClock(), 5, 5)
	w.SenseSelf(protocol.AgentInfo{ID: "me", X: 0.6, Y: 0})
	w.SenseAgents([]protocol.AgentInfo{{ID: "b", X: 2, Y: 2.4}}, false)
	g := w.Grid()
	if !g.Occupied(Point{1, 0}) || !g.Occupied(Point{2, 2}) {
		t.Fatalf("rounded occupancy missing")
	}
	if g.Occupied(Point{0, 0}) || g.Occupied(Point{2, 3}) {
		t.Fatalf("stale occupancy present")
	}
}

func TestWorld_TileValue(t *testing.T) {
	w := newTestWorld(newClock(), 4, 4)
	w.SenseSelf(protocol.AgentInfo{ID: "me", X: 0, Y: 0})
	w.SenseParcels([]protocol.ParcelInfo{
		{ID: "p1", X: 1, Y: 1, Reward: 4},
		{ID: "p2", X: 1, Y: 1, Reward: 6},
		{ID: "p3", X: 0, Y: 0, CarriedBy: "me", Reward: 9},
	}, false)
	g := w.Grid()
	if tl, _ := g.Tile(Point{1, 1}); tl.Value != 10 {
		t.Fatalf("tile value: %d", tl.Value)
	}
	if tl, _ := g.Tile(Point{0, 0}); tl.Value != 0 {
		t.Fatalf("carried parcel counted in tile value: %d", tl.Value)
	}
	if total, n := w.CarriedScore("me"); total != 9 || n != 1 {
		t.Fatalf("carried score: %d %d", total, n)
	}

	w.SenseParcels([]protocol.ParcelInfo{{ID: "p2", X: 1, Y: 1, Reward: 6}}, false)
	if tl, _ := g.Tile(Point{1, 1}); tl.Value != 6 {
		t.Fatalf("tile value after p1 left view: %d", tl.Value)
	}
}

func TestWorld_ParcelDroppedAtZero(t *testing.T) {
	w := newTestWorld(newClock(), 3, 3)
	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 1, Y: 1, Reward: 2}}, false)
	w.Avoid([]string{"p"})
	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 1, Y: 1, Reward: 0}}, false)
	if _, ok := w.Parcel("p"); ok {
		t.Fatalf("parcel with zero reward kept")
	}
	if w.Avoided("p") {
		t.Fatalf("avoid entry should go with the parcel")
	}
}

func TestWorld_DecayScenario(t *testing.T) {
	w := newTestWorld(newClock(), 3, 3)
	if w.DecayInterval() != time.Second {
		t.Fatalf("initial decay interval: %v", w.DecayInterval())
	}
	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 2, Y: 2, Reward: 5}}, false)
	w.SenseParcels(nil, false)

	prev := 5
	for tick := 1; tick <= 5; tick++ {
		removed := w.TickDecay()
		p, ok := w.Parcel("p")
		if tick < 5 {
			if !ok || len(removed) != 0 {
				t.Fatalf("tick %d: parcel removed early", tick)
			}
			if p.Reward > prev {
				t.Fatalf("tick %d: reward increased %d -> %d", tick, prev, p.Reward)
			}
			if p.Reward != 5-tick {
				t.Fatalf("tick %d: reward %d", tick, p.Reward)
			}
			prev = p.Reward
			continue
		}
		if ok || len(removed) != 1 || removed[0] != "p" {
			t.Fatalf("tick 5: expected removal, got ok=%v removed=%v", ok, removed)
		}
	}
}

func TestWorld_LateExternalReportDoesNotRaiseReward(t *testing.T) {
	w := newTestWorld(newClock(), 3, 3)
	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 2, Y: 2, Reward: 10}}, false)
	w.SenseParcels(nil, false)
	for i := 0; i < 4; i++ {
		w.TickDecay()
	}
	if p, _ := w.Parcel("p"); p.Reward != 6 {
		t.Fatalf("decayed reward: %d", p.Reward)
	}

	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 1, Y: 2, Reward: 9}}, true)
	p, ok := w.Parcel("p")
	if !ok || p.Reward != 6 {
		t.Fatalf("external report raised reward: %+v", p)
	}
	if p.X != 1 {
		t.Fatalf("external position not applied: %+v", p)
	}

	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 1, Y: 2, Reward: 4}}, true)
	if p, _ := w.Parcel("p"); p.Reward != 4 {
		t.Fatalf("lower external reward not applied: %d", p.Reward)
	}
}

func TestWorld_ObservedParcelsDoNotDecay(t *testing.T) {
	w := newTestWorld(newClock(), 3, 3)
	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 2, Y: 2, Reward: 5}}, false)
	w.TickDecay()
	if p, _ := w.Parcel("p"); p.Reward != 5 {
		t.Fatalf("visible parcel decayed: %d", p.Reward)
	}
	w.SenseParcels([]protocol.ParcelInfo{{ID: "q", X: 1, Y: 1, Reward: 3}}, true)
	w.TickDecay()
	if q, _ := w.Parcel("q"); q.Reward != 2 {
		t.Fatalf("relayed parcel should decay locally: %d", q.Reward)
	}
}

func TestWorld_DecayEstimate(t *testing.T) {
	clock := newClock()
	w := newTestWorld(clock, 3, 3)
	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 2, Y: 2, Reward: 10}}, false)
	for r := 9; r >= 6; r-- {
		clock.Advance(3 * time.Second)
		w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 2, Y: 2, Reward: r}}, false)
	}
	// Each sample is 3s/unit; with lr=0.5 four samples leave 3 - 2/16.
	if d := w.Decay(); d < 2.8 || d > 3.0 {
		t.Fatalf("decay estimate: %v", d)
	}
}

func TestWorld_SpeedEstimate(t *testing.T) {
	clock := newClock()
	w := newTestWorld(clock, 5, 1)
	if !w.SenseSelf(protocol.AgentInfo{ID: "me", X: 0, Y: 0}) {
		t.Fatalf("first on-tile sighting not reported")
	}
	for x := 1; x <= 4; x++ {
		clock.Advance(250 * time.Millisecond)
		w.SenseSelf(protocol.AgentInfo{ID: "me", X: float64(x) - 0.4, Y: 0})
		clock.Advance(250 * time.Millisecond)
		if w.SenseSelf(protocol.AgentInfo{ID: "me", X: float64(x), Y: 0}) {
			t.Fatalf("first sighting reported twice")
		}
	}
	s := w.Speed()
	if s <= DefaultSpeed || s > 0.5 {
		t.Fatalf("speed estimate should move toward 0.5s/tile: %v", s)
	}
}

func TestWorld_DeliverAndRemove(t *testing.T) {
	w := newTestWorld(newClock(), 3, 3)
	w.SenseSelf(protocol.AgentInfo{ID: "me", X: 2, Y: 2})
	w.SenseParcels([]protocol.ParcelInfo{
		{ID: "a", X: 2, Y: 2, CarriedBy: "me", Reward: 3},
		{ID: "b", X: 2, Y: 2, CarriedBy: "me", Reward: 4},
		{ID: "c", X: 0, Y: 0, Reward: 1},
	}, false)
	got := w.Deliver()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("delivered: %+v", got)
	}
	if total, _ := w.CarriedScore("me"); total != 0 {
		t.Fatalf("carried after delivery: %d", total)
	}
	w.RemoveParcels([]string{"c"})
	if len(w.Parcels()) != 0 {
		t.Fatalf("parcels left: %+v", w.Parcels())
	}
}

func TestWorld_PickedUp(t *testing.T) {
	w := newTestWorld(newClock(), 3, 3)
	w.SenseSelf(protocol.AgentInfo{ID: "me", X: 1, Y: 1})
	w.SenseParcels([]protocol.ParcelInfo{{ID: "a", X: 1, Y: 1, Reward: 6}}, false)
	if tile, _ := w.Grid().Tile(Point{X: 1, Y: 1}); tile.Value != 6 {
		t.Fatalf("tile value before pickup: %d", tile.Value)
	}
	w.PickedUp([]string{"a", "unknown"})
	if total, n := w.CarriedScore("me"); total != 6 || n != 1 {
		t.Fatalf("carried: %d/%d", total, n)
	}
	if tile, _ := w.Grid().Tile(Point{X: 1, Y: 1}); tile.Value != 0 {
		t.Fatalf("carried parcel must not count as tile value: %d", tile.Value)
	}
}

func TestWorld_Friends(t *testing.T) {
	w := newTestWorld(newClock(), 2, 2)
	w.SenseSelf(protocol.AgentInfo{ID: "me", X: 0, Y: 0})
	if w.MarkFriend("me") {
		t.Fatalf("self marked as friend")
	}
	if !w.MarkFriend("zed") || !w.MarkFriend("amy") || w.MarkFriend("amy") {
		t.Fatalf("MarkFriend results wrong")
	}
	if f := w.Friends(); len(f) != 2 || f[0] != "amy" {
		t.Fatalf("friends: %v", f)
	}
}

func TestWorld_ViewIsSnapshot(t *testing.T) {
	w := newTestWorld(newClock(), 3, 3)
	w.SenseSelf(protocol.AgentInfo{ID: "me", X: 0, Y: 0})
	w.SenseParcels([]protocol.ParcelInfo{{ID: "p", X: 1, Y: 1, Reward: 5}}, false)
	v, err := w.View()
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	w.SenseSelf(protocol.AgentInfo{ID: "me", X: 1, Y: 0})
	w.SenseParcels(nil, false)
	if v.Grid.Occupied(Point{1, 0}) || !v.Grid.Occupied(Point{0, 0}) {
		t.Fatalf("view grid changed with the world")
	}
	if p, ok := v.Parcel("p"); !ok || !p.Visible {
		t.Fatalf("view parcel changed with the world")
	}
	if len(v.Free()) != 1 {
		t.Fatalf("free parcels: %+v", v.Free())
	}
}

func TestView_Traffic(t *testing.T) {
	v := &View{Traffic: map[Point]int{{X: 1, Y: 2}: 4, {X: 2, Y: 1}: 2, {X: 5, Y: 5}: 8}}
	if v.MaxTraffic() != 8 {
		t.Fatalf("max traffic: %v", v.MaxTraffic())
	}
	if got := v.NeighbourTraffic(Point{1, 1}); got != 3 {
		t.Fatalf("neighbour traffic: %v", got)
	}
	if (&View{}).MaxTraffic() != 0.01 {
		t.Fatalf("empty traffic floor")
	}
}
