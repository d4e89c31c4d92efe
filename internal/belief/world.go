package belief

import (
	"errors"
	"sort"
	"time"

	"courier.ai/internal/protocol"
)

var (
	ErrNoMap  = errors.New("map not received yet")
	ErrNoSelf = errors.New("own position not sensed yet")
)

type Config struct {
	DecayLearningRate float64
	SpeedLearningRate float64
	// SpeedWindow caps how many position-change timestamps feed the speed estimate.
	SpeedWindow int
	Now         func() time.Time
}

// World is the agent's belief about the game. It has a single owner (the
// agent loop) and is not safe for concurrent use; planners work on a View.
type World struct {
	now func() time.Time

	grid *Grid

	me      Agent
	hasMe   bool
	meTile  Point
	meOnMap bool

	agents     map[string]*Agent
	agentOrder []string

	parcels     map[string]*Parcel
	parcelOrder []string

	avoid   map[string]struct{}
	friends map[string]struct{}
	traffic map[Point]int

	speed *speedEstimator
	decay *decayEstimator
}

func NewWorld(cfg Config) *World {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &World{
		now:     now,
		agents:  map[string]*Agent{},
		parcels: map[string]*Parcel{},
		avoid:   map[string]struct{}{},
		friends: map[string]struct{}{},
		traffic: map[Point]int{},
		speed:   newSpeedEstimator(cfg.SpeedLearningRate, cfg.SpeedWindow),
		decay:   newDecayEstimator(cfg.DecayLearningRate),
	}
}

// SetMap initializes the tile table. Only the first map is accepted.
func (w *World) SetMap(width, height int, tiles []protocol.MapTile) bool {
	if w.grid != nil {
		return false
	}
	w.grid = NewGrid(width, height, tiles)
	w.recompute()
	return true
}

func (w *World) HasMap() bool { return w.grid != nil }

// Grid exposes the live grid. Callers must not hold it across loop turns.
func (w *World) Grid() *Grid { return w.grid }

func (w *World) Me() (Agent, bool) { return w.me, w.hasMe }

// SenseSelf updates the agent's own record. It returns true the first time
// the agent is seen standing on a tile.
func (w *World) SenseSelf(info protocol.AgentInfo) bool {
	first := false
	w.me = Agent{ID: info.ID, Name: info.Name, X: info.X, Y: info.Y, Score: info.Score, Visible: true}
	w.hasMe = true
	if w.me.OnTile() {
		t := w.me.Tile()
		switch {
		case !w.meOnMap:
			first = true
			w.meOnMap = true
			w.meTile = t
			w.speed.observe(w.now())
		case t != w.meTile:
			w.meTile = t
			w.speed.observe(w.now())
		}
	}
	// A stale record of ourselves may have come in through a teammate.
	if _, ok := w.agents[info.ID]; ok {
		w.dropAgent(info.ID)
	}
	if w.grid != nil {
		w.recompute()
	}
	return first
}

// SenseAgents upserts a batch of agents. A direct batch marks every other
// known agent as not visible, except those learned through teammates; an
// external batch never downgrades visibility. Batches before the map are dropped.
func (w *World) SenseAgents(observed []protocol.AgentInfo, external bool) {
	if w.grid == nil {
		return
	}
	seen := make(map[string]struct{}, len(observed))
	for _, o := range observed {
		if o.ID == "" || (w.hasMe && o.ID == w.me.ID) {
			continue
		}
		seen[o.ID] = struct{}{}
		a, ok := w.agents[o.ID]
		if !ok {
			a = &Agent{ID: o.ID}
			w.agents[o.ID] = a
			w.agentOrder = append(w.agentOrder, o.ID)
		} else if external && a.Visible && !a.External {
			// Our own sensors are fresher than a relayed report.
			continue
		}
		if o.Name != "" {
			a.Name = o.Name
		}
		a.X, a.Y, a.Score = o.X, o.Y, o.Score
		a.Visible = true
		a.External = external
		if !external {
			w.traffic[a.Tile()]++
		}
	}
	if !external {
		for id, a := range w.agents {
			if _, ok := seen[id]; ok || a.External {
				continue
			}
			a.Visible = false
		}
	}
	w.recompute()
}

// SenseParcels upserts a batch of parcels. Direct reward changes feed the
// decay estimator; parcels reported at zero reward are dropped.
func (w *World) SenseParcels(observed []protocol.ParcelInfo, external bool) {
	if w.grid == nil {
		return
	}
	now := w.now()
	seen := make(map[string]struct{}, len(observed))
	for _, o := range observed {
		if o.ID == "" {
			continue
		}
		if o.Reward <= 0 {
			w.dropParcel(o.ID)
			continue
		}
		seen[o.ID] = struct{}{}
		p, ok := w.parcels[o.ID]
		switch {
		case !ok:
			p = &Parcel{ID: o.ID, Reward: o.Reward}
			p.changes = append(p.changes, rewardChange{At: now, Reward: o.Reward})
			w.parcels[o.ID] = p
			w.parcelOrder = append(w.parcelOrder, o.ID)
		case external && p.observed():
			continue
		case external && o.Reward > p.Reward:
			// A late report never undoes decay we already applied.
		case o.Reward != p.Reward:
			p.Reward = o.Reward
			if !external {
				w.decay.observe(p, now)
			}
		}
		p.X, p.Y = o.X, o.Y
		p.CarriedBy = o.CarriedBy
		p.Visible = true
		p.External = external
	}
	if !external {
		for id, p := range w.parcels {
			if _, ok := seen[id]; ok || p.External {
				continue
			}
			p.Visible = false
		}
	}
	w.recompute()
}

// TickDecay takes one reward unit from every parcel whose reward we are not
// observing ourselves and deletes those that reach zero.
func (w *World) TickDecay() []string {
	var removed []string
	for _, id := range w.parcelOrder {
		p := w.parcels[id]
		if p.observed() {
			continue
		}
		p.Reward--
		if p.Reward <= 0 {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		w.dropParcel(id)
	}
	if w.grid != nil {
		w.recompute()
	}
	return removed
}

// DecayInterval is the current estimate of how long a reward unit lasts.
func (w *World) DecayInterval() time.Duration {
	d := time.Duration(w.decay.value * float64(time.Second))
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// Speed is seconds per tile; Decay is seconds per reward unit.
func (w *World) Speed() float64 { return w.speed.value }
func (w *World) Decay() float64 { return w.decay.value }

// CarriedScore sums the visible parcels carried by agentID.
func (w *World) CarriedScore(agentID string) (total int, count int) {
	for _, id := range w.parcelOrder {
		p := w.parcels[id]
		if p.Visible && p.CarriedBy == agentID {
			total += p.Reward
			count++
		}
	}
	return total, count
}

func (w *World) Parcel(id string) (Parcel, bool) {
	p, ok := w.parcels[id]
	if !ok {
		return Parcel{}, false
	}
	return *p, true
}

// Parcels lists known parcels in first-seen order.
func (w *World) Parcels() []Parcel {
	out := make([]Parcel, 0, len(w.parcelOrder))
	for _, id := range w.parcelOrder {
		cp := *w.parcels[id]
		cp.changes = nil
		out = append(out, cp)
	}
	return out
}

func (w *World) Agent(id string) (Agent, bool) {
	a, ok := w.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// Agents lists known agents (never ourselves) in first-seen order.
func (w *World) Agents() []Agent {
	out := make([]Agent, 0, len(w.agentOrder))
	for _, id := range w.agentOrder {
		out = append(out, *w.agents[id])
	}
	return out
}

// Deliver forgets every parcel carried by us and returns them.
func (w *World) Deliver() []Parcel {
	if !w.hasMe {
		return nil
	}
	var out []Parcel
	for _, id := range append([]string(nil), w.parcelOrder...) {
		p := w.parcels[id]
		if p.CarriedBy != w.me.ID {
			continue
		}
		cp := *p
		cp.changes = nil
		out = append(out, cp)
		w.dropParcel(id)
	}
	if w.grid != nil {
		w.recompute()
	}
	return out
}

// PickedUp marks parcels as carried by us as soon as the game confirms a
// pickup, ahead of the next sensing batch.
func (w *World) PickedUp(ids []string) {
	if !w.hasMe {
		return
	}
	for _, id := range ids {
		if p, ok := w.parcels[id]; ok {
			p.CarriedBy = w.me.ID
			p.X, p.Y = w.me.X, w.me.Y
		}
	}
	if w.grid != nil {
		w.recompute()
	}
}

func (w *World) RemoveParcels(ids []string) {
	for _, id := range ids {
		w.dropParcel(id)
	}
	if w.grid != nil {
		w.recompute()
	}
}

// Avoid records parcels claimed by a teammate.
func (w *World) Avoid(ids []string) {
	for _, id := range ids {
		if id != "" {
			w.avoid[id] = struct{}{}
		}
	}
}

func (w *World) Release(ids []string) {
	for _, id := range ids {
		delete(w.avoid, id)
	}
}

func (w *World) Avoided(id string) bool {
	_, ok := w.avoid[id]
	return ok
}

// MarkFriend records a teammate seen on the team channel.
func (w *World) MarkFriend(id string) bool {
	if id == "" || (w.hasMe && id == w.me.ID) {
		return false
	}
	if _, ok := w.friends[id]; ok {
		return false
	}
	w.friends[id] = struct{}{}
	return true
}

func (w *World) IsFriend(id string) bool {
	_, ok := w.friends[id]
	return ok
}

// Friends returns teammate ids in lexical order.
func (w *World) Friends() []string {
	out := make([]string, 0, len(w.friends))
	for id := range w.friends {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// View snapshots the belief for planning off the loop goroutine.
func (w *World) View() (*View, error) {
	if w.grid == nil {
		return nil, ErrNoMap
	}
	if !w.hasMe {
		return nil, ErrNoSelf
	}
	v := &View{
		Grid:    w.grid.clone(),
		Me:      w.me,
		Agents:  w.Agents(),
		Parcels: w.Parcels(),
		Avoid:   make(map[string]struct{}, len(w.avoid)),
		Friends: make(map[string]struct{}, len(w.friends)),
		Traffic: make(map[Point]int, len(w.traffic)),
		Speed:   w.speed.value,
		Decay:   w.decay.value,
	}
	for id := range w.avoid {
		v.Avoid[id] = struct{}{}
	}
	for id := range w.friends {
		v.Friends[id] = struct{}{}
	}
	for p, n := range w.traffic {
		v.Traffic[p] = n
	}
	return v, nil
}

func (w *World) dropParcel(id string) {
	if _, ok := w.parcels[id]; !ok {
		return
	}
	delete(w.parcels, id)
	delete(w.avoid, id)
	for i, pid := range w.parcelOrder {
		if pid == id {
			w.parcelOrder = append(w.parcelOrder[:i], w.parcelOrder[i+1:]...)
			break
		}
	}
}

func (w *World) dropAgent(id string) {
	delete(w.agents, id)
	for i, aid := range w.agentOrder {
		if aid == id {
			w.agentOrder = append(w.agentOrder[:i], w.agentOrder[i+1:]...)
			break
		}
	}
}

// recompute rebuilds occupancy and tile values from the registries.
func (w *World) recompute() {
	g := w.grid
	g.resetDynamic()
	for _, id := range w.agentOrder {
		a := w.agents[id]
		if a.Visible {
			g.markOccupied(a.Tile())
		}
	}
	if w.hasMe {
		g.markOccupied(w.me.Tile())
	}
	for _, id := range w.parcelOrder {
		p := w.parcels[id]
		if p.Visible && !p.Carried() {
			g.addValue(p.Tile(), p.Reward)
		}
	}
}
