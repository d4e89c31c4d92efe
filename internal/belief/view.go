package belief

// View is an immutable snapshot of the belief handed to planners.
type View struct {
	Grid    *Grid
	Me      Agent
	Agents  []Agent
	Parcels []Parcel
	Avoid   map[string]struct{}
	Friends map[string]struct{}
	Traffic map[Point]int

	Speed float64
	Decay float64
}

func (v *View) Parcel(id string) (Parcel, bool) {
	for _, p := range v.Parcels {
		if p.ID == id {
			return p, true
		}
	}
	return Parcel{}, false
}

func (v *View) Agent(id string) (Agent, bool) {
	if id == v.Me.ID {
		return v.Me, true
	}
	for _, a := range v.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

func (v *View) CarriedScore(agentID string) (total int, count int) {
	for _, p := range v.Parcels {
		if p.Visible && p.CarriedBy == agentID {
			total += p.Reward
			count++
		}
	}
	return total, count
}

// Free lists the visible, uncarried parcels nobody on the team has claimed.
func (v *View) Free() []Parcel {
	out := make([]Parcel, 0, len(v.Parcels))
	for _, p := range v.Parcels {
		if !p.Visible || p.Carried() {
			continue
		}
		if _, claimed := v.Avoid[p.ID]; claimed {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (v *View) Avoided(id string) bool {
	_, ok := v.Avoid[id]
	return ok
}

// VisibleAgents lists the other agents currently believed visible.
func (v *View) VisibleAgents() []Agent {
	out := make([]Agent, 0, len(v.Agents))
	for _, a := range v.Agents {
		if a.Visible {
			out = append(out, a)
		}
	}
	return out
}

// MaxTraffic is the busiest tile's sighting count, floored at 0.01.
func (v *View) MaxTraffic() float64 {
	m := 0.01
	for _, n := range v.Traffic {
		if float64(n) > m {
			m = float64(n)
		}
	}
	return m
}

// NeighbourTraffic averages the sightings of the busy tiles around p.
func (v *View) NeighbourTraffic(p Point) float64 {
	var sum, n int
	for _, o := range neighbourOffsets {
		c := v.Traffic[p.Add(o[0], o[1])]
		if c > 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// As re-centres the view on another known agent, for planning on its
// behalf. The avoid set is copied; everything else is shared read-only.
func (v *View) As(agentID string) (*View, bool) {
	if agentID == v.Me.ID {
		return v.withAvoid(v.Agents), true
	}
	var (
		me     Agent
		found  bool
		agents = make([]Agent, 0, len(v.Agents))
	)
	for _, a := range v.Agents {
		if a.ID == agentID {
			me, found = a, true
			continue
		}
		agents = append(agents, a)
	}
	if !found {
		return nil, false
	}
	agents = append(agents, v.Me)
	out := v.withAvoid(agents)
	out.Me = me
	return out, true
}

func (v *View) withAvoid(agents []Agent) *View {
	cp := *v
	cp.Agents = agents
	cp.Avoid = make(map[string]struct{}, len(v.Avoid))
	for id := range v.Avoid {
		cp.Avoid[id] = struct{}{}
	}
	return &cp
}

// Claim adds parcel ids to this view's avoid set only.
func (v *View) Claim(ids ...string) {
	if v.Avoid == nil {
		v.Avoid = map[string]struct{}{}
	}
	for _, id := range ids {
		v.Avoid[id] = struct{}{}
	}
}
