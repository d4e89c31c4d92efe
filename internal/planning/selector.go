package planning

import (
	"math/rand"

	"courier.ai/internal/belief"
)

// Selector decides the single current goal from the belief. It holds no
// state besides the random source used to pick exploration tiles.
type Selector struct {
	u   *Utility
	rng *rand.Rand
}

func NewSelector(u *Utility, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Selector{u: u, rng: rng}
}

// Next returns the goal to pursue given the current one. The zero Goal
// means "none for now"; selection runs again after the next sensing batch.
func (s *Selector) Next(v *belief.View, cur Goal) Goal {
	here := v.Me.Tile()
	carried, _ := v.CarriedScore(v.Me.ID)

	switch {
	case carried > 0 && cur.Kind != GoalDelivery:
		g, _ := s.bestDelivery(v, here, carried)
		return g
	case cur.IsZero() || cur.Kind == GoalExplore:
		if g, ok := s.bestParcel(v, here); ok {
			return g
		}
		if cur.Kind == GoalExplore && cur.Target != here && v.Grid.Walkable(cur.Target) {
			return cur
		}
		return s.explore(v, here)
	case cur.Kind == GoalParcel:
		return s.checkParcel(v, here, cur)
	case cur.Kind == GoalDelivery:
		if carried <= 0 || s.takenByOther(v, here, cur.Target) {
			return Goal{}
		}
	}
	return cur
}

// Best is Next without exploration or a current goal: the best delivery
// station when carrying, otherwise the best parcel.
func (s *Selector) Best(v *belief.View) (Goal, bool) {
	here := v.Me.Tile()
	if carried, _ := v.CarriedScore(v.Me.ID); carried > 0 {
		return s.bestDelivery(v, here, carried)
	}
	return s.bestParcel(v, here)
}

func (s *Selector) bestDelivery(v *belief.View, here belief.Point, carried int) (Goal, bool) {
	var (
		best  Goal
		score float64
		found bool
	)
	for _, st := range v.Grid.Deliveries() {
		if s.takenByOther(v, here, st) {
			continue
		}
		sc := s.u.DeliveryScore(v, here, st, carried)
		if sc <= 0 {
			continue
		}
		if !found || sc > score {
			best, score, found = DeliveryGoal(st), sc, true
		}
	}
	return best, found
}

func (s *Selector) bestParcel(v *belief.View, here belief.Point) (Goal, bool) {
	c := s.u.Candidates(v, here)
	if len(c) == 0 {
		return Goal{}, false
	}
	return ParcelGoal(c[0].Parcel), true
}

func (s *Selector) checkParcel(v *belief.View, here belief.Point, cur Goal) Goal {
	p, ok := v.Parcel(cur.ID)
	switch {
	case !ok || !p.Visible:
		return Goal{}
	case p.CarriedBy == v.Me.ID:
		return Goal{}
	case p.Carried():
		return Goal{}
	case v.Avoided(p.ID):
		return Goal{}
	case s.takenByOther(v, here, p.Tile()):
		return Goal{}
	}
	if _, ok := v.Grid.Distances(here)[p.Tile()]; !ok {
		return Goal{}
	}
	if p.Tile() != cur.Target {
		return ParcelGoal(p)
	}
	return cur
}

// explore picks a random free tile we can walk to.
func (s *Selector) explore(v *belief.View, here belief.Point) Goal {
	reach := v.Grid.Distances(here)
	for i := 0; i < 8; i++ {
		p, ok := v.Grid.RandomValidTile(s.rng)
		if !ok {
			return Goal{}
		}
		if _, r := reach[p]; r && p != here {
			return ExploreGoal(p)
		}
	}
	var free []belief.Point
	for _, p := range v.Grid.WalkableTiles() {
		if _, ok := reach[p]; !ok || p == here || v.Grid.Occupied(p) {
			continue
		}
		free = append(free, p)
	}
	if len(free) == 0 {
		return Goal{}
	}
	return ExploreGoal(free[s.rng.Intn(len(free))])
}

// takenByOther reports a tile occupied by someone other than us.
func (s *Selector) takenByOther(v *belief.View, here, p belief.Point) bool {
	return p != here && v.Grid.Occupied(p)
}
