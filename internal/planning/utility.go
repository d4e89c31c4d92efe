package planning

import (
	"math"
	"sort"

	"courier.ai/internal/belief"
)

// Utility scores moves against the belief. One value is shared by the
// selector and whichever planner strategy is configured.
type Utility struct {
	Cache *DistanceCache
	// CarryPenalty discounts each extra parcel by the score already queued.
	CarryPenalty  float64
	Probabilistic bool
	Traffic       bool
}

// Loss is the reward expected to evaporate while walking d tiles.
func Loss(d, speed, decay float64) float64 {
	if decay <= 0 {
		decay = belief.DefaultDecay
	}
	return d * speed / decay
}

func (u *Utility) loss(v *belief.View, d float64) float64 {
	return Loss(d, v.Speed, v.Decay)
}

// Distance prefers a cached walking distance and falls back to Manhattan.
func (u *Utility) Distance(a, b belief.Point) float64 {
	if d, ok := u.Cache.Get(a, b); ok {
		return float64(d)
	}
	return float64(belief.Manhattan(a, b))
}

func (u *Utility) MinDeliveryDistance(v *belief.View, from belief.Point) (float64, bool) {
	best, found := 0.0, false
	for _, d := range v.Grid.Deliveries() {
		dist := u.Distance(from, d)
		if !found || dist < best {
			best, found = dist, true
		}
	}
	return best, found
}

// PotentialScore is reward at end, minus what decays walking there, minus
// what decays walking on to the nearest delivery station.
func (u *Utility) PotentialScore(v *belief.View, start, end belief.Point) float64 {
	dd, ok := u.MinDeliveryDistance(v, end)
	if !ok {
		return math.Inf(-1)
	}
	t, _ := v.Grid.Tile(end)
	return float64(t.Value) - u.loss(v, u.Distance(start, end)) - u.loss(v, dd)
}

// ProbabilisticPenalty estimates how likely a competitor beats us to p,
// scaled by its reward.
func (u *Utility) ProbabilisticPenalty(v *belief.View, start belief.Point, p belief.Parcel) float64 {
	at := p.Tile()
	maxDist := float64(belief.Manhattan(start, at))
	var dists []float64
	for _, a := range v.VisibleAgents() {
		if _, friend := v.Friends[a.ID]; friend {
			continue
		}
		d := float64(belief.Manhattan(at, a.Tile()))
		dists = append(dists, d)
		if d > maxDist {
			maxDist = d
		}
	}
	if len(dists) == 0 || maxDist == 0 {
		return 0
	}
	var prob float64
	for _, d := range dists {
		prob += (maxDist - d) / maxDist
	}
	prob /= float64(len(dists))
	return float64(p.Reward) * prob
}

func (u *Utility) TrafficPenalty(v *belief.View, p belief.Parcel) float64 {
	busy := v.NeighbourTraffic(p.Tile())
	return 2 * float64(p.Reward) * math.Min(busy/v.MaxTraffic(), 1)
}

// ParcelScore is the potential score of walking to p with the enabled
// contention models subtracted. The models add up when both are on.
func (u *Utility) ParcelScore(v *belief.View, start belief.Point, p belief.Parcel) float64 {
	s := u.PotentialScore(v, start, p.Tile())
	if u.Probabilistic {
		s -= u.ProbabilisticPenalty(v, start, p)
	}
	if u.Traffic {
		s -= u.TrafficPenalty(v, p)
	}
	return s
}

// DeliveryScore values heading to station with what we carry.
func (u *Utility) DeliveryScore(v *belief.View, start, station belief.Point, carried int) float64 {
	return float64(carried) + u.PotentialScore(v, start, station)
}

type Candidate struct {
	Parcel belief.Parcel
	Score  float64
}

// Candidates scores the free parcels reachable from start. Only positive
// scores survive; order is by score, then first-seen.
func (u *Utility) Candidates(v *belief.View, start belief.Point) []Candidate {
	reach := v.Grid.ReachableParcelsFrom(start, v.Free())
	out := make([]Candidate, 0, len(reach))
	for _, p := range reach {
		if s := u.ParcelScore(v, start, p); s > 0 {
			out = append(out, Candidate{Parcel: p, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Bundle picks the parcels worth collecting in one trip: best first, each
// accepted while its score beats the carry penalty on what is already queued.
func (u *Utility) Bundle(v *belief.View, start belief.Point, max int) []Candidate {
	var (
		out        []Candidate
		cumulative float64
	)
	for _, c := range u.Candidates(v, start) {
		if max > 0 && len(out) >= max {
			break
		}
		if c.Score-u.CarryPenalty*cumulative <= 0 {
			break
		}
		out = append(out, c)
		cumulative += c.Score
	}
	return out
}
