package planning

import (
	"container/heap"
	"context"
	"fmt"

	"courier.ai/internal/belief"
)

// LocalPlanner searches the grid in-process. The frontier is ordered by
// the score a path would have banked on arrival, not by its length, so a
// detour over a rich tile can beat the straight line.
type LocalPlanner struct {
	*Utility
	// MaxExpansions bounds the search; 0 means four times the map area.
	MaxExpansions int
}

func NewLocalPlanner(u *Utility) *LocalPlanner {
	return &LocalPlanner{Utility: u}
}

type searchNode struct {
	at     belief.Point
	parent *searchNode
	steps  int
	held   int
	score  float64
	picked bool
}

func (lp *LocalPlanner) ComputePlan(ctx context.Context, v *belief.View, goal Goal) (Plan, error) {
	if goal.IsZero() {
		return Plan{}, ErrNoGoal
	}
	start := v.Me.Tile()
	_, held := v.CarriedScore(v.Me.ID)
	end, err := lp.search(ctx, v, start, goal.Target, held)
	if err != nil {
		return Plan{}, err
	}

	var path []*searchNode
	for n := end; n != nil; n = n.parent {
		path = append(path, n)
	}
	tiles := make([]belief.Point, 0, len(path))
	actions := make([]Action, 0, len(path)+1)
	var parcels []string
	seen := map[string]bool{}
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		tiles = append(tiles, n.at)
		if n.parent != nil {
			a, _ := DirectionTo(n.parent.at, n.at)
			actions = append(actions, a)
		}
		if n.picked {
			for _, p := range v.Free() {
				if p.Tile() == n.at && !seen[p.ID] {
					seen[p.ID] = true
					parcels = append(parcels, p.ID)
				}
			}
		}
	}
	switch goal.Kind {
	case GoalParcel:
		actions = append(actions, Pickup)
		if !seen[goal.ID] {
			parcels = append(parcels, goal.ID)
		}
	case GoalDelivery:
		actions = append(actions, Putdown)
	}
	lp.Cache.PutPath(tiles)
	return Plan{Actions: actions, Score: end.score, Goal: goal, ParcelIDs: parcels}, nil
}

func (lp *LocalPlanner) search(ctx context.Context, v *belief.View, start, target belief.Point, held int) (*searchNode, error) {
	g := v.Grid
	if !g.Walkable(start) {
		return nil, fmt.Errorf("%w: start %v not walkable", ErrNoPath, start)
	}
	limit := lp.MaxExpansions
	if limit <= 0 {
		limit = 4 * g.Width() * g.Height()
	}
	stepLoss := lp.loss(v, 1)

	pq := &maxQueue[*searchNode]{}
	seq := 0
	push := func(n *searchNode) {
		seq++
		heap.Push(pq, &item[*searchNode]{value: n, priority: n.score, steps: n.steps, seq: seq})
	}
	push(&searchNode{at: start, held: held})
	closed := map[belief.Point]bool{}

	for expanded := 0; pq.Len() > 0; expanded++ {
		if expanded >= limit {
			return nil, fmt.Errorf("%w: gave up after %d expansions", ErrNoPath, expanded)
		}
		if expanded%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cur := heap.Pop(pq).(*item[*searchNode]).value
		if closed[cur.at] {
			continue
		}
		closed[cur.at] = true
		if cur.at == target {
			return cur, nil
		}
		for _, next := range g.Neighbors(cur.at) {
			if closed[next] {
				continue
			}
			n := &searchNode{
				at:     next,
				parent: cur,
				steps:  cur.steps + 1,
				held:   cur.held,
				score:  cur.score - stepLoss*float64(cur.held),
			}
			if t, _ := g.Tile(next); t.Value > 0 && !onPath(cur, next) {
				n.score += float64(t.Value) - lp.loss(v, float64(n.steps))
				n.held++
				n.picked = true
			}
			push(n)
		}
	}
	return nil, fmt.Errorf("%w: %v unreachable from %v", ErrNoPath, target, start)
}

func onPath(n *searchNode, p belief.Point) bool {
	for ; n != nil; n = n.parent {
		if n.at == p {
			return true
		}
	}
	return false
}
