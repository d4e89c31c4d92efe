package planning

import (
	"context"
	"fmt"

	"courier.ai/internal/belief"
	"courier.ai/internal/pddl"
)

// SolverPlanner hands planning to an external PDDL solver. For a parcel
// goal it asks for the whole bundle worth collecting in one trip.
type SolverPlanner struct {
	*Utility
	Solver     pddl.Solver
	MaxParcels int
}

func NewSolverPlanner(u *Utility, s pddl.Solver, maxParcels int) *SolverPlanner {
	return &SolverPlanner{Utility: u, Solver: s, MaxParcels: maxParcels}
}

func (sp *SolverPlanner) ComputePlan(ctx context.Context, v *belief.View, goal Goal) (Plan, error) {
	if goal.IsZero() {
		return Plan{}, ErrNoGoal
	}
	me := v.Me.ID
	start := v.Me.Tile()
	pr := pddl.NewProblem(v.Grid)
	pr.AddAgent(me, start)
	for _, p := range v.Parcels {
		if p.Visible && p.CarriedBy == me {
			pr.AddParcel(p.ID, p.Tile(), me)
		}
	}

	plan := Plan{Goal: goal}
	switch goal.Kind {
	case GoalParcel:
		plan.ParcelIDs = sp.bundleIDs(v, start, goal.ID)
		for _, id := range plan.ParcelIDs {
			if p, ok := v.Parcel(id); ok {
				pr.AddParcel(id, p.Tile(), "")
			}
		}
		pr.GoalCarrying(me, plan.ParcelIDs...)
	default:
		pr.GoalAt(me, goal.Target)
	}

	steps, err := sp.Solver.Solve(ctx, pddl.Domain, pr.String())
	if err != nil {
		return Plan{}, fmt.Errorf("solver plan for %s: %w", goal, err)
	}
	decoded, err := pr.Decode(steps)
	if err != nil {
		return Plan{}, err
	}
	tiles := []belief.Point{start}
	for _, st := range decoded {
		if st.AgentID != me {
			continue
		}
		a, ok := stepAction(st)
		if !ok {
			return Plan{}, fmt.Errorf("solver step %s %v->%v is not a single move", st.Op, st.From, st.To)
		}
		if a.IsMove() {
			tiles = append(tiles, st.To)
		}
		plan.Actions = append(plan.Actions, a)
	}
	if goal.Kind == GoalDelivery {
		plan.Actions = append(plan.Actions, Putdown)
	}
	if goal.Kind != GoalParcel {
		sp.Cache.PutPath(tiles)
	}
	plan.Score = sp.PotentialScore(v, start, goal.Target)
	return plan, nil
}

// bundleIDs always leads with the goal parcel.
func (sp *SolverPlanner) bundleIDs(v *belief.View, start belief.Point, goalID string) []string {
	ids := []string{goalID}
	for _, c := range sp.Bundle(v, start, sp.MaxParcels) {
		if c.Parcel.ID == goalID {
			continue
		}
		if sp.MaxParcels > 0 && len(ids) >= sp.MaxParcels {
			break
		}
		ids = append(ids, c.Parcel.ID)
	}
	return ids
}

func stepAction(st pddl.AgentStep) (Action, bool) {
	switch st.Op {
	case "move":
		return DirectionTo(st.From, st.To)
	case "pickup":
		return Pickup, true
	case "putdown":
		return Putdown, true
	}
	return "", false
}
