package planning

import (
	"context"
	"fmt"

	"courier.ai/internal/belief"
	"courier.ai/internal/pddl"
)

// JointStep is one action the leader dispatches to one team member.
type JointStep struct {
	AgentID string
	Action  Action
}

// JointPlanner computes one interleaved plan for the whole team. team lists
// agent ids; the first is the planning agent itself.
type JointPlanner interface {
	ComputeJoint(ctx context.Context, v *belief.View, team []string) ([]JointStep, error)
}

// LocalJoint plans each agent in turn with the local planner. Parcels
// claimed by earlier agents are hidden from later ones.
type LocalJoint struct {
	Selector *Selector
	Planner  Planner
}

func (lj *LocalJoint) ComputeJoint(ctx context.Context, v *belief.View, team []string) ([]JointStep, error) {
	claimed := map[string]struct{}{}
	var plans [][]JointStep
	for _, id := range team {
		av, ok := v.As(id)
		if !ok || !av.Me.OnTile() {
			continue
		}
		for pid := range claimed {
			av.Claim(pid)
		}
		goal, ok := lj.Selector.Best(av)
		if !ok {
			continue
		}
		plan, err := lj.Planner.ComputePlan(ctx, av, goal)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		for _, pid := range plan.ParcelIDs {
			claimed[pid] = struct{}{}
		}
		steps := make([]JointStep, 0, len(plan.Actions))
		for _, a := range plan.Actions {
			steps = append(steps, JointStep{AgentID: id, Action: a})
		}
		plans = append(plans, steps)
	}
	return interleave(plans), nil
}

// interleave takes one step from each agent's plan in turn.
func interleave(plans [][]JointStep) []JointStep {
	var out []JointStep
	for i := 0; ; i++ {
		added := false
		for _, p := range plans {
			if i < len(p) {
				out = append(out, p[i])
				added = true
			}
		}
		if !added {
			return out
		}
	}
}

// SolverJoint asks the external solver for a multi-agent plan delivering
// the bundle the leader would collect plus everything the team carries.
type SolverJoint struct {
	*Utility
	Solver     pddl.Solver
	MaxParcels int
}

func (sj *SolverJoint) ComputeJoint(ctx context.Context, v *belief.View, team []string) ([]JointStep, error) {
	pr := pddl.NewProblem(v.Grid)
	inTeam := map[string]bool{}
	for _, id := range team {
		a, ok := v.Agent(id)
		if !ok || !a.OnTile() {
			continue
		}
		inTeam[id] = true
		pr.AddAgent(id, a.Tile())
	}
	if len(inTeam) == 0 {
		return nil, nil
	}
	var goalIDs []string
	for _, p := range v.Parcels {
		if p.Visible && inTeam[p.CarriedBy] {
			pr.AddParcel(p.ID, p.Tile(), p.CarriedBy)
			goalIDs = append(goalIDs, p.ID)
		}
	}
	for _, c := range sj.Bundle(v, v.Me.Tile(), sj.MaxParcels) {
		pr.AddParcel(c.Parcel.ID, c.Parcel.Tile(), "")
		goalIDs = append(goalIDs, c.Parcel.ID)
	}
	if len(goalIDs) == 0 {
		return nil, nil
	}
	pr.GoalDelivered(goalIDs...)

	steps, err := sj.Solver.Solve(ctx, pddl.Domain, pr.String())
	if err != nil {
		return nil, fmt.Errorf("joint solver plan: %w", err)
	}
	decoded, err := pr.Decode(steps)
	if err != nil {
		return nil, err
	}
	out := make([]JointStep, 0, len(decoded))
	for _, st := range decoded {
		a, ok := stepAction(st)
		if !ok {
			return nil, fmt.Errorf("solver step %s %v->%v is not a single move", st.Op, st.From, st.To)
		}
		out = append(out, JointStep{AgentID: st.AgentID, Action: a})
	}
	return out, nil
}
