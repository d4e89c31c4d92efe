package agent

import (
	"math/rand"

	"courier.ai/internal/pddl"
	"courier.ai/internal/planning"
	"courier.ai/internal/tuning"
)

// Strategies builds the selector and the single and joint planners the
// tuning asks for. All three share one utility and distance cache.
func Strategies(t tuning.Tuning, rng *rand.Rand) (*planning.Selector, planning.Planner, planning.JointPlanner) {
	u := &planning.Utility{
		Cache:         planning.NewDistanceCache(),
		CarryPenalty:  t.CumulativeCarryPenalty,
		Probabilistic: t.ProbabilisticPenalty,
		Traffic:       t.TrafficPenalty,
	}
	sel := planning.NewSelector(u, rng)
	if t.Planner == tuning.PlannerSolver {
		s := pddl.NewHTTPSolver(t.SolverURL, t.SolverTimeout())
		return sel, planning.NewSolverPlanner(u, s, t.MaxParcels), &planning.SolverJoint{Utility: u, Solver: s, MaxParcels: t.MaxParcels}
	}
	lp := planning.NewLocalPlanner(u)
	return sel, lp, &planning.LocalJoint{Selector: sel, Planner: lp}
}
