package planning

import (
	"context"
	"errors"

	"courier.ai/internal/belief"
)

var (
	ErrNoPath = errors.New("no path to goal")
	ErrNoGoal = errors.New("no goal")
)

// Plan is owned by the agent that computed it and consumed front to back.
type Plan struct {
	Actions []Action
	Score   float64
	Goal    Goal
	// ParcelIDs lists the parcels the plan intends to collect.
	ParcelIDs []string
}

func (p Plan) Empty() bool { return len(p.Actions) == 0 }

// Planner computes plans off the agent loop and scores candidate moves on it.
type Planner interface {
	ComputePlan(ctx context.Context, v *belief.View, goal Goal) (Plan, error)
	PotentialScore(v *belief.View, start, end belief.Point) float64
}
