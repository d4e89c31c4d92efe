package coord

import "courier.ai/internal/planning"

// Dispatcher streams a joint plan one step at a time. A step is handed out
// only after the previous one was acknowledged by the agent that ran it.
type Dispatcher struct {
	steps    []planning.JointStep
	awaiting bool
	waited   int
	// StallTicks drops a plan whose head has gone unacknowledged this long.
	StallTicks int
}

func (d *Dispatcher) SetPlan(steps []planning.JointStep) {
	d.steps = append([]planning.JointStep(nil), steps...)
	d.awaiting = false
	d.waited = 0
}

func (d *Dispatcher) Empty() bool { return len(d.steps) == 0 }
func (d *Dispatcher) Len() int    { return len(d.steps) }

// Agents lists the agents with steps left in the plan.
func (d *Dispatcher) Agents() map[string]bool {
	out := map[string]bool{}
	for _, s := range d.steps {
		out[s.AgentID] = true
	}
	return out
}

// Next hands out the head step unless one is already outstanding.
func (d *Dispatcher) Next() (planning.JointStep, bool) {
	if d.awaiting || len(d.steps) == 0 {
		return planning.JointStep{}, false
	}
	d.awaiting = true
	d.waited = 0
	return d.steps[0], true
}

// Ack advances the plan when from owns the outstanding step. Anything else
// is stale and ignored.
func (d *Dispatcher) Ack(from string) bool {
	if !d.awaiting || len(d.steps) == 0 || d.steps[0].AgentID != from {
		return false
	}
	d.steps = d.steps[1:]
	d.awaiting = false
	return true
}

// Abandon drops the plan when from owns the outstanding step and has given
// up on it.
func (d *Dispatcher) Abandon(from string) bool {
	if !d.awaiting || len(d.steps) == 0 || d.steps[0].AgentID != from {
		return false
	}
	d.SetPlan(nil)
	return true
}

// Retry releases the outstanding step so it is handed out again.
func (d *Dispatcher) Retry() {
	d.awaiting = false
}

// Tick ages the outstanding step and reports whether the plan was dropped.
func (d *Dispatcher) Tick() bool {
	if !d.awaiting || d.StallTicks <= 0 {
		return false
	}
	d.waited++
	if d.waited < d.StallTicks {
		return false
	}
	d.SetPlan(nil)
	return true
}
