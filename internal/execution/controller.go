package execution

import (
	"context"

	"courier.ai/internal/planning"
)

// Actuator performs actions in the game. Any error counts as a failed action.
type Actuator interface {
	Move(ctx context.Context, dir planning.Action) error
	Pickup(ctx context.Context) ([]string, error)
	Putdown(ctx context.Context) ([]string, error)
}

// State is what the controller is waiting for. Dispatch happens inside Next
// and success or failure is reported by Complete's Outcome, so only the
// resting states are stored.
type State int

const (
	Idle State = iota
	AwaitResult
)

func (s State) String() string {
	if s == AwaitResult {
		return "await_result"
	}
	return "idle"
}

// Situation is what the controller needs to know about the agent's tile.
type Situation struct {
	OnParcel   bool
	OnDelivery bool
	Carrying   int
}

type Outcome struct {
	Action planning.Action
	OK     bool
	// Replan is set when this failure used up the patience.
	Replan   bool
	Failures int
}

// Controller drives one action per tick: Next picks it, the caller performs
// it off the loop, Complete records the result. It is owned by the agent loop.
type Controller struct {
	patience int
	onReplan func()

	plan    []planning.Action
	planGen uint64

	state       State
	inflight    planning.Action
	fromPlan    bool
	inflightGen uint64
	failures    int
}

// New builds a controller that calls onReplan each time patience
// consecutive actions have failed.
func New(patience int, onReplan func()) *Controller {
	if patience < 1 {
		patience = 1
	}
	return &Controller{patience: patience, onReplan: onReplan}
}

// SetPlan replaces the current plan. A result still in flight for the old
// plan no longer advances anything.
func (c *Controller) SetPlan(actions []planning.Action) {
	c.plan = append([]planning.Action(nil), actions...)
	c.planGen++
}

func (c *Controller) Plan() []planning.Action { return append([]planning.Action(nil), c.plan...) }
func (c *Controller) State() State             { return c.state }
func (c *Controller) Failures() int            { return c.failures }

// Done reports an exhausted plan with nothing in flight.
func (c *Controller) Done() bool { return len(c.plan) == 0 && c.state == Idle }

// Next chooses the action for this tick. It returns false while a previous
// action is unresolved or when there is nothing to do.
func (c *Controller) Next(s Situation) (planning.Action, bool) {
	if c.state == AwaitResult {
		return "", false
	}
	var head planning.Action
	if len(c.plan) > 0 {
		head = c.plan[0]
	}
	a, fromPlan := head, true
	switch {
	case s.OnDelivery && s.Carrying > 0 && head != planning.Putdown:
		a, fromPlan = planning.Putdown, false
	case s.OnParcel && head != planning.Pickup:
		a, fromPlan = planning.Pickup, false
	case head == "" || head == planning.None:
		if head == planning.None {
			c.plan = c.plan[1:]
		}
		return planning.None, false
	}
	c.state = AwaitResult
	c.inflight = a
	c.fromPlan = fromPlan
	c.inflightGen = c.planGen
	return a, true
}

// Complete records the actuator result of the action Next handed out.
func (c *Controller) Complete(ok bool) Outcome {
	if c.state != AwaitResult {
		return Outcome{}
	}
	c.state = Idle
	out := Outcome{Action: c.inflight, OK: ok}
	if ok {
		c.failures = 0
		if c.fromPlan && c.inflightGen == c.planGen && len(c.plan) > 0 && c.plan[0] == c.inflight {
			c.plan = c.plan[1:]
		}
		return out
	}
	c.failures++
	out.Failures = c.failures
	if c.failures >= c.patience {
		c.failures = 0
		out.Replan = true
		if c.onReplan != nil {
			c.onReplan()
		}
	}
	return out
}
