package agent

import (
	"context"
	"time"

	"courier.ai/internal/persistence/indexdb"
	"courier.ai/internal/planning"
)

// updateGoal runs the selector and asks for a new plan when the goal
// changed or the old plan ran out.
func (a *Agent) updateGoal(ctx context.Context) {
	if !a.selfPlanning() {
		return
	}
	v, err := a.world.View()
	if err != nil || !v.Me.OnTile() {
		return
	}
	next := a.selector.Next(v, a.goal)
	if next == a.goal {
		if !a.goal.IsZero() && a.ctrl.Done() && !a.planBusy {
			a.requestPlan(ctx)
		}
		return
	}
	a.log.debugf("goal %s -> %s", a.goal, next)
	a.goal = next
	a.ctrl.SetPlan(nil)
	a.requestPlan(ctx)
}

// requestPlan bumps the generation so any result in flight is stale, then
// starts a computation unless one is already running. A stale result
// triggers the next request when it lands.
func (a *Agent) requestPlan(ctx context.Context) {
	a.planGen++
	if a.planBusy || a.goal.IsZero() || a.tick < a.retryAt {
		return
	}
	v, err := a.world.View()
	if err != nil {
		return
	}
	a.planBusy = true
	gen, goal := a.planGen, a.goal
	go func() {
		start := time.Now()
		plan, err := a.planner.ComputePlan(ctx, v, goal)
		r := planResult{gen: gen, goal: goal, plan: plan, err: err, elapsed: time.Since(start)}
		select {
		case a.plans <- r:
		case <-ctx.Done():
		}
	}()
}

func (a *Agent) handlePlan(ctx context.Context, r planResult) {
	a.planBusy = false
	a.recordPlan(r.goal.String(), len(r.plan.Actions), r.plan.Score, r.elapsed, r.err)
	if r.gen != a.planGen {
		a.log.debugf("discarding stale plan for %s", r.goal)
		if !a.goal.IsZero() && a.ctrl.Done() {
			a.requestPlan(ctx)
		}
		return
	}
	if r.err != nil || r.plan.Empty() {
		if r.err != nil {
			a.log.infof("no plan for %s: %v", r.goal, r.err)
		}
		a.goal = planning.Goal{}
		a.retryAt = a.tick + retryTicks
		return
	}
	a.log.debugf("plan for %s: %v", r.goal, r.plan.Actions)
	a.ctrl.SetPlan(r.plan.Actions)
	a.fromLeader = false
	if !a.leaderMode() {
		a.coord.Intention(r.plan.ParcelIDs)
	}
}

// leaderTick streams the joint plan one step at a time, computing a new
// one whenever it runs dry.
func (a *Agent) leaderTick(ctx context.Context) {
	d := a.coord.Dispatch
	if d.Tick() {
		a.log.warnf("joint plan stalled waiting for an ack, dropped")
		if a.ownStep {
			a.ownStep = false
			a.ctrl.SetPlan(nil)
		}
	}
	if d.Empty() {
		a.requestJoint(ctx)
		return
	}
	step, ok := d.Next()
	if !ok {
		return
	}
	self := a.selfID()
	switch {
	case step.AgentID != self:
		a.coord.SendPlan(step.AgentID, []planning.Action{step.Action})
	case step.Action == planning.None:
		d.Ack(self)
	default:
		a.ctrl.SetPlan([]planning.Action{step.Action})
		a.ownStep = true
	}
}

func (a *Agent) requestJoint(ctx context.Context) {
	if a.joint == nil || a.jointBusy || a.tick < a.retryAt {
		return
	}
	v, err := a.world.View()
	if err != nil {
		return
	}
	team := append([]string{v.Me.ID}, a.world.Friends()...)
	a.jointBusy = true
	go func() {
		start := time.Now()
		steps, err := a.joint.ComputeJoint(ctx, v, team)
		r := jointResult{steps: steps, err: err, elapsed: time.Since(start)}
		select {
		case a.joints <- r:
		case <-ctx.Done():
		}
	}()
}

func (a *Agent) handleJoint(r jointResult) {
	a.jointBusy = false
	a.recordPlan("joint", len(r.steps), 0, r.elapsed, r.err)
	if !a.coord.Election.IsLeader() {
		return
	}
	if r.err != nil || len(r.steps) == 0 {
		if r.err != nil {
			a.log.infof("joint plan: %v", r.err)
		}
		a.retryAt = a.tick + retryTicks
		return
	}
	a.log.debugf("joint plan with %d steps", len(r.steps))
	a.goal = planning.Goal{}
	a.planGen++
	a.ctrl.SetPlan(nil)
	a.ownStep = false
	a.coord.Dispatch.SetPlan(r.steps)
}

// followerTick asks the leader for a plan after a stretch with nothing to do.
func (a *Agent) followerTick() {
	if !a.ctrl.Done() || a.acting {
		a.idleTicks = 0
		return
	}
	a.idleTicks++
	if a.cfg.AskForPlanAfterTicks > 0 && a.idleTicks >= a.cfg.AskForPlanAfterTicks {
		a.idleTicks = 0
		if a.coord.AskForPlan() {
			a.log.debugf("asked %s for a plan", a.coord.Election.LeaderID())
		}
	}
}

// assist plans for a follower that asked. The goal is picked here on the
// loop; only the search runs off it.
func (a *Agent) assist(ctx context.Context, follower string) {
	v, err := a.world.View()
	if err != nil {
		return
	}
	fv, ok := v.As(follower)
	if !ok || !fv.Me.OnTile() {
		a.log.debugf("cannot plan for %s: position unknown", follower)
		return
	}
	goal := a.selector.Next(fv, planning.Goal{})
	if goal.IsZero() {
		return
	}
	go func() {
		plan, err := a.planner.ComputePlan(ctx, fv, goal)
		select {
		case a.assists <- assistResult{to: follower, plan: plan, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (a *Agent) handleAssist(r assistResult) {
	if !a.coord.Election.IsLeader() {
		return
	}
	if r.err != nil || r.plan.Empty() {
		a.log.debugf("no plan for %s: %v", r.to, r.err)
		return
	}
	a.world.Avoid(r.plan.ParcelIDs)
	a.coord.SendPlan(r.to, r.plan.Actions)
}

func (a *Agent) recordPlan(goal string, actions int, score float64, elapsed time.Duration, err error) {
	if a.index == nil {
		return
	}
	row := indexdb.PlanRow{
		RunID:      a.runID,
		Tick:       a.tick,
		Goal:       goal,
		Planner:    a.cfg.Planner,
		Actions:    actions,
		Score:      score,
		DurationMs: float64(elapsed) / float64(time.Millisecond),
	}
	if err != nil {
		row.Err = err.Error()
	}
	a.index.RecordPlan(row)
}
