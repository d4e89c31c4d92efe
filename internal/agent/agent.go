package agent

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"time"

	"courier.ai/internal/belief"
	"courier.ai/internal/bus"
	"courier.ai/internal/coord"
	"courier.ai/internal/execution"
	"courier.ai/internal/persistence/indexdb"
	plog "courier.ai/internal/persistence/log"
	"courier.ai/internal/planning"
	"courier.ai/internal/protocol"
	"courier.ai/internal/tuning"
)

// ErrDisconnected ends Run when the game server stops sending frames.
var ErrDisconnected = errors.New("game connection lost")

const (
	resultBuffer = 4
	outboxBuffer = 128
	sendTimeout  = 2 * time.Second
	// retryTicks is how long a failed planning attempt waits before the next.
	retryTicks = 10
)

type DecisionSink interface {
	WriteDecision(plog.DecisionEntry) error
}

type MessageSink interface {
	WriteMessage(plog.MessageEntry) error
}

// Recorder is the run index; *indexdb.SQLiteIndex implements it.
type Recorder interface {
	StartRun(indexdb.RunRow)
	EndRun(runID string, score int, at time.Time)
	RecordDelivery(indexdb.DeliveryRow)
	RecordElection(indexdb.ElectionRow)
	RecordPlan(indexdb.PlanRow)
}

type Config struct {
	Tuning tuning.Tuning
	RunID  string
	Now    func() time.Time
	Logger *log.Logger
}

// Deps are the agent's collaborators. Only Actuator and Sensing are
// required; the planners default to the ones the tuning names.
type Deps struct {
	Actuator execution.Actuator
	Sensing  <-chan protocol.Sensed
	Bus      bus.Bus

	Selector *planning.Selector
	Planner  planning.Planner
	Joint    planning.JointPlanner

	Decisions DecisionSink
	Messages  MessageSink
	Index     Recorder
	// OnTick sees the belief at the end of every tick.
	OnTick func(*belief.View)
}

type planResult struct {
	gen     uint64
	goal    planning.Goal
	plan    planning.Plan
	err     error
	elapsed time.Duration
}

type jointResult struct {
	steps   []planning.JointStep
	err     error
	elapsed time.Duration
}

type assistResult struct {
	to   string
	plan planning.Plan
	err  error
}

type actionResult struct {
	action planning.Action
	ids    []string
	err    error
}

// Agent owns the belief, the goal and the plan. Every field below is
// touched only by the Run goroutine; planning and actions run off it and
// report back on the result channels.
type Agent struct {
	cfg   tuning.Tuning
	runID string
	now   func() time.Time
	log   leveled

	world    *belief.World
	selector *planning.Selector
	planner  planning.Planner
	joint    planning.JointPlanner
	ctrl     *execution.Controller
	coord    *coord.Coordinator

	act     execution.Actuator
	sensing <-chan protocol.Sensed
	bus     bus.Bus
	out     *outbox

	decisions DecisionSink
	messages  MessageSink
	index     Recorder
	onTick    func(*belief.View)

	tick    uint64
	goal    planning.Goal
	retryAt uint64
	started bool

	planGen  uint64
	planBusy bool
	plans    chan planResult

	jointBusy bool
	joints    chan jointResult
	assists   chan assistResult

	acting      bool
	actions     chan actionResult
	lastAction  string
	lastOutcome string

	replan     bool
	ownStep    bool
	fromLeader bool
	idleTicks  int

	electionC <-chan time.Time
}

func New(cfg Config, d Deps) (*Agent, error) {
	if d.Actuator == nil || d.Sensing == nil {
		return nil, errors.New("agent: actuator and sensing are required")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[courier] ", log.LstdFlags|log.Lmicroseconds)
	}
	if d.Bus == nil {
		d.Bus = bus.NewNop()
	}
	if d.Selector == nil || d.Planner == nil {
		seed := cfg.Tuning.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		d.Selector, d.Planner, d.Joint = Strategies(cfg.Tuning, rand.New(rand.NewSource(seed)))
	}

	a := &Agent{
		cfg:       cfg.Tuning,
		runID:     cfg.RunID,
		now:       now,
		log:       leveled{l: logger, min: parseLevel(cfg.Tuning.LogLevel)},
		selector:  d.Selector,
		planner:   d.Planner,
		joint:     d.Joint,
		act:       d.Actuator,
		sensing:   d.Sensing,
		bus:       d.Bus,
		decisions: d.Decisions,
		messages:  d.Messages,
		index:     d.Index,
		onTick:    d.OnTick,
		plans:     make(chan planResult, resultBuffer),
		joints:    make(chan jointResult, resultBuffer),
		assists:   make(chan assistResult, resultBuffer),
		actions:   make(chan actionResult, resultBuffer),
	}
	a.world = belief.NewWorld(belief.Config{
		DecayLearningRate: cfg.Tuning.ParcelDecayLearningRate,
		SpeedLearningRate: cfg.Tuning.SpeedLearningRate,
		SpeedWindow:       cfg.Tuning.SpeedWindow,
		Now:               now,
	})
	a.out = &outbox{ch: make(chan outMsg, outboxBuffer), log: a.log}
	mode := coord.Distributed
	if cfg.Tuning.Coordination == tuning.ModeLeader {
		mode = coord.LeaderMode
	}
	a.coord = coord.NewCoordinator(mode, a.world, a.out, now, logger)
	a.coord.Dispatch.StallTicks = cfg.Tuning.DispatchStallTicks
	a.ctrl = execution.New(cfg.Tuning.ActionErrorPatience, func() { a.replan = true })
	return a, nil
}

// World exposes the belief for inspection once Run has returned.
func (a *Agent) World() *belief.World { return a.world }

func (a *Agent) Goal() planning.Goal { return a.goal }

// Run drives the agent until ctx ends or the sensor stream closes.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	sent := make(chan struct{})
	go a.sendLoop(ctx, sent)
	defer func() {
		cancel()
		<-sent
		a.finish()
	}()

	ticker := time.NewTicker(a.cfg.Tick())
	defer ticker.Stop()
	decay := time.NewTimer(a.world.DecayInterval())
	defer decay.Stop()
	inbound := a.bus.Inbound()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-a.sensing:
			if !ok {
				return ErrDisconnected
			}
			a.handleSensed(ctx, s)
		case env, ok := <-inbound:
			if !ok {
				a.log.warnf("team bus closed")
				inbound = nil
				continue
			}
			a.handleEnvelope(ctx, env)
		case <-ticker.C:
			a.onTickFired(ctx)
		case <-decay.C:
			a.onDecay(ctx)
			decay.Reset(a.world.DecayInterval())
		case <-a.electionC:
			a.onElectionTimeout()
		case r := <-a.plans:
			a.handlePlan(ctx, r)
		case r := <-a.joints:
			a.handleJoint(r)
		case r := <-a.assists:
			a.handleAssist(r)
		case r := <-a.actions:
			a.handleAction(ctx, r)
		}
	}
}

func (a *Agent) finish() {
	if !a.started || a.index == nil {
		return
	}
	me, _ := a.world.Me()
	a.index.EndRun(a.runID, me.Score, a.now())
}

func (a *Agent) selfID() string {
	me, _ := a.world.Me()
	return me.ID
}

func (a *Agent) leaderMode() bool { return a.coord.Mode == coord.LeaderMode }

// selfPlanning reports whether the agent picks its own goals right now. In
// leader mode that is before the election settles, and for the leader
// whenever no joint plan is running.
func (a *Agent) selfPlanning() bool {
	if !a.leaderMode() {
		return true
	}
	e := a.coord.Election
	switch {
	case !e.Settled():
		return true
	case e.IsLeader():
		return a.coord.Dispatch.Empty() && !a.ownStep
	}
	return false
}

func (a *Agent) handleSensed(ctx context.Context, s protocol.Sensed) {
	switch s.Type {
	case protocol.TypeMap:
		if s.Map != nil && a.world.SetMap(s.Map.Width, s.Map.Height, s.Map.Tiles) {
			a.log.infof("map %dx%d", s.Map.Width, s.Map.Height)
		}
	case protocol.TypeYou:
		if s.You == nil {
			return
		}
		if a.world.SenseSelf(*s.You) {
			a.onFirstPosition()
		}
	case protocol.TypeAgentsSensing:
		a.world.SenseAgents(s.Agents, false)
	case protocol.TypeParcelsSensing:
		a.world.SenseParcels(s.Parcels, false)
		a.updateGoal(ctx)
	}
}

func (a *Agent) onFirstPosition() {
	me, _ := a.world.Me()
	a.log.infof("spawned as %s (%s) at %d,%d", me.ID, me.Name, me.Tile().X, me.Tile().Y)
	if !a.started && a.index != nil {
		a.started = true
		a.index.StartRun(indexdb.RunRow{
			RunID:     a.runID,
			AgentID:   me.ID,
			Name:      me.Name,
			Mode:      a.cfg.Coordination,
			Planner:   a.cfg.Planner,
			StartedAt: a.now(),
		})
	}
	if a.leaderMode() && a.coord.StartElection() {
		a.electionC = time.After(a.cfg.ElectionTimeout())
	}
}

func (a *Agent) onElectionTimeout() {
	a.electionC = nil
	if a.coord.ElectionTimeout() {
		a.log.infof("no leader answered, leading")
		a.roleChanged()
	}
}

func (a *Agent) onDecay(ctx context.Context) {
	if gone := a.world.TickDecay(); len(gone) > 0 {
		a.log.debugf("parcels expired: %v", gone)
		a.updateGoal(ctx)
	}
}

func (a *Agent) handleEnvelope(ctx context.Context, env bus.Envelope) {
	r := a.coord.Handle(env.SenderID, env.Raw)
	a.logMessage("in", env.SenderID, r.Type, env.Raw)
	switch {
	case r.LeaderChanged:
		a.roleChanged()
	case r.InstallPlan != nil:
		a.log.debugf("plan from leader %s: %v", r.From, r.InstallPlan)
		a.goal = planning.Goal{}
		a.planGen++
		a.ctrl.SetPlan(r.InstallPlan)
		a.fromLeader = true
		a.idleTicks = 0
	case r.PlanFor != "":
		if r.Abandoned {
			a.log.infof("%s gave up on its joint step, dropping the joint plan", r.PlanFor)
		}
		a.assist(ctx, r.PlanFor)
	}
	if r.Type == protocol.TypeInform || r.Type == protocol.TypeIntention {
		a.updateGoal(ctx)
	}
}

// roleChanged drops whatever the agent was doing for itself once the
// election settles on a leader other than itself.
func (a *Agent) roleChanged() {
	e := a.coord.Election
	a.log.infof("role %s, leader %s", e.Role(), e.LeaderID())
	if a.index != nil {
		a.index.RecordElection(indexdb.ElectionRow{RunID: a.runID, Role: e.Role().String(), LeaderID: e.LeaderID(), At: a.now()})
	}
	a.coord.Dispatch.SetPlan(nil)
	a.ownStep = false
	if e.IsLeader() {
		return
	}
	a.goal = planning.Goal{}
	a.planGen++
	a.ctrl.SetPlan(nil)
	a.idleTicks = 0
}

func (a *Agent) onTickFired(ctx context.Context) {
	a.tick++
	if !a.world.HasMap() {
		return
	}
	me, ok := a.world.Me()
	if !ok {
		return
	}
	if a.leaderMode() {
		switch a.coord.Election.Role() {
		case coord.Leader:
			a.leaderTick(ctx)
		case coord.Follower:
			a.followerTick()
		}
	}
	if n := a.cfg.InformEveryTicks; n > 0 && a.tick%uint64(n) == 0 {
		a.coord.Inform(nil)
	}
	a.step(ctx)
	a.logDecision(me)
	if a.onTick != nil {
		if v, err := a.world.View(); err == nil {
			a.onTick(v)
		}
	}
}

// step hands the controller's next action to the actuator.
func (a *Agent) step(ctx context.Context) {
	if a.acting {
		return
	}
	act, ok := a.ctrl.Next(a.situation())
	if !ok {
		if a.ctrl.Done() && !a.planBusy {
			a.updateGoal(ctx)
		}
		return
	}
	a.acting = true
	a.lastAction = string(act)
	go func() {
		var (
			ids []string
			err error
		)
		switch act {
		case planning.Pickup:
			ids, err = a.act.Pickup(ctx)
		case planning.Putdown:
			ids, err = a.act.Putdown(ctx)
		default:
			err = a.act.Move(ctx, act)
		}
		select {
		case a.actions <- actionResult{action: act, ids: ids, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (a *Agent) situation() execution.Situation {
	me, _ := a.world.Me()
	var s execution.Situation
	_, s.Carrying = a.world.CarriedScore(me.ID)
	if !me.OnTile() {
		return s
	}
	here := me.Tile()
	s.OnDelivery = a.world.Grid().Delivery(here)
	for _, p := range a.world.Parcels() {
		if p.Visible && !p.External && !p.Carried() && p.Tile() == here {
			s.OnParcel = true
			break
		}
	}
	return s
}

func (a *Agent) handleAction(ctx context.Context, r actionResult) {
	a.acting = false
	out := a.ctrl.Complete(r.err == nil)
	if r.err != nil {
		a.lastOutcome = "failed"
		a.log.debugf("%s failed (%d in a row): %v", r.action, out.Failures, r.err)
	} else {
		a.lastOutcome = "ok"
		switch r.action {
		case planning.Pickup:
			a.world.PickedUp(r.ids)
		case planning.Putdown:
			a.delivered()
		}
	}
	if a.replan {
		a.replan = false
		a.replanNow(ctx)
		return
	}
	if r.err != nil {
		return
	}
	if len(a.ctrl.Plan()) == 0 {
		switch {
		case a.ownStep:
			a.ownStep = false
			a.coord.Dispatch.Ack(a.selfID())
		case a.fromLeader:
			a.fromLeader = false
			a.coord.AckAction()
		}
	}
	if r.action == planning.Pickup || r.action == planning.Putdown {
		a.updateGoal(ctx)
	}
}

func (a *Agent) replanNow(ctx context.Context) {
	a.log.infof("replanning after %d failed actions", a.cfg.ActionErrorPatience)
	a.ctrl.SetPlan(nil)
	switch {
	case a.ownStep:
		a.ownStep = false
		a.coord.Dispatch.SetPlan(nil)
	case a.fromLeader:
		// The leader waits on our ack; asking again releases the step.
		a.fromLeader = false
		a.idleTicks = 0
		a.coord.AskForPlan()
	default:
		a.goal = planning.Goal{}
		a.planGen++
		a.updateGoal(ctx)
	}
}

func (a *Agent) delivered() {
	gone := a.world.Deliver()
	if len(gone) == 0 {
		return
	}
	ids := make([]string, 0, len(gone))
	reward := 0
	for _, p := range gone {
		ids = append(ids, p.ID)
		reward += p.Reward
	}
	a.world.Release(ids)
	if a.goal.Kind == planning.GoalDelivery {
		a.goal = planning.Goal{}
	}
	me, _ := a.world.Me()
	a.log.infof("delivered %v worth %d", ids, reward)
	if a.coord.Mode == coord.Distributed {
		a.coord.Inform(gone)
	}
	if a.index != nil {
		t := me.Tile()
		a.index.RecordDelivery(indexdb.DeliveryRow{RunID: a.runID, Tick: a.tick, ParcelIDs: ids, Reward: reward, X: t.X, Y: t.Y, At: a.now()})
	}
}

func (a *Agent) logDecision(me belief.Agent) {
	if a.decisions == nil {
		return
	}
	carried, _ := a.world.CarriedScore(me.ID)
	role := ""
	if a.leaderMode() {
		role = a.coord.Election.Role().String()
	}
	e := plog.DecisionEntry{
		RunID:    a.runID,
		Tick:     a.tick,
		Time:     a.now(),
		AgentID:  me.ID,
		X:        me.X,
		Y:        me.Y,
		Goal:     a.goal.String(),
		Action:   a.lastAction,
		Outcome:  a.lastOutcome,
		Failures: a.ctrl.Failures(),
		PlanLen:  len(a.ctrl.Plan()),
		Carried:  carried,
		Score:    me.Score,
		Leader:   a.coord.Election.LeaderID(),
		Role:     role,
	}
	if err := a.decisions.WriteDecision(e); err != nil {
		a.log.warnf("decision log: %v", err)
	}
	a.lastAction, a.lastOutcome = "", ""
}
