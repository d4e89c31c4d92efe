package coord

import (
	"errors"
	"log"
	"time"

	"courier.ai/internal/belief"
	"courier.ai/internal/planning"
	"courier.ai/internal/protocol"
)

type Mode string

const (
	Distributed Mode = "distributed"
	LeaderMode  Mode = "leader"
)

// Outbox queues team messages without blocking. An empty to broadcasts.
type Outbox interface {
	Send(to string, m protocol.TeamMessage)
}

// Reaction tells the agent loop what a handled message asks of it.
type Reaction struct {
	Type string
	From string
	// InstallPlan is set when the leader sent us a plan.
	InstallPlan []planning.Action
	// PlanFor names a follower that asked us, the leader, for a plan.
	PlanFor string
	// Acked is set when an ACKACTION advanced the joint plan.
	Acked bool
	// Abandoned is set when the follower owning the outstanding joint step
	// asked for a plan instead of acknowledging it.
	Abandoned     bool
	LeaderChanged bool
}

// Coordinator applies team messages to the belief and speaks the protocol
// on behalf of one agent. Like the World it is owned by the agent loop.
type Coordinator struct {
	Mode     Mode
	World    *belief.World
	Election *Election
	Dispatch *Dispatcher

	out    Outbox
	now    func() time.Time
	logger *log.Logger
}

func NewCoordinator(mode Mode, w *belief.World, out Outbox, now func() time.Time, logger *log.Logger) *Coordinator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[coord] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Coordinator{
		Mode:     mode,
		World:    w,
		Election: NewElection(""),
		Dispatch: &Dispatcher{},
		out:      out,
		now:      now,
		logger:   logger,
	}
}

func (c *Coordinator) self() (string, protocol.Position) {
	me, _ := c.World.Me()
	return me.ID, protocol.Position{X: me.X, Y: me.Y}
}

// Handle applies one raw team message. Malformed, unknown and stale
// messages are dropped.
func (c *Coordinator) Handle(senderID string, raw []byte) Reaction {
	m, err := protocol.DecodeTeam(raw)
	if err != nil {
		if !errors.Is(err, protocol.ErrUnknownType) {
			c.logger.Printf("drop team message from %s: %v", senderID, err)
		}
		return Reaction{}
	}
	from := m.SenderID
	selfID, _ := c.self()
	if from == "" || from == selfID {
		return Reaction{}
	}
	r := Reaction{Type: m.Type, From: from}

	c.World.MarkFriend(from)
	sender := protocol.AgentInfo{ID: from, X: m.SenderPosition.X, Y: m.SenderPosition.Y}
	if known, ok := c.World.Agent(from); ok {
		sender.Name, sender.Score = known.Name, known.Score
	}
	c.World.SenseAgents([]protocol.AgentInfo{sender}, true)

	switch m.Type {
	case protocol.TypeInform:
		c.World.SenseAgents(m.Payload.Agents, true)
		c.World.SenseParcels(m.Payload.Parcels, true)
		if len(m.Payload.DeliveredParcels) > 0 {
			ids := make([]string, 0, len(m.Payload.DeliveredParcels))
			for _, p := range m.Payload.DeliveredParcels {
				ids = append(ids, p.ID)
			}
			c.World.RemoveParcels(ids)
			c.World.Release(ids)
		}
	case protocol.TypeIntention:
		c.World.Avoid(m.Payload.ParcelIDs)
	case protocol.TypeAskForLeader:
		if c.Election.OnAskForLeader(from) {
			c.broadcast(protocol.NewLeader(c.selfMsg()))
		}
	case protocol.TypeLeader:
		before := c.Election.LeaderID()
		if c.Election.OnLeader(from) {
			c.broadcast(protocol.NewLeader(c.selfMsg()))
		}
		r.LeaderChanged = c.Election.LeaderID() != before
	case protocol.TypeAskForPlan:
		if c.Election.IsLeader() {
			r.PlanFor = from
			r.Abandoned = c.Dispatch.Abandon(from)
		}
	case protocol.TypePlan:
		if from == c.Election.LeaderID() && !c.Election.IsLeader() {
			r.InstallPlan = planning.ParseActions(m.Payload.Actions)
		}
	case protocol.TypeAckAction:
		if c.Election.IsLeader() {
			r.Acked = c.Dispatch.Ack(from)
		}
	}
	return r
}

func (c *Coordinator) selfMsg() (string, protocol.Position, time.Time) {
	id, pos := c.self()
	return id, pos, c.now()
}

func (c *Coordinator) broadcast(m protocol.TeamMessage) { c.out.Send("", m) }

// StartElection asks for a leader once our position is known. It returns
// true when the caller should arm the election timeout.
func (c *Coordinator) StartElection() bool {
	id, _ := c.self()
	c.Election.SetSelf(id)
	if !c.Election.Start() {
		return false
	}
	c.broadcast(protocol.NewAskForLeader(c.selfMsg()))
	return true
}

func (c *Coordinator) ElectionTimeout() bool {
	if !c.Election.OnTimeout() {
		return false
	}
	c.broadcast(protocol.NewLeader(c.selfMsg()))
	return true
}

// Inform shares what our own sensors currently see.
func (c *Coordinator) Inform(delivered []belief.Parcel) {
	id, pos, now := c.selfMsg()
	var agents []protocol.AgentInfo
	for _, a := range c.World.Agents() {
		if a.Visible && !a.External {
			agents = append(agents, protocol.AgentInfo{ID: a.ID, Name: a.Name, X: a.X, Y: a.Y, Score: a.Score})
		}
	}
	var parcels []protocol.ParcelInfo
	for _, p := range c.World.Parcels() {
		if p.Visible && !p.External {
			parcels = append(parcels, parcelInfo(p))
		}
	}
	var gone []protocol.ParcelInfo
	for _, p := range delivered {
		gone = append(gone, parcelInfo(p))
	}
	c.broadcast(protocol.NewInform(id, pos, now, agents, parcels, gone))
}

func (c *Coordinator) Intention(parcelIDs []string) {
	if len(parcelIDs) == 0 {
		return
	}
	id, pos, now := c.selfMsg()
	c.broadcast(protocol.NewIntention(id, pos, now, parcelIDs))
}

// AskForPlan goes to the leader only; without one there is nobody to ask.
func (c *Coordinator) AskForPlan() bool {
	leader := c.Election.LeaderID()
	if leader == "" || c.Election.IsLeader() {
		return false
	}
	c.out.Send(leader, protocol.NewAskForPlan(c.selfMsg()))
	return true
}

func (c *Coordinator) SendPlan(to string, actions []planning.Action) {
	if len(actions) == 0 {
		return
	}
	id, pos, now := c.selfMsg()
	c.out.Send(to, protocol.NewPlan(id, pos, now, planning.Strings(actions)))
}

func (c *Coordinator) AckAction() {
	leader := c.Election.LeaderID()
	if leader == "" || c.Election.IsLeader() {
		return
	}
	c.out.Send(leader, protocol.NewAckAction(c.selfMsg()))
}

func parcelInfo(p belief.Parcel) protocol.ParcelInfo {
	return protocol.ParcelInfo{ID: p.ID, X: p.X, Y: p.Y, CarriedBy: p.CarriedBy, Reward: p.Reward}
}
