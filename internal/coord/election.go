package coord

type Role int

const (
	Uninitialized Role = iota
	Asking
	Leader
	Follower
)

func (r Role) String() string {
	switch r {
	case Asking:
		return "asking"
	case Leader:
		return "leader"
	case Follower:
		return "follower"
	}
	return "uninitialized"
}

// Election is the leader-election state machine. Claims are resolved in
// favour of the lexically smallest agent id, so a group that sees every
// LEADER message ends with one leader.
type Election struct {
	self   string
	role   Role
	leader string
}

func NewElection(self string) *Election {
	return &Election{self: self}
}

func (e *Election) Role() Role        { return e.role }
func (e *Election) LeaderID() string  { return e.leader }
func (e *Election) IsLeader() bool    { return e.role == Leader }
func (e *Election) SetSelf(id string) { e.self = id }
func (e *Election) Self() string      { return e.self }
func (e *Election) Settled() bool     { return e.role == Leader || e.role == Follower }

// Start begins asking. It returns true when ASKFORLEADER should go out and
// the timeout be armed; only the first call does.
func (e *Election) Start() bool {
	if e.role != Uninitialized {
		return false
	}
	e.role = Asking
	return true
}

// OnLeader handles a LEADER claim. It returns true when we are leader and
// must restate our claim against a larger id.
func (e *Election) OnLeader(sender string) bool {
	if sender == "" || sender == e.self {
		return false
	}
	switch e.role {
	case Uninitialized, Asking:
		e.follow(sender)
	case Follower:
		if sender < e.leader {
			e.follow(sender)
		}
	case Leader:
		if sender < e.self {
			e.follow(sender)
			return false
		}
		return true
	}
	return false
}

// OnAskForLeader returns true when we should answer with LEADER.
func (e *Election) OnAskForLeader(sender string) bool {
	return e.role == Leader && sender != e.self
}

// OnTimeout fires once. It returns true when we promoted ourselves and
// must broadcast LEADER.
func (e *Election) OnTimeout() bool {
	if e.role != Asking {
		return false
	}
	e.role = Leader
	e.leader = e.self
	return true
}

func (e *Election) follow(id string) {
	e.role = Follower
	e.leader = id
}
