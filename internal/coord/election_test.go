package coord

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestElection_TimeoutPromotes(t *testing.T) {
	e := NewElection("a")
	if !e.Start() || e.Start() {
		t.Fatalf("Start should fire exactly once")
	}
	if !e.OnTimeout() || !e.IsLeader() || e.LeaderID() != "a" {
		t.Fatalf("timeout should promote: role=%s leader=%s", e.Role(), e.LeaderID())
	}
	if e.OnTimeout() {
		t.Fatalf("timeout is one-shot")
	}
	if !e.OnAskForLeader("b") {
		t.Fatalf("leader must answer ASKFORLEADER")
	}
}

func TestElection_LeaderBeforeTimeout(t *testing.T) {
	e := NewElection("b")
	e.Start()
	e.OnLeader("z")
	if e.Role() != Follower || e.LeaderID() != "z" {
		t.Fatalf("expected follower of z, got %s/%s", e.Role(), e.LeaderID())
	}
	if e.OnTimeout() {
		t.Fatalf("follower must not promote on timeout")
	}
	e.OnLeader("c")
	if e.LeaderID() != "c" {
		t.Fatalf("smaller claimant should win: %s", e.LeaderID())
	}
	e.OnLeader("x")
	if e.LeaderID() != "c" {
		t.Fatalf("larger claimant must not displace: %s", e.LeaderID())
	}
	if e.OnAskForLeader("q") {
		t.Fatalf("follower must not answer ASKFORLEADER")
	}
}

func TestElection_ConflictingLeaders(t *testing.T) {
	a, b := NewElection("a"), NewElection("b")
	a.Start()
	b.Start()
	a.OnTimeout()
	b.OnTimeout()

	// b hears a: steps down. a hears b: restates.
	if b.OnLeader("a") {
		t.Fatalf("b should step down silently")
	}
	if !a.OnLeader("b") {
		t.Fatalf("a should restate its claim")
	}
	if !a.IsLeader() || b.IsLeader() || b.LeaderID() != "a" {
		t.Fatalf("a=%s b=%s/%s", a.Role(), b.Role(), b.LeaderID())
	}
}

type electionMsg struct {
	from, to string
	leader   bool // LEADER, else ASKFORLEADER
}

// simulate delivers every message in a random order interleaved with
// random election timeouts.
func simulate(t *testing.T, k int, rng *rand.Rand) map[string]*Election {
	t.Helper()
	nodes := map[string]*Election{}
	var ids []string
	for i := 0; i < k; i++ {
		id := fmt.Sprintf("agent-%02d-%d", rng.Intn(100), i)
		ids = append(ids, id)
		nodes[id] = NewElection(id)
	}
	var queue []electionMsg
	broadcast := func(from string, leader bool) {
		for _, to := range ids {
			if to != from {
				queue = append(queue, electionMsg{from: from, to: to, leader: leader})
			}
		}
	}
	for _, id := range ids {
		if nodes[id].Start() {
			broadcast(id, false)
		}
	}
	pendingTimeouts := append([]string(nil), ids...)
	for len(queue) > 0 || len(pendingTimeouts) > 0 {
		if len(pendingTimeouts) > 0 && (len(queue) == 0 || rng.Intn(3) == 0) {
			i := rng.Intn(len(pendingTimeouts))
			id := pendingTimeouts[i]
			pendingTimeouts = append(pendingTimeouts[:i], pendingTimeouts[i+1:]...)
			if nodes[id].OnTimeout() {
				broadcast(id, true)
			}
			continue
		}
		i := rng.Intn(len(queue))
		m := queue[i]
		queue = append(queue[:i], queue[i+1:]...)
		n := nodes[m.to]
		if m.leader {
			if n.OnLeader(m.from) {
				broadcast(m.to, true)
			}
		} else if n.OnAskForLeader(m.from) {
			broadcast(m.to, true)
		}
	}
	return nodes
}

func TestElection_LeaderUniqueness(t *testing.T) {
	for seed := int64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		k := 2 + rng.Intn(5)
		nodes := simulate(t, k, rng)
		var leaders []string
		for id, n := range nodes {
			if n.IsLeader() {
				leaders = append(leaders, id)
			}
		}
		if len(leaders) != 1 {
			t.Fatalf("seed %d: want one leader, got %v", seed, leaders)
		}
		for id, n := range nodes {
			if n.LeaderID() != leaders[0] {
				t.Fatalf("seed %d: %s follows %q, leader is %s", seed, id, n.LeaderID(), leaders[0])
			}
		}
	}
}
