package coord

import (
	"testing"

	"courier.ai/internal/planning"
)

func TestDispatcher_GatesOnAck(t *testing.T) {
	d := &Dispatcher{}
	d.SetPlan([]planning.JointStep{
		{AgentID: "a", Action: planning.Up},
		{AgentID: "b", Action: planning.Left},
	})
	s, ok := d.Next()
	if !ok || s.AgentID != "a" {
		t.Fatalf("head: %+v %v", s, ok)
	}
	if _, ok := d.Next(); ok {
		t.Fatalf("second step handed out before ack")
	}
	if d.Ack("b") {
		t.Fatalf("ack from non-head agent applied")
	}
	if !d.Ack("a") {
		t.Fatalf("head ack ignored")
	}
	if d.Ack("a") {
		t.Fatalf("stale ack applied")
	}
	s, _ = d.Next()
	if s.AgentID != "b" || !d.Agents()["b"] || d.Agents()["a"] {
		t.Fatalf("next: %+v agents=%v", s, d.Agents())
	}
	d.Retry()
	if s2, ok := d.Next(); !ok || s2 != s {
		t.Fatalf("retry should hand out the same step")
	}
	d.Ack("b")
	if !d.Empty() {
		t.Fatalf("plan should be empty")
	}
}

func TestDispatcher_StallDropsPlan(t *testing.T) {
	d := &Dispatcher{StallTicks: 3}
	d.SetPlan([]planning.JointStep{{AgentID: "a", Action: planning.Up}})
	if d.Tick() {
		t.Fatalf("idle dispatcher dropped plan")
	}
	d.Next()
	if d.Tick() || d.Tick() {
		t.Fatalf("dropped too early")
	}
	if !d.Tick() || !d.Empty() {
		t.Fatalf("stalled plan not dropped")
	}
}

func TestDispatcher_AbandonOnlyByStepOwner(t *testing.T) {
	d := &Dispatcher{}
	d.SetPlan([]planning.JointStep{{AgentID: "a", Action: planning.Up}, {AgentID: "b", Action: planning.Left}})
	if d.Abandon("a") {
		t.Fatalf("abandoned a step that was never handed out")
	}
	d.Next()
	if d.Abandon("b") || d.Len() != 2 {
		t.Fatalf("b abandoned a's step")
	}
	if !d.Abandon("a") || !d.Empty() {
		t.Fatalf("plan kept after its head was abandoned")
	}
	if _, ok := d.Next(); ok {
		t.Fatalf("step handed out from an abandoned plan")
	}
}
