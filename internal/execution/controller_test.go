package execution

import (
	"testing"

	"courier.ai/internal/planning"
)

func TestController_AdvancesOnSuccess(t *testing.T) {
	c := New(3, nil)
	c.SetPlan([]planning.Action{planning.Up, planning.Right})
	a, ok := c.Next(Situation{})
	if !ok || a != planning.Up {
		t.Fatalf("first action: %v %v", a, ok)
	}
	if _, ok := c.Next(Situation{}); ok {
		t.Fatalf("dispatched while awaiting a result")
	}
	if out := c.Complete(true); !out.OK || out.Action != planning.Up {
		t.Fatalf("outcome: %+v", out)
	}
	if p := c.Plan(); len(p) != 1 || p[0] != planning.Right {
		t.Fatalf("plan after success: %v", p)
	}
	c.Next(Situation{})
	c.Complete(true)
	if !c.Done() {
		t.Fatalf("plan should be exhausted")
	}
	if a, ok := c.Next(Situation{}); ok || a != planning.None {
		t.Fatalf("empty plan should yield none: %v %v", a, ok)
	}
}

func TestController_RetriesHeadOnFailure(t *testing.T) {
	c := New(5, nil)
	c.SetPlan([]planning.Action{planning.Left})
	for i := 1; i <= 3; i++ {
		a, _ := c.Next(Situation{})
		if a != planning.Left {
			t.Fatalf("retry %d dispatched %v", i, a)
		}
		if out := c.Complete(false); out.Failures != i {
			t.Fatalf("failures: %d want %d", out.Failures, i)
		}
	}
	if len(c.Plan()) != 1 {
		t.Fatalf("failed action consumed the plan")
	}
	c.Next(Situation{})
	c.Complete(true)
	if c.Failures() != 0 {
		t.Fatalf("success should reset failures")
	}
}

// Scenario D: three consecutive move failures with patience 3.
func TestController_ReplanExactlyAtPatience(t *testing.T) {
	calls := 0
	c := New(3, func() { calls++ })
	c.SetPlan([]planning.Action{planning.Down, planning.Down})
	for i := 1; i <= 3; i++ {
		c.Next(Situation{})
		out := c.Complete(false)
		if i < 3 && (calls != 0 || out.Replan) {
			t.Fatalf("replan triggered early at failure %d", i)
		}
		if i == 3 && (calls != 1 || !out.Replan) {
			t.Fatalf("replan not triggered at failure 3: calls=%d", calls)
		}
	}
	if c.Failures() != 0 {
		t.Fatalf("failure counter not reset: %d", c.Failures())
	}
	c.Next(Situation{})
	c.Complete(false)
	if calls != 1 {
		t.Fatalf("replan should not fire again on the next failure")
	}
}

func TestController_InjectsPickupAndPutdown(t *testing.T) {
	c := New(3, nil)
	c.SetPlan([]planning.Action{planning.Up})

	a, _ := c.Next(Situation{OnParcel: true})
	if a != planning.Pickup {
		t.Fatalf("expected injected pickup, got %v", a)
	}
	c.Complete(true)
	if p := c.Plan(); len(p) != 1 || p[0] != planning.Up {
		t.Fatalf("injected action consumed the plan: %v", p)
	}

	a, _ = c.Next(Situation{OnDelivery: true, Carrying: 7})
	if a != planning.Putdown {
		t.Fatalf("expected injected putdown, got %v", a)
	}
	c.Complete(true)

	a, _ = c.Next(Situation{OnDelivery: true})
	if a != planning.Up {
		t.Fatalf("putdown injected with nothing carried: %v", a)
	}
	c.Complete(true)
}

func TestController_NoDoubleInjection(t *testing.T) {
	c := New(3, nil)
	c.SetPlan([]planning.Action{planning.Pickup, planning.Right})
	a, _ := c.Next(Situation{OnParcel: true})
	if a != planning.Pickup {
		t.Fatalf("head pickup: %v", a)
	}
	c.Complete(true)
	if p := c.Plan(); len(p) != 1 || p[0] != planning.Right {
		t.Fatalf("plan pickup should be consumed: %v", p)
	}
}

func TestController_StaleResultAfterNewPlan(t *testing.T) {
	c := New(3, nil)
	c.SetPlan([]planning.Action{planning.Up, planning.Up})
	c.Next(Situation{})
	c.SetPlan([]planning.Action{planning.Up, planning.Left})
	c.Complete(true)
	if p := c.Plan(); len(p) != 2 {
		t.Fatalf("result for the old plan advanced the new one: %v", p)
	}
}

func TestController_StateTransitions(t *testing.T) {
	c := New(2, nil)
	if c.State() != Idle || c.State().String() != "idle" {
		t.Fatalf("initial state %s", c.State())
	}
	c.SetPlan([]planning.Action{planning.Up, planning.Down})
	for _, ok := range []bool{true, false} {
		if _, dispatched := c.Next(Situation{}); !dispatched {
			t.Fatalf("nothing dispatched")
		}
		if c.State() != AwaitResult || c.State().String() != "await_result" {
			t.Fatalf("state after dispatch %s", c.State())
		}
		if out := c.Complete(ok); out.OK != ok {
			t.Fatalf("outcome %+v", out)
		}
		if c.State() != Idle {
			t.Fatalf("state after result ok=%v: %s", ok, c.State())
		}
	}
	if out := c.Complete(true); out != (Outcome{}) {
		t.Fatalf("result without a dispatch: %+v", out)
	}
}
