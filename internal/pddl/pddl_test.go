package pddl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier.ai/internal/belief"
	"courier.ai/internal/protocol"
)

func TestTileName_RoundTrip(t *testing.T) {
	for y := 0; y < 25; y++ {
		for x := 0; x < 25; x++ {
			p := belief.Point{X: x, Y: y}
			got, err := ParseTileName(TileName(p))
			if err != nil {
				t.Fatalf("parse %s: %v", TileName(p), err)
			}
			if got != p {
				t.Fatalf("round trip %v -> %v", p, got)
			}
		}
	}
	for _, bad := range []string{"", "x1_y2", "y1", "y_x2", "ya_x1"} {
		if _, err := ParseTileName(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func testGrid() *belief.Grid {
	return belief.NewGrid(2, 2, []protocol.MapTile{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1, Delivery: true},
	})
}

func TestProblem_String(t *testing.T) {
	pr := NewProblem(testGrid())
	pr.AddAgent("Me-1", belief.Point{X: 0, Y: 0})
	pr.AddParcel("p9", belief.Point{X: 1, Y: 0}, "")
	pr.GoalDelivered("p9")
	s := pr.String()
	for _, want := range []string{
		"(:domain deliveroo)",
		"y0_x0 y0_x1 y1_x0 y1_x1 - position",
		"a_me-1 - agent",
		"p_p9 - parcel",
		"(delivery y1_x1)",
		"(can-move y0_x0 y0_x1)",
		"(at a_me-1 y0_x0)",
		"(at p_p9 y0_x1)",
		"(blocked y0_x0)",
		"(:goal (and (delivered p_p9)))",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("problem missing %q:\n%s", want, s)
		}
	}
}

func TestProblem_Decode(t *testing.T) {
	pr := NewProblem(testGrid())
	pr.AddAgent("A", belief.Point{X: 0, Y: 0})
	steps := []Step{
		{Action: "move", Args: []string{"a_a", "y0_x0", "y1_x0"}},
		{Action: "pickup", Args: []string{"a_a", "y1_x0"}},
		{Action: "deliver", Args: []string{"a_a", "y1_x1"}},
	}
	got, err := pr.Decode(steps)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 || got[0].AgentID != "A" || got[0].To != (belief.Point{X: 0, Y: 1}) || got[2].Op != "putdown" {
		t.Fatalf("decoded: %+v", got)
	}
	if _, err := pr.Decode([]Step{{Action: "move", Args: []string{"a_b", "y0_x0", "y1_x0"}}}); err == nil {
		t.Fatalf("expected unknown agent error")
	}
}

func TestProblem_SanitizedIDsStayDistinct(t *testing.T) {
	pr := NewProblem(testGrid())
	pr.AddAgent("P1", belief.Point{X: 0, Y: 0})
	pr.AddAgent("p1", belief.Point{X: 1, Y: 0})
	pr.AddParcel("a.b", belief.Point{X: 0, Y: 1}, "")
	pr.AddParcel("a_b", belief.Point{X: 0, Y: 1}, "p1")

	up, low := pr.AgentSymbol("P1"), pr.AgentSymbol("p1")
	if up != "a_p1" || low != "a_p1-2" {
		t.Fatalf("agent symbols: %q %q", up, low)
	}
	if dot, under := pr.ParcelSymbol("a.b"), pr.ParcelSymbol("a_b"); dot == under {
		t.Fatalf("parcels share symbol %q", dot)
	}
	s := pr.String()
	for _, want := range []string{
		"a_p1 a_p1-2 - agent",
		"p_a-b p_a-b-2 - parcel",
		"(at p_a-b y1_x0)",
		"(carrying a_p1-2 p_a-b-2)",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("problem missing %q:\n%s", want, s)
		}
	}

	got, err := pr.Decode([]Step{
		{Action: "pickup", Args: []string{up, "y0_x0"}},
		{Action: "pickup", Args: []string{low, "y0_x1"}},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].AgentID != "P1" || got[1].AgentID != "p1" {
		t.Fatalf("decoded: %+v", got)
	}
}

func TestHTTPSolver_Solve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req solveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" || req.Problem == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","result":{"plan":[
		  "(move a_a y0_x0 y1_x0)",
		  {"name":"(pickup a_a y1_x0)"},
		  "(reach-goal)",
		  "(move a_a y1_x0 y1_x1)"
		]}}`))
	}))
	defer srv.Close()

	s := NewHTTPSolver(srv.URL, time.Second)
	steps, err := s.Solve(context.Background(), Domain, "(define (problem p))")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(steps) != 2 || steps[0].Action != "move" || len(steps[0].Args) != 3 || steps[1].Action != "pickup" {
		t.Fatalf("steps: %+v", steps)
	}
}

func TestHTTPSolver_NoPlanAndErrors(t *testing.T) {
	body := `{"status":"error","result":{"output":"search failed\n","error":""}}`
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	s := NewHTTPSolver(srv.URL, time.Second)

	if _, err := s.Solve(context.Background(), "d", "p"); !errors.Is(err, ErrNoPlan) {
		t.Fatalf("expected ErrNoPlan, got %v", err)
	}

	body = `{"status":"error","result":{"output":" --- OK.\n","error":"parse error"}}`
	if _, err := s.Solve(context.Background(), "d", "p"); err == nil || errors.Is(err, ErrNoPlan) {
		t.Fatalf("expected solver error, got %v", err)
	}

	status = http.StatusInternalServerError
	body = "boom"
	if _, err := s.Solve(context.Background(), "d", "p"); err == nil {
		t.Fatalf("expected http status error")
	}
}

func TestHTTPSolver_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewHTTPSolver(srv.URL, 5*time.Second).Solve(ctx, "d", "p"); err == nil {
		t.Fatalf("expected timeout error")
	}
}
