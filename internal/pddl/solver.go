package pddl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultSolverURL = "http://solver.planning.domains/solve"

// ErrNoPlan means the solver ran to completion without finding a plan.
var ErrNoPlan = errors.New("solver found no plan")

// Step is one plan line, e.g. "(move a_1 y0_x0 y1_x0)".
type Step struct {
	Action string
	Args   []string
}

func ParseStep(s string) (Step, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	f := strings.Fields(s)
	if len(f) == 0 {
		return Step{}, false
	}
	return Step{Action: strings.ToLower(f[0]), Args: f[1:]}, true
}

type Solver interface {
	Solve(ctx context.Context, domain, problem string) ([]Step, error)
}

// HTTPSolver talks to a planning.domains style solve endpoint.
type HTTPSolver struct {
	URL    string
	Client *http.Client
}

func NewHTTPSolver(url string, timeout time.Duration) *HTTPSolver {
	if url == "" {
		url = DefaultSolverURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSolver{URL: url, Client: &http.Client{Timeout: timeout}}
}

type solveRequest struct {
	Domain  string `json:"domain"`
	Problem string `json:"problem"`
}

type solveResponse struct {
	Status string `json:"status"`
	Result struct {
		Plan   []json.RawMessage `json:"plan"`
		Output string            `json:"output"`
		Error  string            `json:"error"`
	} `json:"result"`
}

func (s *HTTPSolver) Solve(ctx context.Context, domain, problem string) ([]Step, error) {
	body, err := json.Marshal(solveRequest{Domain: domain, Problem: problem})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("solve: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solve: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out solveResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("solve: decode: %w", err)
	}
	if out.Status == "error" {
		firstLine, _, _ := strings.Cut(out.Result.Output, "\n")
		if len(out.Result.Plan) == 0 && firstLine != " --- OK." {
			return nil, ErrNoPlan
		}
		return nil, fmt.Errorf("solve: %s", out.Result.Error)
	}
	return decodePlan(out.Result.Plan)
}

// Plan entries are either bare strings or {"name": "..."} objects. The
// listing stops at the (reach-goal) marker.
func decodePlan(entries []json.RawMessage) ([]Step, error) {
	steps := make([]Step, 0, len(entries))
	for _, e := range entries {
		var line string
		if err := json.Unmarshal(e, &line); err != nil {
			var obj struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(e, &obj); err != nil {
				return nil, fmt.Errorf("solve: plan entry: %w", err)
			}
			line = obj.Name
		}
		if strings.TrimSpace(line) == "(reach-goal)" {
			break
		}
		if st, ok := ParseStep(line); ok {
			steps = append(steps, st)
		}
	}
	return steps, nil
}
