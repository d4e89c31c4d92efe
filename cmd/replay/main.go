package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	plog "courier.ai/internal/persistence/log"
)

func main() {
	var (
		runDir   = flag.String("run", "", "run directory (<data>/runs/<run id>)")
		fromTick = flag.Uint64("from_tick", 0, "first tick to include (optional)")
		toTick   = flag.Uint64("to_tick", 0, "last tick to include (optional)")
		verbose  = flag.Bool("v", false, "print every tick that acted")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	s, err := summarize(*runDir, *fromTick, *toTick, verboseWriter(*verbose))
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	s.write(os.Stdout)
}

func verboseWriter(on bool) io.Writer {
	if on {
		return os.Stdout
	}
	return nil
}

type summary struct {
	RunID     string
	AgentID   string
	FirstTick uint64
	LastTick  uint64
	Ticks     int
	Actions   map[string]int
	Failed    int
	Replans   int
	Score     int
	Leaders   []string
	Messages  map[string]int // "<direction> <type>"
}

func summarize(runDir string, from, to uint64, trace io.Writer) (summary, error) {
	s := summary{Actions: map[string]int{}, Messages: map[string]int{}}

	files, err := plog.ListFiles(filepath.Join(runDir, "decisions"), "decisions")
	if err != nil {
		return s, fmt.Errorf("list decisions: %w", err)
	}
	if len(files) == 0 {
		return s, fmt.Errorf("no decision logs in %s", runDir)
	}
	var prevFailures int
	for _, path := range files {
		err := plog.ReadFile(path, func(line []byte) error {
			var e plog.DecisionEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			if e.Tick < from || (to != 0 && e.Tick > to) {
				return nil
			}
			s.add(e, prevFailures)
			prevFailures = e.Failures
			if trace != nil && e.Action != "" {
				fmt.Fprintf(trace, "t=%-6d (%g,%g) %-8s %-6s goal=%s plan=%d score=%d\n",
					e.Tick, e.X, e.Y, e.Action, e.Outcome, e.Goal, e.PlanLen, e.Score)
			}
			return nil
		})
		if err != nil {
			return s, err
		}
	}

	// A run without team traffic has no message logs.
	files, err = plog.ListFiles(filepath.Join(runDir, "messages"), "messages")
	if err != nil && !os.IsNotExist(err) {
		return s, fmt.Errorf("list messages: %w", err)
	}
	for _, path := range files {
		err := plog.ReadFile(path, func(line []byte) error {
			var m plog.MessageEntry
			if err := json.Unmarshal(line, &m); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			s.Messages[m.Direction+" "+m.Type]++
			return nil
		})
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

func (s *summary) add(e plog.DecisionEntry, prevFailures int) {
	if s.Ticks == 0 {
		s.RunID, s.AgentID, s.FirstTick = e.RunID, e.AgentID, e.Tick
	}
	s.Ticks++
	s.LastTick = e.Tick
	s.Score = e.Score
	if e.Action != "" {
		s.Actions[e.Action]++
	}
	if e.Outcome == "failed" {
		s.Failed++
	}
	// Failures reset when a plan is replaced.
	if e.Failures < prevFailures {
		s.Replans++
	}
	if e.Leader != "" && (len(s.Leaders) == 0 || s.Leaders[len(s.Leaders)-1] != e.Leader) {
		s.Leaders = append(s.Leaders, e.Leader)
	}
}

func (s summary) write(out io.Writer) {
	fmt.Fprintf(out, "run %s agent %s: ticks %d..%d (%d logged), score %d\n",
		s.RunID, s.AgentID, s.FirstTick, s.LastTick, s.Ticks, s.Score)
	fmt.Fprintf(out, "actions: %s, failed %d, replans %d\n", counts(s.Actions), s.Failed, s.Replans)
	if len(s.Leaders) > 0 {
		fmt.Fprintf(out, "leaders: %v\n", s.Leaders)
	}
	if len(s.Messages) > 0 {
		fmt.Fprintf(out, "messages: %s\n", counts(s.Messages))
	}
}

func counts(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, m[k])
	}
	return out
}
