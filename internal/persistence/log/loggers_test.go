package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestDecisionLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewDecisionLogger(dir)
	for i := 1; i <= 3; i++ {
		if err := l.WriteDecision(DecisionEntry{RunID: "r", Tick: uint64(i), AgentID: "a1", Action: "up", Outcome: "ok"}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "decisions"), "decisions")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var ticks []uint64
	err = ReadFile(files[0], func(line []byte) error {
		var e DecisionEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		ticks = append(ticks, e.Tick)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(ticks) != 3 || ticks[0] != 1 || ticks[2] != 3 {
		t.Fatalf("ticks: %v", ticks)
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 10, 59, 0, 0, time.UTC)
	w := NewJSONLZstdWriter(dir, "messages")
	w.now = func() time.Time { return now }
	var closed []string
	w.OnClosed = func(path string) { closed = append(closed, path) }

	_ = w.Write(MessageEntry{Type: "INFORM", Direction: "out"})
	now = now.Add(2 * time.Minute)
	_ = w.Write(MessageEntry{Type: "LEADER", Direction: "in"})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, "messages")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("want 2 hourly files, got %v", files)
	}
	if filepath.Base(files[0]) != "messages-2026-01-02-10.jsonl.zst" {
		t.Fatalf("unexpected name %s", files[0])
	}
	if len(closed) != 2 || closed[0] != files[0] || closed[1] != files[1] {
		t.Fatalf("closed hook saw %v, files %v", closed, files)
	}
}

func TestJSONLZstdWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		l := NewMessageLogger(dir)
		if err := l.WriteMessage(MessageEntry{Type: "INTENTION"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = l.Close()
	}
	files, _ := ListFiles(filepath.Join(dir, "messages"), "messages")
	n := 0
	for _, f := range files {
		if err := ReadFile(f, func([]byte) error { n++; return nil }); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if n != 2 {
		t.Fatalf("want 2 lines across frames, got %d", n)
	}
}
