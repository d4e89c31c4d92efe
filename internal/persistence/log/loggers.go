package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	// OnClosed, when set, receives the path of every finished file.
	OnClosed func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		path := w.f.Name()
		_ = w.f.Close()
		w.f = nil
		if err1 == nil && w.OnClosed != nil {
			w.OnClosed(path)
		}
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// DecisionEntry is one agent tick: what it believed, chose and got back.
type DecisionEntry struct {
	RunID    string    `json:"run_id"`
	Tick     uint64    `json:"tick"`
	Time     time.Time `json:"time"`
	AgentID  string    `json:"agent_id"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Goal     string    `json:"goal,omitempty"`
	Action   string    `json:"action,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Failures int       `json:"failures,omitempty"`
	PlanLen  int       `json:"plan_len"`
	Carried  int       `json:"carried"`
	Score    int       `json:"score"`
	Leader   string    `json:"leader,omitempty"`
	Role     string    `json:"role,omitempty"`
}

// MessageEntry records one team message in either direction.
type MessageEntry struct {
	RunID     string          `json:"run_id"`
	Time      time.Time       `json:"time"`
	Direction string          `json:"direction"` // in | out
	Peer      string          `json:"peer,omitempty"`
	Type      string          `json:"type"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// DecisionLogger writes one JSONL entry per tick (compressed).
type DecisionLogger struct{ w *JSONLZstdWriter }

func NewDecisionLogger(runDir string) *DecisionLogger {
	return &DecisionLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "decisions"), "decisions")}
}

func (l *DecisionLogger) WriteDecision(v DecisionEntry) error { return l.w.Write(v) }
func (l *DecisionLogger) Close() error                        { return l.w.Close() }
func (l *DecisionLogger) OnClosed(fn func(path string))       { l.w.OnClosed = fn }

// MessageLogger writes team message JSONL entries (compressed).
type MessageLogger struct{ w *JSONLZstdWriter }

func NewMessageLogger(runDir string) *MessageLogger {
	return &MessageLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "messages"), "messages")}
}

func (l *MessageLogger) WriteMessage(v MessageEntry) error { return l.w.Write(v) }
func (l *MessageLogger) Close() error                      { return l.w.Close() }
func (l *MessageLogger) OnClosed(fn func(path string))     { l.w.OnClosed = fn }

// ListFiles returns dir's prefix-*.jsonl.zst files in time order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadFile calls fn for every line of a compressed JSONL file.
func ReadFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}
