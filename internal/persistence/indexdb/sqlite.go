package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a queryable index of agent runs. Writes are queued to a
// single writer goroutine and dropped when it falls behind; the JSONL
// decision logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRun      atomic.Uint64
	dropDelivery atomic.Uint64
	dropElection atomic.Uint64
	dropPlan     atomic.Uint64
}

type reqKind int

const (
	reqRunStart reqKind = iota + 1
	reqRunEnd
	reqDelivery
	reqElection
	reqPlan
)

type req struct {
	kind reqKind

	run      RunRow
	delivery DeliveryRow
	election ElectionRow
	plan     PlanRow
}

type RunRow struct {
	RunID     string
	AgentID   string
	Name      string
	Mode      string
	Planner   string
	StartedAt time.Time
	EndedAt   time.Time
	Score     int
	Tuning    string
}

type DeliveryRow struct {
	RunID     string
	Tick      uint64
	ParcelIDs []string
	Reward    int
	X, Y      int
	At        time.Time
}

type ElectionRow struct {
	RunID    string
	Role     string
	LeaderID string
	At       time.Time
}

type PlanRow struct {
	RunID      string
	Tick       uint64
	Goal       string
	Planner    string
	Actions    int
	Score      float64
	DurationMs float64
	Err        string
}

type Stats struct {
	DropRunTotal      uint64
	DropDeliveryTotal uint64
	DropElectionTotal uint64
	DropPlanTotal     uint64
	QueueDepth        int
	QueueCapacity     int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			mode TEXT NOT NULL,
			planner TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			score INTEGER NOT NULL DEFAULT 0,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			parcels TEXT NOT NULL,
			count INTEGER NOT NULL,
			reward INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS elections (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			leader_id TEXT NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS plans (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			goal TEXT NOT NULL,
			planner TEXT NOT NULL,
			actions INTEGER NOT NULL,
			score REAL NOT NULL,
			duration_ms REAL NOT NULL,
			error TEXT,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_run_tick ON plans(run_id, tick);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) StartRun(r RunRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqRunStart, run: r}, &s.dropRun)
}

func (s *SQLiteIndex) EndRun(runID string, score int, at time.Time) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqRunEnd, run: RunRow{RunID: runID, Score: score, EndedAt: at}}, &s.dropRun)
}

func (s *SQLiteIndex) RecordDelivery(r DeliveryRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqDelivery, delivery: r}, &s.dropDelivery)
}

func (s *SQLiteIndex) RecordElection(r ElectionRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqElection, election: r}, &s.dropElection)
}

func (s *SQLiteIndex) RecordPlan(r PlanRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqPlan, plan: r}, &s.dropPlan)
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropRunTotal:      s.dropRun.Load(),
		DropDeliveryTotal: s.dropDelivery.Load(),
		DropElectionTotal: s.dropElection.Load(),
		DropPlanTotal:     s.dropPlan.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 200
		commitMaxWait = time.Second

		electionSeq = map[string]int{}
		planSeq     = map[string]int{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqRunStart:
			_, err = tx.Exec(`INSERT OR REPLACE INTO runs(run_id,agent_id,name,mode,planner,started_at,tuning_json) VALUES(?,?,?,?,?,?,?)`,
				r.run.RunID, r.run.AgentID, r.run.Name, r.run.Mode, r.run.Planner, stamp(r.run.StartedAt), r.run.Tuning)
		case reqRunEnd:
			_, err = tx.Exec(`UPDATE runs SET ended_at=?, score=? WHERE run_id=?`, stamp(r.run.EndedAt), r.run.Score, r.run.RunID)
		case reqDelivery:
			d := r.delivery
			_, err = tx.Exec(`INSERT OR REPLACE INTO deliveries(run_id,tick,parcels,count,reward,x,y,at) VALUES(?,?,?,?,?,?,?,?)`,
				d.RunID, int64(d.Tick), strings.Join(d.ParcelIDs, ","), len(d.ParcelIDs), d.Reward, d.X, d.Y, stamp(d.At))
		case reqElection:
			e := r.election
			seq := electionSeq[e.RunID]
			electionSeq[e.RunID] = seq + 1
			_, err = tx.Exec(`INSERT OR REPLACE INTO elections(run_id,seq,role,leader_id,at) VALUES(?,?,?,?,?)`,
				e.RunID, seq, e.Role, e.LeaderID, stamp(e.At))
		case reqPlan:
			p := r.plan
			seq := planSeq[p.RunID]
			planSeq[p.RunID] = seq + 1
			var errText any
			if p.Err != "" {
				errText = p.Err
			}
			_, err = tx.Exec(`INSERT OR REPLACE INTO plans(run_id,seq,tick,goal,planner,actions,score,duration_ms,error) VALUES(?,?,?,?,?,?,?,?,?)`,
				p.RunID, seq, int64(p.Tick), p.Goal, p.Planner, p.Actions, p.Score, p.DurationMs, errText)
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
		// Nothing else queued: commit so readers see the rows promptly.
		if len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
