package indexdb

import (
	"context"
	"database/sql"
	"time"
)

// RunSummary aggregates one run for reporting.
type RunSummary struct {
	Run         RunRow
	Deliveries  int
	Parcels     int
	Reward      int
	Plans       int
	FailedPlans int
	Elections   int
}

func (s *SQLiteIndex) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,agent_id,name,mode,planner,started_at,ended_at,score FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var (
			r       RunRow
			started string
			ended   sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.AgentID, &r.Name, &r.Mode, &r.Planner, &started, &ended, &r.Score); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended.Valid {
			r.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Summary(ctx context.Context, runID string) (RunSummary, error) {
	var sum RunSummary
	runs, err := s.Runs(ctx)
	if err != nil {
		return sum, err
	}
	for _, r := range runs {
		if r.RunID == runID {
			sum.Run = r
		}
	}
	if sum.Run.RunID == "" {
		return sum, sql.ErrNoRows
	}
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(count),0), COALESCE(SUM(reward),0) FROM deliveries WHERE run_id=?`, runID)
	if err := row.Scan(&sum.Deliveries, &sum.Parcels, &sum.Reward); err != nil {
		return sum, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END),0) FROM plans WHERE run_id=?`, runID)
	if err := row.Scan(&sum.Plans, &sum.FailedPlans); err != nil {
		return sum, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM elections WHERE run_id=?`, runID)
	if err := row.Scan(&sum.Elections); err != nil {
		return sum, err
	}
	return sum, nil
}
