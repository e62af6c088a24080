package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite access for workbook runs and their per-point outcomes.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			workbook TEXT,
			status TEXT,
			points INTEGER,
			converged INTEGER,
			output_path TEXT,
			report_path TEXT,
			last_error TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workbook ON runs(workbook);`,
		`CREATE TABLE IF NOT EXISTS point_results (
			run_id TEXT,
			point INTEGER,
			status TEXT,
			unified_time TEXT,
			master_pulses TEXT,
			cost TEXT,
			iterations INTEGER,
			detail TEXT,
			created_at TIMESTAMP,
			PRIMARY KEY (run_id, point)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Run is one processing pass over one workbook.
type Run struct {
	RunID      string     `json:"run_id"`
	Workbook   string     `json:"workbook"`
	Status     string     `json:"status"`
	Points     int        `json:"points"`
	Converged  int        `json:"converged"`
	OutputPath string     `json:"output_path"`
	ReportPath string     `json:"report_path"`
	LastError  *string    `json:"last_error"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// PointRecord is the persisted outcome of one calibration point. Decimal
// values are stored as text so no precision is lost in the database.
type PointRecord struct {
	RunID        string    `json:"run_id"`
	Point        int       `json:"point"`
	Status       string    `json:"status"`
	UnifiedTime  string    `json:"unified_time"`
	MasterPulses string    `json:"master_pulses"`
	Cost         string    `json:"cost"`
	Iterations   int       `json:"iterations"`
	Detail       string    `json:"detail"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Store) CreateRun(ctx context.Context, runID, workbook string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs(run_id, workbook, status, points, converged, created_at, updated_at)
		VALUES(?, ?, 'queued', 0, 0, ?, ?)`, runID, workbook, ts, ts)
	return err
}

func (s *Store) MarkRunStarted(ctx context.Context, runID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status='processing', started_at=?, updated_at=? WHERE run_id=?`, ts, ts, runID)
	return err
}

func (s *Store) MarkRunDone(ctx context.Context, runID string, points, converged int, outputPath, reportPath string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status='done', points=?, converged=?, output_path=?, report_path=?, finished_at=?, updated_at=? WHERE run_id=?`,
		points, converged, outputPath, reportPath, ts, ts, runID)
	return err
}

func (s *Store) MarkRunError(ctx context.Context, runID, errMsg string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status='error', last_error=?, finished_at=?, updated_at=? WHERE run_id=?`, errMsg, ts, ts, runID)
	return err
}

func (s *Store) SavePointResult(ctx context.Context, r *PointRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO point_results(run_id, point, status, unified_time, master_pulses, cost, iterations, detail, created_at)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id, point) DO UPDATE SET status=excluded.status, unified_time=excluded.unified_time,
			master_pulses=excluded.master_pulses, cost=excluded.cost, iterations=excluded.iterations, detail=excluded.detail`,
		r.RunID, r.Point, r.Status, r.UnifiedTime, r.MasterPulses, r.Cost, r.Iterations, r.Detail, r.CreatedAt)
	return err
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, workbook, status, points, converged, output_path, report_path, last_error, created_at, updated_at, started_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		var errMsg sql.NullString
		var output, report sql.NullString
		var started, finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.Workbook, &r.Status, &r.Points, &r.Converged, &output, &report, &errMsg, &r.CreatedAt, &r.UpdatedAt, &started, &finished); err != nil {
			return nil, err
		}
		if output.Valid {
			r.OutputPath = output.String
		}
		if report.Valid {
			r.ReportPath = report.String
		}
		if errMsg.Valid {
			r.LastError = &errMsg.String
		}
		if started.Valid {
			r.StartedAt = &started.Time
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) RunPoints(ctx context.Context, runID string) ([]PointRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, point, status, unified_time, master_pulses, cost, iterations, detail, created_at
		FROM point_results WHERE run_id=? ORDER BY point ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []PointRecord
	for rows.Next() {
		var r PointRecord
		if err := rows.Scan(&r.RunID, &r.Point, &r.Status, &r.UnifiedTime, &r.MasterPulses, &r.Cost, &r.Iterations, &r.Detail, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DoneWorkbooks returns the set of workbook names with at least one
// completed run, used by the startup scan to skip processed files.
func (s *Store) DoneWorkbooks(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT workbook FROM runs WHERE status='done'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		done[w] = true
	}
	return done, rows.Err()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
