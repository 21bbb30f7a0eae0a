// Package runstore persists pipeline runs, cohorts and risk scores in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/model"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is the stored record of one pipeline execution.
type Run struct {
	ID           string            `json:"id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Status       string            `json:"status"`
	Error        string            `json:"error,omitempty"`
	ModelVersion string            `json:"model_version,omitempty"`
	CohortSize   int               `json:"cohort_size"`
	Scored       int               `json:"scored"`
	Provenance   domain.Provenance `json:"provenance"`
	Report       domain.Summary    `json:"report"`
	Metrics      model.Metrics     `json:"metrics"`
}

// Store is a SQLite-backed run store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		model_version TEXT NOT NULL DEFAULT '',
		cohort_size INTEGER NOT NULL DEFAULT 0,
		scored INTEGER NOT NULL DEFAULT 0,
		provenance TEXT NOT NULL,
		report TEXT NOT NULL,
		metrics TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS cohort_members (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL,
		churned INTEGER NOT NULL,
		weight REAL NOT NULL,
		PRIMARY KEY (run_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS risk_scores (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		rank INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		score REAL NOT NULL,
		model_version TEXT NOT NULL,
		PRIMARY KEY (run_id, rank)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init run store schema: %w", err)
	}
	return nil
}

// SaveRun stores run with its cohort and scores in one transaction, replacing
// any earlier record with the same id.
func (s *Store) SaveRun(ctx context.Context, run Run, members []domain.CohortMember, scores []domain.RiskScore) error {
	provenance, err := json.Marshal(run.Provenance)
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"cohort_members", "risk_scores", "runs"} {
		col := "run_id"
		if table == "runs" {
			col = "id"
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+col+` = ?`, run.ID); err != nil {
			return fmt.Errorf("replace run: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, status, error, model_version, cohort_size, scored, provenance, report, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Status, run.Error,
		run.ModelVersion, run.CohortSize, run.Scored, string(provenance), string(report), string(metrics))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	memberStmt, err := tx.PrepareContext(ctx, `INSERT INTO cohort_members (run_id, user_id, churned, weight) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cohort insert: %w", err)
	}
	defer memberStmt.Close()
	for _, m := range members {
		if _, err := memberStmt.ExecContext(ctx, run.ID, m.UserID, m.Churned, m.Weight); err != nil {
			return fmt.Errorf("insert cohort member %d: %w", m.UserID, err)
		}
	}

	scoreStmt, err := tx.PrepareContext(ctx, `INSERT INTO risk_scores (run_id, rank, user_id, score, model_version) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare score insert: %w", err)
	}
	defer scoreStmt.Close()
	for _, sc := range scores {
		if _, err := scoreStmt.ExecContext(ctx, run.ID, sc.Rank, sc.UserID, sc.Score, sc.ModelVersion); err != nil {
			return fmt.Errorf("insert risk score %d: %w", sc.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, error, model_version, cohort_size, scored, provenance, report, metrics`

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// RiskScores returns a page of a run's scores in rank order and the total count.
func (s *Store) RiskScores(ctx context.Context, runID string, limit, offset int) ([]domain.RiskScore, int, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM risk_scores WHERE run_id = ?`, runID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count risk scores: %w", err)
	}
	if limit <= 0 {
		limit = total
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT rank, user_id, score, model_version FROM risk_scores WHERE run_id = ? ORDER BY rank LIMIT ? OFFSET ?`,
		runID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query risk scores: %w", err)
	}
	defer rows.Close()

	scores := make([]domain.RiskScore, 0, limit)
	for rows.Next() {
		var sc domain.RiskScore
		if err := rows.Scan(&sc.Rank, &sc.UserID, &sc.Score, &sc.ModelVersion); err != nil {
			return nil, 0, fmt.Errorf("scan risk score: %w", err)
		}
		scores = append(scores, sc)
	}
	return scores, total, rows.Err()
}

// CohortMembers returns a run's cohort ordered by user id.
func (s *Store) CohortMembers(ctx context.Context, runID string) ([]domain.CohortMember, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, churned, weight FROM cohort_members WHERE run_id = ? ORDER BY user_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query cohort: %w", err)
	}
	defer rows.Close()

	var members []domain.CohortMember
	for rows.Next() {
		var m domain.CohortMember
		if err := rows.Scan(&m.UserID, &m.Churned, &m.Weight); err != nil {
			return nil, fmt.Errorf("scan cohort member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run                         Run
		started, finished           string
		provenance, report, metrics string
	)
	err := sc.Scan(&run.ID, &started, &finished, &run.Status, &run.Error, &run.ModelVersion,
		&run.CohortSize, &run.Scored, &provenance, &report, &metrics)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	if err := json.Unmarshal([]byte(provenance), &run.Provenance); err != nil {
		return Run{}, fmt.Errorf("decode provenance of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(report), &run.Report); err != nil {
		return Run{}, fmt.Errorf("decode report of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return Run{}, fmt.Errorf("decode metrics of %s: %w", run.ID, err)
	}
	return run, nil
}

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
