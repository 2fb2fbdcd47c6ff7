package promotion

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/gantry/internal/risk"
)

// Job is one job-log entry: how a preset's run actually graded out on
// the machine, and how fragile the material/toolpath combination was.
type Job struct {
	ID           int64
	PresetID     string
	RunID        string
	Grade        risk.Level
	Fragility    float64
	CreatedAtUTC time.Time
}

// JobLog is the durable job history, stored in SQLite with WAL mode.
// SQLite only supports one writer at a time, so the connection pool is
// pinned to a single connection.
type JobLog struct {
	db *sql.DB
}

const jobLogSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	preset_id  TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	grade      TEXT NOT NULL CHECK (grade IN ('GREEN','YELLOW','RED','UNKNOWN')),
	fragility  REAL NOT NULL CHECK (fragility >= 0.0 AND fragility <= 1.0),
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_preset_created ON jobs(preset_id, created_at);
`

// OpenJobLog creates or opens the job log database at path. Idempotent:
// pragmas and schema are applied on every open.
func OpenJobLog(path string) (*JobLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect job log: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(jobLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply job log schema: %w", err)
	}
	return &JobLog{db: db}, nil
}

// Close closes the database connection.
func (j *JobLog) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// AppendJob inserts one job-log entry.
func (j *JobLog) AppendJob(ctx context.Context, job Job) error {
	if job.CreatedAtUTC.IsZero() {
		job.CreatedAtUTC = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO jobs (preset_id, run_id, grade, fragility, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		job.PresetID,
		job.RunID,
		string(job.Grade),
		job.Fragility,
		job.CreatedAtUTC.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append job: %w", err)
	}
	return nil
}

// RecentJobs returns up to limit entries for a preset, newest first
// (created_at DESC, id DESC for a deterministic order within one
// timestamp).
func (j *JobLog) RecentJobs(ctx context.Context, presetID string, limit int) ([]Job, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, preset_id, run_id, grade, fragility, created_at
		FROM jobs
		WHERE preset_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, presetID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			job       Job
			grade     string
			createdAt string
		)
		if err := rows.Scan(&job.ID, &job.PresetID, &job.RunID, &grade, &job.Fragility, &createdAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Grade = risk.Level(grade)
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse job timestamp %q: %w", createdAt, err)
		}
		job.CreatedAtUTC = t
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return jobs, nil
}
