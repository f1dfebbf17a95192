//go:build sqlite
// +build sqlite

package jobwait

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend implements the Backend interface using SQLite.
// It provides ACID transactions and is suitable for single-server
// deployments where the queue state is shared between processes.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteBackend creates a new SQLite backend.
// The database file will be created if it doesn't exist.
// dbPath is the path to the SQLite database file.
func NewSQLiteBackend(dbPath string, logger *slog.Logger) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	backend := &SQLiteBackend{db: db, logger: logger}

	if err := backend.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("SQLite store ready", "path", dbPath)
	return backend, nil
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// initSchema initializes the database schema
func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		owner TEXT NOT NULL,
		partition_name TEXT NOT NULL,
		state TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER,
		exit_code INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner);
	CREATE INDEX IF NOT EXISTS idx_jobs_partition ON jobs(partition_name);
	`
	_, err := b.db.Exec(schema)
	return err
}

// activeStates returns the SQL placeholder list and arguments covering all
// active job states.
func activeStates() (string, []any) {
	states := []JobState{
		JobStatePending, JobStateConfiguring, JobStateHeld, JobStateRunning,
		JobStateCompleting, JobStateSubmitted,
		JobStatePreempted, JobStateStopped, JobStateSuspended,
	}
	placeholders := ""
	args := make([]any, 0, len(states))
	for i, s := range states {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, string(s))
	}
	return placeholders, args
}

// PutJob stores a single job record.
func (b *SQLiteBackend) PutJob(ctx context.Context, job *JobRecord) error {
	return b.PutJobs(ctx, []*JobRecord{job})
}

// PutJobs stores multiple job records in one transaction.
func (b *SQLiteBackend) PutJobs(ctx context.Context, jobs []*JobRecord) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	seen := make(map[int]struct{}, len(jobs))
	for idx, job := range jobs {
		if job == nil {
			return fmt.Errorf("job at index %d is nil", idx)
		}
		if job.ID <= 0 {
			return fmt.Errorf("job at index %d has non-positive id %d", idx, job.ID)
		}
		if _, exists := seen[job.ID]; exists {
			return fmt.Errorf("duplicate job id %d in batch", job.ID)
		}
		seen[job.ID] = struct{}{}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO jobs
		(id, name, owner, partition_name, state, submitted_at, started_at, finished_at, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, job := range jobs {
		_, err := stmt.ExecContext(ctx,
			job.ID, job.Name, job.Owner, job.Partition, string(job.State),
			job.SubmittedAt.Unix(), unixOrNil(job.StartedAt), unixOrNil(job.FinishedAt),
			job.ExitCode)
		if err != nil {
			return fmt.Errorf("failed to store job %d: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetJob retrieves a job record by id.
func (b *SQLiteBackend) GetJob(ctx context.Context, jobID int) (*JobRecord, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	row := b.db.QueryRowContext(ctx, `
		SELECT id, name, owner, partition_name, state, submitted_at, started_at, finished_at, exit_code
		FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, jobNotFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %d: %w", jobID, err)
	}
	return job, nil
}

// ListActive returns all jobs in an active state, sorted by id.
func (b *SQLiteBackend) ListActive(ctx context.Context) ([]*JobRecord, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	placeholders, args := activeStates()
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, name, owner, partition_name, state, submitted_at, started_at, finished_at, exit_code
		FROM jobs WHERE state IN (`+placeholders+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*JobRecord, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetJobState updates a job's state.
func (b *SQLiteBackend) SetJobState(ctx context.Context, jobID int, state JobState) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}

	job, err := b.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	applyStateTransition(job, state, time.Now())

	_, err = b.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		string(job.State), unixOrNil(job.StartedAt), unixOrNil(job.FinishedAt), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %d: %w", jobID, err)
	}
	return nil
}

// DeleteJob removes a job record by id.
func (b *SQLiteBackend) DeleteJob(ctx context.Context, jobID int) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}

	res, err := b.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %d: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return jobNotFound(jobID)
	}
	return nil
}

// PurgeFinished deletes terminal jobs that finished more than olderThan ago.
func (b *SQLiteBackend) PurgeFinished(ctx context.Context, olderThan time.Duration) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if olderThan < 0 {
		return fmt.Errorf("olderThan must be >= 0, got %v", olderThan)
	}
	cutoff := time.Now().Add(-olderThan).Unix()

	placeholders, args := activeStates()
	args = append([]any{cutoff}, args...)
	_, err = b.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE finished_at IS NOT NULL AND finished_at < ?
		AND state NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to purge finished jobs: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var job JobRecord
	var state string
	var submitted int64
	var started, finished sql.NullInt64
	var exitCode sql.NullInt64

	err := row.Scan(&job.ID, &job.Name, &job.Owner, &job.Partition, &state,
		&submitted, &started, &finished, &exitCode)
	if err != nil {
		return nil, err
	}

	job.State = JobState(state)
	job.SubmittedAt = time.Unix(submitted, 0)
	if started.Valid {
		t := time.Unix(started.Int64, 0)
		job.StartedAt = &t
	}
	if finished.Valid {
		t := time.Unix(finished.Int64, 0)
		job.FinishedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		job.ExitCode = &code
	}
	return &job, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
