package jobwait

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Queue provides read access to scheduler state plus a blocking wait over a
// set of job ids.
type Queue interface {
	// Snapshot returns a point-in-time view of all currently active jobs.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Wait blocks until every job in jobIDs has left the active queue,
	// polling internally. It returns true if all of them finished normally
	// and false if any finished abnormally.
	Wait(ctx context.Context, jobIDs []int) (bool, error)

	Close() error
}

// LocalQueue implements the Queue interface over a Backend store. The store
// holds scheduler state as mutated by an external runner; LocalQueue itself
// only reads job state, plus the explicit Submit/SetState/Cancel operations.
type LocalQueue struct {
	backend Backend
	config  *Config
	logger  *slog.Logger
	mu      sync.RWMutex
	closed  bool
}

// NewLocalQueue creates a new LocalQueue with the given backend.
// The config's PollInterval controls the inter-poll delay in Wait.
func NewLocalQueue(backend Backend, config *Config, logger *slog.Logger) *LocalQueue {
	return &LocalQueue{
		backend: backend,
		config:  config,
		logger:  logger,
	}
}

// Snapshot returns all active jobs currently in the store.
func (q *LocalQueue) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := q.ensureOpen(); err != nil {
		return nil, err
	}
	records, err := q.backend.ListActive(ctx)
	if err != nil {
		q.logger.Debug("Snapshot: backend.ListActive error", "error", err)
		return nil, err
	}
	snap := make(Snapshot, len(records))
	for _, rec := range records {
		snap[rec.ID] = rec
	}
	q.logger.Debug("Snapshot: taken", "activeJobs", len(snap))
	return snap, nil
}

// Wait blocks until every job in jobIDs is absent from the active queue,
// taking a fresh snapshot each poll iteration. Jobs missing from the store
// are treated as already finished normally (the scheduler cleared them
// before we looked). The result is false if any monitored job ended in a
// failed state.
func (q *LocalQueue) Wait(ctx context.Context, jobIDs []int) (bool, error) {
	if err := q.ensureOpen(); err != nil {
		return false, err
	}
	if len(jobIDs) == 0 {
		q.logger.Debug("Wait: empty job set")
		return true, nil
	}

	remaining := make(map[int]bool, len(jobIDs))
	for _, id := range jobIDs {
		remaining[id] = true
	}
	allOK := true

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		for id := range remaining {
			rec, err := q.backend.GetJob(ctx, id)
			if err != nil {
				if IsJobNotFound(err) {
					// Already gone from the store: finished and purged.
					q.logger.Debug("Wait: job no longer known, treating as finished", "jobID", id)
					delete(remaining, id)
					continue
				}
				q.logger.Debug("Wait: backend.GetJob error", "jobID", id, "error", err)
				return false, err
			}
			if rec.State.Active() {
				continue
			}
			if rec.State.Failed() {
				q.logger.Warn("Job finished abnormally", "jobID", id, "state", rec.State)
				allOK = false
			} else {
				q.logger.Debug("Wait: job finished", "jobID", id, "state", rec.State)
			}
			delete(remaining, id)
		}

		if len(remaining) == 0 {
			return allOK, nil
		}

		q.logger.Debug("Wait: jobs still active, sleeping",
			"remaining", len(remaining), "pollInterval", q.config.PollInterval)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(q.config.PollInterval):
		}
	}
}

// Submit stores new job records in pending state.
func (q *LocalQueue) Submit(ctx context.Context, jobs []*JobRecord) error {
	if err := q.ensureOpen(); err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	for _, job := range jobs {
		if job == nil {
			return fmt.Errorf("job is nil")
		}
		if job.ID <= 0 {
			return fmt.Errorf("job id must be positive, got %d", job.ID)
		}
	}
	q.logger.Debug("Submit", "count", len(jobs))
	return q.backend.PutJobs(ctx, jobs)
}

// SetState records a state transition for a job. This is the entry point an
// external runner uses to report scheduler-side progress.
func (q *LocalQueue) SetState(ctx context.Context, jobID int, state JobState) error {
	if err := q.ensureOpen(); err != nil {
		return err
	}
	q.logger.Debug("SetState", "jobID", jobID, "state", state)
	return q.backend.SetJobState(ctx, jobID, state)
}

// Cancel marks the given active jobs as cancelled.
// Returns the ids that were cancelled and the ids that were unknown or
// already in a terminal state.
func (q *LocalQueue) Cancel(ctx context.Context, jobIDs []int) ([]int, []int, error) {
	if err := q.ensureOpen(); err != nil {
		return nil, nil, err
	}
	q.logger.Debug("Cancel", "jobIDs", jobIDs)

	cancelled := make([]int, 0, len(jobIDs))
	unknown := make([]int, 0)
	for _, id := range jobIDs {
		rec, err := q.backend.GetJob(ctx, id)
		if err != nil {
			if IsJobNotFound(err) {
				unknown = append(unknown, id)
				continue
			}
			return cancelled, unknown, err
		}
		if rec.State.Terminal() {
			unknown = append(unknown, id)
			continue
		}
		if err := q.backend.SetJobState(ctx, id, JobStateCancelled); err != nil {
			return cancelled, unknown, err
		}
		cancelled = append(cancelled, id)
	}
	q.logger.Debug("Cancel: completed", "cancelled", cancelled, "unknown", unknown)
	return cancelled, unknown, nil
}

func (q *LocalQueue) ensureOpen() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	return nil
}

// Close closes the queue and its backend.
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.backend.Close()
}
