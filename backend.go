package jobwait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is wrapped by backend errors when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// IsJobNotFound reports whether err indicates an unknown job id.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

func jobNotFound(jobID int) error {
	return fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
}

// Backend represents the interface for queue state storage.
// Implementations must be thread-safe and support concurrent operations.
type Backend interface {
	// PutJob stores a single job record, replacing any existing record with
	// the same id
	PutJob(ctx context.Context, job *JobRecord) error

	// PutJobs stores multiple job records in a batch
	PutJobs(ctx context.Context, jobs []*JobRecord) error

	// GetJob retrieves a job record by id
	GetJob(ctx context.Context, jobID int) (*JobRecord, error)

	// ListActive returns all jobs whose state is active, in ascending id order
	ListActive(ctx context.Context) ([]*JobRecord, error)

	// SetJobState updates a job's state, stamping StartedAt on the first
	// transition to running and FinishedAt on transition to a terminal state
	SetJobState(ctx context.Context, jobID int, state JobState) error

	// DeleteJob removes a job record by id
	DeleteJob(ctx context.Context, jobID int) error

	// PurgeFinished deletes terminal jobs that finished more than olderThan ago
	PurgeFinished(ctx context.Context, olderThan time.Duration) error

	// Close closes the backend connection
	Close() error
}

// applyStateTransition mutates rec for the new state, stamping StartedAt on
// the first transition to running and FinishedAt on reaching a terminal
// state. Shared by all backend implementations.
func applyStateTransition(rec *JobRecord, state JobState, now time.Time) {
	rec.State = state
	if state == JobStateRunning && rec.StartedAt == nil {
		t := now
		rec.StartedAt = &t
	}
	if state.Terminal() && rec.FinishedAt == nil {
		t := now
		rec.FinishedAt = &t
	}
}
