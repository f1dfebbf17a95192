package jobwait

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryBackend implements the Backend interface using in-memory storage.
// It uses a single mutex for thread-safety and is suitable for testing.
type InMemoryBackend struct {
	mu          sync.RWMutex
	jobs        map[int]*JobRecord
	byOwner     map[string]map[int]bool // owner -> jobID -> true
	byPartition map[string]map[int]bool // partition -> jobID -> true
	closed      bool
}

// NewInMemoryBackend creates a new in-memory backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		jobs:        make(map[int]*JobRecord),
		byOwner:     make(map[string]map[int]bool),
		byPartition: make(map[string]map[int]bool),
	}
}

// Close closes the backend and prevents further operations.
func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return nil
}

func (b *InMemoryBackend) ensureOpenLocked() error {
	if b.closed {
		return fmt.Errorf("backend is closed")
	}
	return nil
}

// PutJob stores a single job record.
func (b *InMemoryBackend) PutJob(ctx context.Context, job *JobRecord) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if job.ID <= 0 {
		return fmt.Errorf("job id must be positive, got %d", job.ID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	b.storeJobLocked(job)
	return nil
}

// PutJobs stores multiple job records in a batch.
func (b *InMemoryBackend) PutJobs(ctx context.Context, jobs []*JobRecord) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	seen := make(map[int]bool, len(jobs))
	for idx, job := range jobs {
		if job == nil {
			return fmt.Errorf("job at index %d is nil", idx)
		}
		if job.ID <= 0 {
			return fmt.Errorf("job at index %d has non-positive id %d", idx, job.ID)
		}
		if seen[job.ID] {
			return fmt.Errorf("duplicate job id %d in batch", job.ID)
		}
		seen[job.ID] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	for _, job := range jobs {
		b.storeJobLocked(job)
	}
	return nil
}

// storeJobLocked copies the record into the store and maintains the owner
// and partition indexes. Caller must hold the write lock.
func (b *InMemoryBackend) storeJobLocked(job *JobRecord) {
	if prev, exists := b.jobs[job.ID]; exists {
		b.dropFromIndexesLocked(prev)
	}
	stored := *job
	b.jobs[job.ID] = &stored

	if b.byOwner[stored.Owner] == nil {
		b.byOwner[stored.Owner] = make(map[int]bool)
	}
	b.byOwner[stored.Owner][stored.ID] = true

	if b.byPartition[stored.Partition] == nil {
		b.byPartition[stored.Partition] = make(map[int]bool)
	}
	b.byPartition[stored.Partition][stored.ID] = true
}

func (b *InMemoryBackend) dropFromIndexesLocked(job *JobRecord) {
	if ids := b.byOwner[job.Owner]; ids != nil {
		delete(ids, job.ID)
		if len(ids) == 0 {
			delete(b.byOwner, job.Owner)
		}
	}
	if ids := b.byPartition[job.Partition]; ids != nil {
		delete(ids, job.ID)
		if len(ids) == 0 {
			delete(b.byPartition, job.Partition)
		}
	}
}

// GetJob retrieves a job record by id.
func (b *InMemoryBackend) GetJob(ctx context.Context, jobID int) (*JobRecord, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ensureOpenLocked(); err != nil {
		return nil, err
	}
	job, exists := b.jobs[jobID]
	if !exists {
		return nil, jobNotFound(jobID)
	}
	out := *job
	return &out, nil
}

// ListActive returns all jobs in an active state, sorted by id.
func (b *InMemoryBackend) ListActive(ctx context.Context) ([]*JobRecord, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ensureOpenLocked(); err != nil {
		return nil, err
	}

	out := make([]*JobRecord, 0)
	for _, job := range b.jobs {
		if job.State.Active() {
			rec := *job
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetJobState updates a job's state.
func (b *InMemoryBackend) SetJobState(ctx context.Context, jobID int, state JobState) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	job, exists := b.jobs[jobID]
	if !exists {
		return jobNotFound(jobID)
	}
	applyStateTransition(job, state, time.Now())
	return nil
}

// DeleteJob removes a job record by id.
func (b *InMemoryBackend) DeleteJob(ctx context.Context, jobID int) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	job, exists := b.jobs[jobID]
	if !exists {
		return jobNotFound(jobID)
	}
	b.dropFromIndexesLocked(job)
	delete(b.jobs, jobID)
	return nil
}

// PurgeFinished deletes terminal jobs that finished more than olderThan ago.
func (b *InMemoryBackend) PurgeFinished(ctx context.Context, olderThan time.Duration) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	if olderThan < 0 {
		return fmt.Errorf("olderThan must be >= 0, got %v", olderThan)
	}
	cutoff := time.Now().Add(-olderThan)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	for id, job := range b.jobs {
		if job.State.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			b.dropFromIndexesLocked(job)
			delete(b.jobs, id)
		}
	}
	return nil
}
