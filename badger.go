package jobwait

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend implements the Backend interface using BadgerDB.
// It provides persistent key-value storage without CGO and is the default
// store for the local queue.
type BadgerBackend struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerBackend creates a new BadgerDB backend.
// The database directory will be created if it doesn't exist.
// dbPath is the path to the BadgerDB database directory.
// logger is the logger instance for logging backend operations.
// Note: BadgerDB uses its own logger interface, so its internal logging is disabled.
func NewBadgerBackend(dbPath string, logger *slog.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable BadgerDB's internal logging (uses different logger interface)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerBackend{db: db, logger: logger}, nil
}

// Close closes the database connection
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// key prefixes
const (
	keyPrefixJob    = "job:"
	keyPrefixActive = "idx:active:"
)

// jobKey returns the key for a job record. Ids are zero-padded so that the
// natural key order matches ascending id order.
func jobKey(jobID int) []byte {
	return []byte(fmt.Sprintf("%s%012d", keyPrefixJob, jobID))
}

// activeIndexKey returns the key for the active job index
func activeIndexKey(jobID int) []byte {
	return []byte(fmt.Sprintf("%s%012d", keyPrefixActive, jobID))
}

// retryUpdate retries a BadgerDB update operation on transaction conflicts.
// Fixed delay, no jitter, so tests stay deterministic.
func (b *BadgerBackend) retryUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxRetries = 50
	const retryDelay = 1 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(retryDelay)
		}

		err := b.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}

	if lastErr != nil {
		return fmt.Errorf("transaction conflict after %d retries: %w", maxRetries, lastErr)
	}
	return fmt.Errorf("transaction conflict after %d retries", maxRetries)
}

// setJobTxn writes the record and maintains the active index inside txn.
func setJobTxn(txn *badger.Txn, job *JobRecord) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := txn.Set(jobKey(job.ID), data); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	if job.State.Active() {
		if err := txn.Set(activeIndexKey(job.ID), []byte(strconv.Itoa(job.ID))); err != nil {
			return fmt.Errorf("failed to index active job: %w", err)
		}
	} else {
		if err := txn.Delete(activeIndexKey(job.ID)); err != nil {
			return fmt.Errorf("failed to drop active index: %w", err)
		}
	}
	return nil
}

func getJobTxn(txn *badger.Txn, jobID int) (*JobRecord, error) {
	item, err := txn.Get(jobKey(jobID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, jobNotFound(jobID)
		}
		return nil, fmt.Errorf("failed to read job %d: %w", jobID, err)
	}
	var job JobRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode job %d: %w", jobID, err)
	}
	return &job, nil
}

// PutJob stores a single job record.
func (b *BadgerBackend) PutJob(ctx context.Context, job *JobRecord) error {
	return b.PutJobs(ctx, []*JobRecord{job})
}

// PutJobs stores multiple job records in a batch.
func (b *BadgerBackend) PutJobs(ctx context.Context, jobs []*JobRecord) error {
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
		b.logger.Debug("PutJobs: validated job", "jobID", job.ID, "owner", job.Owner, "partition", job.Partition, "state", job.State)
	}

	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, job := range jobs {
			if err := setJobTxn(txn, job); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetJob retrieves a job record by id.
func (b *BadgerBackend) GetJob(ctx context.Context, jobID int) (*JobRecord, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	var job *JobRecord
	err = b.db.View(func(txn *badger.Txn) error {
		job, err = getJobTxn(txn, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListActive returns all jobs in an active state, sorted by id.
func (b *BadgerBackend) ListActive(ctx context.Context) ([]*JobRecord, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	out := make([]*JobRecord, 0)
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixActive)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var jobID int
			if err := it.Item().Value(func(val []byte) error {
				id, convErr := strconv.Atoi(string(val))
				jobID = id
				return convErr
			}); err != nil {
				return fmt.Errorf("failed to decode active index entry: %w", err)
			}

			job, err := getJobTxn(txn, jobID)
			if err != nil {
				if IsJobNotFound(err) {
					// Index entry without a record; skip, the next write
					// to this id cleans it up.
					b.logger.Debug("ListActive: dangling index entry", "jobID", jobID)
					continue
				}
				return err
			}
			if job.State.Active() {
				out = append(out, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetJobState updates a job's state.
func (b *BadgerBackend) SetJobState(ctx context.Context, jobID int, state JobState) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}

	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		job, err := getJobTxn(txn, jobID)
		if err != nil {
			return err
		}
		applyStateTransition(job, state, time.Now())
		return setJobTxn(txn, job)
	})
}

// DeleteJob removes a job record by id.
func (b *BadgerBackend) DeleteJob(ctx context.Context, jobID int) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}

	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		if _, err := getJobTxn(txn, jobID); err != nil {
			return err
		}
		if err := txn.Delete(jobKey(jobID)); err != nil {
			return fmt.Errorf("failed to delete job %d: %w", jobID, err)
		}
		if err := txn.Delete(activeIndexKey(jobID)); err != nil {
			return fmt.Errorf("failed to delete active index for job %d: %w", jobID, err)
		}
		return nil
	})
}

// PurgeFinished deletes terminal jobs that finished more than olderThan ago.
func (b *BadgerBackend) PurgeFinished(ctx context.Context, olderThan time.Duration) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if olderThan < 0 {
		return fmt.Errorf("olderThan must be >= 0, got %v", olderThan)
	}
	cutoff := time.Now().Add(-olderThan)

	// Collect ids first, then delete in a second pass, to keep the iterator
	// out of the write transaction.
	expired := make([]int, 0)
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixJob)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var job JobRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return fmt.Errorf("failed to decode job record: %w", err)
			}
			if job.State.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
				expired = append(expired, job.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	b.logger.Debug("PurgeFinished: deleting expired jobs", "count", len(expired))
	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		for _, jobID := range expired {
			if err := txn.Delete(jobKey(jobID)); err != nil {
				return fmt.Errorf("failed to delete job %d: %w", jobID, err)
			}
			if err := txn.Delete(activeIndexKey(jobID)); err != nil {
				return fmt.Errorf("failed to delete active index for job %d: %w", jobID, err)
			}
		}
		return nil
	})
}
