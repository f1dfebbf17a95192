// Package jobwait selects batch scheduler jobs by id, owner, or partition
// and blocks until every selected job has left the active queue.
//
// The library supports:
//   - Filter-based job selection (explicit ids, owning users, partitions)
//   - Blocking waits against a live queue with per-poll fresh snapshots
//   - Multiple local queue store implementations (BadgerDB, SQLite, in-memory)
//   - Batch cancellation of active jobs
//   - Automatic purging of finished job records
//
// Example usage:
//
//	backend, _ := jobwait.NewBadgerBackend("./queue-data", logger)
//	queue := jobwait.NewLocalQueue(backend, jobwait.LoadConfig(), logger)
//	defer queue.Close()
//
//	snap, _ := queue.Snapshot(ctx)
//	selector := jobwait.NewSelector(logger)
//	targets, _ := selector.Select(nil, "alice", []string{"batch"}, snap)
//
//	monitor := jobwait.NewMonitor(queue, logger)
//	ok, _ := monitor.Wait(ctx, targets)
package jobwait

import (
	"time"
)

// JobState represents the scheduler-reported state of a job.
type JobState string

const (
	// JobStatePending indicates the job is queued and waiting for resources.
	JobStatePending JobState = "pending"
	// JobStateConfiguring indicates resources are allocated but not yet ready.
	JobStateConfiguring JobState = "configuring"
	// JobStateHeld indicates the job is administratively held.
	JobStateHeld JobState = "held"
	// JobStateRunning indicates the job is executing.
	JobStateRunning JobState = "running"
	// JobStateCompleting indicates the job is finishing up (epilog running).
	JobStateCompleting JobState = "completing"
	// JobStateSubmitted indicates the job was accepted but not yet scheduled.
	JobStateSubmitted JobState = "submitted"
	// JobStateCompleted indicates the job finished normally.
	JobStateCompleted JobState = "completed"
	// JobStateSpecialExit indicates the job finished with a designated
	// non-failure exit (requeue hold slots and similar).
	JobStateSpecialExit JobState = "special_exit"
	// JobStateFailed indicates the job exited non-zero.
	JobStateFailed JobState = "failed"
	// JobStateCancelled indicates the job was cancelled by a user or admin.
	JobStateCancelled JobState = "cancelled"
	// JobStateTimeout indicates the job exceeded its time limit.
	JobStateTimeout JobState = "timeout"
	// JobStateNodeFail indicates the job was lost to a node failure.
	JobStateNodeFail JobState = "node_fail"
	// JobStateBootFail indicates allocated nodes failed to boot.
	JobStateBootFail JobState = "boot_fail"
	// JobStateKilled indicates the job was killed by the scheduler.
	JobStateKilled JobState = "killed"
	// JobStateDisappeared indicates the job vanished from scheduler history.
	JobStateDisappeared JobState = "disappeared"
	// JobStatePreempted indicates the job was preempted and may resume.
	JobStatePreempted JobState = "preempted"
	// JobStateStopped indicates the job received SIGSTOP.
	JobStateStopped JobState = "stopped"
	// JobStateSuspended indicates the job is suspended and may resume.
	JobStateSuspended JobState = "suspended"
)

// Active reports whether the job is still in the queue's active set.
// Preempted, stopped and suspended jobs can resume, so they count as active
// for waiting purposes.
func (s JobState) Active() bool {
	switch s {
	case JobStatePending, JobStateConfiguring, JobStateHeld, JobStateRunning,
		JobStateCompleting, JobStateSubmitted,
		JobStatePreempted, JobStateStopped, JobStateSuspended:
		return true
	}
	return false
}

// Terminal reports whether the job has reached a final state.
func (s JobState) Terminal() bool {
	return !s.Active()
}

// Failed reports whether a terminal state represents abnormal completion.
func (s JobState) Failed() bool {
	switch s {
	case JobStateFailed, JobStateCancelled, JobStateTimeout, JobStateNodeFail,
		JobStateBootFail, JobStateKilled, JobStateDisappeared:
		return true
	}
	return false
}

// JobRecord represents one job as reported by the scheduler.
type JobRecord struct {
	ID          int        // Scheduler-assigned integer job id
	Name        string     // Job name
	Owner       string     // Username of the submitting user
	Partition   string     // Partition (queue) the job was submitted into
	State       JobState   // Current scheduler state
	SubmittedAt time.Time  // When the job entered the queue
	StartedAt   *time.Time // When the job started running (nil if not started)
	FinishedAt  *time.Time // When the job reached a terminal state (nil if active)
	ExitCode    *int       // Exit code for terminal jobs (nil if unknown)
}

// Snapshot is a point-in-time view of all active jobs, keyed by job id.
// It is not a live view; the scheduler may have moved on the moment after
// it was taken.
type Snapshot map[int]*JobRecord
