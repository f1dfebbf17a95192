package jobwait

import (
	"context"
	"log/slog"
)

// Monitor blocks until a target set of jobs has left the active queue.
type Monitor struct {
	queue  Queue
	logger *slog.Logger
}

// NewMonitor creates a new Monitor over the given queue.
func NewMonitor(queue Queue, logger *slog.Logger) *Monitor {
	return &Monitor{queue: queue, logger: logger}
}

// Wait blocks until every job in jobIDs has reached a terminal state.
// It returns true if all monitored jobs finished normally and false if the
// queue reports abnormal completion for any of them. There is no internal
// timeout; cancel ctx to abort early, in which case the context error is
// returned.
//
// An empty target set returns true immediately without querying the queue.
func (m *Monitor) Wait(ctx context.Context, jobIDs []int) (bool, error) {
	if len(jobIDs) == 0 {
		m.logger.Debug("Wait: empty target set, nothing to wait for")
		return true, nil
	}

	m.logger.Info("Waiting for jobs to finish", "jobIDs", jobIDs)
	ok, err := m.queue.Wait(ctx, jobIDs)
	if err != nil {
		m.logger.Debug("Wait: queue error", "error", err)
		return false, err
	}
	if ok {
		m.logger.Info("All jobs finished normally", "count", len(jobIDs))
	} else {
		m.logger.Warn("One or more jobs finished abnormally", "jobIDs", jobIDs)
	}
	return ok, nil
}
