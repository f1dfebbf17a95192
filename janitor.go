package jobwait

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically deletes finished job records that are past their TTL.
// It keeps long-lived local queue stores from growing without bound.
type Janitor struct {
	backend Backend
	config  *Config
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJanitor creates a new janitor over the given backend.
// config supplies the FinishedTTL and PurgeInterval settings.
func NewJanitor(backend Backend, config *Config, logger *slog.Logger) *Janitor {
	return &Janitor{
		backend: backend,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start starts the background purge loop. A purge runs immediately, then on
// every PurgeInterval tick until Stop is called or ctx is cancelled.
// This method returns immediately after starting the goroutine.
func (j *Janitor) Start(ctx context.Context) {
	go j.purgeLoop(ctx)
}

// Stop stops the janitor and waits for the purge loop to finish.
func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *Janitor) purgeLoop(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.PurgeInterval)
	defer ticker.Stop()

	// Run purge immediately on start
	j.purge(ctx)

	for {
		select {
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.purge(ctx)
		}
	}
}

func (j *Janitor) purge(ctx context.Context) {
	if err := j.backend.PurgeFinished(ctx, j.config.FinishedTTL); err != nil {
		j.logger.Warn("Failed to purge finished jobs", "error", err)
		return
	}
	j.logger.Debug("Purged expired finished jobs", "ttl", j.config.FinishedTTL)
}
