package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/VsevolodSauta/jobwait"
)

var errAbnormalCompletion = errors.New("one or more jobs finished abnormally")

// rootCmd builds the jobwait command.
//
// jobwait blocks until the selected jobs have left the active queue. Jobs
// are selected by explicit id, owning user and/or partition; when both a
// user filter and a partition filter match, only jobs matching both are
// monitored. With no selection flags at all the command prints usage and
// exits successfully.
func rootCmd() *cobra.Command {
	var (
		partitions []string
		users      []string
		jobs       []string
		verbose    bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "jobwait",
		Short: "jobwait blocks until the selected scheduler jobs have finished.",
		Long: `jobwait selects scheduler jobs by id, owning user or partition and blocks
until every selected job has left the active queue.

Exit status is 0 when all monitored jobs finished normally and 1 when any
of them failed, was cancelled or timed out. The wait has no internal
timeout; interrupt the process to abort early.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(partitions) == 0 && len(users) == 0 && len(jobs) == 0 {
				// No selection at all is a help request, not an error.
				return cmd.Help()
			}
			return run(cmd.Context(), partitions, users, jobs, newLogger(verbose, quiet))
		},
	}

	cmd.Flags().StringSliceVarP(&partitions, "partition", "p", nil, "monitor jobs in this partition (repeatable)")
	cmd.Flags().StringSliceVarP(&users, "user", "u", nil, "monitor jobs owned by this user (repeatable)")
	cmd.Flags().StringSliceVarP(&jobs, "jobs", "j", nil, "monitor this job id (repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")

	return cmd
}

func newLogger(verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func run(ctx context.Context, partitions, users, jobs []string, logger *slog.Logger) error {
	config := jobwait.LoadConfig()

	backend, err := newBackend(config, logger)
	if err != nil {
		logger.Error("Failed to open queue store", "backend", config.Backend, "error", err)
		return err
	}

	queue := jobwait.NewLocalQueue(backend, config, logger)
	defer queue.Close()

	janitor := jobwait.NewJanitor(backend, config, logger)
	janitor.Start(ctx)
	defer janitor.Stop()

	snap, err := queue.Snapshot(ctx)
	if err != nil {
		logger.Error("Failed to read queue state", "error", err)
		return err
	}

	selector := jobwait.NewSelector(logger)
	targets, err := selector.Select(jobs, users, partitions, snap)
	if err != nil {
		logger.Error("Failed to resolve job selection", "error", err)
		return err
	}
	logger.Info("Selected jobs to monitor", "jobIDs", targets)

	monitor := jobwait.NewMonitor(queue, logger)
	ok, err := monitor.Wait(ctx, targets)
	if err != nil {
		logger.Error("Wait aborted", "error", err)
		return err
	}
	if !ok {
		return errAbnormalCompletion
	}
	return nil
}

func newBackend(config *jobwait.Config, logger *slog.Logger) (jobwait.Backend, error) {
	switch config.Backend {
	case jobwait.BackendBadger:
		return jobwait.NewBadgerBackend(config.DataDir, logger)
	case jobwait.BackendSQLite:
		return newSQLiteBackend(config.DataDir, logger)
	case jobwait.BackendMemory:
		return jobwait.NewInMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", config.Backend)
	}
}
