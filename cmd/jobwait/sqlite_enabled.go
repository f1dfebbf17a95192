//go:build sqlite
// +build sqlite

package main

import (
	"log/slog"

	"github.com/VsevolodSauta/jobwait"
)

func newSQLiteBackend(path string, logger *slog.Logger) (jobwait.Backend, error) {
	return jobwait.NewSQLiteBackend(path, logger)
}
