//go:build !sqlite
// +build !sqlite

package main

import (
	"fmt"
	"log/slog"

	"github.com/VsevolodSauta/jobwait"
)

func newSQLiteBackend(path string, logger *slog.Logger) (jobwait.Backend, error) {
	return nil, fmt.Errorf("sqlite backend requires building with -tags sqlite")
}
