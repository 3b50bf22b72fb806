// Package logging builds the process-wide zap logger. While the dashboard
// owns the terminal, logs go to a file; export modes log to stderr.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Options selects level and destination.
type Options struct {
	Level string // debug|info|warn|error, empty means info
	File  string // empty means stderr
}

// DefaultFile returns the log path used by the dashboard:
// $XDG_STATE_HOME/sysmoni/sysmoni.log, falling back to the user cache dir.
func DefaultFile() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		if cache, err := os.UserCacheDir(); err == nil {
			dir = cache
		} else {
			dir = os.TempDir()
		}
	}
	return filepath.Join(dir, "sysmoni", "sysmoni.log")
}

// ParseLevel validates a level name.
func ParseLevel(level string) (zap.AtomicLevel, error) {
	if level == "" {
		return zap.NewAtomicLevelAt(zap.InfoLevel), nil
	}
	return zap.ParseAtomicLevel(level)
}

// New builds a production JSON logger.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	}
	return cfg.Build()
}
