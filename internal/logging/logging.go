// Package logging configures the process-wide zerolog logger used by the
// agent loop, approval manager, provider adapters, and the playbook.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Setup configures the global logger to write to logPath (created if
// missing) at info level, or debug level when debug is set. Stderr is
// used only when no log file is open. It is safe to call more than once;
// only the first call takes effect. Failure to open the log file is
// non-fatal: logging falls back to stderr and the error is returned.
func Setup(logPath string, debug bool) error {
	var setupErr error
	once.Do(func() {
		level := zerolog.InfoLevel
		if debug {
			level = zerolog.DebugLevel
		}
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		zerolog.SetGlobalLevel(level)

		var writers []io.Writer
		stderrWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		if logPath != "" {
			if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
				setupErr = err
			} else if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
				setupErr = err
			} else {
				writers = append(writers, f)
			}
		}
		if len(writers) == 0 {
			writers = append(writers, stderrWriter)
		}
		logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	})
	return setupErr
}

// Get returns the configured logger, defaulting to a stderr-only logger if
// Setup was never called.
func Get() *zerolog.Logger {
	return &logger
}

// For returns a child logger scoped to a named component, e.g. "agent",
// "approval", "playbook", "provider".
func For(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}
