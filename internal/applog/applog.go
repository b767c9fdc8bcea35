// Package applog provides the process-wide structured logger.
//
// Output is human-readable color console logging when attached to a
// terminal, and line-delimited JSON otherwise, so the same binary behaves
// well both interactively and when piped into a log collector.
package applog

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu    sync.RWMutex
	level = zerolog.InfoLevel
)

// SetVerbose raises the process-wide log level to debug.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		level = zerolog.DebugLevel
	} else {
		level = zerolog.InfoLevel
	}
}

// isTerminal reports whether stderr is attached to an interactive terminal.
func isTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	fileInfo, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

func base() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	var w zerolog.ConsoleWriter
	var logger zerolog.Logger
	if isTerminal() {
		w = zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) {
			cw.Out = os.Stderr
			cw.TimeFormat = time.Kitchen
		})
		logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	logger = logger.Level(level)
	return logger
}

// New returns a logger scoped to the named component (e.g. "orchestrator",
// "postgressrc"), matching every other component's field so log lines can
// be filtered by component across a run.
func New(component string) zerolog.Logger {
	return base().With().Str("component", component).Logger()
}
