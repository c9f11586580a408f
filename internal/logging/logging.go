// Package logging provides the application's structured logger. Every
// subsystem calls WithComponent(name) once at construction and logs through
// that logger for its lifetime.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	root    = zerolog.New(io.Discard)
	started bool
)

// Init wires the root logger: a console writer on stderr plus an
// append-only file writer at logPath (spec §6: log.txt), and sets the level
// from verbose (debug) or the default (info). Init may be called more than
// once; each call opens logPath again and replaces the root logger, which is
// useful for tests.
func Init(logPath string, verbose bool) error {
	mu.Lock()
	defer mu.Unlock()

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	root = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	started = true

	return nil
}

// WithComponent returns a logger tagged with a "component" field.
func WithComponent(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if !started {
		// Fall back to a stderr logger so packages constructed before Init
		// (e.g. in tests) still produce output instead of silently dropping it.
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("component", name).Logger()
	}

	return root.With().Str("component", name).Logger()
}
