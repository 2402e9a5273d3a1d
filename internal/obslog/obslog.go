// Package obslog wires the package-level structured logger shared by every
// component, mirroring the teacher (github.com/joeycumines/go-utilpkg
// eventloop)'s SetStructuredLogger / getGlobalLogger pattern: a swappable
// process-wide logger with a silent no-op default, so embedding
// applications opt in to visibility instead of the library forcing stdout
// output on them.
package obslog

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Event is the concrete logiface event type used across this module.
type Event = stumpy.Event

// Logger is the logger type every component accepts/holds.
type Logger = logiface.Logger[*Event]

var (
	mu      sync.RWMutex
	current *Logger = NewNoop()
)

// Set installs logger as the process-wide default. Pass nil to restore the
// no-op default.
func Set(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = NewNoop()
	}
	current = logger
}

// Get returns the current process-wide logger.
func Get() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// NewNoop returns a logger with no writer attached, discarding all events.
func NewNoop() *Logger {
	return stumpy.L.New(logiface.WithLevel(logiface.LevelDisabled))
}

// NewStdout returns a logger writing stumpy-formatted JSON lines to stdout
// at the given level, suitable for the example wiring and for applications
// that have not configured their own logiface backend.
func NewStdout(level logiface.Level) *Logger {
	return stumpy.L.New(
		logiface.WithLevel(level),
		stumpy.L.WithStumpy(),
	)
}
