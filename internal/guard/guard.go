// Package guard provides single-flight protection for named recurring jobs:
// a second invocation while one is in flight fails fast instead of racing.
package guard

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyRunning is returned when a guarded job is invoked while a
// previous invocation of the same name has not finished.
var ErrAlreadyRunning = errors.New("job is still running")

// Guard tracks in-flight job names.
type Guard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// New creates an empty Guard.
func New() *Guard {
	return &Guard{running: make(map[string]struct{})}
}

// Do runs fn under the given name. If the name is already registered as
// running it returns ErrAlreadyRunning immediately; there is no queuing.
// The name is unregistered when fn returns, even on panic.
func (g *Guard) Do(name string, fn func() error) error {
	g.mu.Lock()
	if _, ok := g.running[name]; ok {
		g.mu.Unlock()
		return fmt.Errorf("%q: %w", name, ErrAlreadyRunning)
	}
	g.running[name] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.running, name)
		g.mu.Unlock()
	}()
	return fn()
}

// Running reports whether the named job is currently in flight.
func (g *Guard) Running(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[name]
	return ok
}
