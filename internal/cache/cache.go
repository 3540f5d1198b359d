// Package cache provides the read-through task-listing cache. Instead of a
// decorator with hidden global state, the cache is an explicit object whose
// Invalidate method is called at every mutation point in the scheduler.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/pagewatch/pagewatch/internal/watch"
)

// Loader fetches the authoritative task listing.
type Loader func(ctx context.Context) ([]watch.Task, error)

// TaskList caches one task listing until invalidated or expired.
type TaskList struct {
	mu       sync.Mutex
	tasks    []watch.Task
	valid    bool
	loadedAt time.Time
	ttl      time.Duration
}

// New creates a TaskList cache. A zero ttl disables expiry, leaving
// invalidation entirely to the mutation hooks.
func New(ttl time.Duration) *TaskList {
	return &TaskList{ttl: ttl}
}

// Get returns the cached listing, loading through loader when the cache is
// cold, invalidated, or expired.
func (c *TaskList) Get(ctx context.Context, loader Loader) ([]watch.Task, error) {
	c.mu.Lock()
	if c.valid && (c.ttl == 0 || time.Since(c.loadedAt) < c.ttl) {
		tasks := c.tasks
		c.mu.Unlock()
		return tasks, nil
	}
	c.mu.Unlock()

	tasks, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tasks = tasks
	c.valid = true
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return tasks, nil
}

// Invalidate drops the cached listing so the next Get reloads.
func (c *TaskList) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.tasks = nil
	c.mu.Unlock()
}
