// Package memory provides in-memory store implementations used by tests
// and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pagewatch/pagewatch/internal/watch"
)

// TaskStore keeps tasks in a map guarded by a mutex.
type TaskStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]watch.Task
}

// NewTaskStore creates an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{nextID: 1, tasks: make(map[int64]watch.Task)}
}

// Create inserts a task and assigns its id.
func (s *TaskStore) Create(_ context.Context, task watch.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.Name == task.Name {
			return 0, fmt.Errorf("task %q already exists", task.Name)
		}
	}
	task.ID = s.nextID
	s.nextID++
	if task.MaxResultCount <= 0 {
		task.MaxResultCount = 10
	}
	if task.LatestResult == nil {
		task.LatestResult = watch.Item{}
	}
	s.tasks[task.ID] = task
	return task.ID, nil
}

// SelectDue returns enabled tasks with next_check_time <= now, oldest first.
func (s *TaskStore) SelectDue(_ context.Context, now time.Time, limit int) ([]watch.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []watch.Task
	for _, task := range s.tasks {
		if task.Enabled && !task.NextCheckTime.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextCheckTime.Before(due[j].NextCheckTime) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// GetByName returns the task with the given unique name.
func (s *TaskStore) GetByName(_ context.Context, name string) (watch.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.Name == name {
			return task, nil
		}
	}
	return watch.Task{}, fmt.Errorf("task %q not found", name)
}

// List returns tasks ordered by last change time, newest first.
func (s *TaskStore) List(_ context.Context, limit, offset int) ([]watch.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]watch.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		all = append(all, task)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastChangeTime.After(all[j].LastChangeTime) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// UpdateSchedules writes schedule fields for a batch of tasks.
func (s *TaskStore) UpdateSchedules(_ context.Context, updates []watch.ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		task, ok := s.tasks[u.ID]
		if !ok {
			continue
		}
		task.LastCheckTime = u.LastCheckTime
		task.NextCheckTime = u.NextCheckTime
		s.tasks[u.ID] = task
	}
	return nil
}

// UpdateErrors writes error-state transitions.
func (s *TaskStore) UpdateErrors(_ context.Context, updates []watch.ErrorUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		task, ok := s.tasks[u.ID]
		if !ok {
			continue
		}
		task.LastError = u.Error
		s.tasks[u.ID] = task
	}
	return nil
}

// UpdateResult persists a detected change.
func (s *TaskStore) UpdateResult(_ context.Context, update watch.ResultUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[update.ID]
	if !ok {
		return fmt.Errorf("task id %d not found", update.ID)
	}
	task.LatestResult = update.LatestResult
	task.ResultHistory = update.ResultHistory
	task.LastChangeTime = update.LastChangeTime
	s.tasks[update.ID] = task
	return nil
}

// MetaStore keeps key/value settings in memory.
type MetaStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMetaStore creates an empty MetaStore.
func NewMetaStore() *MetaStore {
	return &MetaStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *MetaStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *MetaStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Delete removes key.
func (m *MetaStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
