package watch

import (
	"context"
	"errors"
	"time"
)

// ErrRuleNotFound marks a crawl whose extraction rule is missing or
// unusable, as opposed to a transport or extraction failure. The executor
// surfaces it through the content channel so it is visible in the UI.
var ErrRuleNotFound = errors.New("crawl rule not found")

// TaskStore persists tasks and their change state.
type TaskStore interface {
	// SelectDue returns enabled tasks whose next_check_time is due, capped
	// at limit rows.
	SelectDue(ctx context.Context, now time.Time, limit int) ([]Task, error)
	GetByName(ctx context.Context, name string) (Task, error)
	List(ctx context.Context, limit, offset int) ([]Task, error)
	Create(ctx context.Context, task Task) (int64, error)
	// UpdateSchedules writes last/next check times for a batch of tasks in
	// a single statement.
	UpdateSchedules(ctx context.Context, updates []ScheduleUpdate) error
	UpdateErrors(ctx context.Context, updates []ErrorUpdate) error
	UpdateResult(ctx context.Context, update ResultUpdate) error
}

// MetaStore is a small key/value table for settings that must survive
// restarts, such as tuned host frequencies.
type MetaStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Extractor fetches a target and returns named parse trees keyed by rule
// name. The core expects exactly one named result; each tree is an item
// record, a list of item records, or a nested wrapper that normalization
// unwraps.
type Extractor interface {
	Extract(ctx context.Context, args RequestArgs) (map[string]any, error)
}

// Clock returns the current time (swapped for a fake in tests).
type Clock interface {
	Now() time.Time
}
