// Package postgres provides Postgres-backed persistence for tasks and
// key/value metadata.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagewatch/pagewatch/internal/watch"
)

// Pool is the subset of pgxpool.Pool the stores use; pgxmock implements it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool creates a pgx connection pool from the config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// TaskStore implements watch.TaskStore over the tasks table.
type TaskStore struct {
	pool Pool
}

// NewTaskStore constructs a TaskStore from an existing pool.
func NewTaskStore(pool Pool) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TaskStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	interval_seconds INTEGER NOT NULL DEFAULT 300,
	work_window TEXT NOT NULL DEFAULT '0, 24',
	request_args JSONB NOT NULL DEFAULT '{}',
	max_result_count INTEGER NOT NULL DEFAULT 10,
	latest_result JSONB NOT NULL DEFAULT '{}',
	result_history JSONB NOT NULL DEFAULT '[]',
	last_check_time TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	next_check_time TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	last_change_time TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	last_error TEXT NOT NULL DEFAULT '',
	custom_info TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS tasks_last_change_time_idx ON tasks (last_change_time)`,
	`CREATE TABLE IF NOT EXISTS metas (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`,
}

// EnsureSchema creates the tasks and metas tables when missing.
func (s *TaskStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, name, enabled, interval_seconds, work_window, request_args,
	max_result_count, latest_result, result_history,
	last_check_time, next_check_time, last_change_time, last_error, custom_info`

// Create inserts a task and returns its assigned id.
func (s *TaskStore) Create(ctx context.Context, task watch.Task) (int64, error) {
	args, err := json.Marshal(task.RequestArgs)
	if err != nil {
		return 0, fmt.Errorf("marshal request args: %w", err)
	}
	latest := task.LatestResult
	if latest == nil {
		latest = watch.Item{}
	}
	latestJSON, err := json.Marshal(latest)
	if err != nil {
		return 0, fmt.Errorf("marshal latest result: %w", err)
	}
	history := task.ResultHistory
	if history == nil {
		history = []watch.HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return 0, fmt.Errorf("marshal result history: %w", err)
	}
	maxCount := task.MaxResultCount
	if maxCount <= 0 {
		maxCount = 10
	}
	window := task.WorkWindow
	if window == "" {
		window = "0, 24"
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO tasks (
	name, enabled, interval_seconds, work_window, request_args,
	max_result_count, latest_result, result_history,
	last_check_time, next_check_time, last_change_time, last_error, custom_info
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id`,
		task.Name,
		task.Enabled,
		task.Interval,
		window,
		args,
		maxCount,
		latestJSON,
		historyJSON,
		task.LastCheckTime,
		task.NextCheckTime,
		task.LastChangeTime,
		task.LastError,
		task.CustomInfo,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// SelectDue returns enabled tasks whose next check time has passed.
func (s *TaskStore) SelectDue(ctx context.Context, now time.Time, limit int) ([]watch.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE enabled AND next_check_time <= $1
ORDER BY next_check_time
LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetByName returns the task with the given unique name.
func (s *TaskStore) GetByName(ctx context.Context, name string) (watch.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE name = $1`, name)
	if err != nil {
		return watch.Task{}, fmt.Errorf("select task by name: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return watch.Task{}, err
	}
	if len(tasks) == 0 {
		return watch.Task{}, fmt.Errorf("task %q not found", name)
	}
	return tasks[0], nil
}

// List returns tasks ordered by last change time, newest first.
func (s *TaskStore) List(ctx context.Context, limit, offset int) ([]watch.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM tasks
ORDER BY last_change_time DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// UpdateSchedules writes last/next check times for a batch of tasks in a
// single statement, so a crash mid-cycle cannot leave a partial batch.
func (s *TaskStore) UpdateSchedules(ctx context.Context, updates []watch.ScheduleUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]int64, len(updates))
	lastChecks := make([]time.Time, len(updates))
	nextChecks := make([]time.Time, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
		lastChecks[i] = u.LastCheckTime
		nextChecks[i] = u.NextCheckTime
	}
	_, err := s.pool.Exec(ctx, `
UPDATE tasks AS t
SET last_check_time = v.last_check_time, next_check_time = v.next_check_time
FROM (
	SELECT unnest($1::bigint[]) AS id,
	       unnest($2::timestamptz[]) AS last_check_time,
	       unnest($3::timestamptz[]) AS next_check_time
) AS v
WHERE t.id = v.id`, ids, lastChecks, nextChecks)
	if err != nil {
		return fmt.Errorf("update schedules: %w", err)
	}
	return nil
}

// UpdateErrors writes error-state transitions for a batch of tasks.
func (s *TaskStore) UpdateErrors(ctx context.Context, updates []watch.ErrorUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]int64, len(updates))
	errs := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
		errs[i] = u.Error
	}
	_, err := s.pool.Exec(ctx, `
UPDATE tasks AS t
SET last_error = v.last_error
FROM (
	SELECT unnest($1::bigint[]) AS id,
	       unnest($2::text[]) AS last_error
) AS v
WHERE t.id = v.id`, ids, errs)
	if err != nil {
		return fmt.Errorf("update errors: %w", err)
	}
	return nil
}

// UpdateResult persists a detected change.
func (s *TaskStore) UpdateResult(ctx context.Context, update watch.ResultUpdate) error {
	latestJSON, err := json.Marshal(update.LatestResult)
	if err != nil {
		return fmt.Errorf("marshal latest result: %w", err)
	}
	historyJSON, err := json.Marshal(update.ResultHistory)
	if err != nil {
		return fmt.Errorf("marshal result history: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
UPDATE tasks
SET latest_result = $2, result_history = $3, last_change_time = $4
WHERE id = $1`, update.ID, latestJSON, historyJSON, update.LastChangeTime)
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	return nil
}

func scanTasks(rows pgx.Rows) ([]watch.Task, error) {
	var tasks []watch.Task
	for rows.Next() {
		var (
			task        watch.Task
			argsJSON    []byte
			latestJSON  []byte
			historyJSON []byte
		)
		if err := rows.Scan(
			&task.ID,
			&task.Name,
			&task.Enabled,
			&task.Interval,
			&task.WorkWindow,
			&argsJSON,
			&task.MaxResultCount,
			&latestJSON,
			&historyJSON,
			&task.LastCheckTime,
			&task.NextCheckTime,
			&task.LastChangeTime,
			&task.LastError,
			&task.CustomInfo,
		); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, &task.RequestArgs); err != nil {
				return nil, fmt.Errorf("decode request args: %w", err)
			}
		}
		task.LatestResult = watch.Item{}
		if len(latestJSON) > 0 {
			if err := json.Unmarshal(latestJSON, &task.LatestResult); err != nil {
				return nil, fmt.Errorf("decode latest result: %w", err)
			}
		}
		if len(historyJSON) > 0 {
			if err := json.Unmarshal(historyJSON, &task.ResultHistory); err != nil {
				return nil, fmt.Errorf("decode result history: %w", err)
			}
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}
