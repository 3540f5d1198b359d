// Package scheduler drives the crawl cycle: it selects due tasks, applies
// their work windows, fans crawls out under a cycle deadline, reduces the
// outcomes into change state, and hands detected changes to the notifier.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/cache"
	"github.com/pagewatch/pagewatch/internal/delta"
	"github.com/pagewatch/pagewatch/internal/guard"
	"github.com/pagewatch/pagewatch/internal/metrics"
	"github.com/pagewatch/pagewatch/internal/notify"
	"github.com/pagewatch/pagewatch/internal/watch"
	"github.com/pagewatch/pagewatch/internal/workwindow"
)

const cycleJobName = "watchdog_task"

// Crawler executes one task and classifies the outcome.
type Crawler interface {
	Execute(ctx context.Context, task watch.Task) watch.Outcome
}

// Config carries the scheduler tunables.
type Config struct {
	// ChunkSize caps how many due tasks one cycle selects. A full chunk
	// signals the caller to run another cycle immediately.
	ChunkSize int
	// CrawlTimeout is the cycle deadline: crawls still in flight when it
	// expires are abandoned and their results discarded.
	CrawlTimeout time.Duration
	// CheckInterval is the idle pause between background cycles.
	CheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 20
	}
	if c.CrawlTimeout <= 0 {
		c.CrawlTimeout = 60 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60 * time.Second
	}
	return c
}

// Scheduler owns the cycle state machine.
type Scheduler struct {
	store      watch.TaskStore
	crawler    Crawler
	listing    *cache.TaskList
	dispatcher *notify.Dispatcher
	guard      *guard.Guard
	clock      watch.Clock
	cfg        Config
	logger     *zap.Logger
}

// New creates a Scheduler.
func New(
	store watch.TaskStore,
	crawler Crawler,
	listing *cache.TaskList,
	dispatcher *notify.Dispatcher,
	g *guard.Guard,
	clock watch.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = guard.New()
	}
	return &Scheduler{
		store:      store,
		crawler:    crawler,
		listing:    listing,
		dispatcher: dispatcher,
		guard:      g,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// RunCycle executes one guarded scheduling cycle. It returns true when the
// cycle selected a full chunk, meaning more tasks are probably already due.
// A cycle invoked while the previous one is still in flight fails fast with
// guard.ErrAlreadyRunning.
func (s *Scheduler) RunCycle(ctx context.Context) (bool, error) {
	var hasMore bool
	err := s.guard.Do(cycleJobName, func() error {
		var err error
		hasMore, err = s.cycle(ctx)
		return err
	})
	if errors.Is(err, guard.ErrAlreadyRunning) {
		s.logger.Info("cycle skipped, previous still running")
		metrics.ObserveCycle("skipped")
		return false, err
	}
	return hasMore, err
}

// ForceCrawl crawls one task by name right now, bypassing its schedule and
// work window, and returns the refreshed task. It is not guarded: a manual
// crawl may overlap a background cycle.
func (s *Scheduler) ForceCrawl(ctx context.Context, name string) (watch.Task, error) {
	task, err := s.store.GetByName(ctx, name)
	if err != nil {
		return watch.Task{}, fmt.Errorf("load task %q: %w", name, err)
	}

	now := s.clock.Now()
	update := watch.ScheduleUpdate{
		ID:            task.ID,
		LastCheckTime: now,
		NextCheckTime: now.Add(task.IntervalDuration()),
	}
	if err := s.store.UpdateSchedules(ctx, []watch.ScheduleUpdate{update}); err != nil {
		return watch.Task{}, fmt.Errorf("update schedule for %q: %w", name, err)
	}
	s.invalidateListing()

	crawlCtx, cancel := context.WithTimeout(ctx, s.cfg.CrawlTimeout)
	defer cancel()
	outcome := s.crawler.Execute(crawlCtx, task)
	if _, err := s.reduce(ctx, outcome, now); err != nil {
		return watch.Task{}, err
	}
	return s.store.GetByName(ctx, name)
}

// cycle is one pass of the loop: select, schedule, crawl, reduce.
func (s *Scheduler) cycle(ctx context.Context) (bool, error) {
	cycleID := uuid.NewString()
	logger := s.logger.With(zap.String("cycle_id", cycleID))
	now := s.clock.Now()

	selected, err := s.store.SelectDue(ctx, now, s.cfg.ChunkSize)
	if err != nil {
		metrics.ObserveCycle("error")
		return false, fmt.Errorf("select due tasks: %w", err)
	}
	if len(selected) == 0 {
		logger.Info("0 todo")
		metrics.ObserveCycle("idle")
		return false, nil
	}

	// Window evaluation decides both whether each task crawls now and where
	// its next check lands. Schedules for the whole selection are persisted
	// in one statement before any crawl completes, so a crashed or slow
	// cycle cannot re-select the same tasks.
	updates := make([]watch.ScheduleUpdate, 0, len(selected))
	crawlable := make([]watch.Task, 0, len(selected))
	for _, task := range selected {
		due, next, werr := workwindow.NextCheckTime(
			task.WorkWindow, now, task.LastChangeTime, task.IntervalDuration())
		if werr != nil {
			logger.Warn("work window invalid, treating as always-on",
				zap.String("task", task.Name), zap.Error(werr))
			due, next = true, now.Add(task.IntervalDuration())
		}
		updates = append(updates, watch.ScheduleUpdate{
			ID:            task.ID,
			LastCheckTime: now,
			NextCheckTime: next,
		})
		if due {
			crawlable = append(crawlable, task)
		}
	}
	if err := s.store.UpdateSchedules(ctx, updates); err != nil {
		metrics.ObserveCycle("error")
		return false, fmt.Errorf("update schedules: %w", err)
	}
	s.invalidateListing()

	outcomes := s.fanOut(ctx, logger, crawlable)

	changed := 0
	for _, outcome := range outcomes {
		didChange, err := s.reduce(ctx, outcome, now)
		if err != nil {
			logger.Error("reduce outcome failed",
				zap.String("task", outcome.Task.Name), zap.Error(err))
			continue
		}
		if didChange {
			changed++
		}
	}

	logger.Info("cycle finished",
		zap.Int("selected", len(selected)),
		zap.Int("crawled", len(outcomes)),
		zap.Int("changed", changed),
	)
	metrics.ObserveCycle("ok")
	return len(selected) == s.cfg.ChunkSize, nil
}

// invalidateListing drops the cached task listing after any persisted
// mutation, schedule-only writes included: next_check_time is part of the
// listed state.
func (s *Scheduler) invalidateListing() {
	if s.listing != nil {
		s.listing.Invalidate()
	}
}

// fanOut launches one goroutine per crawlable task and collects outcomes
// until all report or the cycle deadline expires. The channel is buffered to
// len(tasks) so abandoned crawls can still send without blocking; their late
// results are simply never read, and because all storage writes happen on
// the collecting side an abandoned crawl can never write after the deadline.
func (s *Scheduler) fanOut(ctx context.Context, logger *zap.Logger, tasks []watch.Task) []watch.Outcome {
	if len(tasks) == 0 {
		return nil
	}
	crawlCtx, cancel := context.WithTimeout(ctx, s.cfg.CrawlTimeout)
	defer cancel()

	results := make(chan watch.Outcome, len(tasks))
	for _, task := range tasks {
		go func(task watch.Task) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("crawl panicked",
						zap.String("task", task.Name),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					results <- watch.Outcome{Task: task, Error: fmt.Sprintf("crawl panicked: %v", r)}
				}
			}()
			results <- s.crawler.Execute(crawlCtx, task)
		}(task)
	}

	outcomes := make([]watch.Outcome, 0, len(tasks))
	deadline := time.After(s.cfg.CrawlTimeout)
	for range tasks {
		select {
		case outcome := <-results:
			outcomes = append(outcomes, outcome)
		case <-deadline:
			abandoned := len(tasks) - len(outcomes)
			logger.Warn(fmt.Sprintf("%d timeout", abandoned),
				zap.Duration("deadline", s.cfg.CrawlTimeout))
			for i := 0; i < abandoned; i++ {
				metrics.ObserveCrawlTimeout()
			}
			return outcomes
		case <-ctx.Done():
			return outcomes
		}
	}
	return outcomes
}

// reduce folds one crawl outcome into persistent state: the error channel
// first, then the content channel when the crawl produced items. It reports
// whether a content change was persisted.
func (s *Scheduler) reduce(ctx context.Context, outcome watch.Outcome, now time.Time) (bool, error) {
	task := outcome.Task

	if outcome.Error != task.LastError {
		err := s.store.UpdateErrors(ctx, []watch.ErrorUpdate{{ID: task.ID, Error: outcome.Error}})
		if err != nil {
			return false, fmt.Errorf("update error state: %w", err)
		}
		s.invalidateListing()
		if outcome.Error != "" {
			s.logger.Warn("task entered error state",
				zap.String("task", task.Name), zap.String("error", outcome.Error))
		} else {
			s.logger.Info("task recovered", zap.String("task", task.Name))
		}
	}

	// An errored crawl never touches content state: rule-not-found and
	// bad-shape outcomes carry a placeholder item describing the failure,
	// and that placeholder must not enter history or fire a callback.
	if outcome.Error != "" || outcome.Items == nil {
		return false, nil
	}

	toInsert := delta.NewItems(task.LatestResult.Key(), outcome.Items)
	if len(toInsert) == 0 {
		return false, nil
	}

	history := delta.MergeHistory(task.ResultHistory, toInsert, now, task.MaxResultCount)
	update := watch.ResultUpdate{
		ID:             task.ID,
		LatestResult:   toInsert[0],
		ResultHistory:  history,
		LastChangeTime: now,
	}
	if err := s.store.UpdateResult(ctx, update); err != nil {
		return false, fmt.Errorf("update result: %w", err)
	}
	s.invalidateListing()
	metrics.ObserveChangedTask()
	s.logger.Info("change detected",
		zap.String("task", task.Name),
		zap.Int("new_items", len(toInsert)),
		zap.String("text", toInsert[0].Text()),
	)

	if s.dispatcher != nil {
		notified := task
		notified.LatestResult = toInsert[0]
		notified.ResultHistory = history
		notified.LastChangeTime = now
		// Detached from the cycle deadline: a slow webhook must not stall
		// or cancel the reduce path.
		go s.dispatcher.Dispatch(context.WithoutCancel(ctx), notified)
	}
	return true, nil
}
