// Package executor runs the fetch+extract collaborator for one task and
// classifies the outcome for the scheduler.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/metrics"
	"github.com/pagewatch/pagewatch/internal/watch"
)

// Executor normalizes extractor output into the uniform item shape.
type Executor struct {
	extractor watch.Extractor
	logger    *zap.Logger
}

// New creates an Executor.
func New(extractor watch.Extractor, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{extractor: extractor, logger: logger}
}

// Execute crawls one task. Classification:
//
//   - missing rule: the error is surfaced both in Outcome.Error and as a
//     single synthetic item, so it shows up through the content channel;
//   - any other extraction failure: error only, Items stays nil so the
//     task's history is left untouched;
//   - exactly one named result: normalized into an item list (a single
//     record becomes a one-element list);
//   - zero or more than one named result: shape violation, reported like a
//     missing rule.
func (e *Executor) Execute(ctx context.Context, task watch.Task) watch.Outcome {
	e.logger.Info("start crawling", zap.String("task", task.Name))
	start := time.Now()

	tree, err := e.extractor.Extract(ctx, task.RequestArgs)
	if err != nil {
		if errors.Is(err, watch.ErrRuleNotFound) {
			e.logger.Error("crawl rule missing", zap.String("task", task.Name), zap.Error(err))
			metrics.ObserveCrawl("rule_not_found", time.Since(start))
			return watch.Outcome{
				Task:  task,
				Error: err.Error(),
				Items: []watch.Item{{"text": err.Error()}},
			}
		}
		e.logger.Error("crawl failed", zap.String("task", task.Name), zap.Error(err))
		metrics.ObserveCrawl("error", time.Since(start))
		return watch.Outcome{Task: task, Error: err.Error()}
	}

	if len(tree) != 1 {
		desc := fmt.Sprintf(
			`invalid crawl result against schema {rule_name: [{"text": "Required", "url": "Optional", "__key__": "Optional"}]}, got %d named results`,
			len(tree))
		e.logger.Error("crawl result shape invalid", zap.String("task", task.Name), zap.String("detail", desc))
		metrics.ObserveCrawl("bad_shape", time.Since(start))
		return watch.Outcome{
			Task:  task,
			Error: desc,
			Items: []watch.Item{{"text": desc}},
		}
	}

	var parsed any
	for _, v := range tree {
		parsed = v
	}
	normalized := watch.NormalizeResult(parsed)
	if watch.IsNotFound(normalized) {
		desc := fmt.Sprintf("%s text not found in crawl result", task.Name)
		e.logger.Error("crawl text missing", zap.String("task", task.Name))
		metrics.ObserveCrawl("error", time.Since(start))
		return watch.Outcome{Task: task, Error: desc}
	}

	var items []watch.Item
	switch n := normalized.(type) {
	case []watch.Item:
		items = n
	case watch.Item:
		items = []watch.Item{n}
	}
	e.logger.Info("crawl success",
		zap.String("task", task.Name),
		zap.Int("items", len(items)),
		zap.Duration("elapsed", time.Since(start)),
	)
	metrics.ObserveCrawl("ok", time.Since(start))
	return watch.Outcome{Task: task, Items: items}
}
