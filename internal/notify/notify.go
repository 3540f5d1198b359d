// Package notify routes change notifications to pluggable handlers. A task
// selects its handler through custom_info, formatted "handler_name:arg"; the
// part after the first colon is handler-specific (a webhook URL, a topic
// override). An empty handler name resolves to the default handler.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/watch"
)

// Handler delivers a change notification for one task.
type Handler interface {
	// Name is the registry key matched against custom_info.
	Name() string
	// Notify delivers the notification and returns a short delivery receipt
	// for logging (message id, target URL).
	Notify(ctx context.Context, task watch.Task, arg string) (string, error)
}

// Dispatcher owns the handler registry and fans notifications out to it.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher. The handler registered under the empty
// name serves tasks whose custom_info names no handler.
func NewDispatcher(logger *zap.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		handlers: make(map[string]Handler, len(handlers)),
		logger:   logger,
	}
	for _, h := range handlers {
		d.Register(h)
	}
	return d
}

// Register adds or replaces a handler under its name.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	d.handlers[h.Name()] = h
	d.mu.Unlock()
}

// Dispatch resolves the task's handler and delivers the notification. A
// missing handler is a silent no-op: tasks routed at a deployment that does
// not carry the named integration must not fail their crawl. Handler errors
// are logged and swallowed for the same reason.
func (d *Dispatcher) Dispatch(ctx context.Context, task watch.Task) {
	name, arg := splitCustomInfo(task.CustomInfo)

	d.mu.RLock()
	h, ok := d.handlers[name]
	if !ok && name != "" {
		h, ok = d.handlers[""]
	}
	d.mu.RUnlock()
	if !ok || h == nil {
		return
	}

	receipt, err := h.Notify(ctx, task, arg)
	if err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("task", task.Name),
			zap.String("handler", h.Name()),
			zap.Error(err),
		)
		return
	}
	d.logger.Info("notification delivered",
		zap.String("task", task.Name),
		zap.String("handler", h.Name()),
		zap.String("receipt", receipt),
	)
}

func splitCustomInfo(info string) (name, arg string) {
	info = strings.TrimSpace(info)
	if info == "" {
		return "", ""
	}
	name, arg, _ = strings.Cut(info, ":")
	return strings.TrimSpace(name), strings.TrimSpace(arg)
}

// LogHandler is the default handler: it records the change in the service
// log and delivers nothing externally.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates the log-only handler.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Name() string { return "" }

func (h *LogHandler) Notify(_ context.Context, task watch.Task, _ string) (string, error) {
	h.logger.Info("task changed",
		zap.String("task", task.Name),
		zap.String("text", task.LatestResult.Text()),
		zap.String("url", task.LatestResult.URL()),
	)
	return fmt.Sprintf("logged %s", task.Name), nil
}
