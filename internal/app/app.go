// Package app initializes and holds the long-lived services of the watch
// service, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/api"
	"github.com/pagewatch/pagewatch/internal/cache"
	"github.com/pagewatch/pagewatch/internal/clock/system"
	"github.com/pagewatch/pagewatch/internal/config"
	"github.com/pagewatch/pagewatch/internal/executor"
	"github.com/pagewatch/pagewatch/internal/extract"
	"github.com/pagewatch/pagewatch/internal/guard"
	"github.com/pagewatch/pagewatch/internal/logging"
	"github.com/pagewatch/pagewatch/internal/metrics"
	"github.com/pagewatch/pagewatch/internal/notify"
	"github.com/pagewatch/pagewatch/internal/scheduler"
	"github.com/pagewatch/pagewatch/internal/storage/memory"
	"github.com/pagewatch/pagewatch/internal/storage/postgres"
	"github.com/pagewatch/pagewatch/internal/throttle"
	"github.com/pagewatch/pagewatch/internal/watch"
)

// App holds the shared services, wired once at startup.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Tasks     watch.TaskStore
	Metas     watch.MetaStore
	Throttle  *throttle.Throttle
	Scheduler *scheduler.Scheduler
	Server    *api.Server

	pgTasks      *postgres.TaskStore
	pubsubClient *pubsub.Client
}

// New builds the full service graph from configuration. It fails fast when
// any critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}

	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
		})
		if err != nil {
			return nil, err
		}
		tasks, err := postgres.NewTaskStore(pool)
		if err != nil {
			return nil, err
		}
		if err := tasks.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		metas, err := postgres.NewMetaStore(pool)
		if err != nil {
			return nil, err
		}
		a.pgTasks = tasks
		a.Tasks = tasks
		a.Metas = metas
		logger.Info("using postgres store")
	} else {
		a.Tasks = memory.NewTaskStore()
		a.Metas = memory.NewMetaStore()
		logger.Info("using in-memory store, state will not survive restarts")
	}

	a.Throttle = throttle.New(watch.HostFrequency{
		N:               cfg.Throttle.DefaultN,
		IntervalSeconds: cfg.Throttle.DefaultIntervalSeconds,
	}, a.Metas, logging.Named(logger, "throttle"))
	if err := a.Throttle.Load(ctx); err != nil {
		logger.Warn("loading host frequencies failed, starting with defaults", zap.Error(err))
	}

	extractor := extract.New(extract.Config{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.Crawl.Timeout(),
	}, a.Throttle, logging.Named(logger, "extract"))
	exec := executor.New(extractor, logging.Named(logger, "executor"))

	handlers := []notify.Handler{
		notify.NewLogHandler(logging.Named(logger, "notify")),
		notify.NewWebhookHandler(nil),
	}
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.pubsubClient = client
		topic := fmt.Sprintf("projects/%s/topics/%s", cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		handlers = append(handlers, notify.NewPubSubHandler(client.Publisher(topic)))
		logger.Info("pubsub notifications enabled", zap.String("topic", topic))
	}
	dispatcher := notify.NewDispatcher(logging.Named(logger, "notify"), handlers...)

	listing := cache.New(cfg.Cache.TTL())
	a.Scheduler = scheduler.New(
		a.Tasks,
		exec,
		listing,
		dispatcher,
		guard.New(),
		system.New(),
		scheduler.Config{
			ChunkSize:     cfg.Scheduler.ChunkSize,
			CrawlTimeout:  cfg.Scheduler.CrawlTimeout(),
			CheckInterval: cfg.Scheduler.CheckInterval(),
		},
		logging.Named(logger, "scheduler"),
	)

	a.Server = api.NewServer(a.Tasks, a.Scheduler, listing, a.Throttle, cfg, logging.Named(logger, "api"))

	logger.Info("application services initialized")
	return a, nil
}

// ListenAddr returns the configured HTTP bind address.
func (a *App) ListenAddr() string {
	return fmt.Sprintf(":%d", a.Config.Server.Port)
}

// Handler returns the HTTP handler for the API surface.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Close shuts down all services. Safe to call once at exit.
func (a *App) Close() {
	if a.pgTasks != nil {
		a.pgTasks.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("closing pubsub client failed", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
