// Package app initializes and holds the long-lived services a crawl run
// needs, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/api"
	"github.com/JakeFAU/socialgraph-crawler/internal/config"
	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/logging"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
	"github.com/JakeFAU/socialgraph-crawler/internal/sink"
	"github.com/JakeFAU/socialgraph-crawler/internal/taskcache"
)

// App holds the shared services for one crawler process: the logger, the
// task ledger, the output sink, the API client and the optional metrics
// server. It is built once at startup and torn down by Close.
type App struct {
	cfg    config.Config
	runID  string
	logger *zap.Logger

	tasks   *taskcache.Store
	sink    crawler.Sink
	client  *api.Client
	fetcher *crawler.Fetcher
	metrics *metrics.Server
}

// New builds the container from configuration, failing fast if any
// service cannot be initialized. When restart is set the task ledger is
// wiped first, so the run re-crawls everything from scratch.
func New(ctx context.Context, cfg config.Config, restart bool) (*App, error) {
	logger, err := logging.New(cfg.DevelopmentLog)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics.Init()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("initializing application services",
		zap.String("output_format", string(cfg.Format)),
		zap.Bool("restart", restart),
	)

	if restart {
		if err := taskcache.Remove(cfg.CachePath); err != nil {
			return nil, err
		}
	}
	tasks, err := taskcache.Open(cfg.CachePath)
	if err != nil {
		return nil, err
	}

	out, err := newSink(ctx, cfg, logger)
	if err != nil {
		_ = tasks.Close()
		return nil, err
	}

	client := api.New(api.Options{
		BaseURL:           cfg.APIURL(),
		AccessToken:       cfg.AccessToken,
		RequestTimeout:    cfg.RequestTimeout,
		MaxInFlight:       cfg.MaxInFlight,
		RequestsPerSecond: cfg.RequestsPerSecond,
		PageSize:          cfg.PageSize,
		Logger:            logger,
	})

	a := &App{
		cfg:    cfg,
		runID:  runID,
		logger: logger,
		tasks:  tasks,
		sink:   out,
		client: client,
		fetcher: crawler.NewFetcher(client, tasks, out, crawler.FetcherOptions{
			BatchSize:    cfg.BatchSize,
			UpdatePeriod: cfg.UpdateCheckPeriod,
			Logger:       logger,
		}),
	}

	if cfg.MetricsAddr != "" {
		a.metrics = metrics.NewServer(cfg.MetricsAddr, logger)
		a.metrics.Start()
	}

	return a, nil
}

func newSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Sink, error) {
	switch cfg.Format {
	case config.OutputCSV:
		logger.Info("using csv sink", zap.String("dir", cfg.CSVDir))
		return sink.NewCSV(cfg.CSVDir, logger)
	case config.OutputPostgres:
		logger.Info("using postgres sink", zap.String("schema", cfg.PostgresSchema))
		return sink.NewPostgres(ctx, cfg.PostgresDSN, cfg.PostgresSchema, logger)
	case config.OutputNoop:
		logger.Info("using noop sink, records will be discarded")
		return sink.NoopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", cfg.Format)
	}
}

// Logger returns the shared logger, tagged with the run ID.
func (a *App) Logger() *zap.Logger { return a.logger }

// Fetcher returns the crawl state machine wired to this container's
// services.
func (a *App) Fetcher() *crawler.Fetcher { return a.fetcher }

// Scheduler builds a scheduler for one top-level crawl using the
// configured queue size.
func (a *App) Scheduler() *crawler.Scheduler {
	return crawler.NewScheduler(a.cfg.QueueSize, a.logger)
}

// Close shuts the services down in reverse dependency order. Errors are
// logged rather than returned; shutdown is best effort.
func (a *App) Close() {
	a.logger.Info("shutting down application services")

	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("error stopping metrics server", zap.Error(err))
		}
		cancel()
	}
	if err := a.sink.Close(); err != nil {
		a.logger.Warn("error closing sink", zap.Error(err))
	}
	if err := a.tasks.Close(); err != nil {
		a.logger.Warn("error closing task cache", zap.Error(err))
	}
	_ = a.logger.Sync()
}
