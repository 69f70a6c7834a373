// Package app wires configuration, storage, the market, metrics and the API
// into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/api"
	"github.com/shizukutanaka/curvedex/internal/backup"
	"github.com/shizukutanaka/curvedex/internal/cache"
	"github.com/shizukutanaka/curvedex/internal/config"
	"github.com/shizukutanaka/curvedex/internal/database"
	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/monitoring"
	"github.com/shizukutanaka/curvedex/internal/storage"
)

const ShutdownTimeout = 30 * time.Second

// Application owns every long-lived component.
type Application struct {
	logger  *zap.Logger
	config  *config.Config
	store   storage.Store
	cache   *cache.Store
	market  *dex.Market
	metrics *monitoring.MetricsExporter
	api     *api.Server
	backups *backup.Scheduler

	metricsCancel context.CancelFunc
	metricsDone   chan error
	closeOnce     sync.Once
}

// OpenStore opens the configured ledger backend, wrapped in the read cache
// when that is enabled. The returned cache is nil otherwise.
func OpenStore(ctx context.Context, logger *zap.Logger, cfg config.StorageConfig) (storage.Store, *cache.Store, error) {
	var (
		store storage.Store
		err   error
	)

	switch cfg.Driver {
	case "memory":
		store = storage.NewMemory()
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err = storage.OpenBolt(cfg.Path)
	case "sqlite", "postgres":
		dbConfig := cfg.Database
		dbConfig.Driver = cfg.Driver
		store, err = database.New(ctx, logger, dbConfig)
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}

	if !cfg.Cache.Enabled {
		return store, nil, nil
	}
	cached, err := cache.New(ctx, logger, store, cfg.Cache.Config)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return cached, cached, nil
}

// New opens storage and the market. The API server is built only when it is
// enabled; nothing listens until Start.
func New(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Application, error) {
	params, err := cfg.Market.Params()
	if err != nil {
		return nil, fmt.Errorf("invalid market configuration: %w", err)
	}

	store, cached, err := OpenStore(ctx, logger, cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &Application{
		logger:  logger,
		config:  cfg,
		store:   store,
		cache:   cached,
		metrics: monitoring.NewMetricsExporter(logger, cfg.Monitoring),
	}

	a.market, err = dex.New(ctx, logger, store, params, dex.WithMetrics(a.metrics))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open market: %w", err)
	}

	if cfg.Backup.Enabled {
		a.backups = backup.NewScheduler(logger, cfg.Backup, a.market)
	}

	if err := a.registerGauges(); err != nil {
		store.Close()
		return nil, err
	}

	if cfg.API.Enabled {
		a.api, err = api.NewServer(cfg.API, logger, a.market, api.WithMetrics(a.metrics))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create API server: %w", err)
		}
	}

	return a, nil
}

type gauge struct {
	name, help string
	fn         func() float64
}

func (a *Application) registerGauges() error {
	gauges := []gauge{
		{"market_events_dropped", "Events discarded because the shared event channel was full.",
			func() float64 { return float64(a.market.Events().Dropped()) }},
	}
	if a.cache != nil {
		stats := a.cache.Stats()
		gauges = append(gauges,
			gauge{"cache_hits", "Ledger reads served from the cache.", func() float64 { return float64(stats.Hits.Load()) }},
			gauge{"cache_misses", "Ledger reads that went to the backend.", func() float64 { return float64(stats.Misses.Load()) }},
		)
	}
	if a.backups != nil {
		gauges = append(gauges, gauge{"backup_last_success_timestamp_seconds", "Start time of the last successful ledger snapshot.",
			func() float64 {
				last := a.backups.LastRun()
				if last.IsZero() {
					return 0
				}
				return float64(last.Unix())
			}})
	}

	for _, g := range gauges {
		if err := a.metrics.RegisterGaugeFunc(g.name, g.help, g.fn); err != nil {
			return fmt.Errorf("failed to register %s gauge: %w", g.name, err)
		}
	}
	return nil
}

// Market returns the market.
func (a *Application) Market() *dex.Market { return a.market }

// Metrics returns the metrics exporter.
func (a *Application) Metrics() *monitoring.MetricsExporter { return a.metrics }

// API returns the API server, or nil when it is disabled.
func (a *Application) API() *api.Server { return a.api }

// Backups returns the snapshot scheduler, or nil when backups are disabled.
func (a *Application) Backups() *backup.Scheduler { return a.backups }

// Start starts the metrics exporter, the backup scheduler and the API server.
func (a *Application) Start(ctx context.Context) error {
	params := a.config.Market
	a.logger.Info("Starting curvedex",
		zap.String("market", params.Name),
		zap.String("storage", a.config.Storage.Driver),
		zap.Bool("cache", a.cache != nil),
		zap.Bool("api", a.api != nil),
		zap.Bool("metrics", a.config.Monitoring.Enabled),
		zap.Bool("backups", a.backups != nil),
	)

	if a.config.Monitoring.Enabled {
		metricsCtx, cancel := context.WithCancel(ctx)
		a.metricsCancel = cancel
		a.metricsDone = make(chan error, 1)
		go func() { a.metricsDone <- a.metrics.Start(metricsCtx) }()
	}

	if a.backups != nil {
		a.backups.Start(ctx)
	}

	if a.api != nil {
		if err := a.api.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}
	return nil
}

// Shutdown stops the servers and closes storage.
func (a *Application) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down curvedex")

	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.api != nil {
		if err := a.api.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	}
	if a.backups != nil {
		a.backups.Stop()
	}
	if a.metricsCancel != nil {
		a.metricsCancel()
		select {
		case err := <-a.metricsDone:
			if err != nil {
				errs = append(errs, fmt.Errorf("metrics: %w", err))
			}
		case <-shutdownCtx.Done():
			errs = append(errs, errors.New("metrics: shutdown timeout exceeded"))
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	return errors.Join(errs...)
}

// Close closes storage. It is all one-shot commands need.
func (a *Application) Close() error {
	var err error
	a.closeOnce.Do(func() { err = a.store.Close() })
	return err
}
