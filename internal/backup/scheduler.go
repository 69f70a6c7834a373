package backup

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/storage"
)

// Config controls scheduled snapshots.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir" validate:"required_if=Enabled true"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	// Keep is how many snapshots survive pruning; 0 keeps all.
	Keep    int           `yaml:"keep" validate:"gte=0"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// DefaultConfig returns hourly snapshots under ./data/backups, keeping a day.
func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Dir:      "./data/backups",
		Interval: time.Hour,
		Keep:     24,
		Timeout:  5 * time.Minute,
	}
}

// Source gives consistent read access to a ledger. *dex.Market satisfies it.
type Source interface {
	Snapshot(ctx context.Context, fn func(ctx context.Context, store storage.Store) error) error
}

// Scheduler takes a snapshot every interval and prunes old ones.
type Scheduler struct {
	logger *zap.Logger
	config Config
	source Source
	target *LocalTarget

	running   bool
	runningMu sync.Mutex
	lastRun   time.Time
	stop      chan struct{}
	done      chan struct{}
}

// NewScheduler creates a new backup scheduler
func NewScheduler(logger *zap.Logger, config Config, source Source) *Scheduler {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &Scheduler{
		logger: logger.Named("backup"),
		config: config,
		source: source,
		target: NewLocalTarget(config.Dir),
	}
}

// Target returns where snapshots are written.
func (s *Scheduler) Target() *LocalTarget { return s.target }

// Start takes a snapshot immediately and then every interval until Stop or
// ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	s.logger.Info("Starting backup scheduler",
		zap.String("dir", s.config.Dir),
		zap.Duration("interval", s.config.Interval),
		zap.Int("keep", s.config.Keep),
	)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for a running snapshot to finish.
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.runningMu.Unlock()

	<-done
	s.logger.Info("Backup scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.perform(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.perform(ctx)
		}
	}
}

func (s *Scheduler) perform(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Scheduled backup failed", zap.Error(err))
	}
}

// RunOnce takes one snapshot and prunes.
func (s *Scheduler) RunOnce(ctx context.Context) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	info, manifest, err := Take(ctx, s.source, s.target)
	if err != nil {
		return nil, err
	}

	s.runningMu.Lock()
	s.lastRun = start
	s.runningMu.Unlock()

	s.logger.Info("Backup completed",
		zap.String("name", info.Name),
		zap.Int("entries", manifest.Entries),
		zap.Int64("size", info.Size),
		zap.Duration("duration", time.Since(start)),
	)

	removed, err := s.target.Prune(s.config.Keep)
	if err != nil {
		s.logger.Warn("Failed to prune backups", zap.Error(err))
	} else if len(removed) > 0 {
		s.logger.Debug("Pruned backups", zap.Strings("removed", removed))
	}
	return info, nil
}

// LastRun returns when the last successful snapshot started.
func (s *Scheduler) LastRun() time.Time {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.lastRun
}

// Take writes one snapshot of source into target.
func Take(ctx context.Context, source Source, target *LocalTarget) (*Info, *Manifest, error) {
	var (
		info     *Info
		manifest *Manifest
	)
	err := source.Snapshot(ctx, func(ctx context.Context, store storage.Store) error {
		var err error
		info, manifest, err = target.Create(func(w io.Writer) (*Manifest, error) {
			return Export(ctx, store, w)
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return info, manifest, nil
}
