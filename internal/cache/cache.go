// Package cache puts a bigcache read-through layer in front of a ledger
// storage.Store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/storage"
)

// Config defines cache sizing.
type Config struct {
	TTL             time.Duration `yaml:"ttl"`
	Shards          int           `yaml:"shards"`
	MaxSizeMB       int           `yaml:"max_size_mb"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns settings sized for a few hundred thousand accounts.
func DefaultConfig() Config {
	return Config{
		TTL:             10 * time.Minute,
		Shards:          64,
		MaxSizeMB:       64,
		CleanupInterval: time.Minute,
	}
}

// Stats tracks cache effectiveness.
type Stats struct {
	Hits   atomic.Uint64
	Misses atomic.Uint64
	Sets   atomic.Uint64
}

// Store caches reads of an inner store. Writes go to the inner store first
// and are copied into the cache only after they commit, so a failed batch
// never leaves the cache ahead of the store.
type Store struct {
	logger *zap.Logger
	inner  storage.Store
	cache  *bigcache.BigCache
	stats  Stats
}

var _ storage.Store = (*Store)(nil)

// New wraps inner with a cache built from config.
func New(ctx context.Context, logger *zap.Logger, inner storage.Store, config Config) (*Store, error) {
	if config.Shards <= 0 || config.Shards&(config.Shards-1) != 0 {
		return nil, fmt.Errorf("cache: shards must be a positive power of two, got %d", config.Shards)
	}

	bc, err := bigcache.New(ctx, bigcache.Config{
		Shards:             config.Shards,
		LifeWindow:         config.TTL,
		CleanWindow:        config.CleanupInterval,
		MaxEntriesInWindow: 1000 * 10 * 60,
		MaxEntrySize:       96,
		HardMaxCacheSize:   config.MaxSizeMB,
		Verbose:            false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Store{
		logger: logger.Named("cache"),
		inner:  inner,
		cache:  bc,
	}, nil
}

func cacheKey(bucket, key string) string {
	return bucket + "\x00" + key
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	ck := cacheKey(bucket, key)
	if v, err := s.cache.Get(ck); err == nil {
		s.stats.Hits.Add(1)
		return v, nil
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		s.logger.Debug("Cache read failed", zap.String("key", ck), zap.Error(err))
	}
	s.stats.Misses.Add(1)

	v, err := s.inner.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	s.set(ck, v)
	return v, nil
}

// Scan always reads through to the inner store.
func (s *Store) Scan(ctx context.Context, bucket string, fn func(key string, value []byte) error) error {
	return s.inner.Scan(ctx, bucket, fn)
}

func (s *Store) Apply(ctx context.Context, batch *storage.Batch) error {
	if err := s.inner.Apply(ctx, batch); err != nil {
		return err
	}
	return batch.ForEach(func(bucket, key string, value []byte) error {
		s.set(cacheKey(bucket, key), value)
		return nil
	})
}

func (s *Store) set(key string, value []byte) {
	if err := s.cache.Set(key, value); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		_ = s.cache.Delete(key)
		return
	}
	s.stats.Sets.Add(1)
}

// Stats returns the live counters.
func (s *Store) Stats() *Stats { return &s.stats }

// Close closes the cache and the inner store.
func (s *Store) Close() error {
	cacheErr := s.cache.Close()
	if err := s.inner.Close(); err != nil {
		return err
	}
	return cacheErr
}
