package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/curvedex/internal/storage"
	"github.com/shizukutanaka/curvedex/internal/storage/storagetest"
)

func newTestStore(t *testing.T, inner storage.Store) *Store {
	t.Helper()
	s, err := New(context.Background(), zaptest.NewLogger(t), inner, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCachedConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t, storage.NewMemory())
	})
}

func TestReadThroughCountsHits(t *testing.T) {
	inner := storage.NewMemory()
	s := newTestStore(t, inner)
	ctx := context.Background()

	b := storage.NewBatch()
	b.Put("balance", "alice", []byte{5})
	require.NoError(t, inner.Apply(ctx, b))

	v, err := s.Get(ctx, "balance", "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, v)
	assert.Equal(t, uint64(1), s.Stats().Misses.Load())

	v, err = s.Get(ctx, "balance", "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, v)
	assert.Equal(t, uint64(1), s.Stats().Hits.Load())
}

func TestApplyWritesThrough(t *testing.T) {
	inner := storage.NewMemory()
	s := newTestStore(t, inner)
	ctx := context.Background()

	b := storage.NewBatch()
	b.Put("global", "supply", []byte{1})
	require.NoError(t, s.Apply(ctx, b))

	v, err := inner.Get(ctx, "global", "supply")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, v)

	v, err = s.Get(ctx, "global", "supply")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, v)
	assert.Equal(t, uint64(1), s.Stats().Hits.Load())
}

func TestFailedApplyLeavesCacheUntouched(t *testing.T) {
	inner := storage.NewMemory()
	s := newTestStore(t, inner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := storage.NewBatch()
	b.Put("global", "supply", []byte{1})
	require.Error(t, s.Apply(ctx, b))

	_, err := s.Get(context.Background(), "global", "supply")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRejectsBadShardCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Shards = 3
	_, err := New(context.Background(), zaptest.NewLogger(t), storage.NewMemory(), cfg)
	assert.Error(t, err)
}
