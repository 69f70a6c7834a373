// Package storagetest holds the behaviour every storage.Store engine must share.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shizukutanaka/curvedex/internal/storage"
)

// Factory opens a fresh, empty store. Cleanup is the caller's job.
type Factory func(t *testing.T) storage.Store

// Run exercises open against the shared contract.
func Run(t *testing.T, open Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(context.Background(), "balance", "alice")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ApplyThenGet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		b := storage.NewBatch()
		b.Put("balance", "alice", []byte{1, 2, 3})
		b.Put("balance", "bob", []byte{4})
		b.Put("global", "supply", []byte{9})
		require.NoError(t, s.Apply(ctx, b))

		v, err := s.Get(ctx, "balance", "alice")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, v)

		v, err = s.Get(ctx, "global", "supply")
		require.NoError(t, err)
		assert.Equal(t, []byte{9}, v)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		first := storage.NewBatch()
		first.Put("payout", "alice", []byte{1})
		require.NoError(t, s.Apply(ctx, first))

		second := storage.NewBatch()
		second.Put("payout", "alice", []byte{2, 2})
		require.NoError(t, s.Apply(ctx, second))

		v, err := s.Get(ctx, "payout", "alice")
		require.NoError(t, err)
		assert.Equal(t, []byte{2, 2}, v)
	})

	t.Run("ScanSorted", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		b := storage.NewBatch()
		for _, k := range []string{"carol", "alice", "bob"} {
			b.Put("balance", k, []byte(k))
		}
		b.Put("referral", "zed", []byte{1})
		require.NoError(t, s.Apply(ctx, b))

		var keys []string
		require.NoError(t, s.Scan(ctx, "balance", func(key string, value []byte) error {
			assert.Equal(t, key, string(value))
			keys = append(keys, key)
			return nil
		}))
		assert.Equal(t, []string{"alice", "bob", "carol"}, keys)
	})

	t.Run("ScanUnknownBucket", func(t *testing.T) {
		s := open(t)
		called := false
		require.NoError(t, s.Scan(context.Background(), "nothing", func(string, []byte) error {
			called = true
			return nil
		}))
		assert.False(t, called)
	})

	t.Run("ScanStopsOnError", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		b := storage.NewBatch()
		b.Put("balance", "a", []byte{1})
		b.Put("balance", "b", []byte{2})
		require.NoError(t, s.Apply(ctx, b))

		stop := errors.New("stop")
		visited := 0
		err := s.Scan(ctx, "balance", func(string, []byte) error {
			visited++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, visited)
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		b := storage.NewBatch()
		b.Put("balance", "alice", []byte{7})
		require.NoError(t, s.Apply(ctx, b))

		v, err := s.Get(ctx, "balance", "alice")
		require.NoError(t, err)
		v[0] = 0

		again, err := s.Get(ctx, "balance", "alice")
		require.NoError(t, err)
		assert.Equal(t, []byte{7}, again)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		b := storage.NewBatch()
		b.Put("balance", "alice", []byte{1})
		assert.Error(t, s.Apply(ctx, b))

		_, err := s.Get(context.Background(), "balance", "alice")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
