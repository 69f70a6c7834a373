package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/storage"
)

func newMarket(t *testing.T, store storage.Store) *dex.Market {
	t.Helper()
	params := dex.DefaultParams()
	params.Administrators = []string{"admin"}
	market, err := dex.New(context.Background(), zaptest.NewLogger(t), store, params)
	require.NoError(t, err)
	return market
}

func seededMarket(t *testing.T) *dex.Market {
	t.Helper()
	ctx := context.Background()
	market := newMarket(t, storage.NewMemory())
	_, err := market.Buy(ctx, "alice", big.NewInt(1_000_000_000_000), "")
	require.NoError(t, err)
	_, err = market.Buy(ctx, "bob", big.NewInt(3_000_000_000_000), "")
	require.NoError(t, err)
	return market
}

func export(t *testing.T, market *dex.Market) ([]byte, *Manifest) {
	t.Helper()
	var buf bytes.Buffer
	var manifest *Manifest
	err := market.Snapshot(context.Background(), func(ctx context.Context, store storage.Store) error {
		var err error
		manifest, err = Export(ctx, store, &buf)
		return err
	})
	require.NoError(t, err)
	return buf.Bytes(), manifest
}

func TestExportRestore(t *testing.T) {
	ctx := context.Background()
	source := seededMarket(t)
	data, manifest := export(t, source)

	assert.Positive(t, manifest.Entries)
	assert.Equal(t, 2, manifest.Buckets["balance"])
	assert.NotZero(t, manifest.Checksum)

	target := storage.NewMemory()
	restored, err := Restore(ctx, target, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, manifest.Entries, restored.Entries)
	assert.Equal(t, manifest.Checksum, restored.Checksum)

	// The restored ledger opens as the same market.
	market := newMarket(t, target)
	want, err := source.Info(ctx)
	require.NoError(t, err)
	got, err := market.Info(ctx)
	require.NoError(t, err)
	assertSameJSON(t, want, got)

	for _, account := range []string{"alice", "bob"} {
		w, err := source.Account(ctx, account)
		require.NoError(t, err)
		g, err := market.Account(ctx, account)
		require.NoError(t, err)
		assertSameJSON(t, w, g)
	}
}

func assertSameJSON(t *testing.T, want, got interface{}) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func TestRestoreRefusesExistingMarket(t *testing.T) {
	data, _ := export(t, seededMarket(t))

	store := storage.NewMemory()
	newMarket(t, store)

	_, err := Restore(context.Background(), store, bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestReadRejectsDamage(t *testing.T) {
	data, _ := export(t, seededMarket(t))

	t.Run("Truncated", func(t *testing.T) {
		_, err := Read(bytes.NewReader(data[:len(data)/2]), func(string, string, []byte) error { return nil })
		assert.Error(t, err)
	})

	t.Run("NotZstd", func(t *testing.T) {
		_, err := Read(bytes.NewReader([]byte("plain text")), func(string, string, []byte) error { return nil })
		assert.Error(t, err)
	})

	t.Run("RestoreLeavesStoreUntouched", func(t *testing.T) {
		store := storage.NewMemory()
		_, err := Restore(context.Background(), store, bytes.NewReader(data[:len(data)-8]))
		require.Error(t, err)

		err = store.Scan(context.Background(), "balance", func(string, []byte) error {
			t.Fatal("store was written")
			return nil
		})
		assert.NoError(t, err)
	})
}

func TestLocalTarget(t *testing.T) {
	dir := t.TempDir()
	target := NewLocalTarget(dir)
	clock := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	target.now = func() time.Time { return clock }

	write := func(w io.Writer) (*Manifest, error) {
		_, err := w.Write([]byte("snapshot"))
		return &Manifest{}, err
	}

	var names []string
	for i := 0; i < 3; i++ {
		info, _, err := target.Create(write)
		require.NoError(t, err)
		assert.Equal(t, int64(len("snapshot")), info.Size)
		names = append(names, info.Name)
		clock = clock.Add(time.Minute)
	}

	stat, err := os.Stat(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), stat.Mode().Perm())

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0600))

	list, err := target.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, names[2], list[0].Name)
	assert.Equal(t, names[0], list[2].Name)

	removed, err := target.Prune(1)
	require.NoError(t, err)
	assert.ElementsMatch(t, names[:2], removed)

	list, err = target.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	r, err := target.Open(list[0].Name)
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(body))
}

func TestLocalTargetFailedWriteLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	target := NewLocalTarget(dir)

	_, _, err := target.Create(func(w io.Writer) (*Manifest, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScheduler(t *testing.T) {
	market := seededMarket(t)
	cfg := Config{Enabled: true, Dir: t.TempDir(), Interval: time.Hour, Keep: 2}
	s := NewScheduler(zaptest.NewLogger(t), cfg, market)

	for i := 0; i < 3; i++ {
		_, err := s.RunOnce(context.Background())
		require.NoError(t, err)
	}
	list, err := s.Target().List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.False(t, s.LastRun().IsZero())

	// Start snapshots immediately.
	before := s.LastRun()
	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return s.LastRun().After(before)
	}, 5*time.Second, 20*time.Millisecond)
	s.Stop()
	s.Stop()
}
