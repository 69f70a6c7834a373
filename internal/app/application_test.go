package app

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/curvedex/internal/config"
	"github.com/shizukutanaka/curvedex/internal/dex"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Monitoring.ListenAddr = "127.0.0.1:0"
	cfg.API.ListenAddr = "127.0.0.1:0"
	return cfg
}

func TestOpenStore(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		store, cached, err := OpenStore(ctx, logger, config.StorageConfig{Driver: "memory"})
		require.NoError(t, err)
		assert.Nil(t, cached)
		require.NoError(t, store.Close())
	})

	t.Run("BoltCreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "ledger.bolt")
		store, _, err := OpenStore(ctx, logger, config.StorageConfig{Driver: "bolt", Path: path})
		require.NoError(t, err)
		assert.FileExists(t, path)
		require.NoError(t, store.Close())
	})

	t.Run("Cached", func(t *testing.T) {
		cfg := config.DefaultConfig().Storage
		cfg.Driver = "memory"
		cfg.Cache.Enabled = true

		store, cached, err := OpenStore(ctx, logger, cfg)
		require.NoError(t, err)
		require.NotNil(t, cached)
		assert.Same(t, cached, store)
		require.NoError(t, store.Close())
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		_, _, err := OpenStore(ctx, logger, config.StorageConfig{Driver: "etcd"})
		assert.ErrorContains(t, err, "unknown storage driver")
	})
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("APIDisabled", func(t *testing.T) {
		app, err := New(ctx, zaptest.NewLogger(t), testConfig(t))
		require.NoError(t, err)
		defer app.Close()

		assert.NotNil(t, app.Market())
		assert.Nil(t, app.API())
	})

	t.Run("APIEnabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.API.Enabled = true
		cfg.API.JWTSecret = "0123456789abcdef0123456789abcdef"

		app, err := New(ctx, zaptest.NewLogger(t), cfg)
		require.NoError(t, err)
		defer app.Close()
		assert.NotNil(t, app.API())
	})

	t.Run("BadMarketConfig", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Market.DividendFee = "ten"

		_, err := New(ctx, zaptest.NewLogger(t), cfg)
		assert.ErrorContains(t, err, "invalid market configuration")
	})

	t.Run("GaugesRegistered", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Cache.Enabled = true

		app, err := New(ctx, zaptest.NewLogger(t), cfg)
		require.NoError(t, err)
		defer app.Close()

		families, err := app.Metrics().Registry().Gather()
		require.NoError(t, err)
		names := make(map[string]bool)
		for _, f := range families {
			names[f.GetName()] = true
		}
		assert.True(t, names["curvedex_market_events_dropped"])
		assert.True(t, names["curvedex_cache_hits"])
		assert.True(t, names["curvedex_cache_misses"])
	})
}

func TestBoltLedgerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Driver = "bolt"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "curvedex.bolt")

	app, err := New(ctx, zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	minted, err := app.Market().Buy(ctx, "alice", big.NewInt(1_000_000_000_000), "")
	require.NoError(t, err)
	require.NoError(t, app.Close())

	app, err = New(ctx, zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	balance, err := app.Market().BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, minted.Cmp(balance))
	require.NoError(t, app.Close())

	cfg.Market.TokenPriceInitial = "200000000000"
	_, err = New(ctx, zaptest.NewLogger(t), cfg)
	assert.ErrorIs(t, err, dex.ErrParamsMismatch)
}

func TestStartShutdown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.API.Enabled = true
	cfg.API.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Backup.Enabled = true
	cfg.Backup.Dir = t.TempDir()

	app, err := New(ctx, zaptest.NewLogger(t), cfg)
	require.NoError(t, err)

	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Shutdown(ctx))

	// The scheduler snapshots once on start and Shutdown waits for it.
	snapshots, err := app.Backups().Target().List()
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
	// Close after Shutdown is a no-op.
	assert.NoError(t, app.Close())
}
