package monitoring

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/curvedex/internal/intmath"
)

func scrape(t *testing.T, me *MetricsExporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	me.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewMetricsExporterDefaults(t *testing.T) {
	me := NewMetricsExporter(zaptest.NewLogger(t), MetricsConfig{})
	assert.Equal(t, ":9090", me.config.ListenAddr)
	assert.Equal(t, "/metrics", me.config.MetricsPath)
	assert.Equal(t, "curvedex", me.config.Namespace)
}

func TestMarketMetrics(t *testing.T) {
	me := NewMetricsExporter(zaptest.NewLogger(t), DefaultMetricsConfig())

	me.ObserveOperation("buy", nil)
	me.ObserveOperation("buy", nil)
	me.ObserveOperation("sell", errors.New("boom"))
	me.ObserveVolume("buy", big.NewInt(1500))
	me.ObserveVolume("sell", big.NewInt(0))

	supply := new(big.Int).Mul(big.NewInt(3), intmath.Ether)
	me.ObserveState(supply, new(big.Int).Mul(big.NewInt(2), intmath.Magnitude), big.NewInt(42))

	body := scrape(t, me)
	assert.Contains(t, body, `curvedex_market_operations_total{op="buy",status="ok"} 2`)
	assert.Contains(t, body, `curvedex_market_operations_total{op="sell",status="error"} 1`)
	assert.Contains(t, body, `curvedex_market_volume_base_units_total{op="buy"} 1500`)
	assert.NotContains(t, body, `curvedex_market_volume_base_units_total{op="sell"}`)
	assert.Contains(t, body, "curvedex_market_token_supply 3")
	assert.Contains(t, body, "curvedex_market_profit_per_share 2")
	assert.Contains(t, body, "curvedex_market_taxed_base_units 42")
}

func TestRequestMetrics(t *testing.T) {
	me := NewMetricsExporter(zaptest.NewLogger(t), DefaultMetricsConfig())

	me.ObserveRequest(http.MethodPost, "/api/v1/buy", http.StatusOK, 20*time.Millisecond)
	me.StreamConnected(1)
	me.StreamConnected(1)
	me.StreamConnected(-1)

	body := scrape(t, me)
	assert.Contains(t, body, `curvedex_api_requests_total{method="POST",route="/api/v1/buy",status="200"} 1`)
	assert.Contains(t, body, `curvedex_api_request_duration_seconds_count{method="POST",route="/api/v1/buy"} 1`)
	assert.Contains(t, body, "curvedex_api_stream_clients 1")
}

func TestRegisterGaugeFunc(t *testing.T) {
	me := NewMetricsExporter(zaptest.NewLogger(t), DefaultMetricsConfig())

	require.NoError(t, me.RegisterGaugeFunc("cache_hits", "Cache hits", func() float64 { return 7 }))
	assert.Error(t, me.RegisterGaugeFunc("cache_hits", "Cache hits", func() float64 { return 0 }))

	assert.Contains(t, scrape(t, me), "curvedex_cache_hits 7")
}

func TestStartDisabled(t *testing.T) {
	cfg := DefaultMetricsConfig()
	cfg.Enabled = false
	me := NewMetricsExporter(zaptest.NewLogger(t), cfg)
	require.NoError(t, me.Start(context.Background()))
}
