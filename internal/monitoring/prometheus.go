package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/intmath"
)

// MetricsConfig defines metrics exporter configuration
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ListenAddr  string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true"`
	MetricsPath string `yaml:"metrics_path" json:"metrics_path" validate:"omitempty,startswith=/"`
	Namespace   string `yaml:"namespace" json:"namespace"`
}

// DefaultMetricsConfig returns the exporter defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:     true,
		ListenAddr:  ":9090",
		MetricsPath: "/metrics",
		Namespace:   "curvedex",
	}
}

// MetricsExporter publishes market and HTTP metrics in the Prometheus format.
// It satisfies dex.Metrics.
type MetricsExporter struct {
	logger   *zap.Logger
	config   MetricsConfig
	server   *http.Server
	registry *prometheus.Registry

	// Market metrics
	operations      *prometheus.CounterVec
	volume          *prometheus.CounterVec
	supply          prometheus.Gauge
	profitPerShare  prometheus.Gauge
	totalTaxed      prometheus.Gauge
	lastStateUpdate prometheus.Gauge

	// API metrics
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	streamClients prometheus.Gauge

	gaugeFuncs map[string]prometheus.GaugeFunc
	mu         sync.Mutex
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(logger *zap.Logger, config MetricsConfig) *MetricsExporter {
	defaults := DefaultMetricsConfig()
	if config.ListenAddr == "" {
		config.ListenAddr = defaults.ListenAddr
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}
	if config.Namespace == "" {
		config.Namespace = defaults.Namespace
	}

	me := &MetricsExporter{
		logger:     logger.Named("metrics"),
		config:     config,
		registry:   prometheus.NewRegistry(),
		gaugeFuncs: make(map[string]prometheus.GaugeFunc),
	}
	me.initializeMetrics()
	return me
}

// Registry exposes the underlying registry.
func (me *MetricsExporter) Registry() *prometheus.Registry { return me.registry }

// Handler serves the registry.
func (me *MetricsExporter) Handler() http.Handler {
	return promhttp.HandlerFor(me.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Start serves metrics until ctx is cancelled.
func (me *MetricsExporter) Start(ctx context.Context) error {
	if !me.config.Enabled {
		me.logger.Info("Metrics exporter disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(me.config.MetricsPath, me.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	me.server = &http.Server{
		Addr:              me.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		me.logger.Info("Starting metrics exporter",
			zap.String("address", me.config.ListenAddr),
			zap.String("path", me.config.MetricsPath),
		)
		if err := me.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			me.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return me.Stop()
}

// Stop halts metrics export
func (me *MetricsExporter) Stop() error {
	if me.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := me.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown metrics server: %w", err)
		}
	}

	me.logger.Info("Metrics exporter stopped")
	return nil
}

// ObserveOperation counts a market operation by outcome.
func (me *MetricsExporter) ObserveOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	me.operations.WithLabelValues(op, status).Inc()
}

// ObserveState records the global ledger figures after a commit. Token
// figures are reported in whole tokens, currency in base units.
func (me *MetricsExporter) ObserveState(supply, profitPerShare, totalTaxed *big.Int) {
	me.supply.Set(ratio(supply, intmath.Ether))
	me.profitPerShare.Set(ratio(profitPerShare, intmath.Magnitude))
	me.totalTaxed.Set(toFloat(totalTaxed))
	me.lastStateUpdate.SetToCurrentTime()
}

// ObserveVolume adds currency moved by op.
func (me *MetricsExporter) ObserveVolume(op string, currency *big.Int) {
	if currency == nil || currency.Sign() <= 0 {
		return
	}
	me.volume.WithLabelValues(op).Add(toFloat(currency))
}

// ObserveRequest records one HTTP request.
func (me *MetricsExporter) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	me.httpRequests.WithLabelValues(method, route, fmt.Sprint(status)).Inc()
	me.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// StreamConnected tracks open event stream connections.
func (me *MetricsExporter) StreamConnected(delta int) {
	me.streamClients.Add(float64(delta))
}

// RegisterGaugeFunc exposes a value sampled at scrape time, such as cache
// statistics.
func (me *MetricsExporter) RegisterGaugeFunc(name, help string, fn func() float64) error {
	me.mu.Lock()
	defer me.mu.Unlock()

	if _, exists := me.gaugeFuncs[name]; exists {
		return fmt.Errorf("gauge %s already exists", name)
	}

	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: me.config.Namespace,
		Name:      name,
		Help:      help,
	}, fn)
	if err := me.registry.Register(gauge); err != nil {
		return err
	}

	me.gaugeFuncs[name] = gauge
	return nil
}

func (me *MetricsExporter) initializeMetrics() {
	ns := me.config.Namespace

	me.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "market",
		Name:      "operations_total",
		Help:      "Market operations by name and outcome",
	}, []string{"op", "status"})

	me.volume = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "market",
		Name:      "volume_base_units_total",
		Help:      "Currency moved by market operations in base units",
	}, []string{"op"})

	me.supply = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "market",
		Name:      "token_supply",
		Help:      "Outstanding token supply in whole tokens",
	})

	me.profitPerShare = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "market",
		Name:      "profit_per_share",
		Help:      "Cumulative dividends per token unit in base units",
	})

	me.totalTaxed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "market",
		Name:      "taxed_base_units",
		Help:      "Cumulative fees accrued in base units",
	})

	me.lastStateUpdate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "market",
		Name:      "last_commit_timestamp_seconds",
		Help:      "Time of the last committed operation",
	})

	me.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	me.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	me.streamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "api",
		Name:      "stream_clients",
		Help:      "Open event stream connections",
	})

	me.registry.MustRegister(
		me.operations,
		me.volume,
		me.supply,
		me.profitPerShare,
		me.totalTaxed,
		me.lastStateUpdate,
		me.httpRequests,
		me.httpDuration,
		me.streamClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// toFloat converts for display only; precision loss above 2^53 is accepted.
func toFloat(n *big.Int) float64 {
	if n == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return f
}

func ratio(n, unit *big.Int) float64 {
	if n == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), new(big.Float).SetInt(unit)).Float64()
	return f
}
