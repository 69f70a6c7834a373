// Package monitoring exports market and API metrics to Prometheus.
//
// Usage:
//
//	exporter := monitoring.NewMetricsExporter(logger, config)
//	market, err := dex.New(ctx, logger, store, params, dex.WithMetrics(exporter))
//	go exporter.Start(ctx)
package monitoring
