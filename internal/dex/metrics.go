package dex

import "math/big"

// Metrics receives market observations. internal/monitoring provides the
// Prometheus implementation.
type Metrics interface {
	ObserveOperation(op string, err error)
	ObserveState(supply, profitPerShare, totalTaxed *big.Int)
	ObserveVolume(op string, currency *big.Int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, error) {}
func (nopMetrics) ObserveState(_, _, _ *big.Int) {}
func (nopMetrics) ObserveVolume(string, *big.Int) {}
