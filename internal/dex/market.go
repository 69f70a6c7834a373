// Package dex runs the bonding-curve market: purchases and sales against the
// curve, taxed transfers, dividend reinvestment and withdrawal, and the
// administrative controls around them.
package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/curve"
	"github.com/shizukutanaka/curvedex/internal/ledger"
	"github.com/shizukutanaka/curvedex/internal/storage"
)

// Market executes operations against one ledger. Each operation runs in a
// single ledger transaction: all checks happen first, and the writes land
// together or not at all. Operations are serialised by the market.
type Market struct {
	logger  *zap.Logger
	store   storage.Store
	curve   *curve.Curve
	fee     *big.Int
	metrics Metrics
	events  *EventEmitter

	mu sync.RWMutex
}

// Option customises a Market.
type Option func(*Market)

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(m *Market) { m.metrics = metrics }
}

// WithEventEmitter sets the emitter committed operations are published on.
func WithEventEmitter(events *EventEmitter) Option {
	return func(m *Market) { m.events = events }
}

// New opens a market over store. An empty store is initialised from params;
// a store that already holds a market must carry the same economic
// parameters.
func New(ctx context.Context, logger *zap.Logger, store storage.Store, params Params, opts ...Option) (*Market, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	c, err := curve.New(params.TokenPriceInitial, params.TokenPriceIncremental)
	if err != nil {
		return nil, err
	}

	m := &Market{
		logger:  logger.Named("market"),
		store:   store,
		curve:   c,
		fee:     new(big.Int).Set(params.DividendFee),
		metrics: nopMetrics{},
		events:  NewEventEmitter(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.genesis(ctx, params); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Market) genesis(ctx context.Context, params Params) error {
	want := ledger.Params{
		DividendFee:           params.DividendFee,
		TokenPriceInitial:     params.TokenPriceInitial,
		TokenPriceIncremental: params.TokenPriceIncremental,
	}

	tx := ledger.Begin(ctx, m.store)
	defer tx.Discard()

	initialized, err := tx.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		stored, err := tx.Params()
		if err != nil {
			return err
		}
		if !stored.Equal(want) {
			return fmt.Errorf("%w: stored fee=%s initial=%s incremental=%s", ErrParamsMismatch,
				stored.DividendFee, stored.TokenPriceInitial, stored.TokenPriceIncremental)
		}
		m.logger.Info("Opened existing market")
		return nil
	}

	steps := []func() error{
		func() error { return tx.PutParams(want) },
		func() error { return tx.SetName(params.Name) },
		func() error { return tx.SetSymbol(params.Symbol) },
		func() error { return tx.SetStakingRequirement(params.StakingRequirement) },
		func() error { return tx.SetRestricted(params.RestrictedPhase) },
	}
	for _, admin := range params.Administrators {
		admin := admin
		steps = append(steps, func() error { return tx.SetAdministrator(admin, true) })
	}
	for _, amb := range params.Ambassadors {
		amb := amb
		steps = append(steps, func() error { return tx.SetAmbassador(amb, true) })
	}
	steps = append(steps, tx.MarkInitialized)

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	m.logger.Info("Initialised new market",
		zap.String("name", params.Name),
		zap.String("symbol", params.Symbol),
		zap.Stringer("dividend_fee", params.DividendFee),
		zap.Stringer("token_price_initial", params.TokenPriceInitial),
		zap.Stringer("token_price_incremental", params.TokenPriceIncremental),
		zap.Int("administrators", len(params.Administrators)),
		zap.Int("ambassadors", len(params.Ambassadors)),
		zap.Bool("restricted_phase", params.RestrictedPhase),
	)
	return nil
}

// Events returns the emitter committed operations are published on.
func (m *Market) Events() *EventEmitter { return m.events }

// Curve returns the pricing curve.
func (m *Market) Curve() *curve.Curve { return m.curve }

// update runs fn in a fresh transaction and commits it when fn succeeds.
func (m *Market) update(ctx context.Context, op string, fn func(tx *ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := ledger.Begin(ctx, m.store)
	if err := fn(tx); err != nil {
		tx.Discard()
		m.metrics.ObserveOperation(op, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		m.metrics.ObserveOperation(op, err)
		m.logger.Error("Failed to commit operation", zap.String("op", op), zap.Error(err))
		return err
	}
	m.metrics.ObserveOperation(op, nil)
	m.observeState(ctx)
	return nil
}

// view runs fn in a transaction that is never committed.
func (m *Market) view(ctx context.Context, fn func(tx *ledger.Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx := ledger.Begin(ctx, m.store)
	defer tx.Discard()
	return fn(tx)
}

// Snapshot runs fn with the market's store while no operation can commit.
// Backups read through it to get a consistent copy.
func (m *Market) Snapshot(ctx context.Context, fn func(ctx context.Context, store storage.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(ctx, m.store)
}

func (m *Market) observeState(ctx context.Context) {
	tx := ledger.Begin(ctx, m.store)
	defer tx.Discard()

	supply, err := tx.TotalSupply()
	if err != nil {
		return
	}
	pps, err := tx.ProfitPerShare()
	if err != nil {
		return
	}
	taxed, err := tx.TotalTaxed()
	if err != nil {
		return
	}
	m.metrics.ObserveState(supply, pps, taxed)
}

func (m *Market) feeOf(amount *big.Int) *big.Int {
	return new(big.Int).Quo(amount, m.fee)
}

func validAccount(account string) error {
	if account == "" {
		return fmt.Errorf("%w: empty account", ErrInvalidAccount)
	}
	return nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}
