package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shizukutanaka/curvedex/internal/intmath"
	"github.com/shizukutanaka/curvedex/internal/ledger"
)

// TotalSupply returns the outstanding token units.
func (m *Market) TotalSupply(ctx context.Context) (*big.Int, error) {
	var supply *big.Int
	err := m.view(ctx, func(tx *ledger.Tx) error {
		var err error
		supply, err = tx.TotalSupply()
		return err
	})
	return supply, err
}

// BalanceOf returns account's token units.
func (m *Market) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	var balance *big.Int
	err := m.view(ctx, func(tx *ledger.Tx) error {
		var err error
		balance, err = tx.Balance(account)
		return err
	})
	return balance, err
}

// DividendsOf returns what account can withdraw, optionally including its
// referral balance.
func (m *Market) DividendsOf(ctx context.Context, account string, includeReferral bool) (*big.Int, error) {
	var total *big.Int
	err := m.view(ctx, func(tx *ledger.Tx) error {
		var err error
		if total, err = tx.DividendsOf(account); err != nil {
			return err
		}
		if !includeReferral {
			return nil
		}
		referral, err := tx.Referral(account)
		if err != nil {
			return err
		}
		total.Add(total, referral)
		return nil
	})
	return total, err
}

// SellPrice returns what one whole token sells for after the fee.
func (m *Market) SellPrice(ctx context.Context) (*big.Int, error) {
	supply, err := m.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}
	return m.sellPriceAt(supply), nil
}

// BuyPrice returns what one whole token costs including the fee.
func (m *Market) BuyPrice(ctx context.Context) (*big.Int, error) {
	supply, err := m.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}
	return m.buyPriceAt(supply), nil
}

func (m *Market) sellPriceAt(supply *big.Int) *big.Int {
	if supply.Sign() == 0 {
		return new(big.Int).Sub(m.curve.Initial(), m.curve.Incremental())
	}
	value := m.curve.CurrencyFor(intmath.Ether, supply)
	return value.Sub(value, m.feeOf(value))
}

func (m *Market) buyPriceAt(supply *big.Int) *big.Int {
	if supply.Sign() == 0 {
		return new(big.Int).Add(m.curve.Initial(), m.curve.Incremental())
	}
	value := m.curve.CurrencyFor(intmath.Ether, supply)
	return value.Add(value, m.feeOf(value))
}

// CalculateTokensFor quotes the tokens a purchase of value would mint.
func (m *Market) CalculateTokensFor(ctx context.Context, value *big.Int) (*big.Int, error) {
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, value)
	}
	supply, err := m.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}
	taxed := new(big.Int).Sub(value, m.feeOf(value))
	return m.curve.TokensFor(taxed, supply), nil
}

// CalculateCurrencyFor quotes the net proceeds of selling tokens.
func (m *Market) CalculateCurrencyFor(ctx context.Context, tokens *big.Int) (*big.Int, error) {
	if tokens == nil || tokens.Sign() < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, tokens)
	}
	supply, err := m.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}
	if tokens.Cmp(supply) > 0 {
		return nil, fmt.Errorf("%w: %s exceeds supply %s", ErrInsufficientSupplyForSale, tokens, supply)
	}
	value := m.curve.CurrencyFor(tokens, supply)
	return value.Sub(value, m.feeOf(value)), nil
}

// Info returns a snapshot of the market's global state.
func (m *Market) Info(ctx context.Context) (*Info, error) {
	info := &Info{}
	err := m.view(ctx, func(tx *ledger.Tx) error {
		var err error
		if info.Name, err = tx.Name(); err != nil {
			return err
		}
		if info.Symbol, err = tx.Symbol(); err != nil {
			return err
		}
		params, err := tx.Params()
		if err != nil {
			return err
		}
		info.DividendFee = params.DividendFee
		info.TokenPriceInitial = params.TokenPriceInitial
		info.TokenPriceIncremental = params.TokenPriceIncremental
		if info.StakingRequirement, err = tx.StakingRequirement(); err != nil {
			return err
		}
		if info.RestrictedPhase, err = tx.Restricted(); err != nil {
			return err
		}
		if info.TotalSupply, err = tx.TotalSupply(); err != nil {
			return err
		}
		if info.ProfitPerShare, err = tx.ProfitPerShare(); err != nil {
			return err
		}
		if info.TotalTaxed, err = tx.TotalTaxed(); err != nil {
			return err
		}
		info.Unallocated, err = tx.Unallocated()
		return err
	})
	if err != nil {
		return nil, err
	}
	info.BuyPrice = m.buyPriceAt(info.TotalSupply)
	info.SellPrice = m.sellPriceAt(info.TotalSupply)
	return info, nil
}

// Account returns a snapshot of one holder.
func (m *Market) Account(ctx context.Context, id string) (*Account, error) {
	acct := &Account{ID: id}
	err := m.view(ctx, func(tx *ledger.Tx) error {
		var err error
		if acct.Balance, err = tx.Balance(id); err != nil {
			return err
		}
		if acct.Dividends, err = tx.DividendsOf(id); err != nil {
			return err
		}
		if acct.Referral, err = tx.Referral(id); err != nil {
			return err
		}
		if acct.PayoutOffset, err = tx.PayoutOffset(id); err != nil {
			return err
		}
		if acct.Administrator, err = tx.IsAdministrator(id); err != nil {
			return err
		}
		acct.Ambassador, err = tx.IsAmbassador(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Holdings lists every account with a balance entry. It walks the whole
// ledger and is meant for reporting.
func (m *Market) Holdings(ctx context.Context) ([]ledger.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ledger.Holdings(ctx, m.store)
}
