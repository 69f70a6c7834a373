package dex

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/intmath"
	"github.com/shizukutanaka/curvedex/internal/ledger"
)

var three = big.NewInt(3)

// Buy converts value into tokens for caller. The fee is value/dividendFee; a
// third of it goes to a qualifying referrer and the rest to token holders.
func (m *Market) Buy(ctx context.Context, caller string, value *big.Int, referrer string) (*big.Int, error) {
	if err := validAccount(caller); err != nil {
		return nil, err
	}
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, value)
	}

	var (
		minted     *big.Int
		credited   bool
		phaseEnded bool
	)
	err := m.update(ctx, "buy", func(tx *ledger.Tx) error {
		var err error
		if phaseEnded, err = m.checkInitialPhase(tx, caller, value); err != nil {
			return err
		}
		minted, credited, err = m.purchase(tx, caller, value, referrer)
		return err
	})
	if err != nil {
		m.logger.Debug("Buy rejected", zap.String("account", caller), zap.Stringer("value", value), zap.Error(err))
		return nil, err
	}

	now := time.Now()
	if !credited {
		referrer = ""
	}
	if phaseEnded {
		m.logger.Info("Initial phase ended by public purchase", zap.String("account", caller))
		m.events.Emit(EventPhaseEnded{ID: newEventID(), Trigger: caller, Timestamp: now})
	}
	m.logger.Info("Tokens purchased",
		zap.String("account", caller),
		zap.Stringer("value", value),
		zap.Stringer("tokens", minted),
		zap.String("referrer", referrer),
	)
	m.metrics.ObserveVolume("buy", value)
	m.events.Emit(EventTokenPurchase{
		ID:         newEventID(),
		Account:    caller,
		Currency:   new(big.Int).Set(value),
		Tokens:     new(big.Int).Set(minted),
		ReferredBy: referrer,
		Timestamp:  now,
	})
	return minted, nil
}

// checkInitialPhase applies the anti early-whale rule: while the initial
// phase is on, ambassadors buy against their quota and the first public
// purchase ends the phase.
func (m *Market) checkInitialPhase(tx *ledger.Tx, caller string, value *big.Int) (bool, error) {
	restricted, err := tx.Restricted()
	if err != nil || !restricted {
		return false, err
	}
	ambassador, err := tx.IsAmbassador(caller)
	if err != nil {
		return false, err
	}
	if ambassador {
		return false, tx.AddAmbassadorQuota(caller, value)
	}
	return true, tx.SetRestricted(false)
}

// purchase mints tokens for value. It is shared by Buy and Reinvest.
func (m *Market) purchase(tx *ledger.Tx, caller string, value *big.Int, referrer string) (*big.Int, bool, error) {
	undivided := m.feeOf(value)
	bonus := new(big.Int).Quo(undivided, three)
	dividends := new(big.Int).Sub(undivided, bonus)
	taxed := new(big.Int).Sub(value, undivided)

	supply, err := tx.TotalSupply()
	if err != nil {
		return nil, false, err
	}
	tokens := m.curve.TokensFor(taxed, supply)
	if tokens.Sign() == 0 {
		return nil, false, fmt.Errorf("%w: %s at supply %s", ErrZeroTokensResult, value, supply)
	}

	credited, err := m.qualifiedReferrer(tx, caller, referrer)
	if err != nil {
		return nil, false, err
	}
	if credited {
		if err := tx.CreditReferral(referrer, bonus); err != nil {
			return nil, false, err
		}
	} else {
		dividends.Add(dividends, bonus)
	}

	// Accrue over the supply held before this purchase; the fresh tokens
	// then enter at the new profit per share and earn nothing from their own
	// fee. At zero supply the fee is unallocated.
	if err := tx.Accrue(dividends); err != nil {
		return nil, false, err
	}
	if err := tx.ApplyBalanceDelta(caller, tokens, nil); err != nil {
		return nil, false, err
	}
	return tokens, credited, nil
}

// qualifiedReferrer reports whether referrer earns the referral bonus: it
// must be someone other than the buyer holding at least the staking
// requirement.
func (m *Market) qualifiedReferrer(tx *ledger.Tx, caller, referrer string) (bool, error) {
	if referrer == "" || referrer == caller {
		return false, nil
	}
	known, err := tx.HasBalanceEntry(referrer)
	if err != nil || !known {
		return false, err
	}
	balance, err := tx.Balance(referrer)
	if err != nil {
		return false, err
	}
	required, err := tx.StakingRequirement()
	if err != nil {
		return false, err
	}
	return balance.Cmp(required) >= 0, nil
}

// Sell burns tokens from caller. The proceeds, net of the fee, are credited
// to caller's claim and returned; the host pays them out on Withdraw or Exit.
func (m *Market) Sell(ctx context.Context, caller string, tokens *big.Int) (*big.Int, error) {
	if err := validAccount(caller); err != nil {
		return nil, err
	}
	if tokens == nil || tokens.Sign() < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, tokens)
	}

	var proceeds *big.Int
	err := m.update(ctx, "sell", func(tx *ledger.Tx) error {
		var err error
		proceeds, err = m.sell(tx, caller, tokens)
		return err
	})
	if err != nil {
		m.logger.Debug("Sell rejected", zap.String("account", caller), zap.Stringer("tokens", tokens), zap.Error(err))
		return nil, err
	}

	m.logger.Info("Tokens sold",
		zap.String("account", caller),
		zap.Stringer("tokens", tokens),
		zap.Stringer("proceeds", proceeds),
	)
	m.metrics.ObserveVolume("sell", proceeds)
	m.events.Emit(EventTokenSell{
		ID:        newEventID(),
		Account:   caller,
		Tokens:    new(big.Int).Set(tokens),
		Currency:  new(big.Int).Set(proceeds),
		Timestamp: time.Now(),
	})
	return proceeds, nil
}

func (m *Market) sell(tx *ledger.Tx, caller string, tokens *big.Int) (*big.Int, error) {
	balance, err := tx.Balance(caller)
	if err != nil {
		return nil, err
	}
	if tokens.Sign() == 0 || tokens.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: selling %s of %s", ErrInsufficientBalance, tokens, balance)
	}
	supply, err := tx.TotalSupply()
	if err != nil {
		return nil, err
	}

	value := m.curve.CurrencyFor(tokens, supply)
	fee := m.feeOf(value)
	taxed := new(big.Int).Sub(value, fee)

	credit := new(big.Int).Mul(taxed, intmath.Magnitude)
	if err := tx.ApplyBalanceDelta(caller, new(big.Int).Neg(tokens), credit.Neg(credit)); err != nil {
		return nil, err
	}
	if err := tx.Accrue(fee); err != nil {
		return nil, err
	}
	return taxed, nil
}

// Transfer moves tokens from caller to to. The fee is taken in tokens, which
// are burned and their curve value shared among the remaining holders.
// Dividends the sender earned before the transfer stay with the sender.
func (m *Market) Transfer(ctx context.Context, caller, to string, tokens *big.Int) error {
	if err := validAccount(caller); err != nil {
		return err
	}
	if err := validAccount(to); err != nil {
		return err
	}
	if tokens == nil || tokens.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, tokens)
	}

	var received *big.Int
	err := m.update(ctx, "transfer", func(tx *ledger.Tx) error {
		restricted, err := tx.Restricted()
		if err != nil {
			return err
		}
		if restricted {
			return ErrRestrictedPhase
		}
		balance, err := tx.Balance(caller)
		if err != nil {
			return err
		}
		if tokens.Sign() == 0 || tokens.Cmp(balance) > 0 {
			return fmt.Errorf("%w: transferring %s of %s", ErrInsufficientBalance, tokens, balance)
		}
		supply, err := tx.TotalSupply()
		if err != nil {
			return err
		}

		feeTokens := m.feeOf(tokens)
		received = new(big.Int).Sub(tokens, feeTokens)
		tax := m.curve.CurrencyFor(feeTokens, supply)

		if err := tx.ApplyBalanceDelta(caller, new(big.Int).Neg(tokens), nil); err != nil {
			return err
		}
		if err := tx.ApplyBalanceDelta(to, received, nil); err != nil {
			return err
		}
		return tx.Accrue(tax)
	})
	if err != nil {
		m.logger.Debug("Transfer rejected",
			zap.String("from", caller), zap.String("to", to), zap.Stringer("tokens", tokens), zap.Error(err))
		return err
	}

	m.logger.Info("Tokens transferred",
		zap.String("from", caller),
		zap.String("to", to),
		zap.Stringer("tokens", tokens),
		zap.Stringer("received", received),
	)
	m.events.Emit(EventTransfer{
		ID:        newEventID(),
		From:      caller,
		To:        to,
		Tokens:    new(big.Int).Set(tokens),
		Received:  received,
		Timestamp: time.Now(),
	})
	return nil
}

// Reinvest buys tokens with caller's dividends plus referral balance.
func (m *Market) Reinvest(ctx context.Context, caller string) (*big.Int, error) {
	if err := validAccount(caller); err != nil {
		return nil, err
	}

	var minted, spent *big.Int
	err := m.update(ctx, "reinvest", func(tx *ledger.Tx) error {
		var err error
		if spent, err = m.settle(tx, caller, true); err != nil {
			return err
		}
		minted, _, err = m.purchase(tx, caller, spent, "")
		return err
	})
	if err != nil {
		m.logger.Debug("Reinvest rejected", zap.String("account", caller), zap.Error(err))
		return nil, err
	}

	m.logger.Info("Dividends reinvested",
		zap.String("account", caller),
		zap.Stringer("currency", spent),
		zap.Stringer("tokens", minted),
	)
	m.metrics.ObserveVolume("reinvest", spent)
	m.events.Emit(EventReinvestment{
		ID:        newEventID(),
		Account:   caller,
		Currency:  spent,
		Tokens:    new(big.Int).Set(minted),
		Timestamp: time.Now(),
	})
	return minted, nil
}

// Withdraw settles caller's dividends plus referral balance and returns the
// amount the host must pay out.
func (m *Market) Withdraw(ctx context.Context, caller string) (*big.Int, error) {
	if err := validAccount(caller); err != nil {
		return nil, err
	}

	var paid *big.Int
	err := m.update(ctx, "withdraw", func(tx *ledger.Tx) error {
		var err error
		paid, err = m.settle(tx, caller, false)
		return err
	})
	if err != nil {
		m.logger.Debug("Withdraw rejected", zap.String("account", caller), zap.Error(err))
		return nil, err
	}

	m.logger.Info("Dividends withdrawn", zap.String("account", caller), zap.Stringer("currency", paid))
	m.metrics.ObserveVolume("withdraw", paid)
	m.events.Emit(EventWithdraw{
		ID:        newEventID(),
		Account:   caller,
		Currency:  new(big.Int).Set(paid),
		Timestamp: time.Now(),
	})
	return paid, nil
}

// settle marks caller's dividends as paid, clears the referral balance and
// returns their sum. It requires a positive dividend claim; a referral
// balance alone does not qualify. A withdrawal charges the payout offset
// with the dividends only; a reinvestment charges it with the whole amount
// spent, referral included.
func (m *Market) settle(tx *ledger.Tx, caller string, reinvest bool) (*big.Int, error) {
	dividends, err := tx.DividendsOf(caller)
	if err != nil {
		return nil, err
	}
	if dividends.Sign() == 0 {
		return nil, ErrNoClaimableDividends
	}
	referral, err := tx.ClearReferral(caller)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(dividends, referral)

	charged := dividends
	if reinvest {
		charged = total
	}
	if err := tx.ApplyBalanceDelta(caller, new(big.Int), new(big.Int).Mul(charged, intmath.Magnitude)); err != nil {
		return nil, err
	}
	return total, nil
}

// Exit sells caller's whole balance and then withdraws everything claimable.
// The two legs commit separately: when the withdraw fails the sale stands
// and its result is returned with the error.
func (m *Market) Exit(ctx context.Context, caller string) (*ExitResult, error) {
	if err := validAccount(caller); err != nil {
		return nil, err
	}

	result := &ExitResult{
		TokensSold:   new(big.Int),
		SaleProceeds: new(big.Int),
		Withdrawn:    new(big.Int),
	}

	balance, err := m.BalanceOf(ctx, caller)
	if err != nil {
		return nil, err
	}
	if balance.Sign() > 0 {
		proceeds, err := m.Sell(ctx, caller, balance)
		if err != nil {
			return nil, fmt.Errorf("exit sell: %w", err)
		}
		result.TokensSold = balance
		result.SaleProceeds = proceeds
	}

	withdrawn, err := m.Withdraw(ctx, caller)
	result.Timestamp = time.Now()
	if err != nil {
		return result, fmt.Errorf("exit withdraw: %w", err)
	}
	result.Withdrawn = withdrawn

	m.events.Emit(EventExit{
		ID:         newEventID(),
		Account:    caller,
		TokensSold: new(big.Int).Set(result.TokensSold),
		Withdrawn:  new(big.Int).Set(withdrawn),
		Timestamp:  result.Timestamp,
	})
	return result, nil
}
