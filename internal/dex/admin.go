package dex

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/ledger"
)

// admin runs fn for an administrator caller and publishes the change.
func (m *Market) admin(ctx context.Context, caller, change, value string, fn func(tx *ledger.Tx) error) error {
	if err := validAccount(caller); err != nil {
		return err
	}
	err := m.update(ctx, "admin_"+change, func(tx *ledger.Tx) error {
		ok, err := tx.IsAdministrator(caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
		}
		return fn(tx)
	})
	if err != nil {
		m.logger.Warn("Administrative change rejected",
			zap.String("caller", caller), zap.String("change", change), zap.Error(err))
		return err
	}

	m.logger.Info("Administrative change applied",
		zap.String("caller", caller), zap.String("change", change), zap.String("value", value))
	m.events.Emit(EventAdminChange{
		ID:        newEventID(),
		Caller:    caller,
		Change:    change,
		Value:     value,
		Timestamp: time.Now(),
	})
	return nil
}

// DisableInitialStage ends the ambassador-only phase.
func (m *Market) DisableInitialStage(ctx context.Context, caller string) error {
	return m.admin(ctx, caller, "disable_initial_stage", "false", func(tx *ledger.Tx) error {
		return tx.SetRestricted(false)
	})
}

// SetAdministrator grants or revokes administrator rights for account.
func (m *Market) SetAdministrator(ctx context.Context, caller, account string, status bool) error {
	if err := validAccount(account); err != nil {
		return err
	}
	return m.admin(ctx, caller, "set_administrator", account+"="+strconv.FormatBool(status), func(tx *ledger.Tx) error {
		return tx.SetAdministrator(account, status)
	})
}

// SetStakingRequirement changes the referrer balance threshold.
func (m *Market) SetStakingRequirement(ctx context.Context, caller string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return m.admin(ctx, caller, "set_staking_requirement", amount.String(), func(tx *ledger.Tx) error {
		return tx.SetStakingRequirement(amount)
	})
}

// SetName renames the token.
func (m *Market) SetName(ctx context.Context, caller, name string) error {
	return m.admin(ctx, caller, "set_name", name, func(tx *ledger.Tx) error {
		return tx.SetName(name)
	})
}

// SetSymbol changes the token symbol.
func (m *Market) SetSymbol(ctx context.Context, caller, symbol string) error {
	return m.admin(ctx, caller, "set_symbol", symbol, func(tx *ledger.Tx) error {
		return tx.SetSymbol(symbol)
	})
}
