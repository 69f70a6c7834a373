package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shizukutanaka/curvedex/internal/intmath"
	"github.com/shizukutanaka/curvedex/internal/storage"
)

// Params are the economic constants fixed at genesis.
type Params struct {
	DividendFee           *big.Int
	TokenPriceInitial     *big.Int
	TokenPriceIncremental *big.Int
}

// Equal reports whether both parameter sets are identical.
func (p Params) Equal(o Params) bool {
	return p.DividendFee.Cmp(o.DividendFee) == 0 &&
		p.TokenPriceInitial.Cmp(o.TokenPriceInitial) == 0 &&
		p.TokenPriceIncremental.Cmp(o.TokenPriceIncremental) == 0
}

// Initialized reports whether genesis has run against the store.
func (tx *Tx) Initialized() (bool, error) {
	return tx.getBool(BucketMeta, keyGenesis)
}

// MarkInitialized records that genesis has run.
func (tx *Tx) MarkInitialized() error {
	return tx.putBool(BucketMeta, keyGenesis, true)
}

// Params returns the stored economic parameters.
func (tx *Tx) Params() (Params, error) {
	var p Params
	var err error
	if p.DividendFee, err = tx.getUint(BucketParams, keyDividendFee); err != nil {
		return Params{}, err
	}
	if p.TokenPriceInitial, err = tx.getUint(BucketParams, keyInitial); err != nil {
		return Params{}, err
	}
	if p.TokenPriceIncremental, err = tx.getUint(BucketParams, keyIncremental); err != nil {
		return Params{}, err
	}
	return p, nil
}

// PutParams stores the economic parameters.
func (tx *Tx) PutParams(p Params) error {
	var writes []write
	for _, u := range []struct {
		key string
		v   *big.Int
	}{
		{keyDividendFee, p.DividendFee},
		{keyInitial, p.TokenPriceInitial},
		{keyIncremental, p.TokenPriceIncremental},
	} {
		w, err := unsignedWrite(BucketParams, u.key, u.v)
		if err != nil {
			return err
		}
		writes = append(writes, w)
	}
	return tx.stage(writes...)
}

// StakingRequirement is the minimum balance a referrer needs to earn a bonus.
func (tx *Tx) StakingRequirement() (*big.Int, error) {
	return tx.getUint(BucketGlobal, keyStakingRequirement)
}

func (tx *Tx) SetStakingRequirement(amount *big.Int) error {
	return tx.putUint(BucketGlobal, keyStakingRequirement, amount)
}

func (tx *Tx) Name() (string, error) { return tx.getString(BucketMeta, keyName) }

func (tx *Tx) SetName(name string) error { return tx.put(BucketMeta, keyName, []byte(name)) }

func (tx *Tx) Symbol() (string, error) { return tx.getString(BucketMeta, keySymbol) }

func (tx *Tx) SetSymbol(symbol string) error { return tx.put(BucketMeta, keySymbol, []byte(symbol)) }

// Restricted reports whether the initial ambassador-only phase is active.
func (tx *Tx) Restricted() (bool, error) { return tx.getBool(BucketMeta, keyRestricted) }

func (tx *Tx) SetRestricted(on bool) error { return tx.putBool(BucketMeta, keyRestricted, on) }

func (tx *Tx) IsAdministrator(account string) (bool, error) {
	return tx.getBool(BucketAdmin, account)
}

func (tx *Tx) SetAdministrator(account string, status bool) error {
	return tx.putBool(BucketAdmin, account, status)
}

func (tx *Tx) IsAmbassador(account string) (bool, error) {
	return tx.getBool(BucketAmbassador, account)
}

func (tx *Tx) SetAmbassador(account string, status bool) error {
	return tx.putBool(BucketAmbassador, account, status)
}

// AmbassadorQuota returns the currency an ambassador has spent during the
// restricted phase.
func (tx *Tx) AmbassadorQuota(account string) (*big.Int, error) {
	return tx.getUint(BucketQuota, account)
}

// AddAmbassadorQuota adds amount to account's restricted-phase spend.
func (tx *Tx) AddAmbassadorQuota(account string, amount *big.Int) error {
	current, err := tx.AmbassadorQuota(account)
	if err != nil {
		return err
	}
	return tx.putUint(BucketQuota, account, current.Add(current, amount))
}

// Holding is one account's position, used for reporting.
type Holding struct {
	Account string
	Balance *big.Int
}

// Holdings lists every account with a balance entry in account order. It walks
// the whole balance bucket and is meant for reporting, never for operations.
func Holdings(ctx context.Context, store storage.Store) ([]Holding, error) {
	var out []Holding
	err := store.Scan(ctx, BucketBalance, func(key string, value []byte) error {
		n, err := intmath.DecodeUnsigned(value)
		if err != nil {
			return fmt.Errorf("decode balance of %s: %w", key, err)
		}
		out = append(out, Holding{Account: key, Balance: n})
		return nil
	})
	return out, err
}

// Accounts lists every key of a boolean role bucket that is set.
func Accounts(ctx context.Context, store storage.Store, bucket string) ([]string, error) {
	var out []string
	err := store.Scan(ctx, bucket, func(key string, value []byte) error {
		if len(value) == 1 && value[0] == 1 {
			out = append(out, key)
		}
		return nil
	})
	return out, err
}
