package ledger

import (
	"fmt"
	"math/big"

	"github.com/shizukutanaka/curvedex/internal/intmath"
)

// TotalSupply returns the outstanding token units.
func (tx *Tx) TotalSupply() (*big.Int, error) {
	return tx.getUint(BucketGlobal, keySupply)
}

// ProfitPerShare returns the accumulator scaled by intmath.Magnitude.
func (tx *Tx) ProfitPerShare() (*big.Int, error) {
	return tx.getUint(BucketGlobal, keyProfitPerShare)
}

// Unallocated returns tax that was accrued while no tokens were outstanding.
// Nobody can claim it; it is kept for auditing only.
func (tx *Tx) Unallocated() (*big.Int, error) {
	return tx.getUint(BucketGlobal, keyUnallocated)
}

// TotalTaxed returns the cumulative tax passed to Accrue.
func (tx *Tx) TotalTaxed() (*big.Int, error) {
	return tx.getUint(BucketGlobal, keyTotalTaxed)
}

// Balance returns account's token units.
func (tx *Tx) Balance(account string) (*big.Int, error) {
	return tx.getUint(BucketBalance, account)
}

// HasBalanceEntry reports whether account has ever held a balance entry,
// including one that is now zero.
func (tx *Tx) HasBalanceEntry(account string) (bool, error) {
	_, ok, err := tx.get(BucketBalance, account)
	return ok, err
}

// PayoutOffset returns the signed payout offset of account.
func (tx *Tx) PayoutOffset(account string) (*big.Int, error) {
	return tx.getInt(BucketPayout, account)
}

// DividendsOf returns the currency account can claim from profit sharing,
// excluding its referral balance.
func (tx *Tx) DividendsOf(account string) (*big.Int, error) {
	pps, err := tx.ProfitPerShare()
	if err != nil {
		return nil, err
	}
	balance, err := tx.Balance(account)
	if err != nil {
		return nil, err
	}
	payout, err := tx.PayoutOffset(account)
	if err != nil {
		return nil, err
	}

	d := new(big.Int).Mul(pps, balance)
	d.Sub(d, payout)
	if d.Sign() <= 0 {
		return new(big.Int), nil
	}
	return d.Quo(d, intmath.Magnitude), nil
}

// Accrue distributes tax over the current supply by raising profit per
// share. Tax arriving while the supply is zero has no holder to go to and is
// only added to the unallocated total.
func (tx *Tx) Accrue(tax *big.Int) error {
	if tax.Sign() < 0 {
		return fmt.Errorf("%w: accrue %s", ErrNegativeAmount, tax)
	}
	if tax.Sign() == 0 {
		return nil
	}

	supply, err := tx.TotalSupply()
	if err != nil {
		return err
	}
	pps, err := tx.ProfitPerShare()
	if err != nil {
		return err
	}
	unallocated, err := tx.Unallocated()
	if err != nil {
		return err
	}
	taxed, err := tx.TotalTaxed()
	if err != nil {
		return err
	}

	taxed.Add(taxed, tax)
	if supply.Sign() > 0 {
		share := new(big.Int).Mul(tax, intmath.Magnitude)
		share.Quo(share, supply)
		pps.Add(pps, share)
	} else {
		unallocated.Add(unallocated, tax)
	}

	writes := make([]write, 0, 3)
	for _, u := range []struct {
		key string
		v   *big.Int
	}{
		{keyProfitPerShare, pps},
		{keyUnallocated, unallocated},
		{keyTotalTaxed, taxed},
	} {
		w, err := unsignedWrite(BucketGlobal, u.key, u.v)
		if err != nil {
			return err
		}
		writes = append(writes, w)
	}
	return tx.stage(writes...)
}

// ApplyBalanceDelta is the only way balances change. It moves account's
// balance and the total supply by tokenDelta and shifts the payout offset
// by profitPerShare*tokenDelta + extraPayout, so a transfer of tokens never
// transfers dividends that were earned before it. extraPayout is already
// scaled by intmath.Magnitude.
func (tx *Tx) ApplyBalanceDelta(account string, tokenDelta, extraPayout *big.Int) error {
	balance, err := tx.Balance(account)
	if err != nil {
		return err
	}
	supply, err := tx.TotalSupply()
	if err != nil {
		return err
	}
	pps, err := tx.ProfitPerShare()
	if err != nil {
		return err
	}
	payout, err := tx.PayoutOffset(account)
	if err != nil {
		return err
	}

	balance.Add(balance, tokenDelta)
	if balance.Sign() < 0 {
		return fmt.Errorf("%w: %s would hold %s", ErrInsufficientBalance, account, balance)
	}
	supply.Add(supply, tokenDelta)
	if supply.Sign() < 0 {
		return fmt.Errorf("%w: supply would be %s", ErrInsufficientBalance, supply)
	}
	payout.Add(payout, new(big.Int).Mul(pps, tokenDelta))
	if extraPayout != nil {
		payout.Add(payout, extraPayout)
	}

	wBalance, err := unsignedWrite(BucketBalance, account, balance)
	if err != nil {
		return err
	}
	wSupply, err := unsignedWrite(BucketGlobal, keySupply, supply)
	if err != nil {
		return err
	}
	wPayout, err := signedWrite(BucketPayout, account, payout)
	if err != nil {
		return err
	}
	return tx.stage(wBalance, wSupply, wPayout)
}

// Referral returns account's referral balance.
func (tx *Tx) Referral(account string) (*big.Int, error) {
	return tx.getUint(BucketReferral, account)
}

// CreditReferral adds amount to account's referral balance.
func (tx *Tx) CreditReferral(account string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: referral %s", ErrNegativeAmount, amount)
	}
	current, err := tx.Referral(account)
	if err != nil {
		return err
	}
	return tx.putUint(BucketReferral, account, current.Add(current, amount))
}

// ClearReferral zeroes account's referral balance and returns what it held.
func (tx *Tx) ClearReferral(account string) (*big.Int, error) {
	current, err := tx.Referral(account)
	if err != nil {
		return nil, err
	}
	if current.Sign() == 0 {
		return current, nil
	}
	if err := tx.putUint(BucketReferral, account, new(big.Int)); err != nil {
		return nil, err
	}
	return current, nil
}
