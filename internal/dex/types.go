package dex

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shizukutanaka/curvedex/internal/intmath"
)

// Params configure a market. The economic fields are written once at genesis
// and must match on every later open; the rest seed mutable state.
type Params struct {
	Name                  string
	Symbol                string
	DividendFee           *big.Int
	TokenPriceInitial     *big.Int
	TokenPriceIncremental *big.Int
	StakingRequirement    *big.Int
	Administrators        []string
	Ambassadors           []string
	RestrictedPhase       bool
}

// DefaultParams returns the stock economics: a 5% fee (divisor 20), an
// opening price of 1e11 per token rising by 1e7 per token, and a 100 token
// staking requirement for referrers.
func DefaultParams() Params {
	return Params{
		Name:                  "Curve Token",
		Symbol:                "CURVE",
		DividendFee:           big.NewInt(20),
		TokenPriceInitial:     big.NewInt(100_000_000_000),
		TokenPriceIncremental: big.NewInt(10_000_000),
		StakingRequirement:    new(big.Int).Mul(big.NewInt(100), intmath.Ether),
	}
}

// Validate checks the parameters before genesis.
func (p Params) Validate() error {
	if p.DividendFee == nil || p.DividendFee.Sign() <= 0 {
		return fmt.Errorf("%w: dividend fee divisor must be positive", ErrInvalidAmount)
	}
	if p.TokenPriceInitial == nil || p.TokenPriceIncremental == nil {
		return fmt.Errorf("%w: token prices are required", ErrInvalidAmount)
	}
	if p.StakingRequirement == nil || p.StakingRequirement.Sign() < 0 {
		return fmt.Errorf("%w: staking requirement must be non-negative", ErrInvalidAmount)
	}
	for _, a := range append(append([]string(nil), p.Administrators...), p.Ambassadors...) {
		if a == "" {
			return fmt.Errorf("%w: empty role account", ErrInvalidAccount)
		}
	}
	return nil
}

// ExitResult reports both legs of an exit.
type ExitResult struct {
	TokensSold   *big.Int
	SaleProceeds *big.Int
	Withdrawn    *big.Int
	Timestamp    time.Time
}

// Info is a read-only snapshot of the market's global state.
type Info struct {
	Name                  string
	Symbol                string
	DividendFee           *big.Int
	TokenPriceInitial     *big.Int
	TokenPriceIncremental *big.Int
	StakingRequirement    *big.Int
	RestrictedPhase       bool
	TotalSupply           *big.Int
	ProfitPerShare        *big.Int
	TotalTaxed            *big.Int
	Unallocated           *big.Int
	BuyPrice              *big.Int
	SellPrice             *big.Int
}

// Account is a read-only snapshot of one holder.
type Account struct {
	ID            string
	Balance       *big.Int
	Dividends     *big.Int
	Referral      *big.Int
	PayoutOffset  *big.Int
	Administrator bool
	Ambassador    bool
}

// Event types
type EventTokenPurchase struct {
	ID         string
	Account    string
	Currency   *big.Int
	Tokens     *big.Int
	ReferredBy string
	Timestamp  time.Time
}

type EventTokenSell struct {
	ID        string
	Account   string
	Tokens    *big.Int
	Currency  *big.Int
	Timestamp time.Time
}

type EventTransfer struct {
	ID        string
	From      string
	To        string
	Tokens    *big.Int
	Received  *big.Int
	Timestamp time.Time
}

type EventReinvestment struct {
	ID        string
	Account   string
	Currency  *big.Int
	Tokens    *big.Int
	Timestamp time.Time
}

type EventWithdraw struct {
	ID        string
	Account   string
	Currency  *big.Int
	Timestamp time.Time
}

type EventExit struct {
	ID         string
	Account    string
	TokensSold *big.Int
	Withdrawn  *big.Int
	Timestamp  time.Time
}

type EventPhaseEnded struct {
	ID        string
	Trigger   string
	Timestamp time.Time
}

type EventAdminChange struct {
	ID        string
	Caller    string
	Change    string
	Value     string
	Timestamp time.Time
}
