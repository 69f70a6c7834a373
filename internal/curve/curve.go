// Package curve implements the linear bonding curve that prices the token as a
// function of its outstanding supply.
//
// The marginal price of the next whole token is
//
//	price(supply) = initial + incremental*supply/1e18
//
// and both conversions integrate that line in exact integer arithmetic with
// truncating division. The two directions are not exact inverses: the
// truncation asymmetry is part of the pricing and must not be "fixed".
package curve

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shizukutanaka/curvedex/internal/intmath"
)

var ErrInvalidParams = errors.New("curve: invalid parameters")

var two = big.NewInt(2)

// Curve holds the immutable price parameters.
type Curve struct {
	initial     *big.Int
	incremental *big.Int

	initialScaled     *big.Int
	incrementalScaled *big.Int
}

// New validates the parameters and precomputes their 1e18-scaled forms.
func New(initial, incremental *big.Int) (*Curve, error) {
	if initial == nil || incremental == nil {
		return nil, fmt.Errorf("%w: nil price", ErrInvalidParams)
	}
	if incremental.Sign() <= 0 {
		return nil, fmt.Errorf("%w: incremental price must be positive", ErrInvalidParams)
	}
	if initial.Cmp(incremental) < 0 {
		return nil, fmt.Errorf("%w: initial price %s below incremental %s", ErrInvalidParams, initial, incremental)
	}

	return &Curve{
		initial:           new(big.Int).Set(initial),
		incremental:       new(big.Int).Set(incremental),
		initialScaled:     new(big.Int).Mul(initial, intmath.Ether),
		incrementalScaled: new(big.Int).Mul(incremental, intmath.Ether),
	}, nil
}

// Initial returns the price of the first token unit.
func (c *Curve) Initial() *big.Int { return new(big.Int).Set(c.initial) }

// Incremental returns the price increase per whole token of supply.
func (c *Curve) Incremental() *big.Int { return new(big.Int).Set(c.incremental) }

// TokensFor returns how many token units amount buys when supply units are
// already outstanding. Results that would fall below the current supply
// clamp to zero.
func (c *Curve) TokensFor(amount, supply *big.Int) *big.Int {
	// (initial*1e18)^2
	input := new(big.Int).Mul(c.initialScaled, c.initialScaled)

	// 2*(incremental*1e18)*(amount*1e18)
	t := new(big.Int).Mul(amount, intmath.Ether)
	t.Mul(t, c.incrementalScaled)
	t.Mul(t, two)
	input.Add(input, t)

	// incremental^2 * supply^2
	t.Mul(c.incremental, c.incremental)
	t.Mul(t, supply)
	t.Mul(t, supply)
	input.Add(input, t)

	// 2*incremental*initial*supply
	t.Mul(two, c.incremental)
	t.Mul(t, c.initial)
	t.Mul(t, supply)
	input.Add(input, t)

	root := intmath.Isqrt(input)
	if root.Cmp(c.initialScaled) < 0 {
		return new(big.Int)
	}

	received := root.Sub(root, c.initialScaled)
	received.Quo(received, c.incremental)
	if received.Cmp(supply) < 0 {
		return new(big.Int)
	}
	return received.Sub(received, supply)
}

// CurrencyFor returns the gross currency value of tokens units when supply
// units are outstanding, integrating the price line downward from the top of
// the supply.
func (c *Curve) CurrencyFor(tokens, supply *big.Int) *big.Int {
	tokensAdj := new(big.Int).Add(tokens, intmath.Ether)
	supplyAdj := new(big.Int).Add(supply, intmath.Ether)

	price := new(big.Int).Mul(c.incremental, supplyAdj)
	price.Quo(price, intmath.Ether)
	price.Add(price, c.initial)

	// (price - incremental) * (tokens' - 1e18)
	first := price.Sub(price, c.incremental)
	first.Mul(first, new(big.Int).Sub(tokensAdj, intmath.Ether))

	// incremental * (tokens'^2 - tokens') / (2*1e18)
	second := new(big.Int).Mul(tokensAdj, tokensAdj)
	second.Sub(second, tokensAdj)
	second.Mul(second, c.incremental)
	second.Quo(second, new(big.Int).Mul(two, intmath.Ether))

	value := first.Sub(first, second)
	if value.Sign() < 0 {
		return new(big.Int)
	}
	return value.Quo(value, intmath.Ether)
}

// MarginalPrice returns the price of the next whole token at supply.
func (c *Curve) MarginalPrice(supply *big.Int) *big.Int {
	p := new(big.Int).Mul(c.incremental, supply)
	p.Quo(p, intmath.Ether)
	return p.Add(p, c.initial)
}
