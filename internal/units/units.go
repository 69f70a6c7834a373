// Package units converts between 18-decimal human amounts ("1.5") and the
// integer base units the ledger stores.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/dustin/go-humanize"
)

// Decimals is the number of fractional digits of both tokens and currency.
const Decimals = 18

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNegative      = errors.New("amount must not be negative")
	ErrTooPrecise    = errors.New("amount has more than 18 decimals")
)

// Precision is wide enough for any 256-bit value at 18 decimals.
var decimalContext = apd.BaseContext.WithPrecision(120)

// Parse converts a decimal string such as "12.5" or "1e-3" into base units.
func Parse(s string) (*big.Int, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Negative && !d.IsZero() {
		return nil, fmt.Errorf("%w: %q", ErrNegative, s)
	}

	d.Exponent += Decimals
	var q apd.Decimal
	cond, err := decimalContext.Quantize(&q, d, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if cond.Inexact() {
		return nil, fmt.Errorf("%w: %q", ErrTooPrecise, s)
	}
	return q.Coeff.MathBigInt(), nil
}

// ParseBaseUnits parses a plain non-negative integer of base units.
func ParseBaseUnits(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNegative, s)
	}
	return n, nil
}

// Format renders base units as a decimal without trailing zeros.
func Format(n *big.Int) string {
	if n == nil || n.Sign() == 0 {
		return "0"
	}
	d := apd.NewWithBigInt(new(apd.BigInt).SetMathBigInt(n), -Decimals)
	d.Reduce(d)
	return d.Text('f')
}

// Humanize is Format with thousands separators in the integer part.
func Humanize(n *big.Int) string {
	s := Format(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	w, _ := new(big.Int).SetString(whole, 10)
	out := humanize.BigComma(w)
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
