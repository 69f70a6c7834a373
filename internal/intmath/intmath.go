// Package intmath holds the exact integer primitives the pricing curve and the
// dividend ledger are built on.
package intmath

import (
	"errors"
	"math/big"
)

var (
	ErrOverflow = errors.New("intmath: value exceeds 256 bits")
	ErrNegative = errors.New("intmath: negative value where unsigned expected")
)

var (
	// Ether is the fixed-point scale of one whole token or currency unit.
	Ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// Magnitude scales profit-per-share so per-token dividends survive integer division.
	Magnitude = new(big.Int).Lsh(big.NewInt(1), 64)

	one = big.NewInt(1)
)

// Isqrt returns floor(sqrt(x)).
//
// Newton's iteration starts at 2^ceil(bitlen/2), which is never below the root,
// so the iterates decrease strictly until they reach the floor of the root.
func Isqrt(x *big.Int) *big.Int {
	switch x.Sign() {
	case -1:
		panic("intmath: square root of negative number")
	case 0:
		return new(big.Int)
	}

	z := new(big.Int).Lsh(one, uint(x.BitLen()+1)/2)
	y := new(big.Int)
	for {
		y.Quo(x, z)
		y.Add(y, z)
		y.Rsh(y, 1)
		if y.Cmp(z) >= 0 {
			return z
		}
		z.Set(y)
	}
}

// DivFloor returns a / b truncated toward zero. Both operands must be non-negative.
func DivFloor(a, b *big.Int) *big.Int {
	return new(big.Int).Quo(a, b)
}

// Clone returns a copy of x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsPositive reports whether x is non-nil and greater than zero.
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}
