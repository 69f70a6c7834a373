package intmath

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// WordSize is the encoded width of every stored integer.
const WordSize = 32

var (
	minInt256 = new(big.Int).Neg(new(big.Int).Lsh(one, 255))
	maxInt256 = new(big.Int).Sub(new(big.Int).Lsh(one, 255), one)
)

// FitsUnsigned reports whether x is in [0, 2^256).
func FitsUnsigned(x *big.Int) bool {
	return x.Sign() >= 0 && x.BitLen() <= 256
}

// FitsSigned reports whether x is in [-2^255, 2^255).
func FitsSigned(x *big.Int) bool {
	return x.Cmp(minInt256) >= 0 && x.Cmp(maxInt256) <= 0
}

// EncodeUnsigned renders x as a 32-byte big-endian word.
func EncodeUnsigned(x *big.Int) ([]byte, error) {
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegative, x)
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, x)
	}
	b := v.Bytes32()
	return b[:], nil
}

// DecodeUnsigned is the inverse of EncodeUnsigned. An empty slice decodes to zero.
func DecodeUnsigned(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return new(big.Int), nil
	}
	if len(b) != WordSize {
		return nil, fmt.Errorf("intmath: unsigned word has %d bytes, want %d", len(b), WordSize)
	}
	return new(uint256.Int).SetBytes32(b).ToBig(), nil
}

// EncodeSigned renders x as a 32-byte two's complement word.
func EncodeSigned(x *big.Int) ([]byte, error) {
	if !FitsSigned(x) {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, x)
	}
	// FromBig stores negative inputs in two's complement.
	v, _ := uint256.FromBig(x)
	b := v.Bytes32()
	return b[:], nil
}

// DecodeSigned is the inverse of EncodeSigned. An empty slice decodes to zero.
func DecodeSigned(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return new(big.Int), nil
	}
	if len(b) != WordSize {
		return nil, fmt.Errorf("intmath: signed word has %d bytes, want %d", len(b), WordSize)
	}
	v := new(uint256.Int).SetBytes32(b)
	if v.Sign() >= 0 {
		return v.ToBig(), nil
	}
	mag := new(uint256.Int).Neg(v).ToBig()
	return mag.Neg(mag), nil
}
