package curve

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shizukutanaka/curvedex/internal/intmath"
)

func newTestCurve(t *testing.T) *Curve {
	t.Helper()
	c, err := New(big.NewInt(100_000_000_000), big.NewInt(10_000_000))
	require.NoError(t, err)
	return c
}

func tokens(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), intmath.Ether)
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(big.NewInt(10), big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = New(big.NewInt(5), big.NewInt(10))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = New(nil, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestZeroInputsYieldZero(t *testing.T) {
	c := newTestCurve(t)

	for _, supply := range []*big.Int{big.NewInt(0), big.NewInt(1), tokens(1), tokens(1_000), tokens(50_000_000)} {
		assert.Zero(t, c.TokensFor(big.NewInt(0), supply).Sign(), "tokens for 0 at supply %s", supply)
		assert.Zero(t, c.CurrencyFor(big.NewInt(0), supply).Sign(), "currency for 0 at supply %s", supply)
	}
}

func TestTokensForAtZeroSupply(t *testing.T) {
	c := newTestCurve(t)

	// 9.5e11 at a 1e11 opening price buys a little under 9.5 whole tokens.
	got := c.TokensFor(big.NewInt(950_000_000_000), big.NewInt(0))
	assert.True(t, got.Cmp(tokens(9)) > 0, "got %s", got)
	assert.True(t, got.Cmp(new(big.Int).Div(tokens(19), big.NewInt(2))) < 0, "got %s", got)
}

func TestTokensForMonotoneInAmount(t *testing.T) {
	c := newTestCurve(t)

	for _, supply := range []*big.Int{big.NewInt(0), tokens(3), tokens(10_000)} {
		prev := big.NewInt(0)
		for _, amount := range []int64{1, 1_000, 1_000_000, 1_000_000_000, 100_000_000_000, 1_000_000_000_000, 50_000_000_000_000} {
			got := c.TokensFor(big.NewInt(amount), supply)
			require.True(t, got.Cmp(prev) >= 0, "supply %s amount %d: %s < %s", supply, amount, got, prev)
			prev = got
		}
	}
}

func TestCurrencyForMonotoneInTokens(t *testing.T) {
	c := newTestCurve(t)
	supply := tokens(1_000)

	prev := big.NewInt(0)
	for _, whole := range []int64{0, 1, 2, 10, 100, 500, 1_000} {
		got := c.CurrencyFor(tokens(whole), supply)
		require.True(t, got.Cmp(prev) >= 0, "%d tokens: %s < %s", whole, got, prev)
		prev = got
	}
}

func TestRoundTripFavoursSystem(t *testing.T) {
	c := newTestCurve(t)

	for _, amount := range []int64{1_000_000_000, 950_000_000_000, 10_000_000_000_000} {
		paid := big.NewInt(amount)
		minted := c.TokensFor(paid, big.NewInt(0))
		require.Positive(t, minted.Sign())

		back := c.CurrencyFor(minted, minted)
		assert.True(t, back.Cmp(paid) <= 0, "paid %s, valued back at %s", paid, back)
	}
}

func TestConversionsDoNotMutateInputs(t *testing.T) {
	c := newTestCurve(t)
	amount := big.NewInt(1_000_000_000_000)
	supply := tokens(7)

	_ = c.TokensFor(amount, supply)
	_ = c.CurrencyFor(supply, supply)

	assert.Equal(t, "1000000000000", amount.String())
	assert.Equal(t, 0, supply.Cmp(tokens(7)))
}

func TestMarginalPrice(t *testing.T) {
	c := newTestCurve(t)

	assert.Equal(t, "100000000000", c.MarginalPrice(big.NewInt(0)).String())
	assert.Equal(t, "100010000000", c.MarginalPrice(tokens(1)).String())
	assert.Equal(t, "100000000000", c.Initial().String())
	assert.Equal(t, "10000000", c.Incremental().String())
}
