package dex

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shizukutanaka/curvedex/internal/intmath"
	"github.com/shizukutanaka/curvedex/internal/ledger"
)

func TestBuySoleHolder(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, DefaultParams())

	minted, err := m.Buy(ctx, "alice", amount("1000000000000"), "")
	require.NoError(t, err)
	assert.Equal(t, "9495491781791096887", minted.String())

	balance, err := m.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, minted.String(), balance.String())

	supply, err := m.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, minted.String(), supply.String())

	// Nobody held tokens before this purchase, so its fee is unallocated
	// and the buyer earns nothing from it.
	dividends, err := m.DividendsOf(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, "0", dividends.String())

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "50000000000", info.TotalTaxed.String())
	assert.Equal(t, "50000000000", info.Unallocated.String())
	assert.Equal(t, "0", info.ProfitPerShare.String())
}

func TestBuyRejects(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, DefaultParams())

	_, err := m.Buy(ctx, "alice", big.NewInt(0), "")
	assert.ErrorIs(t, err, ErrZeroTokensResult)

	_, err = m.Buy(ctx, "alice", big.NewInt(-5), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = m.Buy(ctx, "", big.NewInt(5), "")
	assert.ErrorIs(t, err, ErrInvalidAccount)

	assert.Equal(t, map[string]string{
		"supply":         "0",
		"pps":            "0",
		"taxed":          "0",
		"unallocated":    "0",
		"restricted":     "false",
		"alice.balance":  "0",
		"alice.payout":   "0",
		"alice.referral": "0",
	}, snapshot(t, m, "alice"))
}

func TestReferralBonus(t *testing.T) {
	ctx := context.Background()
	params := DefaultParams()
	params.StakingRequirement = intmath.Ether
	m := newTestMarket(t, params)

	_, err := m.Buy(ctx, "alice", amount("1000000000000"), "")
	require.NoError(t, err)
	before, err := m.Info(ctx)
	require.NoError(t, err)

	value := amount("2000000000000")
	_, err = m.Buy(ctx, "bob", value, "alice")
	require.NoError(t, err)

	undivided := new(big.Int).Quo(value, big.NewInt(20))
	bonus := new(big.Int).Quo(undivided, big.NewInt(3))

	alice, err := m.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, bonus.String(), alice.Referral.String())
	assert.Equal(t, "33333333333", alice.Referral.String())

	after, err := m.Info(ctx)
	require.NoError(t, err)
	raised := new(big.Int).Sub(after.ProfitPerShare, before.ProfitPerShare)
	want := new(big.Int).Sub(undivided, bonus)
	want.Mul(want, intmath.Magnitude)
	want.Quo(want, before.TotalSupply)
	assert.Equal(t, want.String(), raised.String())
	assert.Equal(t, "129512295572", raised.String())

	// Dividends exclude the referral balance unless asked for.
	withoutRef, err := m.DividendsOf(ctx, "alice", false)
	require.NoError(t, err)
	withRef, err := m.DividendsOf(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, "66666666666", withoutRef.String())
	assert.Equal(t, new(big.Int).Add(withoutRef, bonus).String(), withRef.String())

	bobDividends, err := m.DividendsOf(ctx, "bob", false)
	require.NoError(t, err)
	assert.Equal(t, "0", bobDividends.String())
}

func TestReferralNotQualified(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		referrer string
		caller   string
	}{
		{name: "BelowStakingRequirement", referrer: "alice", caller: "bob"},
		{name: "SelfReferral", referrer: "bob", caller: "bob"},
		{name: "UnknownReferrer", referrer: "nobody", caller: "bob"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMarket(t, DefaultParams())
			_, err := m.Buy(ctx, "alice", amount("1000000000000"), "")
			require.NoError(t, err)
			before, err := m.Info(ctx)
			require.NoError(t, err)

			value := amount("2000000000000")
			_, err = m.Buy(ctx, tc.caller, value, tc.referrer)
			require.NoError(t, err)

			ref, err := m.Account(ctx, tc.referrer)
			require.NoError(t, err)
			assert.Equal(t, "0", ref.Referral.String())

			// The whole fee goes to the holders from before the purchase.
			after, err := m.Info(ctx)
			require.NoError(t, err)
			want := new(big.Int).Quo(value, big.NewInt(20))
			want.Mul(want, intmath.Magnitude)
			want.Quo(want, before.TotalSupply)
			raised := new(big.Int).Sub(after.ProfitPerShare, before.ProfitPerShare)
			assert.Equal(t, want.String(), raised.String())
		})
	}
}

func TestBuyThenSellAll(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, DefaultParams())

	minted, err := m.Buy(ctx, "alice", amount("1000000000000"), "")
	require.NoError(t, err)

	quoted, err := m.CalculateCurrencyFor(ctx, minted)
	require.NoError(t, err)

	proceeds, err := m.Sell(ctx, "alice", minted)
	require.NoError(t, err)
	assert.Equal(t, quoted.String(), proceeds.String())
	assert.Equal(t, "902405042821", proceeds.String())

	supply, err := m.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", supply.String())

	dividends, err := m.DividendsOf(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, proceeds.String(), dividends.String())

	// Neither the purchase fee nor the sale fee had a holder to go to.
	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "97495002253", info.Unallocated.String())

	paid, err := m.Withdraw(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, proceeds.String(), paid.String())

	dividends, err = m.DividendsOf(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, "0", dividends.String())

	_, err = m.Withdraw(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoClaimableDividends)
}

func TestSellRejects(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, DefaultParams())
	minted, err := m.Buy(ctx, "alice", amount("1000000000000"), "")
	require.NoError(t, err)

	before := snapshot(t, m, "alice", "bob")

	_, err = m.Sell(ctx, "alice", new(big.Int).Add(minted, big.NewInt(1)))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = m.Sell(ctx, "alice", big.NewInt(0))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = m.Sell(ctx, "bob", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = m.Sell(ctx, "alice", big.NewInt(-1))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.Equal(t, before, snapshot(t, m, "alice", "bob"))
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, cheapParams())

	_, err := m.Buy(ctx, "alice", amount("1000000000000000"), "")
	require.NoError(t, err)
	_, err = m.Buy(ctx, "carol", amount("1000000000000000"), "")
	require.NoError(t, err)

	earned, err := m.DividendsOf(ctx, "alice", false)
	require.NoError(t, err)
	require.True(t, earned.Sign() > 0)

	balance, err := m.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	supplyBefore, err := m.TotalSupply(ctx)
	require.NoError(t, err)

	half := new(big.Int).Quo(balance, big.NewInt(2))
	require.NoError(t, m.Transfer(ctx, "alice", "bob", half))

	feeTokens := new(big.Int).Quo(half, big.NewInt(20))
	received := new(big.Int).Sub(half, feeTokens)

	bob, err := m.BalanceOf(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, received.String(), bob.String())

	supplyAfter, err := m.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Sub(supplyBefore, feeTokens).String(), supplyAfter.String())

	// Dividends earned before the transfer stay with the sender, who also
	// shares in the transfer tax.
	after, err := m.DividendsOf(ctx, "alice", false)
	require.NoError(t, err)
	assert.True(t, after.Cmp(earned) > 0, "alice had %s, now %s", earned, after)
	assert.Equal(t, "73960224746146", after.String())

	bobDividends, err := m.DividendsOf(ctx, "bob", false)
	require.NoError(t, err)
	assert.Equal(t, "22762213508904", bobDividends.String())
}

func TestTransferRejects(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, cheapParams())
	minted, err := m.Buy(ctx, "alice", amount("1000000000000000"), "")
	require.NoError(t, err)

	before := snapshot(t, m, "alice", "bob")
	assert.ErrorIs(t, m.Transfer(ctx, "alice", "bob", new(big.Int).Add(minted, big.NewInt(1))), ErrInsufficientBalance)
	assert.ErrorIs(t, m.Transfer(ctx, "alice", "bob", big.NewInt(0)), ErrInsufficientBalance)
	assert.ErrorIs(t, m.Transfer(ctx, "alice", "", big.NewInt(1)), ErrInvalidAccount)
	assert.ErrorIs(t, m.Transfer(ctx, "alice", "bob", big.NewInt(-1)), ErrInvalidAmount)
	assert.Equal(t, before, snapshot(t, m, "alice", "bob"))
}

func TestInitialPhase(t *testing.T) {
	ctx := context.Background()
	params := DefaultParams()
	params.Ambassadors = []string{"amb"}
	params.RestrictedPhase = true
	m := newTestMarket(t, params)

	phase := m.Events().Subscribe(EventTypePhaseEnded)

	value := amount("1000000000000")
	minted, err := m.Buy(ctx, "amb", value, "")
	require.NoError(t, err)

	quota, err := ledger.Begin(ctx, m.store).AmbassadorQuota("amb")
	require.NoError(t, err)
	assert.Equal(t, value.String(), quota.String())

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.True(t, info.RestrictedPhase)

	t.Run("TransferBlocked", func(t *testing.T) {
		before := snapshot(t, m, "amb", "bob")
		err := m.Transfer(ctx, "amb", "bob", new(big.Int).Quo(minted, big.NewInt(2)))
		assert.ErrorIs(t, err, ErrRestrictedPhase)
		assert.Equal(t, before, snapshot(t, m, "amb", "bob"))
	})

	t.Run("PublicPurchaseEndsPhase", func(t *testing.T) {
		_, err := m.Buy(ctx, "bob", amount("2000000000000"), "")
		require.NoError(t, err)

		info, err := m.Info(ctx)
		require.NoError(t, err)
		assert.False(t, info.RestrictedPhase)

		ev := (<-phase).(EventPhaseEnded)
		assert.Equal(t, "bob", ev.Trigger)

		require.NoError(t, m.Transfer(ctx, "amb", "bob", new(big.Int).Quo(minted, big.NewInt(2))))
	})
}

func TestReinvest(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, cheapParams())

	minted, err := m.Buy(ctx, "alice", amount("1000000000000000"), "")
	require.NoError(t, err)

	_, err = m.Reinvest(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoClaimableDividends)

	_, err = m.Sell(ctx, "alice", new(big.Int).Quo(minted, big.NewInt(2)))
	require.NoError(t, err)

	claim, err := m.DividendsOf(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, "712396622129626", claim.String())
	balance, err := m.BalanceOf(ctx, "alice")
	require.NoError(t, err)

	events := m.Events().Subscribe(EventTypeReinvest)
	bought, err := m.Reinvest(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "6629622908677644383898", bought.String())

	after, err := m.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Add(balance, bought).String(), after.String())

	ev := (<-events).(EventReinvestment)
	assert.Equal(t, claim.String(), ev.Currency.String())

	// The reinvestment's own fee accrues to the balance held before it.
	left, err := m.DividendsOf(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, "35619831106436", left.String())
}

func TestReinvestChargesReferral(t *testing.T) {
	ctx := context.Background()
	params := cheapParams()
	params.StakingRequirement = big.NewInt(0)
	m := newTestMarket(t, params)

	_, err := m.Buy(ctx, "alice", amount("1000000000000000"), "")
	require.NoError(t, err)
	_, err = m.Buy(ctx, "bob", amount("1000000000000000"), "alice")
	require.NoError(t, err)

	before, err := m.Account(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "16666666666666", before.Referral.String())
	require.Equal(t, "33333333332789", before.Dividends.String())
	spend := new(big.Int).Add(before.Dividends, before.Referral)

	minted, err := m.Reinvest(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "241186639609606089286", minted.String())

	after, err := m.Account(ctx, "alice")
	require.NoError(t, err)
	info, err := m.Info(ctx)
	require.NoError(t, err)

	// The offset is charged with everything spent, referral included, plus
	// the entry price of the fresh tokens.
	want := new(big.Int).Mul(spend, intmath.Magnitude)
	want.Add(want, new(big.Int).Mul(info.ProfitPerShare, minted))
	delta := new(big.Int).Sub(after.PayoutOffset, before.PayoutOffset)
	assert.Equal(t, want.String(), delta.String())
	assert.Equal(t, "933667694788458997901488357524082", delta.String())

	assert.Equal(t, "0", after.Referral.String())
	assert.Equal(t, "0", after.Dividends.String())
}

func TestWithdrawIncludesReferral(t *testing.T) {
	ctx := context.Background()
	params := cheapParams()
	params.StakingRequirement = big.NewInt(0)
	m := newTestMarket(t, params)

	_, err := m.Buy(ctx, "alice", amount("1000000000000000"), "")
	require.NoError(t, err)
	_, err = m.Buy(ctx, "bob", amount("1000000000000000"), "alice")
	require.NoError(t, err)

	claim, err := m.DividendsOf(ctx, "alice", true)
	require.NoError(t, err)

	paid, err := m.Withdraw(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, claim.String(), paid.String())

	alice, err := m.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "0", alice.Referral.String())
	assert.Equal(t, "0", alice.Dividends.String())
}

func TestExit(t *testing.T) {
	ctx := context.Background()

	t.Run("SellsThenWithdraws", func(t *testing.T) {
		m := newTestMarket(t, DefaultParams())
		minted, err := m.Buy(ctx, "alice", amount("1000000000000"), "")
		require.NoError(t, err)

		exits := m.Events().Subscribe(EventTypeExit)
		result, err := m.Exit(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, minted.String(), result.TokensSold.String())
		assert.Equal(t, "902405042821", result.SaleProceeds.String())
		assert.Equal(t, result.SaleProceeds.String(), result.Withdrawn.String())

		ev := (<-exits).(EventExit)
		assert.Equal(t, "alice", ev.Account)

		balance, err := m.BalanceOf(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "0", balance.String())
	})

	t.Run("NothingToClaim", func(t *testing.T) {
		m := newTestMarket(t, DefaultParams())
		result, err := m.Exit(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNoClaimableDividends)
		require.NotNil(t, result)
		assert.Equal(t, "0", result.TokensSold.String())
	})
}

func TestLedgerInvariants(t *testing.T) {
	ctx := context.Background()
	params := cheapParams()
	params.StakingRequirement = big.NewInt(0)
	m := newTestMarket(t, params)

	accounts := []string{"alice", "bob", "carol", "dave"}

	_, err := m.Buy(ctx, "alice", amount("1000000000000000"), "")
	require.NoError(t, err)
	_, err = m.Buy(ctx, "bob", amount("2000000000000000"), "alice")
	require.NoError(t, err)
	_, err = m.Buy(ctx, "carol", amount("1000000000000000"), "bob")
	require.NoError(t, err)

	alice, err := m.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, m.Transfer(ctx, "alice", "dave", new(big.Int).Quo(alice, big.NewInt(3))))

	peak, err := m.TotalSupply(ctx)
	require.NoError(t, err)
	bob, err := m.BalanceOf(ctx, "bob")
	require.NoError(t, err)
	proceeds, err := m.Sell(ctx, "bob", new(big.Int).Quo(bob, big.NewInt(2)))
	require.NoError(t, err)

	supply, err := m.TotalSupply(ctx)
	require.NoError(t, err)
	info, err := m.Info(ctx)
	require.NoError(t, err)

	balances := new(big.Int)
	dividends := new(big.Int)
	for _, a := range accounts {
		b, err := m.BalanceOf(ctx, a)
		require.NoError(t, err)
		balances.Add(balances, b)

		d, err := m.DividendsOf(ctx, a, false)
		require.NoError(t, err)
		dividends.Add(dividends, d)
	}
	assert.Equal(t, supply.String(), balances.String())

	// Every taxed unit is either unallocated or claimable by a holder, up to
	// truncation: under supply/2^64 + 1 per accrual and one unit per account.
	const accruals = 5
	claimable := new(big.Int).Sub(dividends, proceeds)
	gap := new(big.Int).Sub(info.TotalTaxed, info.Unallocated)
	gap.Sub(gap, claimable)
	tolerance := new(big.Int).Quo(peak, intmath.Magnitude)
	tolerance.Add(tolerance, big.NewInt(1))
	tolerance.Mul(tolerance, big.NewInt(accruals))
	tolerance.Add(tolerance, big.NewInt(int64(len(accounts))))
	assert.True(t, gap.Sign() >= 0, "claims %s exceed taxed %s", claimable, info.TotalTaxed)
	assert.True(t, gap.Cmp(tolerance) <= 0, "gap %s above tolerance %s", gap, tolerance)
	assert.Equal(t, "2379", gap.String())
}
