package lending

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/rates"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

// rayBps converts basis points to a ray.
func rayBps(bps uint64) *uint256.Int {
	v := new(uint256.Int).Mul(uint256.NewInt(bps), wadray.RAY)
	return v.Div(v, uint256.NewInt(wadray.PercentageFactor))
}

func testReserve(t *testing.T) *Reserve {
	t.Helper()
	model, err := rates.FromBps(8000, 0, 400, 7500)
	require.NoError(t, err)
	return &Reserve{
		Asset:              wethAddr,
		Decimals:           18,
		TotalScaledSupply:  eth(1_000),
		TotalScaledDebt:    eth(100),
		AvailableLiquidity: eth(900),
		AccruedToTreasury:  new(uint256.Int),
		LiquidityIndex:     wadray.Clone(wadray.RAY),
		BorrowIndex:        wadray.Clone(wadray.RAY),
		LiquidityRate:      rayBps(90),
		BorrowRate:         rayBps(1000),
		ReserveFactorBps:   1000,
		RateModel:          model,
		Active:             true,
	}
}

func TestLinearInterestOverOneYear(t *testing.T) {
	factor, err := linearInterest(rayBps(1000), secondsPerYear)
	require.NoError(t, err)
	require.Equal(t, rayBps(11_000).Dec(), factor.Dec())

	factor, err = linearInterest(rayBps(1000), 0)
	require.NoError(t, err)
	require.Equal(t, wadray.RAY.Dec(), factor.Dec())
}

func TestCompoundedInterestExceedsLinear(t *testing.T) {
	compounded, err := compoundedInterest(rayBps(1000), secondsPerYear)
	require.NoError(t, err)
	// e^0.1 = 1.10517...; the cubic expansion lands just below it.
	require.True(t, compounded.Gt(rayBps(11_051)), "compounded %s", compounded.Dec())
	require.True(t, compounded.Lt(rayBps(11_052)), "compounded %s", compounded.Dec())

	one, err := compoundedInterest(rayBps(1000), 1)
	require.NoError(t, err)
	linear, err := linearInterest(rayBps(1000), 1)
	require.NoError(t, err)
	require.Equal(t, linear.Dec(), one.Dec())
}

func TestAccrueMovesIndexesAndMintsTreasuryShare(t *testing.T) {
	r := testReserve(t)
	treasury, err := accrue(r, secondsPerYear, AccrualLinear)
	require.NoError(t, err)

	require.Equal(t, rayBps(11_000).Dec(), r.BorrowIndex.Dec())
	require.Equal(t, rayBps(10_090).Dec(), r.LiquidityIndex.Dec())
	require.Equal(t, uint64(secondsPerYear), r.LastUpdateTimestamp)

	// 10 ETH of interest, 10% of which belongs to the treasury.
	expected, err := wadray.RayDiv(eth(1), r.LiquidityIndex)
	require.NoError(t, err)
	require.Equal(t, expected.Dec(), treasury.Dec())
	require.Equal(t, expected.Dec(), r.AccruedToTreasury.Dec())
	require.Equal(t, new(uint256.Int).Add(eth(1_000), expected).Dec(), r.TotalScaledSupply.Dec())
}

func TestAccrueIsMonotonic(t *testing.T) {
	r := testReserve(t)
	r.LastUpdateTimestamp = 1_000
	_, err := accrue(r, 5_000, AccrualLinear)
	require.NoError(t, err)
	borrowIndex := r.BorrowIndex.Clone()
	liquidityIndex := r.LiquidityIndex.Clone()

	for _, now := range []uint64{5_000, 4_999, 0} {
		minted, err := accrue(r, now, AccrualLinear)
		require.NoError(t, err)
		require.True(t, minted.IsZero())
		require.Equal(t, borrowIndex.Dec(), r.BorrowIndex.Dec())
		require.Equal(t, liquidityIndex.Dec(), r.LiquidityIndex.Dec())
		require.Equal(t, uint64(5_000), r.LastUpdateTimestamp)
	}

	_, err = accrue(r, 6_000, AccrualLinear)
	require.NoError(t, err)
	require.True(t, r.BorrowIndex.Gt(borrowIndex))
	require.True(t, r.LiquidityIndex.Gt(liquidityIndex))
}

func TestAccrueRejectsUninitialisedReserve(t *testing.T) {
	_, err := accrue(&Reserve{}, 10, AccrualLinear)
	require.ErrorIs(t, err, ErrStaleConfiguration)
}

func TestAccrualModeOnlyAffectsBorrowIndex(t *testing.T) {
	linear := testReserve(t)
	compounded := testReserve(t)
	_, err := accrue(linear, secondsPerYear, AccrualLinear)
	require.NoError(t, err)
	_, err = accrue(compounded, secondsPerYear, AccrualCompounded)
	require.NoError(t, err)

	require.Equal(t, linear.LiquidityIndex.Dec(), compounded.LiquidityIndex.Dec())
	require.True(t, compounded.BorrowIndex.Gt(linear.BorrowIndex))
	require.True(t, compounded.AccruedToTreasury.Gt(linear.AccruedToTreasury))
}

func TestScaledBalanceRoundTrip(t *testing.T) {
	r := testReserve(t)
	r.BorrowIndex = rayBps(12_345)
	r.LiquidityIndex = rayBps(10_777)

	for _, amount := range []*uint256.Int{uint256.NewInt(1), uint256.NewInt(999), eth(3), milliEth(123_456)} {
		scaled, err := mintScaledDebt(r, amount)
		require.NoError(t, err)
		back, err := wadray.RayMul(scaled, r.BorrowIndex)
		require.NoError(t, err)
		if diff := absDiff(back, amount); diff.GtUint64(1) {
			t.Fatalf("debt round trip of %s drifted by %s", amount.Dec(), diff.Dec())
		}

		scaled, err = mintScaledSupply(r, amount)
		require.NoError(t, err)
		back, err = wadray.RayMul(scaled, r.LiquidityIndex)
		require.NoError(t, err)
		if diff := absDiff(back, amount); diff.GtUint64(1) {
			t.Fatalf("supply round trip of %s drifted by %s", amount.Dec(), diff.Dec())
		}
	}
}

func TestBurnScaledDebtIsCappedAtLimit(t *testing.T) {
	r := testReserve(t)
	burned, err := burnScaledDebt(r, eth(50), eth(20))
	require.NoError(t, err)
	require.Equal(t, eth(20).Dec(), burned.Dec())
	require.Equal(t, eth(80).Dec(), r.TotalScaledDebt.Dec())

	require.True(t, subFloor(eth(1), eth(2)).IsZero())
}

func TestTreasuryAccruesThroughPool(t *testing.T) {
	f := newFixture(t)
	_, err := f.pool.Borrow(bob, wethAddr, eth(40), apesAddr, big.NewInt(1))
	require.NoError(t, err)
	f.advance(secondsPerYear)

	health, err := f.pool.GetLoanCollateralAndDebt(apesAddr, big.NewInt(1), wethAddr)
	require.NoError(t, err)
	interest := new(uint256.Int).Sub(health.Debt, eth(40))
	share, err := wadray.PercentMul(interest, 1000)
	require.NoError(t, err)

	// Any entry point touching the reserve materialises the accrual.
	require.NoError(t, f.pool.Deposit(alice, wethAddr, eth(1), alice))
	balances, err := f.pool.UserReserveBalances(treasuryAddr)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	if diff := absDiff(balances[0].Supply, share); diff.GtUint64(1) {
		t.Fatalf("treasury supply %s, want %s", balances[0].Supply.Dec(), share.Dec())
	}

	// Suppliers plus treasury never claim more than cash plus debt.
	data, err := f.pool.GetReserveData(wethAddr)
	require.NoError(t, err)
	assets := new(uint256.Int).Add(data.AvailableLiquidity, data.TotalDebt)
	require.False(t, data.TotalSupply.Gt(new(uint256.Int).AddUint64(assets, 2)),
		"supply %s exceeds assets %s", data.TotalSupply.Dec(), assets.Dec())
}

func TestParamsValidation(t *testing.T) {
	mode, err := ParseAccrualMode(" Compounded ")
	require.NoError(t, err)
	require.Equal(t, AccrualCompounded, mode)
	mode, err = ParseAccrualMode("")
	require.NoError(t, err)
	require.Equal(t, AccrualLinear, mode)
	_, err = ParseAccrualMode("daily")
	require.Error(t, err)

	params := DefaultParams()
	require.NoError(t, params.Validate())
	params.MinBidDeltaBps = 10_001
	require.ErrorIs(t, params.Validate(), ErrInvalidConfiguration)
}

func absDiff(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}
