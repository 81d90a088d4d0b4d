package rates

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

func daiModel(t *testing.T) *Model {
	t.Helper()
	model, err := FromBps(8_000, 300, 400, 7_500)
	require.NoError(t, err)
	return model
}

func rayFromBps(bps uint64) *uint256.Int {
	v := new(uint256.Int).Mul(uint256.NewInt(bps), wadray.RAY)
	return v.Div(v, uint256.NewInt(10_000))
}

func TestRatesAtOptimalUtilization(t *testing.T) {
	model := daiModel(t)

	out, err := model.CalculateRates(wadray.Wad(20), wadray.Wad(80), 1_000)
	require.NoError(t, err)
	require.Equal(t, rayFromBps(8_000).Dec(), out.Utilization.Dec())
	require.Equal(t, rayFromBps(700).Dec(), out.BorrowRate.Dec())
	// 0.07 * 0.8 * 0.9
	require.Equal(t, rayFromBps(504).Dec(), out.LiquidityRate.Dec())
}

func TestRateCurveIsContinuousAtKink(t *testing.T) {
	model := daiModel(t)

	atKink, err := model.BorrowRate(model.OptimalUtilization)
	require.NoError(t, err)
	expected := new(uint256.Int).Add(model.BaseBorrowRate, model.Slope1)
	require.True(t, atKink.Eq(expected), "below-kink branch: %s", atKink)

	justAbove := new(uint256.Int).AddUint64(model.OptimalUtilization, 1)
	above, err := model.BorrowRate(justAbove)
	require.NoError(t, err)
	require.True(t, above.Cmp(expected) >= 0)
	delta := new(uint256.Int).Sub(above, expected)
	require.True(t, delta.Cmp(uint256.NewInt(10)) <= 0, "jump at kink: %s", delta)
}

func TestRateCurveAboveKink(t *testing.T) {
	model := daiModel(t)
	rate, err := model.BorrowRate(rayFromBps(9_000))
	require.NoError(t, err)
	// 0.03 + 0.04 + 0.75 * 0.5
	require.Equal(t, rayFromBps(4_450).Dec(), rate.Dec())
}

func TestRateCurveIsMonotonic(t *testing.T) {
	model := daiModel(t)
	prev := new(uint256.Int)
	for bps := uint64(0); bps <= 10_000; bps += 250 {
		rate, err := model.BorrowRate(rayFromBps(bps))
		require.NoError(t, err)
		require.True(t, rate.Cmp(prev) >= 0, "rate decreased at %d bps", bps)
		prev = rate
	}
}

func TestEmptyReserveHasBaseRate(t *testing.T) {
	model := daiModel(t)
	out, err := model.CalculateRates(new(uint256.Int), new(uint256.Int), 1_000)
	require.NoError(t, err)
	require.True(t, out.Utilization.IsZero())
	require.Equal(t, rayFromBps(300).Dec(), out.BorrowRate.Dec())
	require.True(t, out.LiquidityRate.IsZero())
}

func TestFullOptimalSkipsSecondSlope(t *testing.T) {
	model, err := FromBps(10_000, 0, 400, 7_500)
	require.NoError(t, err)
	rate, err := model.BorrowRate(wadray.RAY)
	require.NoError(t, err)
	require.Equal(t, rayFromBps(400).Dec(), rate.Dec())
}

func TestNewModelRejectsInvalidOptimal(t *testing.T) {
	_, err := FromBps(0, 0, 0, 0)
	require.Error(t, err)
	_, err = FromBps(10_001, 0, 0, 0)
	require.Error(t, err)
}

func TestReserveFactorBounds(t *testing.T) {
	model := daiModel(t)
	_, err := model.CalculateRates(wadray.Wad(1), wadray.Wad(1), 10_001)
	require.Error(t, err)
}
