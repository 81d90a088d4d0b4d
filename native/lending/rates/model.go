// Package rates implements the kinked interest rate curve that maps reserve
// utilisation to borrow and liquidity rates.
package rates

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

var errInvalidOptimal = errors.New("rates: optimal utilisation must be in (0, 1]")

// Model encapsulates the parameters that shape how interest rates react to
// reserve utilisation. All values are Ray scaled.
type Model struct {
	// OptimalUtilization is the utilisation where the slope changes.
	OptimalUtilization *uint256.Int
	// BaseBorrowRate is the borrow rate applied at zero utilisation.
	BaseBorrowRate *uint256.Int
	// Slope1 is the rate increase between zero and optimal utilisation.
	Slope1 *uint256.Int
	// Slope2 is the rate increase between optimal and full utilisation.
	Slope2 *uint256.Int
}

// Rates is the output of the model.
type Rates struct {
	Utilization   *uint256.Int
	LiquidityRate *uint256.Int
	BorrowRate    *uint256.Int
}

// NewModel validates the curve parameters and returns a model that owns
// copies of them.
func NewModel(optimal, base, slope1, slope2 *uint256.Int) (*Model, error) {
	if optimal == nil || optimal.IsZero() || optimal.Cmp(wadray.RAY) > 0 {
		return nil, errInvalidOptimal
	}
	return &Model{
		OptimalUtilization: optimal.Clone(),
		BaseBorrowRate:     wadray.Clone(base),
		Slope1:             wadray.Clone(slope1),
		Slope2:             wadray.Clone(slope2),
	}, nil
}

// FromBps builds a model from basis-point parameters, e.g. an 80% kink is
// 8000 and a 3% base rate is 300.
func FromBps(optimalBps, baseBps, slope1Bps, slope2Bps uint64) (*Model, error) {
	toRay := func(bps uint64) (*uint256.Int, error) {
		v, err := wadray.Mul(uint256.NewInt(bps), wadray.RAY)
		if err != nil {
			return nil, err
		}
		return wadray.Div(v, uint256.NewInt(wadray.PercentageFactor))
	}
	optimal, err := toRay(optimalBps)
	if err != nil {
		return nil, err
	}
	base, err := toRay(baseBps)
	if err != nil {
		return nil, err
	}
	slope1, err := toRay(slope1Bps)
	if err != nil {
		return nil, err
	}
	slope2, err := toRay(slope2Bps)
	if err != nil {
		return nil, err
	}
	return NewModel(optimal, base, slope1, slope2)
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	return &Model{
		OptimalUtilization: wadray.Clone(m.OptimalUtilization),
		BaseBorrowRate:     wadray.Clone(m.BaseBorrowRate),
		Slope1:             wadray.Clone(m.Slope1),
		Slope2:             wadray.Clone(m.Slope2),
	}
}

// Utilization computes totalDebt / (availableLiquidity + totalDebt) in Ray.
// An empty reserve has zero utilisation.
func Utilization(availableLiquidity, totalDebt *uint256.Int) (*uint256.Int, error) {
	if totalDebt == nil || totalDebt.IsZero() {
		return new(uint256.Int), nil
	}
	total, err := wadray.Add(wadray.Clone(availableLiquidity), totalDebt)
	if err != nil {
		return nil, err
	}
	return wadray.RayDiv(totalDebt, total)
}

// BorrowRate derives the borrow rate for the supplied utilisation.
func (m *Model) BorrowRate(utilization *uint256.Int) (*uint256.Int, error) {
	if m == nil {
		return new(uint256.Int), nil
	}
	base := wadray.Clone(m.BaseBorrowRate)
	if utilization.Cmp(m.OptimalUtilization) <= 0 {
		// Linear region up to the kink.
		ratio, err := wadray.RayDiv(utilization, m.OptimalUtilization)
		if err != nil {
			return nil, err
		}
		step, err := wadray.RayMul(wadray.Clone(m.Slope1), ratio)
		if err != nil {
			return nil, err
		}
		return wadray.Add(base, step)
	}

	excessUtilization, err := wadray.Sub(wadray.RAY, m.OptimalUtilization)
	if err != nil {
		return nil, err
	}
	rate, err := wadray.Add(base, wadray.Clone(m.Slope1))
	if err != nil {
		return nil, err
	}
	if excessUtilization.IsZero() {
		return rate, nil
	}
	over, err := wadray.Sub(utilization, m.OptimalUtilization)
	if err != nil {
		return nil, err
	}
	ratio, err := wadray.RayDiv(over, excessUtilization)
	if err != nil {
		return nil, err
	}
	step, err := wadray.RayMul(wadray.Clone(m.Slope2), ratio)
	if err != nil {
		return nil, err
	}
	return wadray.Add(rate, step)
}

// CalculateRates returns the liquidity and borrow rates for a reserve with
// the given available liquidity, total debt and reserve factor.
func (m *Model) CalculateRates(availableLiquidity, totalDebt *uint256.Int, reserveFactorBps uint64) (Rates, error) {
	if reserveFactorBps > wadray.PercentageFactor {
		return Rates{}, fmt.Errorf("rates: reserve factor %d exceeds 100%%", reserveFactorBps)
	}
	utilization, err := Utilization(availableLiquidity, totalDebt)
	if err != nil {
		return Rates{}, err
	}
	borrowRate, err := m.BorrowRate(utilization)
	if err != nil {
		return Rates{}, err
	}
	liquidityRate, err := wadray.RayMul(borrowRate, utilization)
	if err != nil {
		return Rates{}, err
	}
	liquidityRate, err = wadray.PercentMul(liquidityRate, wadray.PercentageFactor-reserveFactorBps)
	if err != nil {
		return Rates{}, err
	}
	return Rates{
		Utilization:   utilization,
		LiquidityRate: liquidityRate,
		BorrowRate:    borrowRate,
	}, nil
}
