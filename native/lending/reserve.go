package lending

import (
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

const secondsPerYear = 31_536_000

var secondsPerYearInt = uint256.NewInt(secondsPerYear)

// linearInterest returns RAY + rate*elapsed/year.
func linearInterest(rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	scaled, err := wadray.Mul(rate, uint256.NewInt(elapsed))
	if err != nil {
		return nil, err
	}
	scaled, err = wadray.Div(scaled, secondsPerYearInt)
	if err != nil {
		return nil, err
	}
	return wadray.Add(wadray.RAY, scaled)
}

// compoundedInterest approximates (1 + rate/year)^elapsed with the binomial
// expansion truncated after the cubic term. It slightly undercharges which
// keeps the error on the borrower's side bounded and cheap to compute.
func compoundedInterest(rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if elapsed == 0 {
		return wadray.Clone(wadray.RAY), nil
	}
	exp := uint256.NewInt(elapsed)
	expMinusOne := uint256.NewInt(elapsed - 1)
	expMinusTwo := new(uint256.Int)
	if elapsed > 2 {
		expMinusTwo.SetUint64(elapsed - 2)
	}

	perSecond, err := wadray.Div(rate, secondsPerYearInt)
	if err != nil {
		return nil, err
	}
	powerTwo, err := wadray.RayMul(perSecond, perSecond)
	if err != nil {
		return nil, err
	}
	powerThree, err := wadray.RayMul(powerTwo, perSecond)
	if err != nil {
		return nil, err
	}

	firstTerm, err := wadray.Mul(perSecond, exp)
	if err != nil {
		return nil, err
	}
	pairs, err := wadray.Mul(exp, expMinusOne)
	if err != nil {
		return nil, err
	}
	secondTerm, err := wadray.Mul(pairs, powerTwo)
	if err != nil {
		return nil, err
	}
	secondTerm = new(uint256.Int).Div(secondTerm, uint256.NewInt(2))
	triples, err := wadray.Mul(pairs, expMinusTwo)
	if err != nil {
		return nil, err
	}
	thirdTerm, err := wadray.Mul(triples, powerThree)
	if err != nil {
		return nil, err
	}
	thirdTerm = new(uint256.Int).Div(thirdTerm, uint256.NewInt(6))

	total, err := wadray.Add(wadray.RAY, firstTerm)
	if err != nil {
		return nil, err
	}
	if total, err = wadray.Add(total, secondTerm); err != nil {
		return nil, err
	}
	return wadray.Add(total, thirdTerm)
}

func cumulatedInterest(mode AccrualMode, rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if mode == AccrualCompounded {
		return compoundedInterest(rate, elapsed)
	}
	return linearInterest(rate, elapsed)
}

// normalizedIncome is the liquidity index the reserve would have after
// accruing up to now. The supply side always accrues linearly.
func normalizedIncome(r *Reserve, now uint64) (*uint256.Int, error) {
	if now <= r.LastUpdateTimestamp || r.LiquidityRate.IsZero() {
		return wadray.Clone(r.LiquidityIndex), nil
	}
	factor, err := linearInterest(r.LiquidityRate, now-r.LastUpdateTimestamp)
	if err != nil {
		return nil, err
	}
	return wadray.RayMul(factor, r.LiquidityIndex)
}

// normalizedDebt is the borrow index the reserve would have after accruing up
// to now.
func normalizedDebt(r *Reserve, now uint64, mode AccrualMode) (*uint256.Int, error) {
	if now <= r.LastUpdateTimestamp || r.TotalScaledDebt.IsZero() {
		return wadray.Clone(r.BorrowIndex), nil
	}
	factor, err := cumulatedInterest(mode, r.BorrowRate, now-r.LastUpdateTimestamp)
	if err != nil {
		return nil, err
	}
	return wadray.RayMul(factor, r.BorrowIndex)
}

// accrue advances both indexes to now and returns the scaled supply minted to
// the treasury for its reserve-factor share of the new debt interest. Calls
// with a timestamp at or before the last update are no-ops.
func accrue(r *Reserve, now uint64, mode AccrualMode) (*uint256.Int, error) {
	if !r.initialised() {
		return nil, ErrStaleConfiguration
	}
	treasury := new(uint256.Int)
	if now <= r.LastUpdateTimestamp {
		return treasury, nil
	}

	liquidityIndex, err := normalizedIncome(r, now)
	if err != nil {
		return nil, err
	}
	borrowIndex, err := normalizedDebt(r, now, mode)
	if err != nil {
		return nil, err
	}

	if !r.TotalScaledDebt.IsZero() && r.ReserveFactorBps > 0 {
		previousDebt, err := wadray.RayMul(r.TotalScaledDebt, r.BorrowIndex)
		if err != nil {
			return nil, err
		}
		currentDebt, err := wadray.RayMul(r.TotalScaledDebt, borrowIndex)
		if err != nil {
			return nil, err
		}
		if currentDebt.Gt(previousDebt) {
			accrued := new(uint256.Int).Sub(currentDebt, previousDebt)
			share, err := wadray.PercentMul(accrued, r.ReserveFactorBps)
			if err != nil {
				return nil, err
			}
			if treasury, err = wadray.RayDiv(share, liquidityIndex); err != nil {
				return nil, err
			}
		}
	}

	if !treasury.IsZero() {
		supply, err := wadray.Add(r.TotalScaledSupply, treasury)
		if err != nil {
			return nil, err
		}
		accrued, err := wadray.Add(r.AccruedToTreasury, treasury)
		if err != nil {
			return nil, err
		}
		r.TotalScaledSupply = supply
		r.AccruedToTreasury = accrued
	}
	r.LiquidityIndex = liquidityIndex
	r.BorrowIndex = borrowIndex
	r.LastUpdateTimestamp = now
	return treasury, nil
}

// totalDebt returns the nominal debt of the reserve at its current index.
func totalDebt(r *Reserve) (*uint256.Int, error) {
	return wadray.RayMul(r.TotalScaledDebt, r.BorrowIndex)
}

// updateRates recomputes the reserve's rates from its current cash and debt.
func updateRates(r *Reserve) error {
	debt, err := totalDebt(r)
	if err != nil {
		return err
	}
	result, err := r.RateModel.CalculateRates(r.AvailableLiquidity, debt, r.ReserveFactorBps)
	if err != nil {
		return err
	}
	r.LiquidityRate = result.LiquidityRate
	r.BorrowRate = result.BorrowRate
	return nil
}

// mintScaledDebt converts amount to the borrow index's scale and adds it to
// the reserve total.
func mintScaledDebt(r *Reserve, amount *uint256.Int) (*uint256.Int, error) {
	scaled, err := wadray.RayDiv(amount, r.BorrowIndex)
	if err != nil {
		return nil, err
	}
	total, err := wadray.Add(r.TotalScaledDebt, scaled)
	if err != nil {
		return nil, err
	}
	r.TotalScaledDebt = total
	return scaled, nil
}

// burnScaledDebt removes the scaled equivalent of amount, capped at limit,
// from the reserve total and returns the scaled value burned.
func burnScaledDebt(r *Reserve, amount, limit *uint256.Int) (*uint256.Int, error) {
	scaled, err := wadray.RayDiv(amount, r.BorrowIndex)
	if err != nil {
		return nil, err
	}
	scaled = wadray.Min(scaled, limit)
	r.TotalScaledDebt = subFloor(r.TotalScaledDebt, scaled)
	return scaled, nil
}

// mintScaledSupply converts amount to the liquidity index's scale and adds it
// to the reserve total.
func mintScaledSupply(r *Reserve, amount *uint256.Int) (*uint256.Int, error) {
	scaled, err := wadray.RayDiv(amount, r.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	total, err := wadray.Add(r.TotalScaledSupply, scaled)
	if err != nil {
		return nil, err
	}
	r.TotalScaledSupply = total
	return scaled, nil
}

// burnScaledSupply mirrors burnScaledDebt for the supply side.
func burnScaledSupply(r *Reserve, amount, limit *uint256.Int) (*uint256.Int, error) {
	scaled, err := wadray.RayDiv(amount, r.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	scaled = wadray.Min(scaled, limit)
	r.TotalScaledSupply = subFloor(r.TotalScaledSupply, scaled)
	return scaled, nil
}

// subFloor subtracts b from a, clamping at zero to absorb index rounding dust.
func subFloor(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}
