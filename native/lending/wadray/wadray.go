// Package wadray implements the deterministic fixed-point arithmetic used by
// the lending module. Balances and collateral values use the Wad domain
// (1e18); rates and indexes use the Ray domain (1e27). Percentages are
// expressed in basis points (1e4).
//
// Every operation is overflow checked and returns ErrArithmeticOverflow
// instead of wrapping.
package wadray

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrArithmeticOverflow is returned on overflow, underflow and division by
// zero.
var ErrArithmeticOverflow = errors.New("wadray: arithmetic overflow")

const (
	// PercentageFactor is 100% expressed in basis points.
	PercentageFactor = 10_000
	// OnePercent is 1% expressed in basis points.
	OnePercent = 100
)

var (
	WAD     = uint256.NewInt(1_000_000_000_000_000_000)
	HalfWAD = uint256.NewInt(500_000_000_000_000_000)

	RAY     = mustDecimal("1000000000000000000000000000")
	HalfRAY = mustDecimal("500000000000000000000000000")

	// WadRayRatio is RAY / WAD.
	WadRayRatio     = uint256.NewInt(1_000_000_000)
	halfWadRayRatio = uint256.NewInt(500_000_000)

	percentage     = uint256.NewInt(PercentageFactor)
	halfPercentage = uint256.NewInt(PercentageFactor / 2)
)

func mustDecimal(value string) *uint256.Int {
	v, err := uint256.FromDecimal(value)
	if err != nil {
		panic("invalid fixed point constant")
	}
	return v
}

// Wad returns n * 1e18.
func Wad(n uint64) *uint256.Int {
	out, _ := Mul(uint256.NewInt(n), WAD)
	return out
}

// Ray returns n * 1e27.
func Ray(n uint64) *uint256.Int {
	out, _ := Mul(uint256.NewInt(n), RAY)
	return out
}

// Add returns a + b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// Sub returns a - b and fails when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// Mul returns a * b.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// Div returns a / b truncated.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrArithmeticOverflow
	}
	return new(uint256.Int).Div(a, b), nil
}

// mulDivHalfUp computes (a*b + half) / scale.
func mulDivHalfUp(a, b, half, scale *uint256.Int) (*uint256.Int, error) {
	if a.IsZero() || b.IsZero() {
		return new(uint256.Int), nil
	}
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	product, err = Add(product, half)
	if err != nil {
		return nil, err
	}
	return Div(product, scale)
}

// divHalfUp computes (a*scale + b/2) / b.
func divHalfUp(a, b, scale *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrArithmeticOverflow
	}
	half := new(uint256.Int).Rsh(b, 1)
	numerator, err := Mul(a, scale)
	if err != nil {
		return nil, err
	}
	numerator, err = Add(numerator, half)
	if err != nil {
		return nil, err
	}
	return Div(numerator, b)
}

// WadMul multiplies two wads rounding half up.
func WadMul(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDivHalfUp(a, b, HalfWAD, WAD)
}

// WadDiv divides two wads rounding half up.
func WadDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return divHalfUp(a, b, WAD)
}

// RayMul multiplies two rays rounding half up.
func RayMul(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDivHalfUp(a, b, HalfRAY, RAY)
}

// RayDiv divides two rays rounding half up.
func RayDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return divHalfUp(a, b, RAY)
}

// RayToWad converts a ray to a wad. The low nine digits are dropped, rounding
// half up.
func RayToWad(a *uint256.Int) (*uint256.Int, error) {
	rounded, err := Add(a, halfWadRayRatio)
	if err != nil {
		return nil, err
	}
	return Div(rounded, WadRayRatio)
}

// WadToRay converts a wad to a ray.
func WadToRay(a *uint256.Int) (*uint256.Int, error) {
	return Mul(a, WadRayRatio)
}

// PercentMul returns value * bps / 10000 rounding half up.
func PercentMul(value *uint256.Int, bps uint64) (*uint256.Int, error) {
	return mulDivHalfUp(value, uint256.NewInt(bps), halfPercentage, percentage)
}

// PercentDiv returns value * 10000 / bps rounding half up.
func PercentDiv(value *uint256.Int, bps uint64) (*uint256.Int, error) {
	return divHalfUp(value, uint256.NewInt(bps), percentage)
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a.Clone()
	}
	return b.Clone()
}

// Max returns the larger of a and b.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return a.Clone()
	}
	return b.Clone()
}

// Clone copies v, mapping nil to zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
