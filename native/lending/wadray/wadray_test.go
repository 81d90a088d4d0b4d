package wadray

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func dec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestRayMulRoundsHalfUp(t *testing.T) {
	// 1.5 ray * 1 (unit) = 1.5 units -> 2 after rounding.
	a := dec(t, "1500000000000000000000000000")
	got, err := RayMul(a, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("ray mul: %v", err)
	}
	if got.Uint64() != 2 {
		t.Fatalf("expected 2, got %s", got)
	}

	a = dec(t, "1499999999999999999999999999")
	got, err = RayMul(a, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("ray mul: %v", err)
	}
	if got.Uint64() != 1 {
		t.Fatalf("expected 1, got %s", got)
	}
}

func TestWadDivRoundsHalfUp(t *testing.T) {
	got, err := WadDiv(uint256.NewInt(2), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("wad div: %v", err)
	}
	// 2/3 wad = 666666666666666666.67 -> 666666666666666667
	if got.Dec() != "666666666666666667" {
		t.Fatalf("unexpected quotient %s", got.Dec())
	}
}

func TestPercentMathRoundsHalfUp(t *testing.T) {
	got, err := PercentMul(uint256.NewInt(15), 5_000)
	if err != nil {
		t.Fatalf("percent mul: %v", err)
	}
	if got.Uint64() != 8 {
		t.Fatalf("expected 8, got %d", got.Uint64())
	}
	got, err = PercentDiv(uint256.NewInt(8), 5_000)
	if err != nil {
		t.Fatalf("percent div: %v", err)
	}
	if got.Uint64() != 16 {
		t.Fatalf("expected 16, got %d", got.Uint64())
	}
	if _, err := PercentDiv(uint256.NewInt(8), 0); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow on zero divisor, got %v", err)
	}
}

func TestRayWadConversionIsLossy(t *testing.T) {
	wad := dec(t, "1234500000000000000")
	ray, err := WadToRay(wad)
	if err != nil {
		t.Fatalf("wad to ray: %v", err)
	}
	back, err := RayToWad(ray)
	if err != nil {
		t.Fatalf("ray to wad: %v", err)
	}
	if !back.Eq(wad) {
		t.Fatalf("round trip mismatch: %s != %s", back, wad)
	}

	// The low nine digits are dropped with half-up rounding.
	lossy := dec(t, "1000000000500000000")
	got, err := RayToWad(lossy)
	if err != nil {
		t.Fatalf("ray to wad: %v", err)
	}
	if got.Uint64() != 1_000_000_001 {
		t.Fatalf("unexpected rounding: %d", got.Uint64())
	}
}

func TestOverflowIsReported(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Add(max, uint256.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected add overflow, got %v", err)
	}
	if _, err := Sub(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected sub underflow, got %v", err)
	}
	if _, err := RayMul(max, RAY); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ray mul overflow, got %v", err)
	}
	if _, err := WadDiv(max, uint256.NewInt(3)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected wad div overflow, got %v", err)
	}
	if _, err := RayDiv(uint256.NewInt(1), new(uint256.Int)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected division by zero error, got %v", err)
	}
}

func TestScaledRoundTripWithinOneUnit(t *testing.T) {
	index := dec(t, "1037144444444444444444444444")
	for _, amount := range []uint64{1, 7, 999, 1_000_000_000_000_000_000, 123_456_789_012_345_678} {
		nominal := uint256.NewInt(amount)
		scaled, err := RayDiv(nominal, index)
		if err != nil {
			t.Fatalf("ray div: %v", err)
		}
		back, err := RayMul(scaled, index)
		if err != nil {
			t.Fatalf("ray mul: %v", err)
		}
		diff := new(uint256.Int)
		if back.Cmp(nominal) >= 0 {
			diff.Sub(back, nominal)
		} else {
			diff.Sub(nominal, back)
		}
		if diff.Cmp(uint256.NewInt(1)) > 0 {
			t.Fatalf("amount %d: round trip drifted by %s", amount, diff)
		}
	}
}
