package market

import (
	"math/big"
	"testing"
)

func mulUnit(n int64, multiplier int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(n), TokenUnit)
	return out.Mul(out, big.NewInt(multiplier))
}

func TestSumSquaresClosedForm(t *testing.T) {
	cases := []struct {
		n    int64
		want int64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 5},
		{4, 14},
		{10, 285},
	}
	for _, tc := range cases {
		got := sumSquares(big.NewInt(tc.n))
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("sumSquares(%d) = %s, want %d", tc.n, got, tc.want)
		}
	}
}

func TestFirstShareIsFree(t *testing.T) {
	for multiplier := int64(1); multiplier <= 4; multiplier *= 2 {
		price := BasePrice(big.NewInt(0), big.NewInt(1), big.NewInt(multiplier))
		if price.Sign() != 0 {
			t.Fatalf("first share priced at %s with multiplier %d, want 0", price, multiplier)
		}
	}
}

func TestBasePriceFromZeroSupply(t *testing.T) {
	// Buying 2 shares from supply 0 traverses sumSquares(2) - sumSquares(0) = 1.
	price := BasePrice(big.NewInt(0), big.NewInt(2), big.NewInt(1))
	if price.Cmp(mulUnit(1, 1)) != 0 {
		t.Fatalf("price(0, 2) = %s, want %s", price, mulUnit(1, 1))
	}
}

func TestBasePriceScalesWithMultiplier(t *testing.T) {
	base := BasePrice(big.NewInt(1), big.NewInt(2), big.NewInt(1))
	scaled := BasePrice(big.NewInt(1), big.NewInt(2), big.NewInt(4))
	want := new(big.Int).Mul(base, big.NewInt(4))
	if scaled.Cmp(want) != 0 {
		t.Fatalf("multiplier scaling mismatch: got %s, want %s", scaled, want)
	}
}

func TestBasePriceKnownValues(t *testing.T) {
	// Supply 1, amount 2: sumSquares(3) - sumSquares(1) = 5.
	price := BasePrice(big.NewInt(1), big.NewInt(2), big.NewInt(1))
	if price.Cmp(mulUnit(5, 1)) != 0 {
		t.Fatalf("price(1, 2) = %s, want %s", price, mulUnit(5, 1))
	}
	// Supply 3, amount 1: sumSquares(4) - sumSquares(3) = 9.
	price = BasePrice(big.NewInt(3), big.NewInt(1), big.NewInt(2))
	if price.Cmp(mulUnit(9, 2)) != 0 {
		t.Fatalf("price(3, 1) = %s, want %s", price, mulUnit(9, 2))
	}
}

func TestBasePricePathIndependent(t *testing.T) {
	// Buying a+b shares in one trade must cost the same as buying a then b,
	// since the price is a definite sum between two supply bounds.
	for supply := int64(1); supply <= 20; supply++ {
		for a := int64(1); a <= 4; a++ {
			for b := int64(1); b <= 4; b++ {
				combined := BasePrice(big.NewInt(supply), big.NewInt(a+b), big.NewInt(3))
				first := BasePrice(big.NewInt(supply), big.NewInt(a), big.NewInt(3))
				second := BasePrice(big.NewInt(supply+a), big.NewInt(b), big.NewInt(3))
				split := new(big.Int).Add(first, second)
				if combined.Cmp(split) != 0 {
					t.Fatalf("path dependence at supply %d (%d+%d): combined %s split %s", supply, a, b, combined, split)
				}
			}
		}
	}
}

func TestCurveSummationMonotonic(t *testing.T) {
	prev := big.NewInt(-1)
	for supply := int64(1); supply <= 50; supply++ {
		price := curveSummation(big.NewInt(supply), big.NewInt(1))
		if price.Cmp(prev) <= 0 {
			t.Fatalf("summation not increasing at supply %d: %s <= %s", supply, price, prev)
		}
		prev = price
	}
}
