package market

import "math/big"

// TokenUnit scales curve summations into base units of the settlement token.
// The constant assumes an 18-decimal token; the native settlement ledger is
// defined with 18 decimals so the assumption holds by construction.
var TokenUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	bigOne = big.NewInt(1)
	bigTwo = big.NewInt(2)
	bigSix = big.NewInt(6)
)

// sumSquares returns the closed-form sum of i*i for i in [0, n-1], i.e.
// (n-1)*n*(2n-1)/6, with sumSquares(0) = 0.
func sumSquares(n *big.Int) *big.Int {
	if n == nil || n.Sign() <= 0 {
		return big.NewInt(0)
	}
	nMinusOne := new(big.Int).Sub(n, bigOne)
	twoNMinusOne := new(big.Int).Mul(n, bigTwo)
	twoNMinusOne.Sub(twoNMinusOne, bigOne)
	out := new(big.Int).Mul(nMinusOne, n)
	out.Mul(out, twoNMinusOne)
	return out.Div(out, bigSix)
}

// curveSummation computes the definite sum of squares traversed when moving
// the supply from `supply` to `supply+amount`. The first share of a fresh
// subject (supply 0, amount 1) is always free: the upper bound is forced to
// zero instead of evaluating the closed form below its domain.
func curveSummation(supply, amount *big.Int) *big.Int {
	sum1 := sumSquares(supply)
	var sum2 *big.Int
	if supply.Sign() == 0 && amount.Cmp(bigOne) == 0 {
		sum2 = big.NewInt(0)
	} else {
		sum2 = sumSquares(new(big.Int).Add(supply, amount))
	}
	return sum2.Sub(sum2, sum1)
}

// BasePrice returns the pre-fee price for trading `amount` shares starting at
// `supply`, scaled by TokenUnit and the selected curve multiplier.
func BasePrice(supply, amount, multiplier *big.Int) *big.Int {
	price := curveSummation(supply, amount)
	price.Mul(price, TokenUnit)
	if multiplier != nil {
		price.Mul(price, multiplier)
	}
	return price
}
