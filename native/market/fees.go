package market

import "math/big"

// FeeBase is the fixed scaling denominator for fee rates: a rate of FeeBase
// corresponds to 100% of the base price. Rates are independent of the
// settlement token's own decimal precision.
var FeeBase = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// SplitFees computes the protocol and subject fee portions of a base price.
// Division truncates, which always favours the fee destinations over the
// trader.
func SplitFees(basePrice, protocolRate, subjectRate *big.Int) (*big.Int, *big.Int) {
	protocolFee := big.NewInt(0)
	subjectFee := big.NewInt(0)
	if basePrice == nil || basePrice.Sign() <= 0 {
		return protocolFee, subjectFee
	}
	if protocolRate != nil && protocolRate.Sign() > 0 {
		protocolFee.Mul(basePrice, protocolRate)
		protocolFee.Div(protocolFee, FeeBase)
	}
	if subjectRate != nil && subjectRate.Sign() > 0 {
		subjectFee.Mul(basePrice, subjectRate)
		subjectFee.Div(subjectFee, FeeBase)
	}
	return protocolFee, subjectFee
}

// BuyCost returns the total a buyer pays: base price plus both fees.
func BuyCost(basePrice, protocolFee, subjectFee *big.Int) *big.Int {
	total := new(big.Int).Set(basePrice)
	total.Add(total, protocolFee)
	return total.Add(total, subjectFee)
}

// SellPayout returns the net a seller receives: base price minus both fees.
func SellPayout(basePrice, protocolFee, subjectFee *big.Int) *big.Int {
	net := new(big.Int).Set(basePrice)
	net.Sub(net, protocolFee)
	return net.Sub(net, subjectFee)
}
