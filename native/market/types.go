package market

import "math/big"

// Curve indexes selectable by a subject on their first purchase. Index zero
// means no curve has been locked yet.
const (
	CurveUnset    uint8 = 0
	CurveMinIndex uint8 = 1
	CurveMaxIndex uint8 = 3
)

// Subject tracks the outstanding share supply and the locked pricing curve for
// a single traded account. Records are created lazily on first trade.
type Subject struct {
	Addr       [20]byte `json:"addr"`
	Supply     *big.Int `json:"supply"`
	CurveIndex uint8    `json:"curveIndex"`
}

// Clone returns a deep copy of the subject record.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Supply != nil {
		clone.Supply = new(big.Int).Set(s.Supply)
	}
	return &clone
}

// Position records how many shares of a subject a holder currently owns.
type Position struct {
	Subject [20]byte `json:"subject"`
	Holder  [20]byte `json:"holder"`
	Shares  *big.Int `json:"shares"`
}

// Clone returns a deep copy of the position record.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Shares != nil {
		clone.Shares = new(big.Int).Set(p.Shares)
	}
	return &clone
}

// Params holds the market-wide fee configuration and owner identity. Fee rates
// are fractions scaled by FeeBase; multipliers scale the three curve
// steepness options and must be strictly positive.
type Params struct {
	Owner            [20]byte    `json:"owner"`
	FeeDestination   [20]byte    `json:"feeDestination"`
	ProtocolFeeRate  *big.Int    `json:"protocolFeeRate"`
	SubjectFeeRate   *big.Int    `json:"subjectFeeRate"`
	CurveMultipliers [3]*big.Int `json:"curveMultipliers"`
}

// Clone returns a deep copy of the params record.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	if p.ProtocolFeeRate != nil {
		clone.ProtocolFeeRate = new(big.Int).Set(p.ProtocolFeeRate)
	}
	if p.SubjectFeeRate != nil {
		clone.SubjectFeeRate = new(big.Int).Set(p.SubjectFeeRate)
	}
	for i, m := range p.CurveMultipliers {
		if m != nil {
			clone.CurveMultipliers[i] = new(big.Int).Set(m)
		}
	}
	return &clone
}

// Multiplier resolves the scaling factor for the supplied curve index. An
// unset index falls back to curve one, matching the quoting default.
func (p *Params) Multiplier(curve uint8) *big.Int {
	idx := curve
	if idx < CurveMinIndex || idx > CurveMaxIndex {
		idx = CurveMinIndex
	}
	m := p.CurveMultipliers[idx-1]
	if m == nil {
		return big.NewInt(1)
	}
	return new(big.Int).Set(m)
}

// TradeReceipt summarises a settled buy or sell. The same fields are emitted
// as the trade event consumed by off-chain indexers.
type TradeReceipt struct {
	ID          string   `json:"id"`
	Trader      [20]byte `json:"trader"`
	Subject     [20]byte `json:"subject"`
	IsBuy       bool     `json:"isBuy"`
	Amount      *big.Int `json:"amount"`
	BasePrice   *big.Int `json:"basePrice"`
	ProtocolFee *big.Int `json:"protocolFee"`
	SubjectFee  *big.Int `json:"subjectFee"`
	Supply      *big.Int `json:"supply"`
	Multiplier  *big.Int `json:"multiplier"`
}
