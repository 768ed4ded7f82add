package state

import (
	"errors"
	"math/big"

	"sharemarket/native/market"
	"sharemarket/native/token"
)

var (
	marketSubjectPrefix  = []byte("market/subject/")
	marketPositionPrefix = []byte("market/position/")
	marketParamsKey      = []byte("market/params")
)

func subjectKey(addr [20]byte) []byte {
	return append(append([]byte{}, marketSubjectPrefix...), addr[:]...)
}

func positionKey(subject, holder [20]byte) []byte {
	key := append(append([]byte{}, marketPositionPrefix...), subject[:]...)
	return append(key, holder[:]...)
}

// MarketState adapts the manager to the market engine's transactional state
// contract. Each Begin opens one overlay transaction shared by the share
// books and the settlement token ledger, so a failed settlement leg rolls
// back the share mutations staged in the same operation.
type MarketState struct {
	mgr *Manager
}

// NewMarketState binds the market engine state contract to a manager.
func NewMarketState(mgr *Manager) *MarketState {
	return &MarketState{mgr: mgr}
}

// Begin implements market.State.
func (s *MarketState) Begin() (market.TradeState, error) {
	txn := s.mgr.Begin()
	return &books{txn: txn, token: token.NewLedger(txn)}, nil
}

type books struct {
	txn   *Txn
	token *token.Ledger
}

func normalizeBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func (b *books) SubjectGet(addr [20]byte) (*market.Subject, bool, error) {
	var subject market.Subject
	ok, err := b.txn.KVGet(subjectKey(addr), &subject)
	if err != nil || !ok {
		return nil, false, err
	}
	return &subject, true, nil
}

func (b *books) SubjectPut(subject *market.Subject) error {
	stored := subject.Clone()
	stored.Supply = normalizeBig(stored.Supply)
	return b.txn.KVPut(subjectKey(stored.Addr), stored)
}

func (b *books) PositionGet(subject, holder [20]byte) (*market.Position, bool, error) {
	var position market.Position
	ok, err := b.txn.KVGet(positionKey(subject, holder), &position)
	if err != nil || !ok {
		return nil, false, err
	}
	return &position, true, nil
}

func (b *books) PositionPut(position *market.Position) error {
	stored := position.Clone()
	stored.Shares = normalizeBig(stored.Shares)
	return b.txn.KVPut(positionKey(stored.Subject, stored.Holder), stored)
}

func (b *books) PositionDelete(subject, holder [20]byte) error {
	return b.txn.KVDelete(positionKey(subject, holder))
}

func (b *books) ParamsGet() (*market.Params, bool, error) {
	var params market.Params
	ok, err := b.txn.KVGet(marketParamsKey, &params)
	if err != nil || !ok {
		return nil, false, err
	}
	return &params, true, nil
}

func (b *books) ParamsPut(params *market.Params) error {
	stored := params.Clone()
	stored.ProtocolFeeRate = normalizeBig(stored.ProtocolFeeRate)
	stored.SubjectFeeRate = normalizeBig(stored.SubjectFeeRate)
	for i := range stored.CurveMultipliers {
		stored.CurveMultipliers[i] = normalizeBig(stored.CurveMultipliers[i])
	}
	return b.txn.KVPut(marketParamsKey, stored)
}

func (b *books) TokenTransferFrom(spender, payer, recipient [20]byte, amount *big.Int) error {
	return b.token.TransferFrom(spender, payer, recipient, amount)
}

func (b *books) TokenTransfer(from, recipient [20]byte, amount *big.Int) error {
	return b.token.Transfer(from, recipient, amount)
}

func (b *books) Commit() error {
	if err := b.txn.Commit(); err != nil {
		if errors.Is(err, ErrConflict) {
			return market.ErrStaleState
		}
		return err
	}
	return nil
}

func (b *books) Discard() { b.txn.Discard() }
