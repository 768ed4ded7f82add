package market

import (
	"encoding/hex"
	"errors"
	"hash/fnv"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"sharemarket/core/events"
	"sharemarket/core/types"
)

var (
	ErrNilState           = errors.New("market engine: state not configured")
	ErrMarketAccountUnset = errors.New("market engine: market account not configured")
	ErrParamsNotFound     = errors.New("market engine: params not initialised")
	ErrInvalidAmount      = errors.New("market engine: amount must be positive")
	ErrInvalidCurve       = errors.New("market engine: curve index must be between 1 and 3")
	ErrInvalidRate        = errors.New("market engine: fee rate must be a non-negative integer")
	ErrUnauthorized       = errors.New("market engine: only the subject can buy the first share")
	ErrNotOwner           = errors.New("market engine: caller is not the market owner")
	ErrInsufficientShares = errors.New("market engine: insufficient share balance")
	ErrSupplyFloor        = errors.New("market engine: cannot sell down to zero supply")
	ErrStaleState         = errors.New("market engine: state changed during trade")
)

// TradeState is one atomic unit of work over the market books and the
// settlement token. Nothing becomes visible to other operations until Commit;
// Discard drops every staged mutation, including token legs.
type TradeState interface {
	SubjectGet(addr [20]byte) (*Subject, bool, error)
	SubjectPut(subject *Subject) error
	PositionGet(subject, holder [20]byte) (*Position, bool, error)
	PositionPut(position *Position) error
	PositionDelete(subject, holder [20]byte) error
	ParamsGet() (*Params, bool, error)
	ParamsPut(params *Params) error
	// TokenTransferFrom draws on the payer's allowance granted to the
	// spender; the market passes its own custody account as spender for the
	// buy-side legs.
	TokenTransferFrom(spender, payer, recipient [20]byte, amount *big.Int) error
	// TokenTransfer moves funds the sender already holds; sell-side legs are
	// paid out of the market custody account.
	TokenTransfer(from, recipient [20]byte, amount *big.Int) error
	Commit() error
	Discard()
}

// State opens atomic trade-state transactions against the underlying store.
type State interface {
	Begin() (TradeState, error)
}

const lockStripes = 64

// maxTradeAttempts bounds how often a trade is re-run after its commit lost a
// race on the shared settlement accounts. Each retry recomputes the trade
// against fresh state.
const maxTradeAttempts = 32

/// Engine is the trade ledger: it prices trades on the locked curve, splits
// fees, mutates supply and balance books, and settles all token legs within
// one transaction per operation.
type Engine struct {
	state         State
	emitter       events.Emitter
	marketAccount [20]byte
	newID         func() string

	locks   [lockStripes]sync.Mutex
	adminMu sync.Mutex
}

// NewEngine constructs a market engine with default dependencies.
func NewEngine(state State) *Engine {
	return &Engine{
		state:   state,
		emitter: events.NoopEmitter{},
		newID:   uuid.NewString,
	}
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMarketAccount configures the custody account holding the pooled base
// prices accumulated from buys.
func (e *Engine) SetMarketAccount(addr [20]byte) { e.marketAccount = addr }

// SetIDFunc overrides receipt identifier generation for deterministic testing.
func (e *Engine) SetIDFunc(fn func() string) {
	if fn == nil {
		e.newID = uuid.NewString
		return
	}
	e.newID = fn
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) lockFor(subject [20]byte) *sync.Mutex {
	h := fnv.New32a()
	h.Write(subject[:])
	return &e.locks[h.Sum32()%lockStripes]
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}

func loadParams(st TradeState) (*Params, error) {
	params, ok, err := st.ParamsGet()
	if err != nil {
		return nil, err
	}
	if !ok || params == nil {
		return nil, ErrParamsNotFound
	}
	return params, nil
}

// EnsureParams writes the supplied defaults if no params record exists yet.
// Multipliers must be strictly positive at configuration time.
func (e *Engine) EnsureParams(defaults *Params) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if defaults == nil {
		return ErrParamsNotFound
	}
	for _, m := range defaults.CurveMultipliers {
		if m == nil || m.Sign() <= 0 {
			return errors.New("market engine: curve multipliers must be strictly positive")
		}
	}
	if defaults.ProtocolFeeRate == nil || defaults.ProtocolFeeRate.Sign() < 0 ||
		defaults.SubjectFeeRate == nil || defaults.SubjectFeeRate.Sign() < 0 {
		return ErrInvalidRate
	}
	st, err := e.state.Begin()
	if err != nil {
		return err
	}
	defer st.Discard()
	if _, ok, err := st.ParamsGet(); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := st.ParamsPut(defaults.Clone()); err != nil {
		return err
	}
	return st.Commit()
}

// Buy purchases `amount` shares of the subject for the trader. The first
// purchase of a fresh subject must come from the subject itself and locks the
// requested curve for the lifetime of the subject. Trades on distinct
// subjects run concurrently; a commit that loses a race on the settlement
// token accounts surfaces as ErrStaleState and the trade is retried.
func (e *Engine) Buy(trader, subject [20]byte, amount *big.Int, requestedCurve uint8) (*TradeReceipt, error) {
	for attempt := 1; ; attempt++ {
		receipt, err := e.buyOnce(trader, subject, amount, requestedCurve)
		if errors.Is(err, ErrStaleState) && attempt < maxTradeAttempts {
			continue
		}
		return receipt, err
	}
}

func (e *Engine) buyOnce(trader, subject [20]byte, amount *big.Int, requestedCurve uint8) (*TradeReceipt, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if isZeroAddress(e.marketAccount) {
		return nil, ErrMarketAccountUnset
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	mu := e.lockFor(subject)
	mu.Lock()
	defer mu.Unlock()

	st, err := e.state.Begin()
	if err != nil {
		return nil, err
	}
	defer st.Discard()

	params, err := loadParams(st)
	if err != nil {
		return nil, err
	}
	sub, ok, err := st.SubjectGet(subject)
	if err != nil {
		return nil, err
	}
	if !ok || sub == nil {
		sub = &Subject{Addr: subject, Supply: big.NewInt(0)}
	}
	if sub.Supply == nil {
		sub.Supply = big.NewInt(0)
	}
	supply := new(big.Int).Set(sub.Supply)

	if supply.Sign() == 0 {
		if trader != subject {
			return nil, ErrUnauthorized
		}
		if requestedCurve < CurveMinIndex || requestedCurve > CurveMaxIndex {
			return nil, ErrInvalidCurve
		}
		sub.CurveIndex = requestedCurve
	}
	effectiveCurve := sub.CurveIndex
	if effectiveCurve == CurveUnset {
		effectiveCurve = CurveMinIndex
	}
	multiplier := params.Multiplier(effectiveCurve)

	basePrice := BasePrice(supply, amount, multiplier)
	protocolFee, subjectFee := SplitFees(basePrice, params.ProtocolFeeRate, params.SubjectFeeRate)

	pos, ok, err := st.PositionGet(subject, trader)
	if err != nil {
		return nil, err
	}
	if !ok || pos == nil {
		pos = &Position{Subject: subject, Holder: trader, Shares: big.NewInt(0)}
	}
	if pos.Shares == nil {
		pos.Shares = big.NewInt(0)
	}
	pos.Shares = new(big.Int).Add(pos.Shares, amount)
	if err := st.PositionPut(pos); err != nil {
		return nil, err
	}
	sub.Supply = new(big.Int).Add(supply, amount)
	if err := st.SubjectPut(sub); err != nil {
		return nil, err
	}

	if basePrice.Sign() > 0 {
		if err := st.TokenTransferFrom(e.marketAccount, trader, e.marketAccount, basePrice); err != nil {
			return nil, err
		}
	}
	if protocolFee.Sign() > 0 {
		if err := st.TokenTransferFrom(e.marketAccount, trader, params.FeeDestination, protocolFee); err != nil {
			return nil, err
		}
	}
	if subjectFee.Sign() > 0 {
		if err := st.TokenTransferFrom(e.marketAccount, trader, subject, subjectFee); err != nil {
			return nil, err
		}
	}

	receipt := &TradeReceipt{
		ID:          e.newID(),
		Trader:      trader,
		Subject:     subject,
		IsBuy:       true,
		Amount:      new(big.Int).Set(amount),
		BasePrice:   basePrice,
		ProtocolFee: protocolFee,
		SubjectFee:  subjectFee,
		Supply:      new(big.Int).Set(sub.Supply),
		Multiplier:  multiplier,
	}
	if err := st.Commit(); err != nil {
		return nil, err
	}
	e.emit(TradeEvent(receipt, hexAddr(trader), hexAddr(subject)))
	return receipt, nil
}

// Sell redeems `amount` shares held by the trader. The last outstanding share
// of a subject can never be sold: the resulting supply must stay positive.
// Like Buy, a commit that loses a settlement race is retried.
func (e *Engine) Sell(trader, subject [20]byte, amount *big.Int) (*TradeReceipt, error) {
	for attempt := 1; ; attempt++ {
		receipt, err := e.sellOnce(trader, subject, amount)
		if errors.Is(err, ErrStaleState) && attempt < maxTradeAttempts {
			continue
		}
		return receipt, err
	}
}

func (e *Engine) sellOnce(trader, subject [20]byte, amount *big.Int) (*TradeReceipt, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if isZeroAddress(e.marketAccount) {
		return nil, ErrMarketAccountUnset
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	mu := e.lockFor(subject)
	mu.Lock()
	defer mu.Unlock()

	st, err := e.state.Begin()
	if err != nil {
		return nil, err
	}
	defer st.Discard()

	params, err := loadParams(st)
	if err != nil {
		return nil, err
	}
	sub, ok, err := st.SubjectGet(subject)
	if err != nil {
		return nil, err
	}
	if !ok || sub == nil || sub.Supply == nil {
		sub = &Subject{Addr: subject, Supply: big.NewInt(0)}
	}
	supply := new(big.Int).Set(sub.Supply)

	pos, ok, err := st.PositionGet(subject, trader)
	if err != nil {
		return nil, err
	}
	if !ok || pos == nil || pos.Shares == nil || pos.Shares.Cmp(amount) < 0 {
		return nil, ErrInsufficientShares
	}
	// The last outstanding share can never be sold, so the resulting supply
	// stays strictly positive.
	if supply.Cmp(amount) <= 0 {
		return nil, ErrSupplyFloor
	}

	effectiveCurve := sub.CurveIndex
	if effectiveCurve == CurveUnset {
		effectiveCurve = CurveMinIndex
	}
	multiplier := params.Multiplier(effectiveCurve)

	newSupply := new(big.Int).Sub(supply, amount)
	basePrice := BasePrice(newSupply, amount, multiplier)
	protocolFee, subjectFee := SplitFees(basePrice, params.ProtocolFeeRate, params.SubjectFeeRate)
	payout := SellPayout(basePrice, protocolFee, subjectFee)

	pos.Shares = new(big.Int).Sub(pos.Shares, amount)
	if pos.Shares.Sign() == 0 {
		if err := st.PositionDelete(subject, trader); err != nil {
			return nil, err
		}
	} else {
		if err := st.PositionPut(pos); err != nil {
			return nil, err
		}
	}
	sub.Supply = newSupply
	if err := st.SubjectPut(sub); err != nil {
		return nil, err
	}

	if payout.Sign() > 0 {
		if err := st.TokenTransfer(e.marketAccount, trader, payout); err != nil {
			return nil, err
		}
	}
	if protocolFee.Sign() > 0 {
		if err := st.TokenTransfer(e.marketAccount, params.FeeDestination, protocolFee); err != nil {
			return nil, err
		}
	}
	if subjectFee.Sign() > 0 {
		if err := st.TokenTransfer(e.marketAccount, subject, subjectFee); err != nil {
			return nil, err
		}
	}

	receipt := &TradeReceipt{
		ID:          e.newID(),
		Trader:      trader,
		Subject:     subject,
		IsBuy:       false,
		Amount:      new(big.Int).Set(amount),
		BasePrice:   basePrice,
		ProtocolFee: protocolFee,
		SubjectFee:  subjectFee,
		Supply:      new(big.Int).Set(newSupply),
		Multiplier:  multiplier,
	}
	if err := st.Commit(); err != nil {
		return nil, err
	}
	e.emit(TradeEvent(receipt, hexAddr(trader), hexAddr(subject)))
	return receipt, nil
}

// --- Administrative operations (owner-gated) ---

func (e *Engine) updateParams(caller [20]byte, apply func(*Params) (string, string, error)) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	st, err := e.state.Begin()
	if err != nil {
		return err
	}
	defer st.Discard()

	params, err := loadParams(st)
	if err != nil {
		return err
	}
	if caller != params.Owner {
		return ErrNotOwner
	}
	field, value, err := apply(params)
	if err != nil {
		return err
	}
	if err := st.ParamsPut(params); err != nil {
		return err
	}
	if err := st.Commit(); err != nil {
		return err
	}
	e.emit(ParamsUpdatedEvent(field, value))
	return nil
}

// SetFeeDestination updates the account receiving protocol fees.
func (e *Engine) SetFeeDestination(caller, destination [20]byte) error {
	return e.updateParams(caller, func(p *Params) (string, string, error) {
		p.FeeDestination = destination
		return "feeDestination", hexAddr(destination), nil
	})
}

// SetProtocolFeeRate updates the protocol fee fraction (scaled by FeeBase).
func (e *Engine) SetProtocolFeeRate(caller [20]byte, rate *big.Int) error {
	return e.updateParams(caller, func(p *Params) (string, string, error) {
		if rate == nil || rate.Sign() < 0 {
			return "", "", ErrInvalidRate
		}
		p.ProtocolFeeRate = new(big.Int).Set(rate)
		return "protocolFeeRate", rate.String(), nil
	})
}

// SetSubjectFeeRate updates the subject fee fraction (scaled by FeeBase).
func (e *Engine) SetSubjectFeeRate(caller [20]byte, rate *big.Int) error {
	return e.updateParams(caller, func(p *Params) (string, string, error) {
		if rate == nil || rate.Sign() < 0 {
			return "", "", ErrInvalidRate
		}
		p.SubjectFeeRate = new(big.Int).Set(rate)
		return "subjectFeeRate", rate.String(), nil
	})
}

// --- Read operations ---

func (e *Engine) withView(fn func(TradeState) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	st, err := e.state.Begin()
	if err != nil {
		return err
	}
	defer st.Discard()
	return fn(st)
}

func quoteCurve(st TradeState, subject [20]byte) (*big.Int, uint8, *Params, error) {
	params, err := loadParams(st)
	if err != nil {
		return nil, 0, nil, err
	}
	sub, ok, err := st.SubjectGet(subject)
	if err != nil {
		return nil, 0, nil, err
	}
	supply := big.NewInt(0)
	curve := CurveMinIndex
	if ok && sub != nil {
		if sub.Supply != nil {
			supply = new(big.Int).Set(sub.Supply)
		}
		if sub.CurveIndex != CurveUnset {
			curve = sub.CurveIndex
		}
	}
	return supply, curve, params, nil
}

// QuoteBuy returns the pre-fee price for buying `amount` shares at the current
// supply. Subjects with no locked curve are quoted on curve one.
func (e *Engine) QuoteBuy(subject [20]byte, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var price *big.Int
	err := e.withView(func(st TradeState) error {
		supply, curve, params, err := quoteCurve(st, subject)
		if err != nil {
			return err
		}
		price = BasePrice(supply, amount, params.Multiplier(curve))
		return nil
	})
	return price, err
}

// QuoteBuyAfterFees returns the total a buyer would pay, fees included.
func (e *Engine) QuoteBuyAfterFees(subject [20]byte, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var total *big.Int
	err := e.withView(func(st TradeState) error {
		supply, curve, params, err := quoteCurve(st, subject)
		if err != nil {
			return err
		}
		base := BasePrice(supply, amount, params.Multiplier(curve))
		protocolFee, subjectFee := SplitFees(base, params.ProtocolFeeRate, params.SubjectFeeRate)
		total = BuyCost(base, protocolFee, subjectFee)
		return nil
	})
	return total, err
}

// QuoteSell returns the pre-fee price for selling `amount` shares, priced at
// the supply level the sale would leave behind.
func (e *Engine) QuoteSell(subject [20]byte, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var price *big.Int
	err := e.withView(func(st TradeState) error {
		supply, curve, params, err := quoteCurve(st, subject)
		if err != nil {
			return err
		}
		if supply.Cmp(amount) < 0 {
			return ErrInvalidAmount
		}
		price = BasePrice(new(big.Int).Sub(supply, amount), amount, params.Multiplier(curve))
		return nil
	})
	return price, err
}

// QuoteSellAfterFees returns the net a seller would receive, fees deducted.
func (e *Engine) QuoteSellAfterFees(subject [20]byte, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var net *big.Int
	err := e.withView(func(st TradeState) error {
		supply, curve, params, err := quoteCurve(st, subject)
		if err != nil {
			return err
		}
		if supply.Cmp(amount) < 0 {
			return ErrInvalidAmount
		}
		base := BasePrice(new(big.Int).Sub(supply, amount), amount, params.Multiplier(curve))
		protocolFee, subjectFee := SplitFees(base, params.ProtocolFeeRate, params.SubjectFeeRate)
		net = SellPayout(base, protocolFee, subjectFee)
		return nil
	})
	return net, err
}

// Supply returns the outstanding share supply for the subject.
func (e *Engine) Supply(subject [20]byte) (*big.Int, error) {
	supply := big.NewInt(0)
	err := e.withView(func(st TradeState) error {
		sub, ok, err := st.SubjectGet(subject)
		if err != nil {
			return err
		}
		if ok && sub != nil && sub.Supply != nil {
			supply = new(big.Int).Set(sub.Supply)
		}
		return nil
	})
	return supply, err
}

// SharesBalance returns the holder's share count for the subject.
func (e *Engine) SharesBalance(subject, holder [20]byte) (*big.Int, error) {
	shares := big.NewInt(0)
	err := e.withView(func(st TradeState) error {
		pos, ok, err := st.PositionGet(subject, holder)
		if err != nil {
			return err
		}
		if ok && pos != nil && pos.Shares != nil {
			shares = new(big.Int).Set(pos.Shares)
		}
		return nil
	})
	return shares, err
}

// Curve returns the locked curve index for the subject, or CurveUnset.
func (e *Engine) Curve(subject [20]byte) (uint8, error) {
	curve := CurveUnset
	err := e.withView(func(st TradeState) error {
		sub, ok, err := st.SubjectGet(subject)
		if err != nil {
			return err
		}
		if ok && sub != nil {
			curve = sub.CurveIndex
		}
		return nil
	})
	return curve, err
}

// Params returns a copy of the current market configuration.
func (e *Engine) Params() (*Params, error) {
	var params *Params
	err := e.withView(func(st TradeState) error {
		loaded, err := loadParams(st)
		if err != nil {
			return err
		}
		params = loaded.Clone()
		return nil
	})
	return params, err
}
