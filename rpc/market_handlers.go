package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"sharemarket/crypto"
	"sharemarket/native/market"
	"sharemarket/observability"
)

type tradeParams struct {
	Trader  string `json:"trader"`
	Subject string `json:"subject"`
	Amount  string `json:"amount"`
	Curve   uint8  `json:"curve,omitempty"`
}

type quoteParams struct {
	Subject string `json:"subject"`
	Amount  string `json:"amount"`
}

type subjectParams struct {
	Subject string `json:"subject"`
}

type sharesParams struct {
	Subject string `json:"subject"`
	Holder  string `json:"holder"`
}

type setDestinationParams struct {
	Caller      string `json:"caller"`
	Destination string `json:"destination"`
}

type setRateParams struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
}

type tradeResult struct {
	ID          string `json:"id"`
	Trader      string `json:"trader"`
	Subject     string `json:"subject"`
	IsBuy       bool   `json:"isBuy"`
	Amount      string `json:"amount"`
	BasePrice   string `json:"basePrice"`
	ProtocolFee string `json:"protocolFee"`
	SubjectFee  string `json:"subjectFee"`
	Supply      string `json:"supply"`
	Multiplier  string `json:"multiplier"`
}

type quoteResult struct {
	Subject string `json:"subject"`
	Amount  string `json:"amount"`
	Price   string `json:"price"`
}

type paramsResult struct {
	Owner            string   `json:"owner"`
	FeeDestination   string   `json:"feeDestination"`
	ProtocolFeeRate  string   `json:"protocolFeeRate"`
	SubjectFeeRate   string   `json:"subjectFeeRate"`
	CurveMultipliers []string `json:"curveMultipliers"`
}

func decodeBech32(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func formatAddress(addr [20]byte) string {
	return crypto.MustAddress(addr).String()
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatReceipt(receipt *market.TradeReceipt) tradeResult {
	return tradeResult{
		ID:          receipt.ID,
		Trader:      formatAddress(receipt.Trader),
		Subject:     formatAddress(receipt.Subject),
		IsBuy:       receipt.IsBuy,
		Amount:      bigString(receipt.Amount),
		BasePrice:   bigString(receipt.BasePrice),
		ProtocolFee: bigString(receipt.ProtocolFee),
		SubjectFee:  bigString(receipt.SubjectFee),
		Supply:      bigString(receipt.Supply),
		Multiplier:  bigString(receipt.Multiplier),
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}

func (s *Server) writeEngineError(w http.ResponseWriter, req *RPCRequest, method string, err error) {
	code := errorCode(err)
	observability.RPCMetrics().RecordError(method, strconv.Itoa(code))
	writeError(w, errorStatus(code), req.ID, code, err.Error(), nil)
}

func (s *Server) handleBuyShares(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params tradeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	trader, err := decodeBech32(params.Trader)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid trader address", err.Error())
		return
	}
	subject, err := decodeBech32(params.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid subject address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receipt, err := s.engine.Buy(trader, subject, amount, params.Curve)
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, formatReceipt(receipt))
}

func (s *Server) handleSellShares(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params tradeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	trader, err := decodeBech32(params.Trader)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid trader address", err.Error())
		return
	}
	subject, err := decodeBech32(params.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid subject address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receipt, err := s.engine.Sell(trader, subject, amount)
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, formatReceipt(receipt))
}

func (s *Server) handleSetFeeDestination(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params setDestinationParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	destination, err := decodeBech32(params.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid destination address", err.Error())
		return
	}
	if err := s.engine.SetFeeDestination(caller, destination); err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"feeDestination": params.Destination})
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request, req *RPCRequest, set func([20]byte, *big.Int) error, field string) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params setRateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	rate, ok := new(big.Int).SetString(strings.TrimSpace(params.Rate), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "rate must be a base-10 integer", nil)
		return
	}
	if err := set(caller, rate); err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{field: rate.String()})
}

func (s *Server) handleSetProtocolFeeRate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleSetRate(w, r, req, s.engine.SetProtocolFeeRate, "protocolFeeRate")
}

func (s *Server) handleSetSubjectFeeRate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleSetRate(w, r, req, s.engine.SetSubjectFeeRate, "subjectFeeRate")
}

func (s *Server) handleQuote(w http.ResponseWriter, req *RPCRequest, quote func([20]byte, *big.Int) (*big.Int, error)) {
	var params quoteParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	subject, err := decodeBech32(params.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid subject address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := quote(subject, amount)
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, quoteResult{Subject: params.Subject, Amount: amount.String(), Price: bigString(price)})
}

func (s *Server) handleGetBuyPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleQuote(w, req, s.engine.QuoteBuy)
}

func (s *Server) handleGetBuyPriceAfterFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleQuote(w, req, s.engine.QuoteBuyAfterFees)
}

func (s *Server) handleGetSellPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleQuote(w, req, s.engine.QuoteSell)
}

func (s *Server) handleGetSellPriceAfterFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleQuote(w, req, s.engine.QuoteSellAfterFees)
}

func (s *Server) handleGetSupply(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params subjectParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	subject, err := decodeBech32(params.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid subject address", err.Error())
		return
	}
	supply, err := s.engine.Supply(subject)
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"subject": params.Subject, "supply": bigString(supply)})
}

func (s *Server) handleGetShares(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params sharesParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	subject, err := decodeBech32(params.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid subject address", err.Error())
		return
	}
	holder, err := decodeBech32(params.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid holder address", err.Error())
		return
	}
	shares, err := s.engine.SharesBalance(subject, holder)
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"subject": params.Subject,
		"holder":  params.Holder,
		"shares":  bigString(shares),
	})
}

func (s *Server) handleGetCurve(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params subjectParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	subject, err := decodeBech32(params.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid subject address", err.Error())
		return
	}
	curve, err := s.engine.Curve(subject)
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"subject": params.Subject, "curve": curve})
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params, err := s.engine.Params()
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	multipliers := make([]string, 0, len(params.CurveMultipliers))
	for _, m := range params.CurveMultipliers {
		multipliers = append(multipliers, bigString(m))
	}
	writeResult(w, req.ID, paramsResult{
		Owner:            formatAddress(params.Owner),
		FeeDestination:   formatAddress(params.FeeDestination),
		ProtocolFeeRate:  bigString(params.ProtocolFeeRate),
		SubjectFeeRate:   bigString(params.SubjectFeeRate),
		CurveMultipliers: multipliers,
	})
}
