package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sharemarket/native/market"
	"sharemarket/native/token"
	"sharemarket/observability"
	"sharemarket/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "MARKET_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the market engine and settlement token over JSON-RPC.
type Server struct {
	engine    *market.Engine
	tokens    *state.TokenService
	authToken string
}

// NewServer constructs a server; write methods require the bearer token from
// the MARKET_RPC_TOKEN environment variable when one is configured.
func NewServer(engine *market.Engine, tokens *state.TokenService) *Server {
	return &Server{
		engine:    engine,
		tokens:    tokens,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
	}
}

// Router mounts the JSON-RPC endpoint alongside health and metrics handlers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on the supplied address until the listener fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// errorCode maps engine and token sentinel errors onto JSON-RPC error codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, market.ErrUnauthorized), errors.Is(err, market.ErrNotOwner):
		return codeUnauthorized
	case errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, market.ErrInvalidCurve),
		errors.Is(err, market.ErrInvalidRate),
		errors.Is(err, market.ErrInsufficientShares),
		errors.Is(err, market.ErrSupplyFloor),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		return codeInvalidParams
	default:
		return codeServerError
	}
}

func errorStatus(code int) int {
	switch code {
	case codeUnauthorized:
		return http.StatusForbidden
	case codeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &authError{Code: codeUnauthorized, Message: "bearer token required"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &authError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

// handle is the main request handler that routes to specific method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		observability.RPCMetrics().RecordRequest(req.Method, "not_found")
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	handler(w, r, req)
	metrics := observability.RPCMetrics()
	metrics.RecordRequest(req.Method, "handled")
	metrics.ObserveLatency(req.Method, time.Since(start).Seconds())
}

type methodHandler func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"market_buyShares":            s.handleBuyShares,
		"market_sellShares":           s.handleSellShares,
		"market_setFeeDestination":    s.handleSetFeeDestination,
		"market_setProtocolFeeRate":   s.handleSetProtocolFeeRate,
		"market_setSubjectFeeRate":    s.handleSetSubjectFeeRate,
		"market_getBuyPrice":          s.handleGetBuyPrice,
		"market_getBuyPriceAfterFee":  s.handleGetBuyPriceAfterFee,
		"market_getSellPrice":         s.handleGetSellPrice,
		"market_getSellPriceAfterFee": s.handleGetSellPriceAfterFee,
		"market_getSupply":            s.handleGetSupply,
		"market_getShares":            s.handleGetShares,
		"market_getCurve":             s.handleGetCurve,
		"market_getParams":            s.handleGetParams,
		"token_approve":               s.handleTokenApprove,
		"token_transfer":              s.handleTokenTransfer,
		"token_getBalance":            s.handleTokenGetBalance,
		"token_getAllowance":          s.handleTokenGetAllowance,
	}
}
