package rpc

import (
	"net/http"
)

type tokenApproveParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type tokenTransferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type tokenBalanceParams struct {
	Address string `json:"address"`
}

type tokenAllowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params tokenApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := decodeBech32(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	spender, err := decodeBech32(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spender address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.tokens.Approve(owner, spender, amount); err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"owner":     params.Owner,
		"spender":   params.Spender,
		"allowance": amount.String(),
	})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params tokenTransferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := decodeBech32(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid sender address", err.Error())
		return
	}
	to, err := decodeBech32(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.tokens.Transfer(from, to, amount); err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"from":   params.From,
		"to":     params.To,
		"amount": amount.String(),
	})
}

func (s *Server) handleTokenGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, err := s.tokens.BalanceOf(addr)
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"address": params.Address, "balance": bigString(balance)})
}

func (s *Server) handleTokenGetAllowance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenAllowanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := decodeBech32(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	spender, err := decodeBech32(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spender address", err.Error())
		return
	}
	allowance, err := s.tokens.Allowance(owner, spender)
	if err != nil {
		s.writeEngineError(w, req, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"owner":     params.Owner,
		"spender":   params.Spender,
		"allowance": bigString(allowance),
	})
}
