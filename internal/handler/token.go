package handler

import (
	"net/http"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

// TokenHandler exposes the token contract the escrow settles in.
type TokenHandler struct {
	tok *token.Ledger
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(tok *token.Ledger) *TokenHandler {
	return &TokenHandler{tok: tok}
}

type tokenTransferRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  int64  `json:"amount"`
}

type tokenResponse struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	Minter      string `json:"minter"`
	TotalSupply int64  `json:"total_supply"`
}

type balanceResponse struct {
	Address   string `json:"address"`
	Balance   int64  `json:"balance"`
	Formatted string `json:"formatted"`
}

type allowanceResponse struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance int64  `json:"allowance"`
}

// Info handles GET /token.
func (h *TokenHandler) Info(w http.ResponseWriter, r *http.Request) {
	supply, err := h.tok.TotalSupply(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	meta := h.tok.Metadata()
	WriteJSON(w, http.StatusOK, tokenResponse{
		Address:     meta.Address.Hex(),
		Symbol:      meta.Symbol,
		Decimals:    meta.Decimals,
		Minter:      meta.Minter.Hex(),
		TotalSupply: supply,
	})
}

// Balance handles GET /token/balances/{address}.
func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		mapError(w, err)
		return
	}
	balance, err := h.tok.Balance(r.Context(), owner)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, balanceResponse{
		Address:   owner.Hex(),
		Balance:   balance,
		Formatted: domain.FormatTokenAmount(balance, h.tok.Decimals()),
	})
}

// Allowance handles GET /token/allowances/{owner}/{spender}.
func (h *TokenHandler) Allowance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		mapError(w, err)
		return
	}
	spender, err := parseAddress("spender", chi.URLParam(r, "spender"))
	if err != nil {
		mapError(w, err)
		return
	}
	allowance, err := h.tok.Allowance(r.Context(), owner, spender)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, allowanceResponse{
		Owner:     owner.Hex(),
		Spender:   spender.Hex(),
		Allowance: allowance,
	})
}

// Approve handles POST /token/approve. The owner is the request signer.
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		mapError(w, err)
		return
	}
	owner := caller(r)
	if err := h.tok.Approve(r.Context(), owner, spender, req.Amount); err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, allowanceResponse{
		Owner:     owner.Hex(),
		Spender:   spender.Hex(),
		Allowance: req.Amount,
	})
}

// Transfer handles POST /token/transfer from the request signer.
func (h *TokenHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, func(to common.Address, amount int64) error {
		return h.tok.Transfer(r.Context(), caller(r), to, amount)
	})
}

// Mint handles POST /token/mint. Only the token minter may call it.
func (h *TokenHandler) Mint(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, func(to common.Address, amount int64) error {
		return h.tok.Mint(r.Context(), to, amount)
	})
}

// move decodes a {to, amount} body, runs fn and answers with the
// recipient's new balance.
func (h *TokenHandler) move(w http.ResponseWriter, r *http.Request, fn func(to common.Address, amount int64) error) {
	var req tokenTransferRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		mapError(w, err)
		return
	}
	if err := fn(to, req.Amount); err != nil {
		mapError(w, err)
		return
	}
	balance, err := h.tok.Balance(r.Context(), to)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, balanceResponse{
		Address:   to.Hex(),
		Balance:   balance,
		Formatted: domain.FormatTokenAmount(balance, h.tok.Decimals()),
	})
}
