package handler

import (
	"context"
	"net/http"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/engine"
	"github.com/ethereum/go-ethereum/common"
)

// TradeHandler handles HTTP requests for trade and dispute endpoints.
type TradeHandler struct {
	eng *engine.Engine
}

// NewTradeHandler creates a new TradeHandler.
func NewTradeHandler(eng *engine.Engine) *TradeHandler {
	return &TradeHandler{eng: eng}
}

// initiateTradeRequest is the JSON request body for POST /trades. The buyer
// is the request signer.
type initiateTradeRequest struct {
	OfferID *uint64 `json:"offer_id"`
}

// resolveDisputeRequest is the JSON request body for
// POST /trades/{trade_id}/resolve.
type resolveDisputeRequest struct {
	Resolution string `json:"resolution"`
}

// tradeResponse is a single trade.
type tradeResponse struct {
	TradeID         uint64  `json:"trade_id"`
	OfferID         uint64  `json:"offer_id"`
	Buyer           string  `json:"buyer"`
	Seller          string  `json:"seller"`
	TokenAmount     int64   `json:"token_amount"`
	FiatAmount      int64   `json:"fiat_amount"`
	Status          string  `json:"status"`
	BuyerConfirmed  bool    `json:"buyer_confirmed"`
	SellerConfirmed bool    `json:"seller_confirmed"`
	DisputedBy      *string `json:"disputed_by"`
	Resolution      *string `json:"resolution"`
	StartTime       string  `json:"start_time"`
	UpdatedAt       string  `json:"updated_at"`
}

// tradeListResponse is the JSON response for GET /trades.
type tradeListResponse struct {
	Trades []tradeResponse `json:"trades"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// Initiate handles POST /trades.
func (h *TradeHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateTradeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.OfferID == nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "offer_id is required")
		return
	}

	id, err := h.eng.InitiateTrade(r.Context(), caller(r), *req.OfferID)
	if err != nil {
		mapError(w, err)
		return
	}

	trade, err := h.eng.GetTrade(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildTradeResponse(trade))
}

// List handles GET /trades.
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	party, err := parseAddress("party", r.URL.Query().Get("party"))
	if err != nil {
		mapError(w, err)
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		mapError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		mapError(w, err)
		return
	}
	if page < 1 {
		WriteError(w, http.StatusBadRequest, "validation_error", "page must be >= 1")
		return
	}
	if limit < 1 || limit > 100 {
		WriteError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 100")
		return
	}

	trades, total, err := h.eng.ListTrades(r.Context(), party, page, limit)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := tradeListResponse{
		Trades: make([]tradeResponse, len(trades)),
		Total:  total,
		Page:   page,
		Limit:  limit,
	}
	for i, t := range trades {
		resp.Trades[i] = buildTradeResponse(t)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /trades/{trade_id}.
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "trade_id")
	if err != nil {
		mapError(w, err)
		return
	}

	trade, err := h.eng.GetTrade(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildTradeResponse(trade))
}

// Confirm handles POST /trades/{trade_id}/confirm.
func (h *TradeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.partyAction(w, r, h.eng.ConfirmPayment)
}

// Cancel handles POST /trades/{trade_id}/cancel.
func (h *TradeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.partyAction(w, r, h.eng.CancelTrade)
}

// Dispute handles POST /trades/{trade_id}/dispute.
func (h *TradeHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	h.partyAction(w, r, h.eng.RaiseDispute)
}

// Resolve handles POST /trades/{trade_id}/resolve.
func (h *TradeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "trade_id")
	if err != nil {
		mapError(w, err)
		return
	}
	var req resolveDisputeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	trade, err := h.eng.ResolveDispute(r.Context(), id, domain.DisputeResolution(req.Resolution))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildTradeResponse(trade))
}

// partyAction runs a buyer-or-seller trade operation as the request signer.
func (h *TradeHandler) partyAction(w http.ResponseWriter, r *http.Request, op func(context.Context, uint64, common.Address) (domain.Trade, error)) {
	id, err := pathID(r, "trade_id")
	if err != nil {
		mapError(w, err)
		return
	}

	trade, err := op(r.Context(), id, caller(r))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildTradeResponse(trade))
}

func buildTradeResponse(t domain.Trade) tradeResponse {
	resp := tradeResponse{
		TradeID:         t.ID,
		OfferID:         t.OfferID,
		Buyer:           t.Buyer.Hex(),
		Seller:          t.Seller.Hex(),
		TokenAmount:     t.TokenAmount,
		FiatAmount:      t.FiatAmount,
		Status:          string(t.Status),
		BuyerConfirmed:  t.BuyerConfirmed,
		SellerConfirmed: t.SellerConfirmed,
		StartTime:       formatTime(t.StartTime),
		UpdatedAt:       formatTime(t.UpdatedAt),
	}
	if t.DisputedBy != nil {
		s := t.DisputedBy.Hex()
		resp.DisputedBy = &s
	}
	if t.Resolution != "" {
		s := string(t.Resolution)
		resp.Resolution = &s
	}
	return resp
}
