package handler

import (
	"net/http"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/engine"
	"github.com/go-chi/chi/v5"
)

// OfferHandler handles HTTP requests for offer endpoints.
type OfferHandler struct {
	eng *engine.Engine
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(eng *engine.Engine) *OfferHandler {
	return &OfferHandler{eng: eng}
}

// createOfferRequest is the JSON request body for POST /offers. The seller
// is the request signer.
type createOfferRequest struct {
	TokenAmount int64 `json:"token_amount"`
	FiatAmount  int64 `json:"fiat_amount"`
}

// offerResponse is a single offer. Amounts are minor units; the exchange
// rate is fiat units per token unit.
type offerResponse struct {
	OfferID      uint64 `json:"offer_id"`
	Seller       string `json:"seller"`
	TokenAmount  int64  `json:"token_amount"`
	FiatAmount   int64  `json:"fiat_amount"`
	ExchangeRate string `json:"exchange_rate"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

// offerListResponse is the JSON response for GET /offers.
type offerListResponse struct {
	Offers []offerResponse `json:"offers"`
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// rateLevelResponse is one aggregated exchange rate on the book.
type rateLevelResponse struct {
	ExchangeRate string `json:"exchange_rate"`
	TotalTokens  int64  `json:"total_tokens"`
	OfferCount   int    `json:"offer_count"`
}

// depthResponse is the JSON response for GET /offers/depth.
type depthResponse struct {
	Levels []rateLevelResponse `json:"levels"`
}

// sellerOfferResponse is the JSON response for GET /sellers/{address}/offer.
type sellerOfferResponse struct {
	Seller  string `json:"seller"`
	OfferID uint64 `json:"offer_id"`
}

// Create handles POST /offers.
func (h *OfferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, err := h.eng.CreateOffer(r.Context(), caller(r), req.TokenAmount, req.FiatAmount)
	if err != nil {
		mapError(w, err)
		return
	}

	offer, err := h.eng.GetOffer(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildOfferResponse(offer))
}

// List handles GET /offers.
func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		mapError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		mapError(w, err)
		return
	}
	if offset < 0 {
		WriteError(w, http.StatusBadRequest, "validation_error", "offset must be >= 0")
		return
	}
	if limit < 1 || limit > 100 {
		WriteError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 100")
		return
	}

	offers, total := h.eng.ListAvailableOffers(offset, limit)
	resp := offerListResponse{
		Offers: make([]offerResponse, len(offers)),
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}
	for i, o := range offers {
		resp.Offers[i] = buildOfferResponse(o)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Depth handles GET /offers/depth.
func (h *OfferHandler) Depth(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "levels", 10)
	if err != nil {
		mapError(w, err)
		return
	}
	if n < 1 || n > 100 {
		WriteError(w, http.StatusBadRequest, "validation_error", "levels must be between 1 and 100")
		return
	}

	levels := h.eng.OfferDepth(n)
	resp := depthResponse{Levels: make([]rateLevelResponse, len(levels))}
	for i, l := range levels {
		resp.Levels[i] = rateLevelResponse{
			ExchangeRate: l.Rate.String(),
			TotalTokens:  l.TotalTokens,
			OfferCount:   l.OfferCount,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /offers/{offer_id}.
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "offer_id")
	if err != nil {
		mapError(w, err)
		return
	}

	offer, err := h.eng.GetOffer(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOfferResponse(offer))
}

// Cancel handles DELETE /offers/{offer_id}.
func (h *OfferHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "offer_id")
	if err != nil {
		mapError(w, err)
		return
	}

	if err := h.eng.CancelOffer(r.Context(), caller(r), id); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SellerOffer handles GET /sellers/{address}/offer.
func (h *OfferHandler) SellerOffer(w http.ResponseWriter, r *http.Request) {
	seller, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		mapError(w, err)
		return
	}

	id, err := h.eng.GetSellerActiveOffer(r.Context(), seller)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sellerOfferResponse{Seller: seller.Hex(), OfferID: id})
}

func buildOfferResponse(o domain.Offer) offerResponse {
	return offerResponse{
		OfferID:      o.ID,
		Seller:       o.Seller.Hex(),
		TokenAmount:  o.TokenAmount,
		FiatAmount:   o.FiatAmount,
		ExchangeRate: o.ExchangeRate().String(),
		Status:       string(o.Status),
		CreatedAt:    formatTime(o.CreatedAt),
	}
}
