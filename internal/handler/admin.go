package handler

import (
	"net/http"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AdminHandler handles contract info and governance endpoints.
type AdminHandler struct {
	eng *engine.Engine
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(eng *engine.Engine) *AdminHandler {
	return &AdminHandler{eng: eng}
}

type feeRateRequest struct {
	FeeRateBps *uint32 `json:"fee_rate_bps"`
}

type tradeLimitsRequest struct {
	MinTradeAmount int64 `json:"min_trade_amount"`
	MaxTradeAmount int64 `json:"max_trade_amount"`
}

type rateBoundsRequest struct {
	MinExchangeRate string `json:"min_exchange_rate"`
	MaxExchangeRate string `json:"max_exchange_rate"`
}

type addressRequest struct {
	Address string `json:"address"`
}

// settingsResponse is the escrow configuration.
type settingsResponse struct {
	Admin           string  `json:"admin"`
	PendingAdmin    *string `json:"pending_admin"`
	Token           string  `json:"token"`
	FeeCollector    string  `json:"fee_collector"`
	FeeRateBps      uint32  `json:"fee_rate_bps"`
	MinTradeAmount  int64   `json:"min_trade_amount"`
	MaxTradeAmount  int64   `json:"max_trade_amount"`
	MinExchangeRate string  `json:"min_exchange_rate"`
	MaxExchangeRate string  `json:"max_exchange_rate"`
	Paused          bool    `json:"paused"`
}

// contractResponse is the JSON response for GET /contract.
type contractResponse struct {
	Address       string           `json:"address"`
	Settings      settingsResponse `json:"settings"`
	NextOfferID   uint64           `json:"next_offer_id"`
	NextTradeID   uint64           `json:"next_trade_id"`
	CustodyAmount int64            `json:"custody_amount"`
	OpenOffers    int              `json:"open_offers"`
}

type pausedResponse struct {
	Paused bool `json:"paused"`
}

// Info handles GET /contract.
func (h *AdminHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.eng.ContractInfo(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, contractResponse{
		Address:       info.Address.Hex(),
		Settings:      buildSettingsResponse(info.Settings),
		NextOfferID:   info.NextOfferID,
		NextTradeID:   info.NextTradeID,
		CustodyAmount: info.CustodyAmount,
		OpenOffers:    info.OpenOffers,
	})
}

// Pause handles POST /admin/pause.
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Pause(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pausedResponse{Paused: true})
}

// Unpause handles POST /admin/unpause.
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Unpause(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pausedResponse{Paused: false})
}

// UpdateFeeRate handles PUT /admin/fee-rate.
func (h *AdminHandler) UpdateFeeRate(w http.ResponseWriter, r *http.Request) {
	var req feeRateRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.FeeRateBps == nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "fee_rate_bps is required")
		return
	}
	h.writeSettings(w)(h.eng.UpdateFeeRate(r.Context(), *req.FeeRateBps))
}

// UpdateTradeLimits handles PUT /admin/trade-limits.
func (h *AdminHandler) UpdateTradeLimits(w http.ResponseWriter, r *http.Request) {
	var req tradeLimitsRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h.writeSettings(w)(h.eng.UpdateTradeLimits(r.Context(), req.MinTradeAmount, req.MaxTradeAmount))
}

// UpdateRateBounds handles PUT /admin/rate-bounds.
func (h *AdminHandler) UpdateRateBounds(w http.ResponseWriter, r *http.Request) {
	var req rateBoundsRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	minRate, err := decimal.NewFromString(req.MinExchangeRate)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "min_exchange_rate must be a decimal string")
		return
	}
	maxRate, err := decimal.NewFromString(req.MaxExchangeRate)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "max_exchange_rate must be a decimal string")
		return
	}
	h.writeSettings(w)(h.eng.UpdateRateBounds(r.Context(), minRate, maxRate))
}

// UpdateFeeCollector handles PUT /admin/fee-collector.
func (h *AdminHandler) UpdateFeeCollector(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		mapError(w, err)
		return
	}
	h.writeSettings(w)(h.eng.UpdateFeeCollector(r.Context(), addr))
}

// UpdateAdmin handles PUT /admin/admin. It only proposes the new admin.
func (h *AdminHandler) UpdateAdmin(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		mapError(w, err)
		return
	}
	h.writeSettings(w)(h.eng.UpdateAdmin(r.Context(), addr))
}

// AcceptAdmin handles POST /admin/accept, signed by the proposed admin.
func (h *AdminHandler) AcceptAdmin(w http.ResponseWriter, r *http.Request) {
	h.writeSettings(w)(h.eng.AcceptAdmin(r.Context()))
}

func (h *AdminHandler) writeSettings(w http.ResponseWriter) func(domain.Settings, error) {
	return func(s domain.Settings, err error) {
		if err != nil {
			mapError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, buildSettingsResponse(s))
	}
}

func buildSettingsResponse(s domain.Settings) settingsResponse {
	var pending *string
	if s.PendingAdmin != (common.Address{}) {
		hex := s.PendingAdmin.Hex()
		pending = &hex
	}
	return settingsResponse{
		PendingAdmin:    pending,
		Admin:           s.Admin.Hex(),
		Token:           s.Token.Hex(),
		FeeCollector:    s.FeeCollector.Hex(),
		FeeRateBps:      s.FeeRate,
		MinTradeAmount:  s.MinTradeAmount,
		MaxTradeAmount:  s.MaxTradeAmount,
		MinExchangeRate: s.MinExchangeRate.String(),
		MaxExchangeRate: s.MaxExchangeRate.String(),
		Paused:          s.Paused,
	}
}
