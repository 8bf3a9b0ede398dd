package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

// statusByCode maps domain error codes to HTTP statuses. Codes not listed
// map to 500.
var statusByCode = map[string]int{
	"validation_error":         http.StatusBadRequest,
	"invalid_amount":           http.StatusBadRequest,
	"invalid_exchange_rate":    http.StatusBadRequest,
	"invalid_fee_rate":         http.StatusBadRequest,
	"invalid_trade_limits":     http.StatusBadRequest,
	"invalid_rate_bounds":      http.StatusBadRequest,
	"invalid_token_address":    http.StatusBadRequest,
	"math_overflow":            http.StatusBadRequest,
	"unauthorized":             http.StatusForbidden,
	"offer_not_found":          http.StatusNotFound,
	"trade_not_found":          http.StatusNotFound,
	"webhook_not_found":        http.StatusNotFound,
	"invalid_status":           http.StatusConflict,
	"already_has_active_offer": http.StatusConflict,
	"active_trade_exists":      http.StatusConflict,
	"already_initialized":      http.StatusConflict,
	"insufficient_allowance":   http.StatusConflict,
	"token_transfer_failed":    http.StatusConflict,
	"reentrancy_detected":      http.StatusConflict,
	"contract_paused":          http.StatusServiceUnavailable,
	"not_initialized":          http.StatusServiceUnavailable,
}

// tokenErrors are token contract failures surfaced by the token routes.
var tokenErrors = []error{
	token.ErrInsufficientBalance,
	token.ErrInsufficientAllowance,
	token.ErrNegativeAmount,
	token.ErrBalanceOverflow,
	token.ErrAccountFrozen,
}

// mapError writes the {error, message} response for err.
func mapError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	code := domain.Code(err)
	if code == "internal_error" {
		for _, tokenErr := range tokenErrors {
			if errors.Is(err, tokenErr) {
				status := http.StatusConflict
				if tokenErr == token.ErrNegativeAmount {
					status = http.StatusBadRequest
				}
				WriteError(w, status, tokenErr.Error(), err.Error())
				return
			}
		}
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}

	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	WriteError(w, status, code, err.Error())
}

// writeAuthError is the Verifier rejection writer.
func writeAuthError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
}

// caller returns the authenticated principal, or the zero address for an
// anonymous request. Operations invoked as the zero address fail
// unauthorized.
func caller(r *http.Request) common.Address {
	addr, _ := auth.Principal(r.Context())
	return addr
}

// parseAddress validates a hex address field.
func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, &domain.ValidationError{Message: field + " must be a hex address"}
	}
	return common.HexToAddress(raw), nil
}

// pathID parses a numeric URL parameter.
func pathID(r *http.Request, param string) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, param), 10, 64)
	if err != nil {
		return 0, &domain.ValidationError{Message: param + " must be a non-negative integer"}
	}
	return id, nil
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Message: name + " must be a valid integer"}
	}
	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
