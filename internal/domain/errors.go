package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrOfferNotFound         = errors.New("offer_not_found")
	ErrTradeNotFound         = errors.New("trade_not_found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidExchangeRate   = errors.New("invalid_exchange_rate")
	ErrAlreadyHasActiveOffer = errors.New("already_has_active_offer")
	ErrActiveTradeExists     = errors.New("active_trade_exists")
	ErrTokenTransferFailed   = errors.New("token_transfer_failed")
	ErrInsufficientAllowance = errors.New("insufficient_allowance")
	ErrReentrancyDetected    = errors.New("reentrancy_detected")
	ErrPaused                = errors.New("contract_paused")
	ErrMathOverflow          = errors.New("math_overflow")
	ErrNotInitialized        = errors.New("not_initialized")
	ErrAlreadyInitialized    = errors.New("already_initialized")
	ErrInvalidTokenAddress   = errors.New("invalid_token_address")
	ErrInvalidFeeRate        = errors.New("invalid_fee_rate")
	ErrInvalidTradeLimits    = errors.New("invalid_trade_limits")
	ErrInvalidRateBounds     = errors.New("invalid_rate_bounds")
	ErrWebhookNotFound       = errors.New("webhook_not_found")
)

// coded lists sentinels in match priority. Wrapped transfer failures carry
// both ErrTokenTransferFailed and their cause, so the wrapper comes first.
var coded = []error{
	ErrTokenTransferFailed,
	ErrReentrancyDetected,
	ErrOfferNotFound,
	ErrTradeNotFound,
	ErrUnauthorized,
	ErrInvalidStatus,
	ErrInvalidAmount,
	ErrInvalidExchangeRate,
	ErrAlreadyHasActiveOffer,
	ErrActiveTradeExists,
	ErrInsufficientAllowance,
	ErrPaused,
	ErrMathOverflow,
	ErrNotInitialized,
	ErrAlreadyInitialized,
	ErrInvalidTokenAddress,
	ErrInvalidFeeRate,
	ErrInvalidTradeLimits,
	ErrInvalidRateBounds,
	ErrWebhookNotFound,
}

// Code returns the stable snake_case code for err: "ok" for nil,
// "validation_error" for a ValidationError, the sentinel's text for a known
// sentinel, and "internal_error" otherwise.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return "validation_error"
	}
	for _, sentinel := range coded {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal_error"
}

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
