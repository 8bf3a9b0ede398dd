package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Defaults applied by initialize.
const (
	DefaultFeeRate        uint32 = 25 // 0.25%
	MaxFeeRate            uint32 = 1000
	DefaultMinTradeAmount int64  = 1_000_000
	DefaultMaxTradeAmount int64  = 1_000_000_000_000
	TradeAmountCeiling    int64  = 1_000_000_000_000_000_000
)

var (
	DefaultMinExchangeRate = decimal.RequireFromString("0.0001")
	DefaultMaxExchangeRate = decimal.RequireFromString("1000000")
)

// Settings is the escrow's configuration record.
type Settings struct {
	Admin           common.Address
	PendingAdmin    common.Address // proposed by UpdateAdmin, zero when none
	Token           common.Address
	FeeCollector    common.Address
	FeeRate         uint32 // basis points
	MinTradeAmount  int64
	MaxTradeAmount  int64
	MinExchangeRate decimal.Decimal
	MaxExchangeRate decimal.Decimal
	Paused          bool
}

// NewSettings returns settings with the protocol defaults.
func NewSettings(admin, token, feeCollector common.Address) Settings {
	return Settings{
		Admin:           admin,
		Token:           token,
		FeeCollector:    feeCollector,
		FeeRate:         DefaultFeeRate,
		MinTradeAmount:  DefaultMinTradeAmount,
		MaxTradeAmount:  DefaultMaxTradeAmount,
		MinExchangeRate: DefaultMinExchangeRate,
		MaxExchangeRate: DefaultMaxExchangeRate,
	}
}

// ValidateAddress rejects the zero address for field.
func ValidateAddress(field string, addr common.Address) error {
	if addr == (common.Address{}) {
		return &ValidationError{Message: field + " must not be the zero address"}
	}
	return nil
}

// ValidateFeeRate checks a fee rate in basis points.
func ValidateFeeRate(bps uint32) error {
	if bps > MaxFeeRate {
		return ErrInvalidFeeRate
	}
	return nil
}

// ValidateTradeLimits checks a [min, max] token amount range.
func ValidateTradeLimits(min, max int64) error {
	if min <= 0 || max <= 0 || min > max || max > TradeAmountCeiling {
		return ErrInvalidTradeLimits
	}
	return nil
}

// ValidateRateBounds checks a [min, max] exchange-rate range.
func ValidateRateBounds(min, max decimal.Decimal) error {
	if !min.IsPositive() || !max.IsPositive() || min.GreaterThan(max) {
		return ErrInvalidRateBounds
	}
	return nil
}

// CheckOffer validates offer amounts against the settings.
func (s Settings) CheckOffer(tokenAmount, fiatAmount int64) error {
	if tokenAmount <= 0 || fiatAmount <= 0 {
		return ErrInvalidAmount
	}
	if tokenAmount < s.MinTradeAmount || tokenAmount > s.MaxTradeAmount {
		return ErrInvalidAmount
	}
	if !RateWithin(fiatAmount, tokenAmount, s.MinExchangeRate, s.MaxExchangeRate) {
		return ErrInvalidExchangeRate
	}
	return nil
}
