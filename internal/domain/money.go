package domain

import (
	"math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FeeDenominator is the basis-point scale of fee rates.
const FeeDenominator = 10_000

// ComputeFee returns floor(amount * rateBps / 10000) for any basis-point
// rate. An int64 times a uint32 stays below 2^95, so the 256-bit product is
// exact; a fee that no longer fits in int64 fails with ErrMathOverflow.
func ComputeFee(amount int64, rateBps uint32) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	product := new(uint256.Int).Mul(uint256.NewInt(uint64(amount)), uint256.NewInt(uint64(rateBps)))
	fee := product.Div(product, uint256.NewInt(FeeDenominator))
	if !fee.IsUint64() || fee.Uint64() > math.MaxInt64 {
		return 0, ErrMathOverflow
	}
	return int64(fee.Uint64()), nil
}

// SplitPayout divides an escrowed amount into the buyer's share and the fee.
// A rate above 100% fails with ErrInvalidFeeRate.
func SplitPayout(amount int64, rateBps uint32) (payout, fee int64, err error) {
	if rateBps > FeeDenominator {
		return 0, 0, ErrInvalidFeeRate
	}
	fee, err = ComputeFee(amount, rateBps)
	if err != nil {
		return 0, 0, err
	}
	return amount - fee, fee, nil
}

// ExchangeRate returns fiat per token, rounded to 8 decimal places.
// A non-positive token amount yields zero.
func ExchangeRate(fiat, token int64) decimal.Decimal {
	if token <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(fiat).DivRound(decimal.NewFromInt(token), 8)
}

// RateWithin reports whether fiat/token lies in [min, max]. The comparison
// multiplies out instead of dividing so it is exact.
func RateWithin(fiat, token int64, min, max decimal.Decimal) bool {
	if token <= 0 {
		return false
	}
	f := decimal.NewFromInt(fiat)
	t := decimal.NewFromInt(token)
	return f.GreaterThanOrEqual(min.Mul(t)) && f.LessThanOrEqual(max.Mul(t))
}

// FormatTokenAmount renders minor units with the token's decimals, e.g.
// 1500000 with 6 decimals is "1.5".
func FormatTokenAmount(amount int64, decimals uint8) string {
	return decimal.New(amount, -int32(decimals)).String()
}
