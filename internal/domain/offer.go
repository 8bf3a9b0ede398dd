package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OfferStatus tracks what the escrow behind an offer is committed to.
type OfferStatus string

const (
	// OfferStatusOpen offers are available for matching.
	OfferStatusOpen OfferStatus = "open"
	// OfferStatusMatched offers are earmarked for a non-terminal trade.
	OfferStatusMatched OfferStatus = "matched"
	// OfferStatusSettled offers had their escrow paid out or refunded by a
	// terminal trade. Cancelling one moves no funds.
	OfferStatusSettled OfferStatus = "settled"
)

// Offer is a seller's escrowed token amount advertised against a fiat amount.
type Offer struct {
	ID          uint64
	Seller      common.Address
	TokenAmount int64 // token minor units
	FiatAmount  int64 // fiat minor units
	Status      OfferStatus
	CreatedAt   time.Time
}

// ExchangeRate returns fiat units per token unit.
func (o Offer) ExchangeRate() decimal.Decimal {
	return ExchangeRate(o.FiatAmount, o.TokenAmount)
}

// HoldsEscrow reports whether the contract still custodies the offer's tokens.
func (o Offer) HoldsEscrow() bool {
	return o.Status != OfferStatusSettled
}
