package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeStatus represents the lifecycle state of a trade.
type TradeStatus string

const (
	TradeStatusInitiated        TradeStatus = "initiated"
	TradeStatusPaymentConfirmed TradeStatus = "payment_confirmed"
	TradeStatusCompleted        TradeStatus = "completed"
	TradeStatusCancelled        TradeStatus = "cancelled"
	TradeStatusDisputed         TradeStatus = "disputed"
)

// transitions is the full edge set of the trade state machine.
var transitions = map[TradeStatus][]TradeStatus{
	TradeStatusInitiated:        {TradeStatusPaymentConfirmed, TradeStatusCancelled, TradeStatusDisputed},
	TradeStatusPaymentConfirmed: {TradeStatusCompleted, TradeStatusDisputed},
	TradeStatusDisputed:         {TradeStatusPaymentConfirmed, TradeStatusCompleted, TradeStatusCancelled},
}

// CanTransition reports whether the state machine has an edge from s to next.
// Disputed reaches Completed through PaymentConfirmed when resolution
// releases to the buyer.
func (s TradeStatus) CanTransition(next TradeStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusCompleted || s == TradeStatusCancelled
}

// Valid reports whether s is a known status.
func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusInitiated, TradeStatusPaymentConfirmed, TradeStatusCompleted,
		TradeStatusCancelled, TradeStatusDisputed:
		return true
	}
	return false
}

// Trade is a buyer's match against an offer.
type Trade struct {
	ID              uint64
	OfferID         uint64
	Buyer           common.Address
	Seller          common.Address
	TokenAmount     int64
	FiatAmount      int64
	Status          TradeStatus
	BuyerConfirmed  bool
	SellerConfirmed bool
	DisputedBy      *common.Address
	Resolution      DisputeResolution
	StartTime       time.Time
	UpdatedAt       time.Time
}

// IsParty reports whether addr is the trade's buyer or seller.
func (t Trade) IsParty(addr common.Address) bool {
	return addr == t.Buyer || addr == t.Seller
}

// DisputeResolution is the admin's ruling on a disputed trade.
type DisputeResolution string

const (
	ResolutionReleaseToBuyer DisputeResolution = "release_to_buyer"
	ResolutionRefundToSeller DisputeResolution = "refund_to_seller"
)

// Valid reports whether r is a known resolution.
func (r DisputeResolution) Valid() bool {
	return r == ResolutionReleaseToBuyer || r == ResolutionRefundToSeller
}
