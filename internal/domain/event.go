package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names an escrow event published through the outbox.
type EventType string

const (
	EventOfferCreated        EventType = "offer.created"
	EventOfferCancelled      EventType = "offer.cancelled"
	EventTradeInitiated      EventType = "trade.initiated"
	EventPaymentConfirmed    EventType = "trade.payment_confirmed"
	EventTradeCompleted      EventType = "trade.completed"
	EventTradeCancelled      EventType = "trade.cancelled"
	EventDisputeRaised       EventType = "trade.disputed"
	EventDisputeResolved     EventType = "dispute.resolved"
	EventContractInitialized EventType = "contract.initialized"
	EventContractPaused      EventType = "contract.paused"
	EventContractUnpaused    EventType = "contract.unpaused"
	EventConfigUpdated       EventType = "config.updated"
)

// EventTypes lists every event type in publication order of the lifecycle.
var EventTypes = []EventType{
	EventOfferCreated,
	EventOfferCancelled,
	EventTradeInitiated,
	EventPaymentConfirmed,
	EventTradeCompleted,
	EventTradeCancelled,
	EventDisputeRaised,
	EventDisputeResolved,
	EventContractInitialized,
	EventContractPaused,
	EventContractUnpaused,
	EventConfigUpdated,
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	for _, t := range EventTypes {
		if t == e {
			return true
		}
	}
	return false
}

// Event is an outbox record. Seq, ID and OccurredAt are assigned on append.
type Event struct {
	Seq        uint64
	ID         string
	Type       EventType
	OccurredAt time.Time
	OfferID    *uint64
	TradeID    *uint64
	Actor      common.Address
	Parties    []common.Address
	Amount     int64
	Fee        int64
	Resolution DisputeResolution
	// Detail carries the changed setting for config.updated events.
	Detail string
}

// Involves reports whether addr is one of the event's parties.
func (e Event) Involves(addr common.Address) bool {
	for _, p := range e.Parties {
		if p == addr {
			return true
		}
	}
	return false
}

// ID64 returns a pointer to v for optional event identifiers.
func ID64(v uint64) *uint64 {
	return &v
}
