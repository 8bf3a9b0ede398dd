package outbox

import (
	"encoding/json"
	"time"

	"github.com/efreitasn/p2pescrow/internal/domain"
)

// Envelope is the wire form of an event shared by every sink and the
// events endpoint.
type Envelope struct {
	ID        string           `json:"id"`
	Seq       uint64           `json:"seq"`
	Event     domain.EventType `json:"event"`
	Timestamp string           `json:"timestamp"`
	Data      EnvelopeData     `json:"data"`
}

// EnvelopeData carries the event payload. Amounts are token minor units.
type EnvelopeData struct {
	OfferID    *uint64  `json:"offer_id,omitempty"`
	TradeID    *uint64  `json:"trade_id,omitempty"`
	Actor      string   `json:"actor"`
	Parties    []string `json:"parties"`
	Amount     int64    `json:"amount"`
	Fee        int64    `json:"fee"`
	Resolution string   `json:"resolution,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

// NewEnvelope converts ev to its wire form.
func NewEnvelope(ev domain.Event) Envelope {
	parties := make([]string, 0, len(ev.Parties))
	for _, p := range ev.Parties {
		parties = append(parties, p.Hex())
	}
	return Envelope{
		ID:        ev.ID,
		Seq:       ev.Seq,
		Event:     ev.Type,
		Timestamp: ev.OccurredAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: EnvelopeData{
			OfferID:    ev.OfferID,
			TradeID:    ev.TradeID,
			Actor:      ev.Actor.Hex(),
			Parties:    parties,
			Amount:     ev.Amount,
			Fee:        ev.Fee,
			Resolution: string(ev.Resolution),
			Detail:     ev.Detail,
		},
	}
}

// Encode returns the JSON encoding of ev's envelope.
func Encode(ev domain.Event) ([]byte, error) {
	return json.Marshal(NewEnvelope(ev))
}
