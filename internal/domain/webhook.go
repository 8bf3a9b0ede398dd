package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Webhook represents a party's subscription to an escrow event type.
type Webhook struct {
	WebhookID  string
	Subscriber common.Address
	Event      EventType
	URL        string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
