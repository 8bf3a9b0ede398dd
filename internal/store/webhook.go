package store

import (
	"sync"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// WebhookStore is a thread-safe in-memory store for webhooks. Subscriptions
// are delivery configuration, not escrow state, so they live off the ledger.
// Primary index: webhook_id → webhook.
// Secondary index: subscriber → event → webhook.
type WebhookStore struct {
	mu           sync.RWMutex
	webhooks     map[string]*domain.Webhook                              // webhook_id → webhook
	bySubscriber map[common.Address]map[domain.EventType]*domain.Webhook // subscriber → event → webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks:     make(map[string]*domain.Webhook),
		bySubscriber: make(map[common.Address]map[domain.EventType]*domain.Webhook),
	}
}

// Upsert inserts or updates a webhook subscription keyed by (subscriber, event).
// If a subscription already exists for that pair, the URL and UpdatedAt are
// updated and the webhook_id stays stable. Returns true if a new
// subscription was created.
func (s *WebhookStore) Upsert(w *domain.Webhook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if events, ok := s.bySubscriber[w.Subscriber]; ok {
		if existing, ok := events[w.Event]; ok {
			if existing.URL != w.URL {
				existing.URL = w.URL
				existing.UpdatedAt = w.UpdatedAt
			}
			return false
		}
	}

	s.webhooks[w.WebhookID] = w
	if s.bySubscriber[w.Subscriber] == nil {
		s.bySubscriber[w.Subscriber] = make(map[domain.EventType]*domain.Webhook)
	}
	s.bySubscriber[w.Subscriber][w.Event] = w

	return true
}

// Get retrieves a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return w, nil
}

// ListBySubscriber returns all webhooks for a subscriber.
// Returns an empty slice if the subscriber has none.
func (s *WebhookStore) ListBySubscriber(sub common.Address) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.bySubscriber[sub]
	result := make([]*domain.Webhook, 0, len(events))
	for _, w := range events {
		result = append(result, w)
	}
	return result
}

// Delete removes a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)
	if events, ok := s.bySubscriber[w.Subscriber]; ok {
		delete(events, w.Event)
		if len(events) == 0 {
			delete(s.bySubscriber, w.Subscriber)
		}
	}
	return nil
}

// GetBySubscriberEvent returns the webhook for a subscriber+event pair,
// or nil if no subscription exists.
func (s *WebhookStore) GetBySubscriberEvent(sub common.Address, event domain.EventType) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.bySubscriber[sub]
	if events == nil {
		return nil
	}
	return events[event]
}
