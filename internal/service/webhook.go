package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/outbox"
	"github.com/efreitasn/p2pescrow/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	Subscriber common.Address
	URL        string
	Events     []string
}

// WebhookService handles webhook CRUD and delivers escrow events to the
// parties they involve. It is an outbox sink.
type WebhookService struct {
	store  *store.WebhookStore
	client *http.Client
	logger *slog.Logger
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(webhookStore *store.WebhookStore, webhookTimeout time.Duration, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		store: webhookStore,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		logger: logger,
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if err := validateWebhookURL(req.URL); err != nil {
		return nil, false, err
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[domain.EventType]bool, len(req.Events))
	events := make([]domain.EventType, 0, len(req.Events))
	for _, raw := range req.Events {
		event := domain.EventType(raw)
		if !event.Valid() {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + raw + ". Must be one of: " + eventTypeList(),
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(events))

	for _, event := range events {
		w := &domain.Webhook{
			WebhookID:  uuid.New().String(),
			Subscriber: req.Subscriber,
			Event:      event,
			URL:        req.URL,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if s.store.Upsert(w) {
			anyCreated = true
			webhooks = append(webhooks, w)
			continue
		}
		if existing := s.store.GetBySubscriberEvent(req.Subscriber, event); existing != nil {
			webhooks = append(webhooks, existing)
		}
	}

	return webhooks, anyCreated, nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return &domain.ValidationError{Message: "url is required"}
	}
	if len(raw) > 2048 {
		return &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil || !parsed.IsAbs() {
		return &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return &domain.ValidationError{Message: "url must use https scheme"}
	}
	return nil
}

func eventTypeList() string {
	names := make([]string, len(domain.EventTypes))
	for i, e := range domain.EventTypes {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}

// List returns all webhook subscriptions of subscriber.
func (s *WebhookService) List(subscriber common.Address) []*domain.Webhook {
	return s.store.ListBySubscriber(subscriber)
}

// Delete removes one of subscriber's webhook subscriptions.
func (s *WebhookService) Delete(subscriber common.Address, webhookID string) error {
	w, err := s.store.Get(webhookID)
	if err != nil {
		return err
	}
	if w.Subscriber != subscriber {
		return domain.ErrUnauthorized
	}
	return s.store.Delete(webhookID)
}

// Name implements outbox.Sink.
func (s *WebhookService) Name() string { return "webhook" }

// Deliver posts ev to every party it involves that subscribed to its type.
// A failing endpoint is logged and skipped, so a dead subscriber never
// holds back delivery to the others.
func (s *WebhookService) Deliver(ctx context.Context, ev domain.Event) error {
	var body []byte
	notified := make(map[common.Address]bool, len(ev.Parties))

	for _, party := range ev.Parties {
		if notified[party] {
			continue
		}
		notified[party] = true

		wh := s.store.GetBySubscriberEvent(party, ev.Type)
		if wh == nil {
			continue
		}
		if body == nil {
			var err error
			if body, err = outbox.Encode(ev); err != nil {
				return err
			}
		}
		if err := s.deliver(ctx, wh, ev, body); err != nil {
			s.logger.Warn("webhook delivery failed",
				slog.String("webhook_id", wh.WebhookID),
				slog.String("event", string(ev.Type)),
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// deliver sends the event payload via HTTP POST with the delivery headers.
func (s *WebhookService) deliver(ctx context.Context, wh *domain.Webhook, ev domain.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", string(ev.Type))
	req.Header.Set("X-Event-Id", ev.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
