package outbox

import (
	"context"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes each event on <prefix>.<event type>, for example
// p2pescrow.trade.completed.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Name implements Sink.
func (p *NATSPublisher) Name() string { return "nats" }

// Subject returns the subject ev is published on.
func (p *NATSPublisher) Subject(ev domain.Event) string {
	return p.prefix + "." + string(ev.Type)
}

// Deliver implements Sink.
func (p *NATSPublisher) Deliver(_ context.Context, ev domain.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(ev), payload)
}

// Close flushes buffered publishes to the server, then closes the
// connection. It returns the flush error, if any.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	defer p.nc.Close()
	return p.nc.Flush()
}
