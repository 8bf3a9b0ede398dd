package outbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Sink receives committed events in sequence order. An event whose Deliver
// failed is offered again on the next pass, so sinks must tolerate
// duplicates.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev domain.Event) error
}

// DeliveryRecorder receives delivery outcomes for metrics.
type DeliveryRecorder interface {
	Delivered(sink string, err error)
	Backlog(sink string, n int)
}

type nopDeliveryRecorder struct{}

func (nopDeliveryRecorder) Delivered(string, error) {}
func (nopDeliveryRecorder) Backlog(string, int)     {}

const (
	defaultRelayInterval = time.Second
	defaultRelayBatch    = 100
)

// Relay delivers committed events to sinks. Each sink has its own cursor,
// so a failing sink is retried on the next pass without holding back the
// others.
type Relay struct {
	log      *Log
	sinks    []Sink
	interval time.Duration
	batch    int
	logger   *slog.Logger
	rec      DeliveryRecorder

	mu      sync.Mutex
	cursors map[string]uint64
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithInterval sets how often the relay polls when no commit wakes it.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps the events delivered to one sink per pass.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = l }
}

// WithDeliveryRecorder attaches a metrics recorder.
func WithDeliveryRecorder(rec DeliveryRecorder) RelayOption {
	return func(r *Relay) { r.rec = rec }
}

// NewRelay creates a Relay reading from log.
func NewRelay(log *Log, sinks []Sink, opts ...RelayOption) *Relay {
	r := &Relay{
		log:      log,
		sinks:    sinks,
		interval: defaultRelayInterval,
		batch:    defaultRelayBatch,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		rec:      nopDeliveryRecorder{},
		cursors:  make(map[string]uint64, len(sinks)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run delivers events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.log.Notify():
		}
		if err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("event relay pass incomplete", slog.String("error", err.Error()))
		}
	}
}

// Flush runs one delivery pass over every sink and returns the first
// failure.
func (r *Relay) Flush(ctx context.Context) error {
	var g errgroup.Group
	for _, sink := range r.sinks {
		g.Go(func() error {
			return r.drain(ctx, sink)
		})
	}
	return g.Wait()
}

// Cursor returns the sequence number of the last event sink accepted.
func (r *Relay) Cursor(sink string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[sink]
}

func (r *Relay) drain(ctx context.Context, sink Sink) error {
	name := sink.Name()
	cursor := r.Cursor(name)
	defer func() {
		r.rec.Backlog(name, int(r.log.LastSeq()-r.Cursor(name)))
	}()

	for _, ev := range r.log.After(cursor, r.batch) {
		err := sink.Deliver(ctx, ev)
		r.rec.Delivered(name, err)
		if err != nil {
			r.logger.Warn("event delivery failed",
				slog.String("sink", name),
				slog.Uint64("seq", ev.Seq),
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%s: seq %d: %w", name, ev.Seq, err)
		}
		r.mu.Lock()
		r.cursors[name] = ev.Seq
		r.mu.Unlock()
	}
	return nil
}
