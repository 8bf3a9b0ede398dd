package ledger

import (
	"context"
	"sync"
	"time"
)

// Participant is state that stages writes inside a Tx and applies or drops
// them when the Tx finishes. Tables, cells, and the event outbox implement it.
type Participant interface {
	Commit()
	Discard()
}

// Host runs invocations one at a time. Each invocation gets a Tx whose
// staged writes are committed only when the invocation returns nil.
type Host struct {
	mu  sync.RWMutex
	now func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithClock overrides the clock used to stamp transactions.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		h.now = now
	}
}

// NewHost creates a Host.
func NewHost(opts ...Option) *Host {
	h := &Host{now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type txKey struct{}

// Invoke runs fn inside a write transaction. If ctx already carries an open
// transaction from this host, fn joins it instead of opening a new one, so a
// nested call sees every write its caller made so far. A failed nested call
// leaves its writes staged, so its caller must fail too.
func (h *Host) Invoke(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*Tx); ok && tx.host == h && tx.writable {
		return fn(ctx, tx)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tx := &Tx{host: h, at: h.now().UTC(), writable: true}
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		tx.discard()
		return err
	}
	tx.commit()
	return nil
}

// View runs fn inside a read-only transaction. A view nested in an open
// invocation reads through that invocation's transaction. Invoke must not be
// called from inside a View.
func (h *Host) View(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*Tx); ok && tx.host == h {
		return fn(ctx, tx)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	tx := &Tx{host: h, at: h.now().UTC()}
	return fn(context.WithValue(ctx, txKey{}, tx), tx)
}

// Tx is the write-set of a single invocation.
type Tx struct {
	host        *Host
	at          time.Time
	writable    bool
	enlisted    []Participant
	afterCommit []func()
}

// At returns the timestamp the transaction was opened at.
func (tx *Tx) At() time.Time {
	return tx.at
}

// Enlist registers p so it is committed or discarded with the transaction.
// Participants must enlist only once per transaction; write-side helpers
// track that through their owner field.
func (tx *Tx) Enlist(p Participant) {
	if !tx.writable {
		panic("ledger: write in read-only transaction")
	}
	tx.enlisted = append(tx.enlisted, p)
}

// AfterCommit schedules fn to run once the transaction has been committed,
// still under the host lock. It never runs for a discarded transaction.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

func (tx *Tx) commit() {
	for _, p := range tx.enlisted {
		p.Commit()
	}
	for _, fn := range tx.afterCommit {
		fn()
	}
	tx.enlisted = nil
	tx.afterCommit = nil
}

func (tx *Tx) discard() {
	for _, p := range tx.enlisted {
		p.Discard()
	}
	tx.enlisted = nil
	tx.afterCommit = nil
}
