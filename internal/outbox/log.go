// Package outbox records escrow events inside the transaction that produced
// them and relays committed events to external sinks.
package outbox

import (
	"sync"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/google/uuid"
)

// Log is an append-only event log that participates in ledger transactions.
// Readers outside the host see only committed events.
type Log struct {
	mu      sync.RWMutex // guards events for readers outside the host lock
	events  []domain.Event
	owner   *ledger.Tx
	pending []domain.Event
	notify  chan struct{}
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{notify: make(chan struct{}, 1)}
}

// Append stages ev in tx, stamping its sequence number, id and timestamp.
func (l *Log) Append(tx *ledger.Tx, ev domain.Event) domain.Event {
	if l.owner != tx {
		tx.Enlist(l)
		l.owner = tx
		l.pending = nil
	}
	l.mu.RLock()
	committed := len(l.events)
	l.mu.RUnlock()

	ev.Seq = uint64(committed + len(l.pending) + 1)
	ev.ID = uuid.New().String()
	ev.OccurredAt = tx.At()
	l.pending = append(l.pending, ev)
	return ev
}

// Commit publishes the staged events.
func (l *Log) Commit() {
	if len(l.pending) > 0 {
		l.mu.Lock()
		l.events = append(l.events, l.pending...)
		l.mu.Unlock()
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
	l.owner = nil
	l.pending = nil
}

// Discard drops the staged events.
func (l *Log) Discard() {
	l.owner = nil
	l.pending = nil
}

// After returns up to limit committed events with Seq > seq, oldest first.
// A non-positive limit returns all of them.
func (l *Log) After(seq uint64, limit int) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= uint64(len(l.events)) {
		return []domain.Event{}
	}
	rest := l.events[seq:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	return append([]domain.Event(nil), rest...)
}

// LastSeq returns the sequence number of the newest committed event.
func (l *Log) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.events))
}

// Notify fires after a commit that published at least one event.
func (l *Log) Notify() <-chan struct{} {
	return l.notify
}
