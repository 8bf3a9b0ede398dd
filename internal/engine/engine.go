// Package engine implements the escrow contract: offers, the trade state
// machine, dispute resolution and the admin surface, all running as ledger
// invocations.
package engine

import (
	"context"
	"io"
	"log/slog"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/efreitasn/p2pescrow/internal/outbox"
	"github.com/efreitasn/p2pescrow/internal/store"
	"github.com/ethereum/go-ethereum/common"
)

// TokenContract is the fungible-token contract the escrow custodies.
type TokenContract interface {
	Address() common.Address
	Balance(ctx context.Context, owner common.Address) (int64, error)
	Allowance(ctx context.Context, owner, spender common.Address) (int64, error)
	Transfer(ctx context.Context, from, to common.Address, amount int64) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount int64) error
}

// Recorder receives operation and transfer outcomes for metrics.
type Recorder interface {
	Operation(name string, err error)
	Transfer(kind string, amount int64, err error)
}

type nopRecorder struct{}

func (nopRecorder) Operation(string, error)        {}
func (nopRecorder) Transfer(string, int64, error) {}

// Engine is the escrow contract.
type Engine struct {
	host     *ledger.Host
	self     common.Address
	token    TokenContract
	gateway  *Gateway
	guard    *Guard
	gov      Governance
	rec      Recorder
	logger   *slog.Logger
	settings *store.SettingsStore
	offers   *store.OfferStore
	trades   *store.TradeStore
	events   *outbox.Log
	book     *OfferBook
}

// Option configures an Engine.
type Option func(*Engine)

// WithGovernance replaces the default single-admin governance.
func WithGovernance(g Governance) Option {
	return func(e *Engine) { e.gov = g }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an uninitialized escrow at address self, custodying token on
// host and publishing to events.
func New(host *ledger.Host, self common.Address, token TokenContract, events *outbox.Log, opts ...Option) *Engine {
	e := &Engine{
		host:     host,
		self:     self,
		token:    token,
		guard:    &Guard{},
		gov:      AdminGovernance{},
		rec:      nopRecorder{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		settings: store.NewSettingsStore(),
		offers:   store.NewOfferStore(),
		trades:   store.NewTradeStore(),
		events:   events,
		book:     NewOfferBook(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gateway = NewGateway(token, self, e.rec, e.logger)
	return e
}

// Address returns the escrow's custody address.
func (e *Engine) Address() common.Address { return e.self }

// Book returns the read model of offers open for matching.
func (e *Engine) Book() *OfferBook { return e.book }

// Events returns the escrow's outbox.
func (e *Engine) Events() *outbox.Log { return e.events }

// call runs fn as a guarded invocation. Pausable operations fail with
// domain.ErrPaused first; the reentrancy guard is acquired next and released
// on every exit path.
func (e *Engine) call(ctx context.Context, op string, pausable bool, fn func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error) (err error) {
	defer func() { e.rec.Operation(op, err) }()

	return e.host.Invoke(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		s, err := e.settings.Get(tx)
		if err != nil {
			return err
		}
		if pausable && s.Paused {
			return domain.ErrPaused
		}
		release, err := e.guard.Acquire()
		if err != nil {
			return err
		}
		defer release()

		return fn(ctx, tx, s)
	})
}

// view runs fn as a read-only query over initialized state.
func (e *Engine) view(ctx context.Context, fn func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error) error {
	return e.host.View(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		s, err := e.settings.Get(tx)
		if err != nil {
			return err
		}
		return fn(ctx, tx, s)
	})
}

func (e *Engine) emit(tx *ledger.Tx, ev domain.Event) {
	e.events.Append(tx, ev)
}
