package outbox

import (
	"context"
	"errors"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresArchive persists every event in a PostgreSQL table keyed by
// event id, so redelivery is a no-op. Sequence numbers restart with the
// process and are indexed but not unique.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS escrow_events (
    id TEXT PRIMARY KEY,
    seq BIGINT NOT NULL,
    type TEXT NOT NULL,
    offer_id BIGINT,
    trade_id BIGINT,
    occurred_at TIMESTAMPTZ NOT NULL,
    payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS escrow_events_occurred_at_seq ON escrow_events (occurred_at, seq);
`

// NewPostgresArchive connects to Postgres using the DSN and ensures the
// table exists.
func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createEventsTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresArchive{pool: pool}, nil
}

// Name implements Sink.
func (p *PostgresArchive) Name() string { return "postgres" }

// Deliver implements Sink.
func (p *PostgresArchive) Deliver(ctx context.Context, ev domain.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO escrow_events (seq, id, type, offer_id, trade_id, occurred_at, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING
`, int64(ev.Seq), ev.ID, string(ev.Type), nullableID(ev.OfferID), nullableID(ev.TradeID), ev.OccurredAt, payload)
	return err
}

// LastSeq returns the highest archived sequence number, or 0 when the
// archive is empty.
func (p *PostgresArchive) LastSeq(ctx context.Context) (uint64, error) {
	var seq *int64
	err := p.pool.QueryRow(ctx, `SELECT MAX(seq) FROM escrow_events`).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if seq == nil {
		return 0, nil
	}
	return uint64(*seq), nil
}

// Close releases the pool.
func (p *PostgresArchive) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func nullableID(id *uint64) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}
