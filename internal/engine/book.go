package engine

import (
	"sync"
	"time"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// OfferBookEntry is an offer open for matching.
type OfferBookEntry struct {
	OfferID   uint64
	CreatedAt time.Time
	Offer     domain.Offer
}

// RateLevel aggregates the open offers quoting the same exchange rate.
type RateLevel struct {
	Rate        decimal.Decimal
	TotalTokens int64
	OfferCount  int
}

// offerLess orders offers by exchange rate ascending, then created_at
// ascending, then offer id ascending. Rates are compared by
// cross-multiplication so equal ratios tie exactly.
func offerLess(a, b OfferBookEntry) bool {
	if c := compareRate(a.Offer, b.Offer); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OfferID < b.OfferID
}

func compareRate(a, b domain.Offer) int {
	l := decimal.NewFromInt(a.FiatAmount).Mul(decimal.NewFromInt(b.TokenAmount))
	r := decimal.NewFromInt(b.FiatAmount).Mul(decimal.NewFromInt(a.TokenAmount))
	return l.Cmp(r)
}

// OfferBook is the read model of available offers, cheapest first. It is
// updated after each committed invocation and queried without taking the
// host lock.
type OfferBook struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[OfferBookEntry]
	index map[uint64]OfferBookEntry // offer_id → entry
}

// NewOfferBook creates an empty book.
func NewOfferBook() *OfferBook {
	const degree = 32
	return &OfferBook{
		tree:  btree.NewG[OfferBookEntry](degree, offerLess),
		index: make(map[uint64]OfferBookEntry),
	}
}

// Insert adds or replaces an offer.
func (b *OfferBook) Insert(o domain.Offer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.index[o.ID]; ok {
		b.tree.Delete(old)
	}
	entry := OfferBookEntry{OfferID: o.ID, CreatedAt: o.CreatedAt, Offer: o}
	b.tree.ReplaceOrInsert(entry)
	b.index[o.ID] = entry
}

// Remove deletes an offer by id. Removing an unknown id is a no-op.
func (b *OfferBook) Remove(offerID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.index[offerID]
	if !ok {
		return
	}
	delete(b.index, offerID)
	b.tree.Delete(entry)
}

// Page returns up to limit offers starting at offset, cheapest first, and
// the number of open offers, both read under one lock.
func (b *OfferBook) Page(offset, limit int) ([]domain.Offer, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := b.tree.Len()
	result := make([]domain.Offer, 0, max(0, min(limit, total)))
	if limit <= 0 {
		return result, total
	}
	i := 0
	b.tree.Ascend(func(entry OfferBookEntry) bool {
		if i++; i <= offset {
			return true
		}
		result = append(result, entry.Offer)
		return len(result) < limit
	})
	return result, total
}

// Levels returns up to n aggregated rate levels, cheapest first.
func (b *OfferBook) Levels(n int) []RateLevel {
	if n <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := make([]RateLevel, 0, n)
	var last domain.Offer
	b.tree.Ascend(func(entry OfferBookEntry) bool {
		if len(levels) > 0 && compareRate(last, entry.Offer) == 0 {
			levels[len(levels)-1].TotalTokens += entry.Offer.TokenAmount
			levels[len(levels)-1].OfferCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		last = entry.Offer
		levels = append(levels, RateLevel{
			Rate:        entry.Offer.ExchangeRate(),
			TotalTokens: entry.Offer.TokenAmount,
			OfferCount:  1,
		})
		return true
	})
	return levels
}

// Len returns the number of open offers.
func (b *OfferBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.Len()
}
