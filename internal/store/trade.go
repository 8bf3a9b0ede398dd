package store

import (
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// TradeStore keeps trades as per-id records on the ledger.
// Primary index: trade_id → trade.
// Secondary indexes: offer_id → active trade_id, party → trade_ids (ascending).
type TradeStore struct {
	trades  *ledger.Table[uint64, domain.Trade]
	active  *ledger.Table[uint64, uint64]
	byParty *ledger.Table[common.Address, []uint64]
	nextID  *ledger.Cell[uint64]
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades:  ledger.NewTable[uint64, domain.Trade](),
		active:  ledger.NewTable[uint64, uint64](),
		byParty: ledger.NewTable[common.Address, []uint64](),
		nextID:  ledger.NewCell[uint64](),
	}
}

// NextID reserves the next sequential trade id, starting at 0.
func (s *TradeStore) NextID(tx *ledger.Tx) uint64 {
	id, _ := s.nextID.Get(tx)
	s.nextID.Set(tx, id+1)
	return id
}

// PeekNextID returns the id the next trade will get.
func (s *TradeStore) PeekNextID(tx *ledger.Tx) uint64 {
	id, _ := s.nextID.Get(tx)
	return id
}

// Create writes a new trade, links it as the offer's active trade and adds
// it to both parties' indexes.
func (s *TradeStore) Create(tx *ledger.Tx, t domain.Trade) {
	s.trades.Put(tx, t.ID, t)
	s.active.Put(tx, t.OfferID, t.ID)
	s.index(tx, t.Buyer, t.ID)
	s.index(tx, t.Seller, t.ID)
}

func (s *TradeStore) index(tx *ledger.Tx, party common.Address, id uint64) {
	ids, _ := s.byParty.Get(tx, party)
	// Full slice expression forces a copy so the committed slice is never
	// written through.
	s.byParty.Put(tx, party, append(ids[:len(ids):len(ids)], id))
}

// Get retrieves a trade by ID. It returns
// domain.ErrTradeNotFound if the trade does not exist.
func (s *TradeStore) Get(tx *ledger.Tx, id uint64) (domain.Trade, error) {
	t, ok := s.trades.Get(tx, id)
	if !ok {
		return domain.Trade{}, domain.ErrTradeNotFound
	}
	return t, nil
}

// Put overwrites the trade record.
func (s *TradeStore) Put(tx *ledger.Tx, t domain.Trade) {
	s.trades.Put(tx, t.ID, t)
}

// ActiveForOffer returns the non-terminal trade holding the offer's escrow.
func (s *TradeStore) ActiveForOffer(tx *ledger.Tx, offerID uint64) (uint64, bool) {
	return s.active.Get(tx, offerID)
}

// ClearActive unlinks the offer's active trade.
func (s *TradeStore) ClearActive(tx *ledger.Tx, offerID uint64) {
	s.active.Delete(tx, offerID)
}

// ListByParty returns trades where party is buyer or seller, newest first.
// Pagination is 1-based. Returns the trades for the requested page and the
// total count before pagination.
func (s *TradeStore) ListByParty(tx *ledger.Tx, party common.Address, page, limit int) ([]domain.Trade, int) {
	ids, _ := s.byParty.Get(tx, party)
	total := len(ids)

	// Bound page before multiplying so (page-1)*limit cannot overflow.
	if page < 1 || limit < 1 || total == 0 || page-1 > (total-1)/limit {
		return []domain.Trade{}, total
	}
	start := (page - 1) * limit
	end := start + limit
	if end > total {
		end = total
	}

	result := make([]domain.Trade, 0, end-start)
	for i := total - 1 - start; i >= total-end; i-- {
		if t, ok := s.trades.Get(tx, ids[i]); ok {
			result = append(result, t)
		}
	}
	return result, total
}
