package store

import (
	"sort"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// OfferStore keeps offers as per-id records on the ledger.
// Primary index: offer_id → offer.
// Secondary index: seller → offer_id of the seller's active offer.
// Available set: offer_ids open for matching.
type OfferStore struct {
	offers    *ledger.Table[uint64, domain.Offer]
	bySeller  *ledger.Table[common.Address, uint64]
	available *ledger.Table[uint64, struct{}]
	nextID    *ledger.Cell[uint64]
}

// NewOfferStore creates an empty OfferStore.
func NewOfferStore() *OfferStore {
	return &OfferStore{
		offers:    ledger.NewTable[uint64, domain.Offer](),
		bySeller:  ledger.NewTable[common.Address, uint64](),
		available: ledger.NewTable[uint64, struct{}](),
		nextID:    ledger.NewCell[uint64](),
	}
}

// NextID reserves the next sequential offer id, starting at 0.
func (s *OfferStore) NextID(tx *ledger.Tx) uint64 {
	id, _ := s.nextID.Get(tx)
	s.nextID.Set(tx, id+1)
	return id
}

// PeekNextID returns the id the next offer will get.
func (s *OfferStore) PeekNextID(tx *ledger.Tx) uint64 {
	id, _ := s.nextID.Get(tx)
	return id
}

// Get retrieves an offer by ID. It returns
// domain.ErrOfferNotFound if the offer does not exist.
func (s *OfferStore) Get(tx *ledger.Tx, id uint64) (domain.Offer, error) {
	o, ok := s.offers.Get(tx, id)
	if !ok {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return o, nil
}

// Put writes the offer record.
func (s *OfferStore) Put(tx *ledger.Tx, o domain.Offer) {
	s.offers.Put(tx, o.ID, o)
}

// Delete removes the offer record and every index entry pointing at it.
func (s *OfferStore) Delete(tx *ledger.Tx, o domain.Offer) {
	s.offers.Delete(tx, o.ID)
	s.available.Delete(tx, o.ID)
	if id, ok := s.bySeller.Get(tx, o.Seller); ok && id == o.ID {
		s.bySeller.Delete(tx, o.Seller)
	}
}

// SellerOffer returns the id of seller's active offer.
func (s *OfferStore) SellerOffer(tx *ledger.Tx, seller common.Address) (uint64, bool) {
	return s.bySeller.Get(tx, seller)
}

// SetSellerOffer points seller's index entry at id.
func (s *OfferStore) SetSellerOffer(tx *ledger.Tx, seller common.Address, id uint64) {
	s.bySeller.Put(tx, seller, id)
}

// ClearSellerOffer removes seller's index entry if it points at id.
func (s *OfferStore) ClearSellerOffer(tx *ledger.Tx, seller common.Address, id uint64) {
	if cur, ok := s.bySeller.Get(tx, seller); ok && cur == id {
		s.bySeller.Delete(tx, seller)
	}
}

// SetAvailable adds or removes id from the set of offers open for matching.
func (s *OfferStore) SetAvailable(tx *ledger.Tx, id uint64, available bool) {
	if available {
		s.available.Put(tx, id, struct{}{})
		return
	}
	s.available.Delete(tx, id)
}

// IsAvailable reports whether id is open for matching.
func (s *OfferStore) IsAvailable(tx *ledger.Tx, id uint64) bool {
	return s.available.Has(tx, id)
}

// List returns every offer record ordered by id.
func (s *OfferStore) List(tx *ledger.Tx) []domain.Offer {
	result := make([]domain.Offer, 0, s.offers.Len(tx))
	s.offers.Range(tx, func(_ uint64, o domain.Offer) bool {
		result = append(result, o)
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
