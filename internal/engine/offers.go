package engine

import (
	"context"
	"log/slog"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// CreateOffer escrows tokenAmount from seller and opens an offer against
// fiatAmount. The deposit runs before any record is written.
func (e *Engine) CreateOffer(ctx context.Context, seller common.Address, tokenAmount, fiatAmount int64) (uint64, error) {
	var id uint64
	err := e.call(ctx, "create_offer", true, func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error {
		if err := auth.Require(ctx, seller); err != nil {
			return err
		}
		if err := s.CheckOffer(tokenAmount, fiatAmount); err != nil {
			return err
		}
		if _, ok := e.offers.SellerOffer(tx, seller); ok {
			return domain.ErrAlreadyHasActiveOffer
		}

		if err := e.gateway.Deposit(ctx, seller, tokenAmount); err != nil {
			return err
		}

		offer := domain.Offer{
			ID:          e.offers.NextID(tx),
			Seller:      seller,
			TokenAmount: tokenAmount,
			FiatAmount:  fiatAmount,
			Status:      domain.OfferStatusOpen,
			CreatedAt:   tx.At(),
		}
		e.offers.Put(tx, offer)
		e.offers.SetSellerOffer(tx, seller, offer.ID)
		e.offers.SetAvailable(tx, offer.ID, true)

		e.emit(tx, domain.Event{
			Type:    domain.EventOfferCreated,
			OfferID: domain.ID64(offer.ID),
			Actor:   seller,
			Parties: []common.Address{seller},
			Amount:  tokenAmount,
		})
		tx.AfterCommit(func() { e.book.Insert(offer) })

		id = offer.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info("offer created",
		slog.Uint64("offer_id", id),
		slog.String("seller", seller.Hex()),
		slog.Int64("token_amount", tokenAmount),
		slog.Int64("fiat_amount", fiatAmount),
	)
	return id, nil
}

// CancelOffer withdraws seller's offer. An offer still holding escrow is
// refunded first; a settled offer is only deleted. An offer with a
// non-terminal trade cannot be cancelled.
func (e *Engine) CancelOffer(ctx context.Context, seller common.Address, offerID uint64) error {
	var refunded int64
	err := e.call(ctx, "cancel_offer", true, func(ctx context.Context, tx *ledger.Tx, _ domain.Settings) error {
		if err := auth.Require(ctx, seller); err != nil {
			return err
		}
		offer, err := e.offers.Get(tx, offerID)
		if err != nil {
			return err
		}
		if offer.Seller != seller {
			return domain.ErrUnauthorized
		}
		if _, active := e.trades.ActiveForOffer(tx, offerID); active {
			return domain.ErrActiveTradeExists
		}

		if offer.HoldsEscrow() {
			refunded = offer.TokenAmount
		}
		e.offers.Delete(tx, offer)
		e.emit(tx, domain.Event{
			Type:    domain.EventOfferCancelled,
			OfferID: domain.ID64(offerID),
			Actor:   seller,
			Parties: []common.Address{seller},
			Amount:  refunded,
		})
		tx.AfterCommit(func() { e.book.Remove(offerID) })

		if refunded == 0 {
			return nil
		}
		return e.gateway.Pay(ctx, TransferRefund, seller, refunded)
	})
	if err != nil {
		return err
	}

	e.logger.Info("offer cancelled",
		slog.Uint64("offer_id", offerID),
		slog.String("seller", seller.Hex()),
		slog.Int64("refunded", refunded),
	)
	return nil
}

// GetOffer returns an offer by id.
func (e *Engine) GetOffer(ctx context.Context, offerID uint64) (domain.Offer, error) {
	var offer domain.Offer
	err := e.view(ctx, func(_ context.Context, tx *ledger.Tx, _ domain.Settings) error {
		var err error
		offer, err = e.offers.Get(tx, offerID)
		return err
	})
	return offer, err
}

// GetSellerActiveOffer returns the id of seller's active offer, or
// domain.ErrOfferNotFound if there is none.
func (e *Engine) GetSellerActiveOffer(ctx context.Context, seller common.Address) (uint64, error) {
	var id uint64
	err := e.view(ctx, func(_ context.Context, tx *ledger.Tx, _ domain.Settings) error {
		var ok bool
		if id, ok = e.offers.SellerOffer(tx, seller); !ok {
			return domain.ErrOfferNotFound
		}
		return nil
	})
	return id, err
}

// ListAvailableOffers returns a page of offers open for matching, cheapest
// first, and the number of open offers at the same instant.
func (e *Engine) ListAvailableOffers(offset, limit int) ([]domain.Offer, int) {
	return e.book.Page(offset, limit)
}

// OfferDepth aggregates the open offers into at most n rate levels,
// cheapest first.
func (e *Engine) OfferDepth(n int) []RateLevel {
	return e.book.Levels(n)
}
