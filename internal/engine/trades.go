package engine

import (
	"context"
	"log/slog"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// InitiateTrade matches buyer against an open offer. No funds move; the
// offer's escrow stays reserved for the new trade.
func (e *Engine) InitiateTrade(ctx context.Context, buyer common.Address, offerID uint64) (uint64, error) {
	var trade domain.Trade
	err := e.call(ctx, "initiate_trade", true, func(ctx context.Context, tx *ledger.Tx, _ domain.Settings) error {
		if err := auth.Require(ctx, buyer); err != nil {
			return err
		}
		offer, err := e.offers.Get(tx, offerID)
		if err != nil {
			return err
		}
		if offer.Seller == buyer {
			return domain.ErrUnauthorized
		}
		if !e.offers.IsAvailable(tx, offer.ID) {
			if _, active := e.trades.ActiveForOffer(tx, offer.ID); active {
				return domain.ErrActiveTradeExists
			}
			return domain.ErrInvalidStatus
		}

		trade = domain.Trade{
			ID:          e.trades.NextID(tx),
			OfferID:     offer.ID,
			Buyer:       buyer,
			Seller:      offer.Seller,
			TokenAmount: offer.TokenAmount,
			FiatAmount:  offer.FiatAmount,
			Status:      domain.TradeStatusInitiated,
			StartTime:   tx.At(),
			UpdatedAt:   tx.At(),
		}
		offer.Status = domain.OfferStatusMatched
		e.offers.Put(tx, offer)
		e.offers.SetAvailable(tx, offer.ID, false)
		e.trades.Create(tx, trade)

		e.emit(tx, tradeEvent(domain.EventTradeInitiated, trade, buyer))
		tx.AfterCommit(func() { e.book.Remove(offerID) })
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info("trade initiated",
		slog.Uint64("trade_id", trade.ID),
		slog.Uint64("offer_id", offerID),
		slog.String("buyer", buyer.Hex()),
	)
	return trade.ID, nil
}

// ConfirmPayment records participant's confirmation that the fiat leg
// happened. The second confirmation moves the trade to PaymentConfirmed and
// releases the escrow in the same call.
func (e *Engine) ConfirmPayment(ctx context.Context, tradeID uint64, participant common.Address) (domain.Trade, error) {
	var trade domain.Trade
	err := e.call(ctx, "confirm_payment", true, func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error {
		t, err := e.trades.Get(tx, tradeID)
		if err != nil {
			return err
		}
		if t.Status != domain.TradeStatusInitiated && t.Status != domain.TradeStatusPaymentConfirmed {
			return domain.ErrInvalidStatus
		}
		if !t.IsParty(participant) {
			return domain.ErrUnauthorized
		}
		if err := auth.Require(ctx, participant); err != nil {
			return err
		}

		flag := &t.SellerConfirmed
		if participant == t.Buyer {
			flag = &t.BuyerConfirmed
		}
		if *flag {
			return domain.ErrInvalidStatus
		}
		*flag = true
		t.UpdatedAt = tx.At()
		e.trades.Put(tx, t)
		e.emit(tx, tradeEvent(domain.EventPaymentConfirmed, t, participant))

		if !t.BuyerConfirmed || !t.SellerConfirmed {
			trade = t
			return nil
		}

		// The release path re-reads the trade, so PaymentConfirmed has to
		// be written before it runs and nothing may be written after it.
		t.Status = domain.TradeStatusPaymentConfirmed
		e.trades.Put(tx, t)
		trade, err = e.release(ctx, tx, s, tradeID, participant)
		return err
	})
	if err != nil {
		return domain.Trade{}, err
	}

	e.logger.Info("payment confirmed",
		slog.Uint64("trade_id", tradeID),
		slog.String("participant", participant.Hex()),
		slog.String("status", string(trade.Status)),
	)
	return trade, nil
}

// release pays out a PaymentConfirmed trade: amount minus fee to the buyer
// and the fee to the collector. Either transfer failing aborts the call.
func (e *Engine) release(ctx context.Context, tx *ledger.Tx, s domain.Settings, tradeID uint64, actor common.Address) (domain.Trade, error) {
	t, err := e.trades.Get(tx, tradeID)
	if err != nil {
		return domain.Trade{}, err
	}
	if t.Status != domain.TradeStatusPaymentConfirmed {
		return domain.Trade{}, domain.ErrInvalidStatus
	}
	payout, fee, err := domain.SplitPayout(t.TokenAmount, s.FeeRate)
	if err != nil {
		return domain.Trade{}, err
	}

	if err := e.gateway.Pay(ctx, TransferPayout, t.Buyer, payout); err != nil {
		return domain.Trade{}, err
	}
	if fee > 0 {
		if err := e.gateway.Pay(ctx, TransferFee, s.FeeCollector, fee); err != nil {
			return domain.Trade{}, err
		}
	}

	t.Status = domain.TradeStatusCompleted
	t.UpdatedAt = tx.At()
	if err := e.settle(tx, t); err != nil {
		return domain.Trade{}, err
	}

	ev := tradeEvent(domain.EventTradeCompleted, t, actor)
	ev.Amount = payout
	ev.Fee = fee
	e.emit(tx, ev)
	return t, nil
}

// CancelTrade refunds the seller and cancels a trade still in Initiated.
// Either party may cancel.
func (e *Engine) CancelTrade(ctx context.Context, tradeID uint64, participant common.Address) (domain.Trade, error) {
	var trade domain.Trade
	err := e.call(ctx, "cancel_trade", true, func(ctx context.Context, tx *ledger.Tx, _ domain.Settings) error {
		t, err := e.trades.Get(tx, tradeID)
		if err != nil {
			return err
		}
		if !t.IsParty(participant) {
			return domain.ErrUnauthorized
		}
		if err := auth.Require(ctx, participant); err != nil {
			return err
		}
		if t.Status != domain.TradeStatusInitiated {
			return domain.ErrInvalidStatus
		}

		if err := e.gateway.Pay(ctx, TransferRefund, t.Seller, t.TokenAmount); err != nil {
			return err
		}

		t.Status = domain.TradeStatusCancelled
		t.UpdatedAt = tx.At()
		if err := e.settle(tx, t); err != nil {
			return err
		}
		ev := tradeEvent(domain.EventTradeCancelled, t, participant)
		ev.Amount = t.TokenAmount
		e.emit(tx, ev)
		trade = t
		return nil
	})
	if err != nil {
		return domain.Trade{}, err
	}

	e.logger.Info("trade cancelled",
		slog.Uint64("trade_id", tradeID),
		slog.String("participant", participant.Hex()),
	)
	return trade, nil
}

// settle writes a trade that just reached a terminal status and releases its
// offer: the offer no longer holds escrow, the seller may open a new one and
// the offer→trade link is dropped. A trade that can still move fails with
// domain.ErrInvalidStatus.
func (e *Engine) settle(tx *ledger.Tx, t domain.Trade) error {
	if !t.Status.IsTerminal() {
		return domain.ErrInvalidStatus
	}
	e.trades.Put(tx, t)
	e.trades.ClearActive(tx, t.OfferID)
	e.offers.ClearSellerOffer(tx, t.Seller, t.OfferID)
	if offer, err := e.offers.Get(tx, t.OfferID); err == nil {
		offer.Status = domain.OfferStatusSettled
		e.offers.Put(tx, offer)
	}
	return nil
}

// GetTrade returns a trade by id.
func (e *Engine) GetTrade(ctx context.Context, tradeID uint64) (domain.Trade, error) {
	var trade domain.Trade
	err := e.view(ctx, func(_ context.Context, tx *ledger.Tx, _ domain.Settings) error {
		var err error
		trade, err = e.trades.Get(tx, tradeID)
		return err
	})
	return trade, err
}

// ListTrades returns party's trades, newest first, and the total count.
// Pagination is 1-based.
func (e *Engine) ListTrades(ctx context.Context, party common.Address, page, limit int) ([]domain.Trade, int, error) {
	var (
		trades []domain.Trade
		total  int
	)
	err := e.view(ctx, func(_ context.Context, tx *ledger.Tx, _ domain.Settings) error {
		trades, total = e.trades.ListByParty(tx, party, page, limit)
		return nil
	})
	return trades, total, err
}

func tradeEvent(typ domain.EventType, t domain.Trade, actor common.Address) domain.Event {
	return domain.Event{
		Type:    typ,
		OfferID: domain.ID64(t.OfferID),
		TradeID: domain.ID64(t.ID),
		Actor:   actor,
		Parties: []common.Address{t.Buyer, t.Seller},
		Amount:  t.TokenAmount,
	}
}
