package engine

import (
	"context"
	"log/slog"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// RaiseDispute freezes a trade until governance resolves it. It is not
// subject to the pause gate.
func (e *Engine) RaiseDispute(ctx context.Context, tradeID uint64, caller common.Address) (domain.Trade, error) {
	var trade domain.Trade
	err := e.call(ctx, "raise_dispute", false, func(ctx context.Context, tx *ledger.Tx, _ domain.Settings) error {
		t, err := e.trades.Get(tx, tradeID)
		if err != nil {
			return err
		}
		if !t.IsParty(caller) {
			return domain.ErrUnauthorized
		}
		if err := auth.Require(ctx, caller); err != nil {
			return err
		}
		if !t.Status.CanTransition(domain.TradeStatusDisputed) {
			return domain.ErrInvalidStatus
		}

		t.Status = domain.TradeStatusDisputed
		t.DisputedBy = &caller
		t.UpdatedAt = tx.At()
		e.trades.Put(tx, t)
		e.emit(tx, tradeEvent(domain.EventDisputeRaised, t, caller))
		trade = t
		return nil
	})
	if err != nil {
		return domain.Trade{}, err
	}

	e.logger.Info("dispute raised",
		slog.Uint64("trade_id", tradeID),
		slog.String("caller", caller.Hex()),
	)
	return trade, nil
}

// ResolveDispute settles a disputed trade. ReleaseToBuyer runs the normal
// release path; RefundToSeller returns the full escrow to the seller.
func (e *Engine) ResolveDispute(ctx context.Context, tradeID uint64, resolution domain.DisputeResolution) (domain.Trade, error) {
	var trade domain.Trade
	err := e.call(ctx, "resolve_dispute", true, func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error {
		if err := e.gov.Authorize(ctx, ActionResolveDispute, s); err != nil {
			return err
		}
		if !resolution.Valid() {
			return &domain.ValidationError{Message: "resolution must be release_to_buyer or refund_to_seller"}
		}
		t, err := e.trades.Get(tx, tradeID)
		if err != nil {
			return err
		}
		if t.Status != domain.TradeStatusDisputed {
			return domain.ErrInvalidStatus
		}

		actor := principal(ctx)
		t.Resolution = resolution
		t.UpdatedAt = tx.At()
		resolved := tradeEvent(domain.EventDisputeResolved, t, actor)
		resolved.Resolution = resolution

		if resolution == domain.ResolutionReleaseToBuyer {
			t.Status = domain.TradeStatusPaymentConfirmed
			e.trades.Put(tx, t)
			e.emit(tx, resolved)
			trade, err = e.release(ctx, tx, s, tradeID, actor)
			return err
		}

		if err := e.gateway.Pay(ctx, TransferRefund, t.Seller, t.TokenAmount); err != nil {
			return err
		}
		t.Status = domain.TradeStatusCancelled
		if err := e.settle(tx, t); err != nil {
			return err
		}
		e.emit(tx, resolved)
		cancelled := tradeEvent(domain.EventTradeCancelled, t, actor)
		e.emit(tx, cancelled)
		trade = t
		return nil
	})
	if err != nil {
		return domain.Trade{}, err
	}

	e.logger.Info("dispute resolved",
		slog.Uint64("trade_id", tradeID),
		slog.String("resolution", string(resolution)),
		slog.String("status", string(trade.Status)),
	)
	return trade, nil
}

func principal(ctx context.Context) common.Address {
	p, _ := auth.Principal(ctx)
	return p
}
