package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ContractInfo is a snapshot of the escrow's configuration and counters.
type ContractInfo struct {
	Address       common.Address
	Settings      domain.Settings
	NextOfferID   uint64
	NextTradeID   uint64
	CustodyAmount int64
	OpenOffers    int
}

// Initialize configures the escrow once. The token must be the contract
// the escrow was wired with.
func (e *Engine) Initialize(ctx context.Context, admin, token, feeCollector common.Address) (err error) {
	defer func() { e.rec.Operation("initialize", err) }()

	err = e.host.Invoke(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		if err := auth.Require(ctx, admin); err != nil {
			return err
		}
		if e.settings.Initialized(tx) {
			return domain.ErrAlreadyInitialized
		}
		if token != e.token.Address() {
			return domain.ErrInvalidTokenAddress
		}
		if err := domain.ValidateAddress("fee_collector", feeCollector); err != nil {
			return err
		}
		release, err := e.guard.Acquire()
		if err != nil {
			return err
		}
		defer release()

		e.settings.Put(tx, domain.NewSettings(admin, token, feeCollector))
		e.emit(tx, domain.Event{
			Type:    domain.EventContractInitialized,
			Actor:   admin,
			Parties: []common.Address{admin, feeCollector},
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("escrow initialized",
		slog.String("admin", admin.Hex()),
		slog.String("token", token.Hex()),
		slog.String("fee_collector", feeCollector.Hex()),
	)
	return nil
}

// Pause stops every pausable entry point.
func (e *Engine) Pause(ctx context.Context) error {
	return e.setPaused(ctx, true)
}

// Unpause resumes normal operation.
func (e *Engine) Unpause(ctx context.Context) error {
	return e.setPaused(ctx, false)
}

func (e *Engine) setPaused(ctx context.Context, paused bool) error {
	action, typ := ActionUnpause, domain.EventContractUnpaused
	if paused {
		action, typ = ActionPause, domain.EventContractPaused
	}
	err := e.call(ctx, action, false, func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error {
		if err := e.gov.Authorize(ctx, action, s); err != nil {
			return err
		}
		s.Paused = paused
		e.settings.Put(tx, s)
		actor := principal(ctx)
		e.emit(tx, domain.Event{Type: typ, Actor: actor, Parties: []common.Address{actor}})
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Warn("escrow pause state changed", slog.Bool("paused", paused))
	return nil
}

// UpdateAdmin proposes admin as the next admin. The role moves only when
// admin signs AcceptAdmin; until then the current admin keeps it and may
// propose someone else.
func (e *Engine) UpdateAdmin(ctx context.Context, admin common.Address) (domain.Settings, error) {
	return e.update(ctx, ActionUpdateAdmin, func(s *domain.Settings) (string, error) {
		if err := domain.ValidateAddress("admin", admin); err != nil {
			return "", err
		}
		s.PendingAdmin = admin
		return "pending_admin=" + admin.Hex(), nil
	})
}

// AcceptAdmin completes a handoff started by UpdateAdmin. Only the proposed
// admin may call it.
func (e *Engine) AcceptAdmin(ctx context.Context) (domain.Settings, error) {
	var updated domain.Settings
	err := e.call(ctx, "accept_admin", false, func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error {
		if s.PendingAdmin == (common.Address{}) {
			return domain.ErrInvalidStatus
		}
		if err := auth.Require(ctx, s.PendingAdmin); err != nil {
			return err
		}
		previous := s.Admin
		s.Admin, s.PendingAdmin = s.PendingAdmin, common.Address{}
		e.settings.Put(tx, s)
		e.emit(tx, domain.Event{
			Type:    domain.EventConfigUpdated,
			Actor:   s.Admin,
			Parties: []common.Address{previous, s.Admin},
			Detail:  "admin=" + s.Admin.Hex(),
		})
		updated = s
		return nil
	})
	if err != nil {
		return domain.Settings{}, err
	}

	e.logger.Warn("escrow admin changed", slog.String("admin", updated.Admin.Hex()))
	return updated, nil
}

// UpdateFeeCollector changes where release fees are paid.
func (e *Engine) UpdateFeeCollector(ctx context.Context, collector common.Address) (domain.Settings, error) {
	return e.update(ctx, ActionUpdateFeeCollector, func(s *domain.Settings) (string, error) {
		if err := domain.ValidateAddress("fee_collector", collector); err != nil {
			return "", err
		}
		s.FeeCollector = collector
		return "fee_collector=" + collector.Hex(), nil
	})
}

// UpdateFeeRate sets the release fee in basis points.
func (e *Engine) UpdateFeeRate(ctx context.Context, bps uint32) (domain.Settings, error) {
	return e.update(ctx, ActionUpdateFeeRate, func(s *domain.Settings) (string, error) {
		if err := domain.ValidateFeeRate(bps); err != nil {
			return "", err
		}
		s.FeeRate = bps
		return fmt.Sprintf("fee_rate=%d", bps), nil
	})
}

// UpdateTradeLimits sets the bounds on an offer's token amount.
func (e *Engine) UpdateTradeLimits(ctx context.Context, minAmount, maxAmount int64) (domain.Settings, error) {
	return e.update(ctx, ActionUpdateTradeLimits, func(s *domain.Settings) (string, error) {
		if err := domain.ValidateTradeLimits(minAmount, maxAmount); err != nil {
			return "", err
		}
		s.MinTradeAmount, s.MaxTradeAmount = minAmount, maxAmount
		return fmt.Sprintf("trade_limits=[%d,%d]", minAmount, maxAmount), nil
	})
}

// UpdateRateBounds sets the accepted range of fiat per token.
func (e *Engine) UpdateRateBounds(ctx context.Context, minRate, maxRate decimal.Decimal) (domain.Settings, error) {
	return e.update(ctx, ActionUpdateRateBounds, func(s *domain.Settings) (string, error) {
		if err := domain.ValidateRateBounds(minRate, maxRate); err != nil {
			return "", err
		}
		s.MinExchangeRate, s.MaxExchangeRate = minRate, maxRate
		return fmt.Sprintf("rate_bounds=[%s,%s]", minRate, maxRate), nil
	})
}

func (e *Engine) update(ctx context.Context, action string, apply func(*domain.Settings) (string, error)) (domain.Settings, error) {
	var updated domain.Settings
	err := e.call(ctx, action, false, func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error {
		if err := e.gov.Authorize(ctx, action, s); err != nil {
			return err
		}
		detail, err := apply(&s)
		if err != nil {
			return err
		}
		e.settings.Put(tx, s)
		actor := principal(ctx)
		e.emit(tx, domain.Event{
			Type:    domain.EventConfigUpdated,
			Actor:   actor,
			Parties: []common.Address{actor},
			Detail:  detail,
		})
		updated = s
		return nil
	})
	if err != nil {
		return domain.Settings{}, err
	}

	e.logger.Info("escrow config updated", slog.String("action", action))
	return updated, nil
}

// IsPaused reports whether the pause gate is closed.
func (e *Engine) IsPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := e.view(ctx, func(_ context.Context, _ *ledger.Tx, s domain.Settings) error {
		paused = s.Paused
		return nil
	})
	return paused, err
}

// Settings returns the current configuration.
func (e *Engine) Settings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := e.view(ctx, func(_ context.Context, _ *ledger.Tx, s domain.Settings) error {
		settings = s
		return nil
	})
	return settings, err
}

// ContractInfo returns the escrow's configuration, id counters and custody
// balance.
func (e *Engine) ContractInfo(ctx context.Context) (ContractInfo, error) {
	var info ContractInfo
	err := e.view(ctx, func(ctx context.Context, tx *ledger.Tx, s domain.Settings) error {
		custody, err := e.gateway.Custody(ctx)
		if err != nil {
			return err
		}
		info = ContractInfo{
			Address:       e.self,
			Settings:      s,
			NextOfferID:   e.offers.PeekNextID(tx),
			NextTradeID:   e.trades.PeekNextID(tx),
			CustodyAmount: custody,
			OpenOffers:    e.book.Len(),
		}
		return nil
	})
	return info, err
}
