package engine

import (
	"context"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
)

// Admin actions checked by Governance.
const (
	ActionPause              = "pause"
	ActionUnpause            = "unpause"
	ActionUpdateAdmin        = "update_admin"
	ActionUpdateFeeCollector = "update_fee_collector"
	ActionUpdateFeeRate      = "update_fee_rate"
	ActionUpdateTradeLimits  = "update_trade_limits"
	ActionUpdateRateBounds   = "update_rate_bounds"
	ActionResolveDispute     = "resolve_dispute"
)

// Governance decides whether the caller in ctx may perform an admin action.
type Governance interface {
	Authorize(ctx context.Context, action string, s domain.Settings) error
}

// AdminGovernance allows only the configured admin.
type AdminGovernance struct{}

// Authorize implements Governance.
func (AdminGovernance) Authorize(ctx context.Context, _ string, s domain.Settings) error {
	return auth.Require(ctx, s.Admin)
}
