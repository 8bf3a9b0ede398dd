package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Transfer kinds, used as metric labels and in logs.
const (
	TransferDeposit = "deposit"
	TransferPayout  = "payout"
	TransferFee     = "fee"
	TransferRefund  = "refund"
)

// Gateway moves tokens in and out of escrow custody. Every failure comes
// back wrapped in domain.ErrTokenTransferFailed and must abort the caller.
type Gateway struct {
	token  TokenContract
	self   common.Address
	rec    Recorder
	logger *slog.Logger
}

// NewGateway creates a Gateway for custody address self.
func NewGateway(token TokenContract, self common.Address, rec Recorder, logger *slog.Logger) *Gateway {
	return &Gateway{token: token, self: self, rec: rec, logger: logger}
}

// Deposit pulls amount from owner into custody against the allowance owner
// granted the escrow. A balance or allowance shortfall fails with
// domain.ErrInsufficientAllowance before any transfer is attempted.
func (g *Gateway) Deposit(ctx context.Context, owner common.Address, amount int64) error {
	balance, err := g.token.Balance(ctx, owner)
	if err != nil {
		return g.fail(TransferDeposit, owner, amount, err)
	}
	allowance, err := g.token.Allowance(ctx, owner, g.self)
	if err != nil {
		return g.fail(TransferDeposit, owner, amount, err)
	}
	if balance < amount || allowance < amount {
		g.rec.Transfer(TransferDeposit, amount, domain.ErrInsufficientAllowance)
		return domain.ErrInsufficientAllowance
	}

	if err := g.token.TransferFrom(auth.WithPrincipal(ctx, g.self), g.self, owner, g.self, amount); err != nil {
		return g.fail(TransferDeposit, owner, amount, err)
	}
	g.rec.Transfer(TransferDeposit, amount, nil)
	return nil
}

// Pay sends amount out of custody to to.
func (g *Gateway) Pay(ctx context.Context, kind string, to common.Address, amount int64) error {
	if err := g.token.Transfer(auth.WithPrincipal(ctx, g.self), g.self, to, amount); err != nil {
		return g.fail(kind, to, amount, err)
	}
	g.rec.Transfer(kind, amount, nil)
	return nil
}

// Custody returns the escrow's token balance.
func (g *Gateway) Custody(ctx context.Context) (int64, error) {
	return g.token.Balance(ctx, g.self)
}

func (g *Gateway) fail(kind string, counterparty common.Address, amount int64, cause error) error {
	err := fmt.Errorf("%w: %w", domain.ErrTokenTransferFailed, cause)
	g.rec.Transfer(kind, amount, err)
	g.logger.Warn("token transfer failed",
		slog.String("kind", kind),
		slog.String("counterparty", counterparty.Hex()),
		slog.Int64("amount", amount),
		slog.String("error", cause.Error()),
	)
	return err
}
