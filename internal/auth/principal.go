// Package auth carries the authenticated caller of an operation and verifies
// signed HTTP requests.
package auth

import (
	"context"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type principalKey struct{}

// WithPrincipal returns a context whose calls are authorized as addr.
func WithPrincipal(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, principalKey{}, addr)
}

// Principal returns the authenticated caller, if any.
func Principal(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(principalKey{}).(common.Address)
	return addr, ok
}

// Require fails with domain.ErrUnauthorized unless ctx is authorized as addr.
func Require(ctx context.Context, addr common.Address) error {
	p, ok := Principal(ctx)
	if !ok || p != addr {
		return domain.ErrUnauthorized
	}
	return nil
}
