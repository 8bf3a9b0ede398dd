package engine

import "github.com/efreitasn/p2pescrow/internal/domain"

// Guard is the escrow's reentrancy guard. It is transient: it lives outside
// the ledger and is only touched while the host write lock is held, so the
// only way to find it held is a nested call from inside a running
// invocation, such as a token transfer hook.
type Guard struct {
	held bool
}

// Acquire takes the guard, or fails with domain.ErrReentrancyDetected if a
// guarded call is already running. The returned release must be deferred.
func (g *Guard) Acquire() (release func(), err error) {
	if g.held {
		return nil, domain.ErrReentrancyDetected
	}
	g.held = true
	return func() { g.held = false }, nil
}

