// Package token implements an in-process fungible-token contract with
// allowances. Its balances live in ledger tables, so a transfer made inside
// an invocation that later fails is rolled back with it.
package token

import (
	"context"
	"errors"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient_balance")
	ErrInsufficientAllowance = errors.New("insufficient_token_allowance")
	ErrNegativeAmount        = errors.New("negative_amount")
	ErrBalanceOverflow       = errors.New("balance_overflow")
	ErrAccountFrozen         = errors.New("account_frozen")
)

// TransferHook observes every successful balance movement before the
// transfer returns. A non-nil error fails the transfer. Hooks run inside the
// caller's transaction and may call back into other contracts.
type TransferHook func(ctx context.Context, from, to common.Address, amount int64) error

const maxBalance = 1<<63 - 1

type allowanceKey struct {
	owner, spender common.Address
}

// Metadata describes the token.
type Metadata struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Minter   common.Address
}

// Ledger is the token contract.
type Ledger struct {
	meta       Metadata
	host       *ledger.Host
	balances   *ledger.Table[common.Address, int64]
	allowances *ledger.Table[allowanceKey, int64]
	frozen     *ledger.Table[common.Address, struct{}]
	supply     *ledger.Cell[int64]
	hook       TransferHook
}

// NewLedger creates an empty token ledger on host.
func NewLedger(host *ledger.Host, meta Metadata) *Ledger {
	return &Ledger{
		meta:       meta,
		host:       host,
		balances:   ledger.NewTable[common.Address, int64](),
		allowances: ledger.NewTable[allowanceKey, int64](),
		frozen:     ledger.NewTable[common.Address, struct{}](),
		supply:     ledger.NewCell[int64](),
	}
}

// SetTransferHook installs fn as the transfer hook. Pass nil to remove it.
// It must not be called while an invocation is running.
func (l *Ledger) SetTransferHook(fn TransferHook) {
	l.hook = fn
}

// Address returns the token contract address.
func (l *Ledger) Address() common.Address { return l.meta.Address }

// Decimals returns the number of decimals of the token's minor unit.
func (l *Ledger) Decimals() uint8 { return l.meta.Decimals }

// Metadata returns the token's static description.
func (l *Ledger) Metadata() Metadata { return l.meta }

// Balance returns owner's balance.
func (l *Ledger) Balance(ctx context.Context, owner common.Address) (int64, error) {
	var bal int64
	err := l.host.View(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		bal, _ = l.balances.Get(tx, owner)
		return nil
	})
	return bal, err
}

// Allowance returns how much spender may move out of owner's balance.
func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (int64, error) {
	var amt int64
	err := l.host.View(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		amt, _ = l.allowances.Get(tx, allowanceKey{owner, spender})
		return nil
	})
	return amt, err
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply(ctx context.Context) (int64, error) {
	var s int64
	err := l.host.View(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		s, _ = l.supply.Get(tx)
		return nil
	})
	return s, err
}

// Mint credits amount to to. Only the minter may mint.
func (l *Ledger) Mint(ctx context.Context, to common.Address, amount int64) error {
	return l.host.Invoke(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		if err := auth.Require(ctx, l.meta.Minter); err != nil {
			return err
		}
		if amount < 0 {
			return ErrNegativeAmount
		}
		supply, _ := l.supply.Get(tx)
		next, overflow := math.SafeAdd(uint64(supply), uint64(amount))
		if overflow || next > maxBalance {
			return ErrBalanceOverflow
		}
		if err := l.credit(tx, to, amount); err != nil {
			return err
		}
		l.supply.Set(tx, int64(next))
		return nil
	})
}

// SetFrozen blocks or unblocks all transfers touching addr. Only the minter
// may freeze.
func (l *Ledger) SetFrozen(ctx context.Context, addr common.Address, frozen bool) error {
	return l.host.Invoke(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		if err := auth.Require(ctx, l.meta.Minter); err != nil {
			return err
		}
		if frozen {
			l.frozen.Put(tx, addr, struct{}{})
		} else {
			l.frozen.Delete(tx, addr)
		}
		return nil
	})
}

// Approve sets spender's allowance over owner's balance. The caller must be
// owner.
func (l *Ledger) Approve(ctx context.Context, owner, spender common.Address, amount int64) error {
	return l.host.Invoke(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		if err := auth.Require(ctx, owner); err != nil {
			return err
		}
		if amount < 0 {
			return ErrNegativeAmount
		}
		l.allowances.Put(tx, allowanceKey{owner, spender}, amount)
		return nil
	})
}

// Transfer moves amount from from to to. The caller must be from.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount int64) error {
	return l.host.Invoke(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		if err := auth.Require(ctx, from); err != nil {
			return err
		}
		return l.move(ctx, tx, from, to, amount)
	})
}

// TransferFrom moves amount from from to to against the allowance from
// granted spender. The caller must be spender.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount int64) error {
	return l.host.Invoke(ctx, func(ctx context.Context, tx *ledger.Tx) error {
		if err := auth.Require(ctx, spender); err != nil {
			return err
		}
		key := allowanceKey{from, spender}
		allowed, _ := l.allowances.Get(tx, key)
		if allowed < amount {
			return ErrInsufficientAllowance
		}
		if err := l.move(ctx, tx, from, to, amount); err != nil {
			return err
		}
		l.allowances.Put(tx, key, allowed-amount)
		return nil
	})
}

func (l *Ledger) move(ctx context.Context, tx *ledger.Tx, from, to common.Address, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	if l.frozen.Has(tx, from) || l.frozen.Has(tx, to) {
		return ErrAccountFrozen
	}
	bal, _ := l.balances.Get(tx, from)
	if bal < amount {
		return ErrInsufficientBalance
	}
	l.balances.Put(tx, from, bal-amount)
	if err := l.credit(tx, to, amount); err != nil {
		return err
	}
	if l.hook != nil {
		return l.hook(ctx, from, to, amount)
	}
	return nil
}

func (l *Ledger) credit(tx *ledger.Tx, to common.Address, amount int64) error {
	bal, _ := l.balances.Get(tx, to)
	next, overflow := math.SafeAdd(uint64(bal), uint64(amount))
	if overflow || next > maxBalance {
		return ErrBalanceOverflow
	}
	l.balances.Put(tx, to, int64(next))
	return nil
}
