package token

import (
	"context"
	"errors"
	"testing"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

var (
	minter  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	tokenID = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func newTestLedger(t *testing.T) (*Ledger, *ledger.Host) {
	t.Helper()
	h := ledger.NewHost()
	l := NewLedger(h, Metadata{Address: tokenID, Symbol: "USDC", Decimals: 6, Minter: minter})
	return l, h
}

func as(addr common.Address) context.Context {
	return auth.WithPrincipal(context.Background(), addr)
}

func mustBalance(t *testing.T, l *Ledger, addr common.Address) int64 {
	t.Helper()
	b, err := l.Balance(context.Background(), addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func TestMint(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Mint(as(minter), alice, 500); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := mustBalance(t, l, alice); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
	if s, _ := l.TotalSupply(context.Background()); s != 500 {
		t.Fatalf("expected supply 500, got %d", s)
	}
	if err := l.Mint(as(alice), alice, 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-minter, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	l, _ := newTestLedger(t)
	_ = l.Mint(as(minter), alice, 100)

	if err := l.Transfer(as(alice), alice, bob, 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if a, b := mustBalance(t, l, alice), mustBalance(t, l, bob); a != 60 || b != 40 {
		t.Fatalf("expected 60/40, got %d/%d", a, b)
	}
	if err := l.Transfer(as(alice), alice, bob, 61); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := l.Transfer(as(bob), alice, bob, 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized when moving someone else's funds, got %v", err)
	}
	if err := l.Transfer(as(alice), alice, bob, -1); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestTransferFrom_UsesAllowance(t *testing.T) {
	l, _ := newTestLedger(t)
	_ = l.Mint(as(minter), alice, 100)

	if err := l.TransferFrom(as(bob), bob, alice, carol, 10); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance without approval, got %v", err)
	}
	if err := l.Approve(as(alice), alice, bob, 30); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(as(bob), bob, alice, carol, 25); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if got, _ := l.Allowance(context.Background(), alice, bob); got != 5 {
		t.Fatalf("expected remaining allowance 5, got %d", got)
	}
	if got := mustBalance(t, l, carol); got != 25 {
		t.Fatalf("expected carol 25, got %d", got)
	}
	if err := l.TransferFrom(as(carol), bob, alice, carol, 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong spender, got %v", err)
	}
}

func TestFrozenAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	_ = l.Mint(as(minter), alice, 100)

	if err := l.SetFrozen(as(minter), bob, true); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := l.Transfer(as(alice), alice, bob, 1); !errors.Is(err, ErrAccountFrozen) {
		t.Fatalf("expected ErrAccountFrozen, got %v", err)
	}
	_ = l.SetFrozen(as(minter), bob, false)
	if err := l.Transfer(as(alice), alice, bob, 1); err != nil {
		t.Fatalf("expected transfer after unfreeze, got %v", err)
	}
}

func TestHookFailureRollsBack(t *testing.T) {
	l, _ := newTestLedger(t)
	_ = l.Mint(as(minter), alice, 100)

	errHook := errors.New("receiver rejected")
	l.SetTransferHook(func(ctx context.Context, from, to common.Address, amount int64) error {
		return errHook
	})

	if err := l.Transfer(as(alice), alice, bob, 10); !errors.Is(err, errHook) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if a, b := mustBalance(t, l, alice), mustBalance(t, l, bob); a != 100 || b != 0 {
		t.Fatalf("expected balances untouched, got %d/%d", a, b)
	}
}

func TestTransferInsideFailedInvocationRollsBack(t *testing.T) {
	l, h := newTestLedger(t)
	_ = l.Mint(as(minter), alice, 100)

	errLater := errors.New("later step failed")
	err := h.Invoke(as(alice), func(ctx context.Context, tx *ledger.Tx) error {
		if err := l.Transfer(ctx, alice, bob, 50); err != nil {
			return err
		}
		if b, _ := l.Balance(ctx, bob); b != 50 {
			t.Fatalf("expected nested read to see bob=50, got %d", b)
		}
		return errLater
	})
	if !errors.Is(err, errLater) {
		t.Fatalf("expected errLater, got %v", err)
	}
	if got := mustBalance(t, l, bob); got != 0 {
		t.Fatalf("expected bob 0 after rollback, got %d", got)
	}
}
