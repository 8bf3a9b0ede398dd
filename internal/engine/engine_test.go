package engine

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/efreitasn/p2pescrow/internal/outbox"
	"github.com/efreitasn/p2pescrow/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	collector  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	seller     = common.HexToAddress("0x0000000000000000000000000000000000000055")
	buyer      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	escrowAddr = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	minter     = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

// fataler is the subset of testing.TB that *rapid.T also implements.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

type testEnv struct {
	t      fataler
	host   *ledger.Host
	tok    *token.Ledger
	events *outbox.Log
	eng    *Engine
}

func as(addr common.Address) context.Context {
	return auth.WithPrincipal(context.Background(), addr)
}

// newTestEnv returns an initialized escrow with the given fee rate and
// trade limits wide enough for small test amounts.
func newTestEnv(t fataler, feeRate uint32, opts ...Option) *testEnv {
	t.Helper()
	host := ledger.NewHost(ledger.WithClock(func() time.Time { return baseTime }))
	tok := token.NewLedger(host, token.Metadata{Address: tokenAddr, Symbol: "USDC", Decimals: 6, Minter: minter})
	events := outbox.NewLog()
	eng := New(host, escrowAddr, tok, events, opts...)

	if err := eng.Initialize(as(admin), admin, tokenAddr, collector); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := eng.UpdateTradeLimits(as(admin), 1, domain.DefaultMaxTradeAmount); err != nil {
		t.Fatalf("trade limits: %v", err)
	}
	if _, err := eng.UpdateFeeRate(as(admin), feeRate); err != nil {
		t.Fatalf("fee rate: %v", err)
	}
	return &testEnv{t: t, host: host, tok: tok, events: events, eng: eng}
}

// fund mints amount to addr and approves the escrow to pull it.
func (e *testEnv) fund(addr common.Address, amount int64) {
	e.t.Helper()
	if err := e.tok.Mint(as(minter), addr, amount); err != nil {
		e.t.Fatalf("mint: %v", err)
	}
	if err := e.tok.Approve(as(addr), addr, escrowAddr, amount); err != nil {
		e.t.Fatalf("approve: %v", err)
	}
}

func (e *testEnv) balance(addr common.Address) int64 {
	e.t.Helper()
	b, err := e.tok.Balance(context.Background(), addr)
	if err != nil {
		e.t.Fatalf("balance: %v", err)
	}
	return b
}

func (e *testEnv) trade(id uint64) domain.Trade {
	e.t.Helper()
	tr, err := e.eng.GetTrade(context.Background(), id)
	if err != nil {
		e.t.Fatalf("get trade %d: %v", id, err)
	}
	return tr
}

// openTrade funds seller, creates a 1000/150000 offer and matches buyer
// against it.
func (e *testEnv) openTrade() (offerID, tradeID uint64) {
	e.t.Helper()
	e.fund(seller, 1000)
	offerID, err := e.eng.CreateOffer(as(seller), seller, 1000, 150000)
	if err != nil {
		e.t.Fatalf("create offer: %v", err)
	}
	tradeID, err = e.eng.InitiateTrade(as(buyer), buyer, offerID)
	if err != nil {
		e.t.Fatalf("initiate trade: %v", err)
	}
	return offerID, tradeID
}

func (e *testEnv) eventTypes() []domain.EventType {
	var types []domain.EventType
	for _, ev := range e.events.After(0, 0) {
		types = append(types, ev.Type)
	}
	return types
}

func TestScenario_DualConfirmationReleases(t *testing.T) {
	env := newTestEnv(t, 100)
	offerID, tradeID := env.openTrade()

	if got := env.balance(escrowAddr); got != 1000 {
		t.Fatalf("expected escrow to hold 1000, got %d", got)
	}

	tr, err := env.eng.ConfirmPayment(as(buyer), tradeID, buyer)
	if err != nil {
		t.Fatalf("buyer confirm: %v", err)
	}
	if !tr.BuyerConfirmed || tr.SellerConfirmed || tr.Status != domain.TradeStatusInitiated {
		t.Fatalf("after buyer confirm: got %+v", tr)
	}

	tr, err = env.eng.ConfirmPayment(as(seller), tradeID, seller)
	if err != nil {
		t.Fatalf("seller confirm: %v", err)
	}
	if tr.Status != domain.TradeStatusCompleted {
		t.Fatalf("expected completed, got %s", tr.Status)
	}
	if got := env.trade(tradeID).Status; got != domain.TradeStatusCompleted {
		t.Fatalf("expected stored status completed, got %s", got)
	}
	if b, c, x := env.balance(buyer), env.balance(collector), env.balance(escrowAddr); b != 990 || c != 10 || x != 0 {
		t.Fatalf("expected buyer=990 collector=10 escrow=0, got %d/%d/%d", b, c, x)
	}

	for _, p := range []common.Address{buyer, seller} {
		if _, err := env.eng.ConfirmPayment(as(p), tradeID, p); !errors.Is(err, domain.ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus on confirm after completion, got %v", err)
		}
	}
	if b := env.balance(buyer); b != 990 {
		t.Fatalf("expected no further transfer, buyer has %d", b)
	}

	offer, err := env.eng.GetOffer(context.Background(), offerID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if offer.Status != domain.OfferStatusSettled {
		t.Errorf("expected settled offer, got %s", offer.Status)
	}

	completed := env.events.After(0, 0)
	last := completed[len(completed)-1]
	if last.Type != domain.EventTradeCompleted || last.Amount != 990 || last.Fee != 10 {
		t.Errorf("expected trade.completed with 990/10, got %+v", last)
	}
}

func TestConfirmPayment_DuplicateIsRejected(t *testing.T) {
	env := newTestEnv(t, 0)
	_, tradeID := env.openTrade()

	if _, err := env.eng.ConfirmPayment(as(buyer), tradeID, buyer); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, err := env.eng.ConfirmPayment(as(buyer), tradeID, buyer); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on duplicate confirm, got %v", err)
	}
}

func TestConfirmPayment_Authorization(t *testing.T) {
	env := newTestEnv(t, 0)
	_, tradeID := env.openTrade()
	stranger := common.HexToAddress("0x0000000000000000000000000000000000000099")

	if _, err := env.eng.ConfirmPayment(as(stranger), tradeID, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for non-party, got %v", err)
	}
	if _, err := env.eng.ConfirmPayment(as(seller), tradeID, buyer); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized confirming for the other party, got %v", err)
	}
	if _, err := env.eng.ConfirmPayment(as(buyer), 42, buyer); !errors.Is(err, domain.ErrTradeNotFound) {
		t.Errorf("expected ErrTradeNotFound, got %v", err)
	}
}

func TestZeroFeeSkipsCollector(t *testing.T) {
	env := newTestEnv(t, 0)
	_, tradeID := env.openTrade()

	_, _ = env.eng.ConfirmPayment(as(buyer), tradeID, buyer)
	if _, err := env.eng.ConfirmPayment(as(seller), tradeID, seller); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if b, c := env.balance(buyer), env.balance(collector); b != 1000 || c != 0 {
		t.Fatalf("expected buyer=1000 collector=0, got %d/%d", b, c)
	}
}

func TestTransitionLegality(t *testing.T) {
	type action struct {
		name string
		run  func(env *testEnv, tradeID uint64) error
	}
	actions := []action{
		{"confirm", func(env *testEnv, id uint64) error {
			_, err := env.eng.ConfirmPayment(as(buyer), id, buyer)
			return err
		}},
		{"cancel", func(env *testEnv, id uint64) error {
			_, err := env.eng.CancelTrade(as(buyer), id, buyer)
			return err
		}},
		{"dispute", func(env *testEnv, id uint64) error {
			_, err := env.eng.RaiseDispute(as(buyer), id, buyer)
			return err
		}},
	}

	setups := []struct {
		status domain.TradeStatus
		reach  func(env *testEnv, id uint64)
	}{
		{domain.TradeStatusCompleted, func(env *testEnv, id uint64) {
			_, _ = env.eng.ConfirmPayment(as(buyer), id, buyer)
			_, _ = env.eng.ConfirmPayment(as(seller), id, seller)
		}},
		{domain.TradeStatusCancelled, func(env *testEnv, id uint64) {
			_, _ = env.eng.CancelTrade(as(seller), id, seller)
		}},
		{domain.TradeStatusDisputed, func(env *testEnv, id uint64) {
			_, _ = env.eng.RaiseDispute(as(seller), id, seller)
		}},
	}

	for _, setup := range setups {
		for _, a := range actions {
			t.Run(string(setup.status)+"/"+a.name, func(t *testing.T) {
				env := newTestEnv(t, 100)
				_, id := env.openTrade()
				setup.reach(env, id)
				if got := env.trade(id).Status; got != setup.status {
					t.Fatalf("setup: expected %s, got %s", setup.status, got)
				}

				before := env.balance(escrowAddr)
				if err := a.run(env, id); !errors.Is(err, domain.ErrInvalidStatus) {
					t.Fatalf("expected ErrInvalidStatus, got %v", err)
				}
				if got := env.trade(id).Status; got != setup.status {
					t.Errorf("expected status to stay %s, got %s", setup.status, got)
				}
				if after := env.balance(escrowAddr); after != before {
					t.Errorf("expected custody unchanged, %d -> %d", before, after)
				}
			})
		}
	}
}

func TestCancelTrade_AfterSingleConfirmation(t *testing.T) {
	env := newTestEnv(t, 100)
	_, tradeID := env.openTrade()

	_, _ = env.eng.ConfirmPayment(as(buyer), tradeID, buyer)
	tr, err := env.eng.CancelTrade(as(seller), tradeID, seller)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if tr.Status != domain.TradeStatusCancelled {
		t.Fatalf("expected cancelled, got %s", tr.Status)
	}
	if got := env.balance(seller); got != 1000 {
		t.Fatalf("expected seller refunded 1000, got %d", got)
	}
}

func TestCancelTrade_FailedRefundKeepsTradeInitiated(t *testing.T) {
	env := newTestEnv(t, 100)
	_, tradeID := env.openTrade()
	if err := env.tok.SetFrozen(as(minter), seller, true); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	eventsBefore := env.events.LastSeq()

	_, err := env.eng.CancelTrade(as(buyer), tradeID, buyer)
	if !errors.Is(err, domain.ErrTokenTransferFailed) {
		t.Fatalf("expected ErrTokenTransferFailed, got %v", err)
	}
	if !errors.Is(err, token.ErrAccountFrozen) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if got := env.trade(tradeID).Status; got != domain.TradeStatusInitiated {
		t.Fatalf("expected trade to stay initiated, got %s", got)
	}
	if got := env.balance(escrowAddr); got != 1000 {
		t.Fatalf("expected escrow to still hold 1000, got %d", got)
	}
	if env.events.LastSeq() != eventsBefore || slices.Contains(env.eventTypes(), domain.EventTradeCancelled) {
		t.Fatal("expected no event from the failed cancellation")
	}
}

func TestRelease_FailedFeeTransferRollsBackPayout(t *testing.T) {
	env := newTestEnv(t, 100)
	_, tradeID := env.openTrade()
	_, _ = env.eng.ConfirmPayment(as(buyer), tradeID, buyer)
	_ = env.tok.SetFrozen(as(minter), collector, true)

	if _, err := env.eng.ConfirmPayment(as(seller), tradeID, seller); !errors.Is(err, domain.ErrTokenTransferFailed) {
		t.Fatalf("expected ErrTokenTransferFailed, got %v", err)
	}
	tr := env.trade(tradeID)
	if tr.Status != domain.TradeStatusInitiated || tr.SellerConfirmed || !tr.BuyerConfirmed {
		t.Fatalf("expected the seller's confirmation to be rolled back, got %+v", tr)
	}
	if b, x := env.balance(buyer), env.balance(escrowAddr); b != 0 || x != 1000 {
		t.Fatalf("expected payout rolled back (buyer=0 escrow=1000), got %d/%d", b, x)
	}

	_ = env.tok.SetFrozen(as(minter), collector, false)
	if _, err := env.eng.ConfirmPayment(as(seller), tradeID, seller); err != nil {
		t.Fatalf("retry after unfreeze: %v", err)
	}
	if got := env.trade(tradeID).Status; got != domain.TradeStatusCompleted {
		t.Fatalf("expected completed on retry, got %s", got)
	}
}

func TestReentrancy_FromTransferHook(t *testing.T) {
	env := newTestEnv(t, 100)
	_, tradeID := env.openTrade()
	env.fund(buyer, 5000)

	var reentrant error
	env.tok.SetTransferHook(func(ctx context.Context, from, to common.Address, amount int64) error {
		if from == escrowAddr && to == seller {
			_, reentrant = env.eng.CreateOffer(auth.WithPrincipal(ctx, buyer), buyer, 2000, 300000)
		}
		return nil
	})

	if _, err := env.eng.CancelTrade(as(buyer), tradeID, buyer); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !errors.Is(reentrant, domain.ErrReentrancyDetected) {
		t.Fatalf("expected ErrReentrancyDetected from the nested call, got %v", reentrant)
	}
	if env.eng.guard.held {
		t.Fatal("expected guard to be released")
	}

	env.tok.SetTransferHook(nil)
	if _, err := env.eng.CreateOffer(as(buyer), buyer, 2000, 300000); err != nil {
		t.Fatalf("expected the next independent call to succeed, got %v", err)
	}
}

func TestReentrancy_FailingHookAbortsAndFreesGuard(t *testing.T) {
	env := newTestEnv(t, 100)
	env.fund(seller, 1000)

	env.tok.SetTransferHook(func(ctx context.Context, from, to common.Address, amount int64) error {
		_, err := env.eng.InitiateTrade(auth.WithPrincipal(ctx, buyer), buyer, 0)
		return err
	})

	_, err := env.eng.CreateOffer(as(seller), seller, 1000, 150000)
	if !errors.Is(err, domain.ErrTokenTransferFailed) || !errors.Is(err, domain.ErrReentrancyDetected) {
		t.Fatalf("expected a failed deposit caused by reentrancy, got %v", err)
	}
	if env.eng.guard.held {
		t.Fatal("expected guard to be released after failure")
	}
	if _, err := env.eng.GetSellerActiveOffer(context.Background(), seller); !errors.Is(err, domain.ErrOfferNotFound) {
		t.Fatalf("expected no offer after failed create, got %v", err)
	}
	if got := env.balance(seller); got != 1000 {
		t.Fatalf("expected deposit rolled back, seller has %d", got)
	}

	env.tok.SetTransferHook(nil)
	if _, err := env.eng.CreateOffer(as(seller), seller, 1000, 150000); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestCancelOffer_AfterSettlement(t *testing.T) {
	env := newTestEnv(t, 100)
	offerID, tradeID := env.openTrade()
	_, _ = env.eng.ConfirmPayment(as(buyer), tradeID, buyer)
	_, _ = env.eng.ConfirmPayment(as(seller), tradeID, seller)

	if err := env.eng.CancelOffer(as(seller), seller, offerID); err != nil {
		t.Fatalf("expected cancel after completion to succeed, got %v", err)
	}
	if got := env.balance(seller); got != 0 {
		t.Fatalf("expected no refund of consumed escrow, seller has %d", got)
	}
	if _, err := env.eng.GetOffer(context.Background(), offerID); !errors.Is(err, domain.ErrOfferNotFound) {
		t.Fatalf("expected offer removed, got %v", err)
	}
	events := env.events.After(0, 0)
	if last := events[len(events)-1]; last.Type != domain.EventOfferCancelled || last.Amount != 0 {
		t.Errorf("expected offer.cancelled with no refund, got %+v", last)
	}
}

func TestCancelOffer(t *testing.T) {
	env := newTestEnv(t, 100)
	env.fund(seller, 1000)
	offerID, _ := env.eng.CreateOffer(as(seller), seller, 1000, 150000)

	if err := env.eng.CancelOffer(as(buyer), seller, offerID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized without seller auth, got %v", err)
	}
	if err := env.eng.CancelOffer(as(buyer), buyer, offerID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for non-owner, got %v", err)
	}
	if err := env.eng.CancelOffer(as(seller), seller, 7); !errors.Is(err, domain.ErrOfferNotFound) {
		t.Errorf("expected ErrOfferNotFound, got %v", err)
	}

	if err := env.eng.CancelOffer(as(seller), seller, offerID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s, x := env.balance(seller), env.balance(escrowAddr); s != 1000 || x != 0 {
		t.Fatalf("expected refund (seller=1000 escrow=0), got %d/%d", s, x)
	}
	if env.eng.Book().Len() != 0 {
		t.Errorf("expected empty book, got %d", env.eng.Book().Len())
	}
}

func TestCancelOffer_ActiveTradeBlocks(t *testing.T) {
	for _, dispute := range []bool{false, true} {
		env := newTestEnv(t, 100)
		offerID, tradeID := env.openTrade()
		if dispute {
			_, _ = env.eng.RaiseDispute(as(buyer), tradeID, buyer)
		}
		if err := env.eng.CancelOffer(as(seller), seller, offerID); !errors.Is(err, domain.ErrActiveTradeExists) {
			t.Fatalf("disputed=%v: expected ErrActiveTradeExists, got %v", dispute, err)
		}
	}
}

func TestCreateOffer_Validation(t *testing.T) {
	env := newTestEnv(t, 100)
	env.fund(seller, 10_000)

	tests := []struct {
		name    string
		ctx     context.Context
		token   int64
		fiat    int64
		wantErr error
	}{
		{"wrong caller", as(buyer), 1000, 150000, domain.ErrUnauthorized},
		{"zero amount", as(seller), 0, 150000, domain.ErrInvalidAmount},
		{"above max", as(seller), domain.DefaultMaxTradeAmount + 1, 150000, domain.ErrInvalidAmount},
		{"zero fiat", as(seller), 1000, 0, domain.ErrInvalidAmount},
		{"rate too high", as(seller), 1, 2_000_000, domain.ErrInvalidExchangeRate},
		{"over allowance", as(seller), 20_000, 150000, domain.ErrInsufficientAllowance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.eng.CreateOffer(tt.ctx, seller, tt.token, tt.fiat); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if got := env.balance(escrowAddr); got != 0 {
		t.Fatalf("expected nothing escrowed, got %d", got)
	}
}

func TestCreateOffer_OneActivePerSeller(t *testing.T) {
	env := newTestEnv(t, 100)
	offerID, tradeID := env.openTrade()
	env.fund(seller, 1000)

	if _, err := env.eng.CreateOffer(as(seller), seller, 1000, 150000); !errors.Is(err, domain.ErrAlreadyHasActiveOffer) {
		t.Fatalf("expected ErrAlreadyHasActiveOffer while trade is open, got %v", err)
	}
	if id, err := env.eng.GetSellerActiveOffer(context.Background(), seller); err != nil || id != offerID {
		t.Fatalf("expected active offer %d, got %d (%v)", offerID, id, err)
	}

	_, _ = env.eng.CancelTrade(as(seller), tradeID, seller)
	next, err := env.eng.CreateOffer(as(seller), seller, 1000, 150000)
	if err != nil {
		t.Fatalf("expected new offer after settlement, got %v", err)
	}
	if next == offerID {
		t.Fatalf("expected a fresh offer id, got %d again", next)
	}
}

func TestInitiateTrade_Rules(t *testing.T) {
	env := newTestEnv(t, 100)
	offerID, tradeID := env.openTrade()
	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	if _, err := env.eng.InitiateTrade(as(other), other, offerID); !errors.Is(err, domain.ErrActiveTradeExists) {
		t.Errorf("expected ErrActiveTradeExists on matched offer, got %v", err)
	}
	if _, err := env.eng.InitiateTrade(as(seller), seller, offerID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for self-trade, got %v", err)
	}
	if _, err := env.eng.InitiateTrade(as(other), other, 99); !errors.Is(err, domain.ErrOfferNotFound) {
		t.Errorf("expected ErrOfferNotFound, got %v", err)
	}

	_, _ = env.eng.CancelTrade(as(buyer), tradeID, buyer)
	if _, err := env.eng.InitiateTrade(as(other), other, offerID); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus on settled offer, got %v", err)
	}

	tr := env.trade(tradeID)
	if tr.TokenAmount != 1000 || tr.FiatAmount != 150000 || !tr.StartTime.Equal(baseTime) {
		t.Errorf("expected trade to snapshot the offer, got %+v", tr)
	}
}

func TestSettle_RejectsLiveTrade(t *testing.T) {
	env := newTestEnv(t, 100)
	err := env.host.Invoke(context.Background(), func(_ context.Context, tx *ledger.Tx) error {
		return env.eng.settle(tx, domain.Trade{ID: 9, Status: domain.TradeStatusPaymentConfirmed})
	})
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestBookFollowsCommittedState(t *testing.T) {
	env := newTestEnv(t, 100)
	env.fund(seller, 1000)
	offerID, _ := env.eng.CreateOffer(as(seller), seller, 1000, 150000)

	if got, total := env.eng.ListAvailableOffers(0, 10); len(got) != 1 || got[0].ID != offerID || total != 1 {
		t.Fatalf("expected offer on the book, got %+v (total %d)", got, total)
	}
	if levels := env.eng.OfferDepth(5); len(levels) != 1 || levels[0].TotalTokens != 1000 || levels[0].OfferCount != 1 {
		t.Fatalf("expected one rate level, got %+v", levels)
	}

	if _, err := env.eng.InitiateTrade(as(buyer), buyer, offerID); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if env.eng.Book().Len() != 0 {
		t.Fatalf("expected matched offer off the book, got %d", env.eng.Book().Len())
	}
	if levels := env.eng.OfferDepth(5); len(levels) != 0 {
		t.Fatalf("expected no rate levels after matching, got %+v", levels)
	}
}

func TestDispute_RefundToSeller(t *testing.T) {
	env := newTestEnv(t, 100)
	_, tradeID := env.openTrade()
	_, _ = env.eng.ConfirmPayment(as(buyer), tradeID, buyer)

	tr, err := env.eng.RaiseDispute(as(seller), tradeID, seller)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if tr.Status != domain.TradeStatusDisputed || tr.DisputedBy == nil || *tr.DisputedBy != seller {
		t.Fatalf("expected disputed by seller, got %+v", tr)
	}

	if _, err := env.eng.ResolveDispute(as(buyer), tradeID, domain.ResolutionRefundToSeller); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}
	if _, err := env.eng.ResolveDispute(as(admin), tradeID, "split"); err == nil {
		t.Fatal("expected error for unknown resolution")
	}

	tr, err = env.eng.ResolveDispute(as(admin), tradeID, domain.ResolutionRefundToSeller)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tr.Status != domain.TradeStatusCancelled || tr.Resolution != domain.ResolutionRefundToSeller {
		t.Fatalf("expected cancelled refund, got %+v", tr)
	}
	if s, x := env.balance(seller), env.balance(escrowAddr); s != 1000 || x != 0 {
		t.Fatalf("expected seller refunded, got seller=%d escrow=%d", s, x)
	}
	if _, err := env.eng.ResolveDispute(as(admin), tradeID, domain.ResolutionReleaseToBuyer); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on second resolution, got %v", err)
	}

	types := env.eventTypes()
	if !slices.Contains(types, domain.EventDisputeRaised) || !slices.Contains(types, domain.EventDisputeResolved) {
		t.Errorf("expected dispute events, got %v", types)
	}
}

func TestDispute_ReleaseToBuyer(t *testing.T) {
	env := newTestEnv(t, 100)
	_, tradeID := env.openTrade()
	_, _ = env.eng.RaiseDispute(as(buyer), tradeID, buyer)

	tr, err := env.eng.ResolveDispute(as(admin), tradeID, domain.ResolutionReleaseToBuyer)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tr.Status != domain.TradeStatusCompleted || tr.Resolution != domain.ResolutionReleaseToBuyer {
		t.Fatalf("expected completed release, got %+v", tr)
	}
	if b, c := env.balance(buyer), env.balance(collector); b != 990 || c != 10 {
		t.Fatalf("expected buyer=990 collector=10, got %d/%d", b, c)
	}
}

func TestResolveDispute_RequiresDisputed(t *testing.T) {
	env := newTestEnv(t, 100)
	_, tradeID := env.openTrade()
	if _, err := env.eng.ResolveDispute(as(admin), tradeID, domain.ResolutionRefundToSeller); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestPause(t *testing.T) {
	env := newTestEnv(t, 100)
	_, tradeID := env.openTrade()

	if err := env.eng.Pause(as(buyer)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin pause, got %v", err)
	}
	if err := env.eng.Pause(as(admin)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused, _ := env.eng.IsPaused(context.Background()); !paused {
		t.Fatal("expected paused")
	}

	if _, err := env.eng.ConfirmPayment(as(buyer), tradeID, buyer); !errors.Is(err, domain.ErrPaused) {
		t.Errorf("expected ErrPaused on confirm, got %v", err)
	}
	if _, err := env.eng.CancelTrade(as(buyer), tradeID, buyer); !errors.Is(err, domain.ErrPaused) {
		t.Errorf("expected ErrPaused on cancel, got %v", err)
	}
	if _, err := env.eng.CreateOffer(as(buyer), buyer, 1000, 150000); !errors.Is(err, domain.ErrPaused) {
		t.Errorf("expected ErrPaused on create, got %v", err)
	}
	if _, err := env.eng.RaiseDispute(as(buyer), tradeID, buyer); err != nil {
		t.Errorf("expected dispute to be allowed while paused, got %v", err)
	}

	if err := env.eng.Unpause(as(admin)); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if paused, _ := env.eng.IsPaused(context.Background()); paused {
		t.Fatal("expected unpaused")
	}
}

func TestInitialize(t *testing.T) {
	host := ledger.NewHost()
	tok := token.NewLedger(host, token.Metadata{Address: tokenAddr, Minter: minter})
	eng := New(host, escrowAddr, tok, outbox.NewLog())

	if _, err := eng.CreateOffer(as(seller), seller, 1000, 150000); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := eng.GetOffer(context.Background(), 0); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized on query, got %v", err)
	}
	if err := eng.Initialize(as(buyer), admin, tokenAddr, collector); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := eng.Initialize(as(admin), admin, seller, collector); !errors.Is(err, domain.ErrInvalidTokenAddress) {
		t.Fatalf("expected ErrInvalidTokenAddress, got %v", err)
	}
	if err := eng.Initialize(as(admin), admin, tokenAddr, common.Address{}); domain.Code(err) != "validation_error" {
		t.Fatalf("expected zero fee collector to be rejected, got %v", err)
	}
	if err := eng.Initialize(as(admin), admin, tokenAddr, collector); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := eng.Initialize(as(admin), admin, tokenAddr, collector); !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	info, err := eng.ContractInfo(context.Background())
	if err != nil {
		t.Fatalf("contract info: %v", err)
	}
	if info.Settings.FeeRate != domain.DefaultFeeRate || info.Settings.Admin != admin || info.Address != escrowAddr {
		t.Errorf("unexpected contract info: %+v", info)
	}
}

func TestAdminUpdates(t *testing.T) {
	env := newTestEnv(t, 100)
	newAdmin := common.HexToAddress("0x00000000000000000000000000000000000000a2")

	if _, err := env.eng.UpdateFeeRate(as(admin), domain.MaxFeeRate+1); !errors.Is(err, domain.ErrInvalidFeeRate) {
		t.Errorf("expected ErrInvalidFeeRate, got %v", err)
	}
	if _, err := env.eng.UpdateTradeLimits(as(admin), 10, 5); !errors.Is(err, domain.ErrInvalidTradeLimits) {
		t.Errorf("expected ErrInvalidTradeLimits, got %v", err)
	}
	if _, err := env.eng.UpdateRateBounds(as(admin), decimal.NewFromInt(5), decimal.NewFromInt(1)); !errors.Is(err, domain.ErrInvalidRateBounds) {
		t.Errorf("expected ErrInvalidRateBounds, got %v", err)
	}
	if _, err := env.eng.UpdateFeeCollector(as(buyer), buyer); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	if _, err := env.eng.UpdateFeeCollector(as(admin), common.Address{}); domain.Code(err) != "validation_error" {
		t.Errorf("expected zero fee collector to be rejected, got %v", err)
	}

	s, err := env.eng.UpdateAdmin(as(admin), newAdmin)
	if err != nil || s.Admin != admin || s.PendingAdmin != newAdmin {
		t.Fatalf("propose admin: %+v, %v", s, err)
	}
	if _, err := env.eng.AcceptAdmin(as(buyer)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected only the proposed admin to accept, got %v", err)
	}
	s, err = env.eng.AcceptAdmin(as(newAdmin))
	if err != nil || s.Admin != newAdmin || s.PendingAdmin != (common.Address{}) {
		t.Fatalf("accept admin: %+v, %v", s, err)
	}
	if _, err := env.eng.AcceptAdmin(as(newAdmin)); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus with no pending admin, got %v", err)
	}
	if _, err := env.eng.UpdateFeeRate(as(admin), 50); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected old admin to lose rights, got %v", err)
	}
	if s, err := env.eng.UpdateFeeRate(as(newAdmin), 50); err != nil || s.FeeRate != 50 {
		t.Errorf("expected new admin to update fee rate, got %+v, %v", s, err)
	}

	events := env.events.After(0, 0)
	last := events[len(events)-1]
	if last.Type != domain.EventConfigUpdated || last.Detail != "fee_rate=50" || last.Actor != newAdmin {
		t.Errorf("expected config.updated event, got %+v", last)
	}
}

func TestUpdateAdmin_ZeroAddressKeepsGovernance(t *testing.T) {
	env := newTestEnv(t, 100)

	if _, err := env.eng.UpdateAdmin(as(admin), common.Address{}); domain.Code(err) != "validation_error" {
		t.Fatalf("expected zero admin to be rejected, got %v", err)
	}
	// An unaccepted proposal leaves the current admin in charge.
	if _, err := env.eng.UpdateAdmin(as(admin), common.HexToAddress("0x00000000000000000000000000000000000000a3")); err != nil {
		t.Fatalf("propose admin: %v", err)
	}
	if s, err := env.eng.UpdateFeeRate(as(admin), 50); err != nil || s.FeeRate != 50 {
		t.Fatalf("expected admin to keep governing, got %+v, %v", s, err)
	}
}

type denyGovernance struct{}

func (denyGovernance) Authorize(context.Context, string, domain.Settings) error {
	return domain.ErrUnauthorized
}

func TestGovernanceIsInjected(t *testing.T) {
	env := newTestEnv(t, 100)
	eng := New(env.host, common.HexToAddress("0x00000000000000000000000000000000000000e6"), env.tok, outbox.NewLog(), WithGovernance(denyGovernance{}))
	if err := eng.Initialize(as(admin), admin, tokenAddr, collector); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := eng.Pause(as(admin)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected governance to veto the admin, got %v", err)
	}
}

type recordedOp struct {
	name string
	code string
}

type fakeRecorder struct {
	ops       []recordedOp
	transfers map[string]int64
}

func (r *fakeRecorder) Operation(name string, err error) {
	r.ops = append(r.ops, recordedOp{name, domain.Code(err)})
}

func (r *fakeRecorder) Transfer(kind string, amount int64, err error) {
	if err == nil {
		r.transfers[kind] += amount
	}
}

func TestRecorder(t *testing.T) {
	rec := &fakeRecorder{transfers: make(map[string]int64)}
	env := newTestEnv(t, 100, WithRecorder(rec))
	_, tradeID := env.openTrade()
	_, _ = env.eng.ConfirmPayment(as(buyer), tradeID, buyer)
	_, _ = env.eng.ConfirmPayment(as(seller), tradeID, seller)
	_, _ = env.eng.ConfirmPayment(as(seller), tradeID, seller)

	want := map[string]int64{TransferDeposit: 1000, TransferPayout: 990, TransferFee: 10}
	for kind, amount := range want {
		if rec.transfers[kind] != amount {
			t.Errorf("%s: expected %d, got %d", kind, amount, rec.transfers[kind])
		}
	}
	last := rec.ops[len(rec.ops)-1]
	if last.name != "confirm_payment" || last.code != "invalid_status" {
		t.Errorf("expected failed confirm to be recorded, got %+v", last)
	}
}
