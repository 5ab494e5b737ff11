package lending

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
)

func TestInitialize(t *testing.T) {
	h := newHarness(t)
	admin := makeAddress(crypto.AccountPrefix, 0x01)

	for _, attached := range []*uint256.Int{nil, u(0), u(2)} {
		if err := h.engine.Initialize(admin, "", attached); !errors.Is(err, ErrInvalidInitialValue) {
			t.Fatalf("expected ErrInvalidInitialValue for %v, got %v", attached, err)
		}
	}
	if err := h.engine.Initialize(admin, "", u(1)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	requireAmount(t, "reserve", h.market(t).Reserve, 1)
	if err := h.engine.Initialize(admin, "", u(1)); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeWithTokenPullsOneUnit(t *testing.T) {
	h := newHarness(t)
	admin := makeAddress(crypto.AccountPrefix, 0x01)
	h.token.mint(admin, u(3))

	if err := h.engine.Initialize(admin, testStable, u(1)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	requireAmount(t, "admin balance", h.token.balance(admin), 2)
	requireAmount(t, "custody balance", h.token.balance(h.custody), 1_000_001)
}

func TestInitializeRollsBackWhenTokenUnavailable(t *testing.T) {
	h := newHarness(t)
	admin := makeAddress(crypto.AccountPrefix, 0x01)

	if err := h.engine.Initialize(admin, "unknown", u(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	if reserve := h.market(t).Reserve; !reserve.IsZero() {
		t.Fatalf("reserve committed despite failure: %s", reserve.Dec())
	}

	// Pull failure after the reserve write must also unwind it.
	h.token.failPull = true
	if err := h.engine.Initialize(admin, testStable, u(1)); !errors.Is(err, ErrExternalTransferFailed) {
		t.Fatalf("expected ErrExternalTransferFailed, got %v", err)
	}
	if reserve := h.market(t).Reserve; !reserve.IsZero() {
		t.Fatalf("reserve committed despite pull failure: %s", reserve.Dec())
	}
}

func TestDepositValidation(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x02)

	cases := []struct {
		name     string
		caller   crypto.Address
		asset    Asset
		amount   *uint256.Int
		attached *uint256.Int
		want     error
	}{
		{name: "zero amount", caller: user, asset: NativeAsset, amount: u(0), attached: u(0), want: ErrInvalidAmount},
		{name: "nil amount", caller: user, asset: testStable, want: ErrInvalidAmount},
		{name: "native without value", caller: user, asset: NativeAsset, amount: u(10), attached: u(9), want: ErrInvalidAmount},
		{name: "stable with value", caller: user, asset: testStable, amount: u(10), attached: u(1), want: ErrInvalidAmount},
		{name: "unsupported asset", caller: user, asset: "other", amount: u(10), want: ErrUnsupportedAsset},
		{name: "zero caller", caller: crypto.Address{}, asset: NativeAsset, amount: u(10), attached: u(10), want: ErrInvalidAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := h.engine.Deposit(tc.caller, tc.asset, tc.amount, tc.attached); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("rejected deposits emitted events")
	}
}

func TestDepositNativeAndStable(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x02)

	h.depositNative(t, user, 100)
	h.token.mint(user, u(500))
	if err := h.engine.Deposit(user, testStable, u(200), nil); err != nil {
		t.Fatalf("deposit stable: %v", err)
	}

	acc := h.account(t, user)
	requireAmount(t, "collateral", acc.CollateralNative, 100)
	requireAmount(t, "supplied", acc.SuppliedStable, 200)
	if acc.LastUpdateStep != 1 {
		t.Fatalf("expected lastUpdateStep 1, got %d", acc.LastUpdateStep)
	}
	requireAmount(t, "user tokens", h.token.balance(user), 300)
	requireAmount(t, "custody tokens", h.token.balance(h.custody), 1_000_200)

	records := h.recorder.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 events, got %d", len(records))
	}
	if records[0].Type != events.TypeLendingDeposit || records[0].Attributes["asset"] != "native" || records[0].Attributes["amount"] != "100" {
		t.Fatalf("unexpected native deposit event %+v", records[0])
	}
	if records[1].Attributes["asset"] != "usdx" || records[1].Attributes["account"] != user.String() {
		t.Fatalf("unexpected stable deposit event %+v", records[1])
	}
}

func TestDepositStablePullFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x02)
	h.token.mint(user, u(10))

	err := h.engine.Deposit(user, testStable, u(50), nil)
	if !errors.Is(err, ErrExternalTransferFailed) {
		t.Fatalf("expected ErrExternalTransferFailed, got %v", err)
	}
	var extErr *ExternalError
	if !errors.As(err, &extErr) || extErr.Op != "transferFrom" || extErr.Asset != testStable {
		t.Fatalf("expected transferFrom ExternalError, got %#v", err)
	}
	if acc := h.account(t, user); !acc.SuppliedStable.IsZero() || acc.LastUpdateStep != 0 {
		t.Fatalf("failed deposit changed account: %+v", acc)
	}
	requireAmount(t, "user tokens", h.token.balance(user), 10)
}

func TestDepositRefundsPullWhenStateWriteFails(t *testing.T) {
	h := newHarness(t)
	state := &failingState{MemState: h.state, failAccountPut: true}
	h.engine.SetState(state)
	user := makeAddress(crypto.AccountPrefix, 0x02)
	h.token.mint(user, u(50))

	if err := h.engine.Deposit(user, testStable, u(50), nil); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	requireAmount(t, "user tokens", h.token.balance(user), 50)
	requireAmount(t, "custody tokens", h.token.balance(h.custody), 1_000_000)
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("failed deposit emitted events")
	}
}

func TestRollbackReportsRefundFailure(t *testing.T) {
	h := newHarness(t)
	state := &failingState{MemState: h.state, failAccountPut: true}
	h.engine.SetState(state)
	user := makeAddress(crypto.AccountPrefix, 0x02)
	h.token.mint(user, u(50))
	h.token.failTransfer = true

	err := h.engine.Deposit(user, testStable, u(50), nil)
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if errors.Is(err, ErrExternalTransferFailed) {
		t.Fatalf("refund failure should be reported raw, got %v", err)
	}
	requireAmount(t, "custody tokens", h.token.balance(h.custody), 1_000_050)
}

func TestWithdrawGating(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x03)
	h.depositNative(t, user, 100)
	if err := h.engine.Borrow(user, testStable, u(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// debtValue*100 = 10000 against (100-w)*200*100/75: 38 remaining is the
	// smallest collateral that still qualifies.
	allowed, err := h.engine.IsWithdrawAllowed(user, u(62), true)
	if err != nil || !allowed {
		t.Fatalf("expected withdrawal of 62 to be allowed, got %v %v", allowed, err)
	}
	allowed, err = h.engine.IsWithdrawAllowed(user, u(63), true)
	if err != nil || allowed {
		t.Fatalf("expected withdrawal of 63 to be rejected, got %v %v", allowed, err)
	}
	allowed, err = h.engine.IsWithdrawAllowed(user, u(1_000), false)
	if err != nil || !allowed {
		t.Fatalf("stable withdrawals should not reduce collateral, got %v %v", allowed, err)
	}

	if err := h.engine.Withdraw(user, NativeAsset, u(63)); !errors.Is(err, ErrCollateralExceeded) {
		t.Fatalf("expected ErrCollateralExceeded, got %v", err)
	}
	if err := h.engine.Withdraw(user, NativeAsset, u(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	requireAmount(t, "collateral after rejects", h.account(t, user).CollateralNative, 100)

	if err := h.engine.Withdraw(user, NativeAsset, u(62)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireAmount(t, "collateral", h.account(t, user).CollateralNative, 38)
	requireAmount(t, "native paid", h.bank.received(user), 62)
}

func TestWithdrawStable(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x03)
	h.depositStable(t, user, u(300))

	if err := h.engine.Withdraw(user, testStable, u(301)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := h.engine.Withdraw(user, "other", u(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	if err := h.engine.Withdraw(user, testStable, u(120)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireAmount(t, "supplied", h.account(t, user).SuppliedStable, 180)
	requireAmount(t, "user tokens", h.token.balance(user), 120)

	last := h.recorder.Records()[len(h.recorder.Records())-1]
	if last.Type != events.TypeLendingWithdraw || last.Attributes["amount"] != "120" {
		t.Fatalf("unexpected withdraw event %+v", last)
	}
}

func TestWithdrawPayoutFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x03)
	h.depositNative(t, user, 100)
	h.depositStable(t, user, u(40))
	h.recorder.Reset()

	h.bank.fail = true
	if err := h.engine.Withdraw(user, NativeAsset, u(10)); !errors.Is(err, ErrExternalTransferFailed) {
		t.Fatalf("expected ErrExternalTransferFailed, got %v", err)
	}
	h.token.failTransfer = true
	if err := h.engine.Withdraw(user, testStable, u(10)); !errors.Is(err, ErrExternalTransferFailed) {
		t.Fatalf("expected ErrExternalTransferFailed, got %v", err)
	}

	acc := h.account(t, user)
	requireAmount(t, "collateral", acc.CollateralNative, 100)
	requireAmount(t, "supplied", acc.SuppliedStable, 40)
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("failed withdrawals emitted events")
	}
}

func TestWithdrawWithoutNativeBank(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x03)
	h.depositNative(t, user, 100)
	h.engine.SetNativeBank(nil)

	if err := h.engine.Withdraw(user, NativeAsset, u(10)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	requireAmount(t, "collateral", h.account(t, user).CollateralNative, 100)
}

func TestBorrowCoverageBoundary(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x04)
	h.depositNative(t, user, 100)

	// collateralValue*100 = 2,000,000; 13334*150 = 2,000,100 fails while
	// 13333*150 = 1,999,950 passes.
	if err := h.engine.Borrow(user, testStable, u(13_334)); !errors.Is(err, ErrCollateralExceeded) {
		t.Fatalf("expected ErrCollateralExceeded, got %v", err)
	}
	requireAmount(t, "debt after reject", h.account(t, user).Debt, 0)
	requireAmount(t, "custody after reject", h.token.balance(h.custody), 1_000_000)

	if err := h.engine.Borrow(user, testStable, u(13_333)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := h.engine.Borrow(user, testStable, u(1)); !errors.Is(err, ErrCollateralExceeded) {
		t.Fatalf("expected cumulative debt to be gated, got %v", err)
	}
	requireAmount(t, "debt", h.account(t, user).Debt, 13_333)
	requireAmount(t, "totalBorrows", h.market(t).TotalBorrows, 13_333)
	requireAmount(t, "user tokens", h.token.balance(user), 13_333)
}

func TestBorrowLiteralInequalityScenario(t *testing.T) {
	h := newHarness(t)
	for i, amount := range []uint64{120, 130} {
		user := makeAddress(crypto.AccountPrefix, byte(0x10+i))
		h.depositNative(t, user, 100)
		// 100*200*100 = 2,000,000 strictly exceeds amount*150 for both.
		if err := h.engine.Borrow(user, testStable, u(amount)); err != nil {
			t.Fatalf("borrow %d: %v", amount, err)
		}
	}
	h.assertTotalBorrows(t)
}

func TestBorrowValidation(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x04)
	h.depositNative(t, user, 100)

	if err := h.engine.Borrow(user, NativeAsset, u(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	if err := h.engine.Borrow(user, testStable, u(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	h.prices.err = errInjected
	if err := h.engine.Borrow(user, testStable, u(1)); !errors.Is(err, ErrExternalTransferFailed) || !errors.Is(err, errInjected) {
		t.Fatalf("expected wrapped price failure, got %v", err)
	}
}

func TestBorrowTransferFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x04)
	h.depositNative(t, user, 100)
	h.recorder.Reset()
	h.token.failTransfer = true

	if err := h.engine.Borrow(user, testStable, u(100)); !errors.Is(err, ErrExternalTransferFailed) {
		t.Fatalf("expected ErrExternalTransferFailed, got %v", err)
	}
	requireAmount(t, "debt", h.account(t, user).Debt, 0)
	requireAmount(t, "totalBorrows", h.market(t).TotalBorrows, 0)
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("failed borrow emitted events")
	}
}

func TestRepay(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x05)
	h.depositNative(t, user, 100)
	if err := h.engine.Borrow(user, testStable, u(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := h.engine.Repay(user, testStable, u(150)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := h.engine.Repay(user, NativeAsset, u(10)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	if err := h.engine.Repay(user, testStable, u(40)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	requireAmount(t, "debt", h.account(t, user).Debt, 60)
	requireAmount(t, "totalBorrows", h.market(t).TotalBorrows, 60)
	requireAmount(t, "user tokens", h.token.balance(user), 60)

	h.token.failPull = true
	if err := h.engine.Repay(user, testStable, u(60)); !errors.Is(err, ErrExternalTransferFailed) {
		t.Fatalf("expected ErrExternalTransferFailed, got %v", err)
	}
	requireAmount(t, "debt after failed pull", h.account(t, user).Debt, 60)

	types := make([]string, 0)
	for _, evt := range h.recorder.Events() {
		types = append(types, evt.EventType())
	}
	want := []string{events.TypeLendingDeposit, events.TypeLendingBorrow, events.TypeLendingRepay}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}
}

func TestRepayMarketWriteFailureRestoresAccount(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x05)
	h.depositNative(t, user, 100)
	if err := h.engine.Borrow(user, testStable, u(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.engine.SetState(&failingState{MemState: h.state, failMarketPut: true})

	if err := h.engine.Repay(user, testStable, u(30)); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	requireAmount(t, "debt", h.account(t, user).Debt, 100)
	requireAmount(t, "user tokens", h.token.balance(user), 100)
	h.assertTotalBorrows(t)
}

func TestEngineRequiresCollaborators(t *testing.T) {
	custody := makeAddress(crypto.CustodyPrefix, 0xC0)
	user := makeAddress(crypto.AccountPrefix, 0x06)
	engine := NewEngine(custody, testStable)

	if err := engine.Deposit(user, NativeAsset, u(1), u(1)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without step source, got %v", err)
	}
	engine.SetStepSource(NewManualSteps(1))
	if err := engine.Deposit(user, NativeAsset, u(10), u(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Borrow(user, testStable, u(1)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without tokens, got %v", err)
	}

	engine.SetState(nil)
	if err := engine.Deposit(user, NativeAsset, u(1), u(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}

func TestTotalBorrowsTracksDebts(t *testing.T) {
	h := newHarness(t)
	liquidator := makeAddress(crypto.AccountPrefix, 0x70)
	h.token.mint(liquidator, u(10_000))
	borrowers := []crypto.Address{
		makeAddress(crypto.AccountPrefix, 0x71),
		makeAddress(crypto.AccountPrefix, 0x72),
		makeAddress(crypto.AccountPrefix, 0x73),
	}
	for i, b := range borrowers {
		h.depositNative(t, b, 1_000)
		if err := h.engine.Borrow(b, testStable, u(uint64(500+i*100))); err != nil {
			t.Fatalf("borrow: %v", err)
		}
		h.assertTotalBorrows(t)
	}
	if err := h.engine.Repay(borrowers[0], testStable, u(200)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	h.assertTotalBorrows(t)

	h.prices.set(NativeAsset, e18(1))
	if err := h.engine.Liquidate(liquidator, borrowers[1], testStable, u(100)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	h.assertTotalBorrows(t)
	if err := h.engine.Borrow(borrowers[2], testStable, u(1)); !errors.Is(err, ErrCollateralExceeded) {
		t.Fatalf("expected ErrCollateralExceeded, got %v", err)
	}
	h.assertTotalBorrows(t)
}

func TestConcurrentDepositsSerialize(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x08)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.engine.Deposit(user, NativeAsset, u(3), u(3)); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()
	requireAmount(t, "collateral", h.account(t, user).CollateralNative, 96)
	if got := len(h.recorder.Events()); got != 32 {
		t.Fatalf("expected 32 events, got %d", got)
	}
}

// queryingEmitter reads the target account back from the engine on every
// event, the way an indexer would.
type queryingEmitter struct {
	engine *Engine
	addr   crypto.Address
	seen   []*uint256.Int
	errs   []error
}

func (q *queryingEmitter) Emit(events.Event) {
	acc, err := q.engine.Account(q.addr)
	if err != nil {
		q.errs = append(q.errs, err)
		return
	}
	q.seen = append(q.seen, acc.CollateralNative)
}

func TestEmitterMayQueryEngine(t *testing.T) {
	h := newHarness(t)
	user := makeAddress(crypto.AccountPrefix, 0x09)
	q := &queryingEmitter{engine: h.engine, addr: user}
	h.engine.SetEmitter(q)

	done := make(chan error, 1)
	go func() { done <- h.engine.Deposit(user, NativeAsset, u(5), u(5)) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("deposit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("deposit did not return while its emitter queried the engine")
	}

	if len(q.errs) != 0 {
		t.Fatalf("emitter query failed: %v", q.errs)
	}
	if len(q.seen) != 1 {
		t.Fatalf("expected one event, got %d", len(q.seen))
	}
	requireAmount(t, "collateral seen by emitter", q.seen[0], 5)
}
