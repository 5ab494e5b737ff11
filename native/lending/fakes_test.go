package lending

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
)

const testStable Asset = "usdx"

var errInjected = errors.New("injected failure")

func makeAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	return crypto.NewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func e18(v uint64) *uint256.Int { return new(uint256.Int).Mul(u(v), wad) }

type fakePrices struct {
	mu     sync.Mutex
	prices map[Asset]*uint256.Int
	err    error
}

func (f *fakePrices) set(asset Asset, price *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

func (f *fakePrices) Price(asset Asset) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.prices[asset]
	if !ok {
		return nil, errors.New("no price")
	}
	return p.Clone(), nil
}

// fakeToken is a minimal balance sheet bound to the custody account.
type fakeToken struct {
	mu           sync.Mutex
	custody      crypto.Address
	balances     map[string]*uint256.Int
	failPull     bool
	failTransfer bool
}

func (f *fakeToken) mint(addr crypto.Address, amount *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr.Key()] = new(uint256.Int).Add(f.balanceLocked(addr), amount)
}

func (f *fakeToken) balanceLocked(addr crypto.Address) *uint256.Int {
	if bal, ok := f.balances[addr.Key()]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (f *fakeToken) balance(addr crypto.Address) *uint256.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceLocked(addr).Clone()
}

func (f *fakeToken) move(from, to crypto.Address, amount *uint256.Int) error {
	bal := f.balanceLocked(from)
	if bal.Lt(amount) {
		return errors.New("insufficient token balance")
	}
	f.balances[from.Key()] = new(uint256.Int).Sub(bal, amount)
	f.balances[to.Key()] = new(uint256.Int).Add(f.balanceLocked(to), amount)
	return nil
}

func (f *fakeToken) TransferFrom(from, to crypto.Address, amount *uint256.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPull {
		return errInjected
	}
	return f.move(from, to, amount)
}

func (f *fakeToken) Transfer(to crypto.Address, amount *uint256.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTransfer {
		return errInjected
	}
	return f.move(f.custody, to, amount)
}

type fakeBank struct {
	mu   sync.Mutex
	sent map[string]*uint256.Int
	fail bool
}

func (b *fakeBank) Send(to crypto.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errInjected
	}
	prev, ok := b.sent[to.Key()]
	if !ok {
		prev = new(uint256.Int)
	}
	b.sent[to.Key()] = new(uint256.Int).Add(prev, amount)
	return nil
}

func (b *fakeBank) received(addr crypto.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.sent[addr.Key()]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// failingState wraps MemState and fails selected writes.
type failingState struct {
	*MemState
	failAccountPut bool
	failMarketPut  bool
}

func (s *failingState) PutAccount(acc *Account) error {
	if s.failAccountPut {
		return errInjected
	}
	return s.MemState.PutAccount(acc)
}

func (s *failingState) PutMarket(m *Market) error {
	if s.failMarketPut {
		return errInjected
	}
	return s.MemState.PutMarket(m)
}

type harness struct {
	engine   *Engine
	state    *MemState
	steps    *ManualSteps
	prices   *fakePrices
	token    *fakeToken
	bank     *fakeBank
	recorder *events.Recorder
	custody  crypto.Address
}

// newHarness prices native at 200 and the stable token at 1, and seeds custody
// with stable liquidity.
func newHarness(t *testing.T) *harness {
	t.Helper()
	custody := makeAddress(crypto.CustodyPrefix, 0xC0)
	h := &harness{
		state:    NewMemState(),
		steps:    NewManualSteps(1),
		prices:   &fakePrices{prices: map[Asset]*uint256.Int{NativeAsset: e18(200), testStable: e18(1)}},
		token:    &fakeToken{custody: custody, balances: make(map[string]*uint256.Int)},
		bank:     &fakeBank{sent: make(map[string]*uint256.Int)},
		recorder: &events.Recorder{},
		custody:  custody,
	}
	h.token.mint(custody, u(1_000_000))
	h.engine = NewEngine(custody, testStable)
	h.engine.SetState(h.state)
	h.engine.SetStepSource(h.steps)
	h.engine.SetPriceFeed(h.prices)
	h.engine.SetTokens(TokenMap{testStable: h.token})
	h.engine.SetNativeBank(h.bank)
	h.engine.SetEmitter(h.recorder)
	return h
}

func (h *harness) account(t *testing.T, addr crypto.Address) *Account {
	t.Helper()
	acc, err := h.engine.Account(addr)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	return acc
}

func (h *harness) market(t *testing.T) *Market {
	t.Helper()
	m, err := h.engine.Market()
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	return m
}

func (h *harness) depositNative(t *testing.T, addr crypto.Address, amount uint64) {
	t.Helper()
	if err := h.engine.Deposit(addr, NativeAsset, u(amount), u(amount)); err != nil {
		t.Fatalf("deposit native: %v", err)
	}
}

func (h *harness) depositStable(t *testing.T, addr crypto.Address, amount *uint256.Int) {
	t.Helper()
	h.token.mint(addr, amount)
	if err := h.engine.Deposit(addr, testStable, amount, nil); err != nil {
		t.Fatalf("deposit stable: %v", err)
	}
}

func (h *harness) assertTotalBorrows(t *testing.T) {
	t.Helper()
	sum := new(uint256.Int)
	for _, acc := range h.state.Accounts() {
		sum.Add(sum, acc.Debt)
	}
	if total := h.market(t).TotalBorrows; !total.Eq(sum) {
		t.Fatalf("totalBorrows %s does not match sum of debts %s", total.Dec(), sum.Dec())
	}
}

func requireAmount(t *testing.T, label string, got *uint256.Int, want uint64) {
	t.Helper()
	if !got.Eq(u(want)) {
		t.Fatalf("%s: expected %d, got %s", label, want, got.Dec())
	}
}
