package token

import (
	"errors"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

var (
	ErrInvalidAmount         = errors.New("token: amount required")
	ErrInvalidAddress        = errors.New("token: address required")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrSupplyOverflow        = errors.New("token: supply overflow")
)

// Ledger is an in-process transferable-balance ledger with spender
// allowances. It is safe for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	symbol     string
	supply     *uint256.Int
	balances   map[string]*uint256.Int
	allowances map[string]map[string]*uint256.Int
}

// NewLedger creates an empty ledger for the given symbol.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     strings.ToLower(strings.TrimSpace(symbol)),
		supply:     new(uint256.Int),
		balances:   make(map[string]*uint256.Int),
		allowances: make(map[string]map[string]*uint256.Int),
	}
}

// Symbol returns the normalised token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Mint credits amount to the recipient and grows the total supply.
func (l *Ledger) Mint(to crypto.Address, amount *uint256.Int) error {
	if err := validate(to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	l.supply = supply
	l.balances[to.Key()] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	return nil
}

// TotalSupply returns the minted supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply.Clone()
}

// BalanceOf returns a copy of the holder's balance.
func (l *Ledger) BalanceOf(addr crypto.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(addr).Clone()
}

// Approve sets the amount spender may move out of owner's balance,
// replacing any previous allowance.
func (l *Ledger) Approve(owner, spender crypto.Address, amount *uint256.Int) error {
	if owner.IsZero() || spender.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	granted, ok := l.allowances[owner.Key()]
	if !ok {
		granted = make(map[string]*uint256.Int)
		l.allowances[owner.Key()] = granted
	}
	granted[spender.Key()] = amount.Clone()
	return nil
}

// Allowance returns the remaining amount spender may move for owner.
func (l *Ledger) Allowance(owner, spender crypto.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowanceLocked(owner, spender).Clone()
}

// Transfer moves amount from the sender to the recipient.
func (l *Ledger) Transfer(from, to crypto.Address, amount *uint256.Int) error {
	if err := validate(from, amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(from, to, amount)
}

// TransferFrom moves amount from owner to the recipient on behalf of spender,
// consuming allowance. A spender moving its own balance needs no allowance.
func (l *Ledger) TransferFrom(spender, from, to crypto.Address, amount *uint256.Int) error {
	if err := validate(from, amount); err != nil {
		return err
	}
	if spender.IsZero() || to.IsZero() {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if spender.Equal(from) {
		return l.moveLocked(from, to, amount)
	}
	allowed := l.allowanceLocked(from, spender)
	if allowed.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := l.moveLocked(from, to, amount); err != nil {
		return err
	}
	l.allowances[from.Key()][spender.Key()] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

func (l *Ledger) moveLocked(from, to crypto.Address, amount *uint256.Int) error {
	balance := l.balanceLocked(from)
	if balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	l.balances[from.Key()] = new(uint256.Int).Sub(balance, amount)
	l.balances[to.Key()] = new(uint256.Int).Add(l.balanceLocked(to), amount)
	return nil
}

func (l *Ledger) balanceLocked(addr crypto.Address) *uint256.Int {
	if bal, ok := l.balances[addr.Key()]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (l *Ledger) allowanceLocked(owner, spender crypto.Address) *uint256.Int {
	if granted, ok := l.allowances[owner.Key()]; ok {
		if amount, ok := granted[spender.Key()]; ok {
			return amount
		}
	}
	return new(uint256.Int)
}

func validate(addr crypto.Address, amount *uint256.Int) error {
	if addr.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	return nil
}
