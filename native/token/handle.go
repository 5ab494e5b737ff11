package token

import (
	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// Handle is a ledger view bound to one spending account, typically a module's
// custody address. Transfer and Send pay out of that account; TransferFrom
// pulls from owners that approved it.
type Handle struct {
	ledger  *Ledger
	account crypto.Address
}

// Bind returns a handle that acts as account.
func (l *Ledger) Bind(account crypto.Address) *Handle {
	return &Handle{ledger: l, account: account}
}

// Account returns the bound account.
func (h *Handle) Account() crypto.Address { return h.account }

func (h *Handle) TransferFrom(from, to crypto.Address, amount *uint256.Int) error {
	return h.ledger.TransferFrom(h.account, from, to, amount)
}

func (h *Handle) Transfer(to crypto.Address, amount *uint256.Int) error {
	return h.ledger.Transfer(h.account, to, amount)
}

// Send pays native-style value out of the bound account.
func (h *Handle) Send(to crypto.Address, amount *uint256.Int) error {
	return h.Transfer(to, amount)
}
