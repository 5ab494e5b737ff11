package lending

import (
	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// Asset identifies a ledger asset. NativeAsset is the pseudo-identifier for the
// native currency; the empty Asset is the "zero" identifier.
type Asset string

// NativeAsset is the pseudo-identifier used for native currency collateral.
const NativeAsset Asset = "native"

// IsZero reports whether the identifier is empty.
func (a Asset) IsZero() bool { return a == "" }

// Account maintains the lending position for an individual participant.
type Account struct {
	// Address is the unique account identifier.
	Address crypto.Address
	// CollateralNative records the native units pledged as collateral.
	CollateralNative *uint256.Int
	// Debt stores the outstanding stable principal. Debt does not accrue
	// interest.
	Debt *uint256.Int
	// SuppliedStable is the stable balance supplied by the account including
	// all previously posted interest.
	SuppliedStable *uint256.Int
	// LastUpdateStep is the step at which SuppliedStable was last brought
	// current. Zero means the account was never touched.
	LastUpdateStep uint64
}

// Market captures the process-wide accounting state.
type Market struct {
	// Reserve is the native amount locked at initialisation.
	Reserve *uint256.Int
	// TotalBorrows is the sum of every account's Debt.
	TotalBorrows *uint256.Int
	// TotalSupply is persisted but not maintained by any operation.
	TotalSupply *uint256.Int
}

func newAccount(addr crypto.Address) *Account {
	acc := &Account{Address: addr}
	acc.ensureDefaults()
	return acc
}

func (a *Account) ensureDefaults() {
	if a.CollateralNative == nil {
		a.CollateralNative = new(uint256.Int)
	}
	if a.Debt == nil {
		a.Debt = new(uint256.Int)
	}
	if a.SuppliedStable == nil {
		a.SuppliedStable = new(uint256.Int)
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Address: a.Address, LastUpdateStep: a.LastUpdateStep}
	if a.CollateralNative != nil {
		clone.CollateralNative = a.CollateralNative.Clone()
	}
	if a.Debt != nil {
		clone.Debt = a.Debt.Clone()
	}
	if a.SuppliedStable != nil {
		clone.SuppliedStable = a.SuppliedStable.Clone()
	}
	clone.ensureDefaults()
	return clone
}

func newMarket() *Market {
	m := &Market{}
	m.ensureDefaults()
	return m
}

func (m *Market) ensureDefaults() {
	if m.Reserve == nil {
		m.Reserve = new(uint256.Int)
	}
	if m.TotalBorrows == nil {
		m.TotalBorrows = new(uint256.Int)
	}
	if m.TotalSupply == nil {
		m.TotalSupply = new(uint256.Int)
	}
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := &Market{}
	if m.Reserve != nil {
		clone.Reserve = m.Reserve.Clone()
	}
	if m.TotalBorrows != nil {
		clone.TotalBorrows = m.TotalBorrows.Clone()
	}
	if m.TotalSupply != nil {
		clone.TotalSupply = m.TotalSupply.Clone()
	}
	clone.ensureDefaults()
	return clone
}
