package events

import (
	"github.com/holiman/uint256"

	"lendledger/crypto"
)

const (
	// TypeLendingDeposit is emitted after collateral or supply is credited.
	TypeLendingDeposit = "lending.deposit"
	// TypeLendingWithdraw is emitted after collateral or supply is paid out.
	TypeLendingWithdraw = "lending.withdraw"
	// TypeLendingBorrow is emitted after stable tokens are lent to an account.
	TypeLendingBorrow = "lending.borrow"
	// TypeLendingRepay is emitted after outstanding debt is reduced.
	TypeLendingRepay = "lending.repay"
	// TypeLendingLiquidate is emitted after an unhealthy position is settled.
	TypeLendingLiquidate = "lending.liquidate"
)

// LendingDeposit records a deposit of either the native asset or the stable token.
type LendingDeposit struct {
	Account crypto.Address
	Asset   string
	Amount  *uint256.Int
}

func (LendingDeposit) EventType() string { return TypeLendingDeposit }

func (e LendingDeposit) Record() Record {
	return Record{
		Type: TypeLendingDeposit,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"asset":   normalizeAsset(e.Asset),
			"amount":  amountString(e.Amount),
		},
	}
}

// LendingWithdraw records a withdrawal of collateral or supplied balance.
type LendingWithdraw struct {
	Account crypto.Address
	Asset   string
	Amount  *uint256.Int
}

func (LendingWithdraw) EventType() string { return TypeLendingWithdraw }

func (e LendingWithdraw) Record() Record {
	return Record{
		Type: TypeLendingWithdraw,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"asset":   normalizeAsset(e.Asset),
			"amount":  amountString(e.Amount),
		},
	}
}

// LendingBorrow records new stable debt.
type LendingBorrow struct {
	Account crypto.Address
	Amount  *uint256.Int
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Record() Record {
	return Record{
		Type: TypeLendingBorrow,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"amount":  amountString(e.Amount),
		},
	}
}

// LendingRepay records a debt repayment.
type LendingRepay struct {
	Account crypto.Address
	Amount  *uint256.Int
}

func (LendingRepay) EventType() string { return TypeLendingRepay }

func (e LendingRepay) Record() Record {
	return Record{
		Type: TypeLendingRepay,
		Attributes: map[string]string{
			"account": e.Account.String(),
			"amount":  amountString(e.Amount),
		},
	}
}

// LendingLiquidate records a liquidation. SeizedNative is the native collateral
// paid to the liquidator; on the shortfall path it is the collateral that was
// zeroed, ShortfallPaid is the stable amount transferred and SupplyDebited the
// amount removed from the borrower's supplied balance.
type LendingLiquidate struct {
	Liquidator    crypto.Address
	Borrower      crypto.Address
	Repaid        *uint256.Int
	SeizedNative  *uint256.Int
	ShortfallPaid *uint256.Int
	SupplyDebited *uint256.Int
}

func (LendingLiquidate) EventType() string { return TypeLendingLiquidate }

func (e LendingLiquidate) Record() Record {
	return Record{
		Type: TypeLendingLiquidate,
		Attributes: map[string]string{
			"liquidator":    e.Liquidator.String(),
			"borrower":      e.Borrower.String(),
			"repaid":        amountString(e.Repaid),
			"seizedNative":  amountString(e.SeizedNative),
			"shortfallPaid": amountString(e.ShortfallPaid),
			"supplyDebited": amountString(e.SupplyDebited),
		},
	}
}
