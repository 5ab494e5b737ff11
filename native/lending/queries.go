package lending

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"lendledger/crypto"
)

// Position is a read-only risk projection of an account at current prices.
type Position struct {
	Account         *Account
	CollateralValue *uint256.Int
	DebtValue       *uint256.Int
	// HealthFactor is (CollateralValue*100/75) / (DebtValue*100). Values at or
	// above one are within the liquidation threshold. It is zero when there is
	// no debt value.
	HealthFactor decimal.Decimal
	Healthy      bool
}

func (e *Engine) readAccount(addr crypto.Address) (*Account, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = newAccount(addr)
	}
	acc.Address = addr
	acc.ensureDefaults()
	return acc, nil
}

// Account returns a snapshot of the stored account. Accounts that were never
// touched are returned zero-valued.
func (e *Engine) Account(addr crypto.Address) (*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readAccount(addr)
}

// Market returns a snapshot of the process-wide totals.
func (e *Engine) Market() (*Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	market, err := e.state.GetMarket()
	if err != nil {
		return nil, err
	}
	if market == nil {
		market = newMarket()
	}
	market.ensureDefaults()
	return market, nil
}

// PendingInterest returns the interest the account would post if it acted at
// the current step.
func (e *Engine) PendingInterest(addr crypto.Address) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, err := e.readAccount(addr)
	if err != nil {
		return nil, err
	}
	step, err := e.currentStep()
	if err != nil {
		return nil, err
	}
	return pendingInterest(acc, step)
}

// IsWithdrawAllowed reports whether withdrawing amount keeps the account
// within the liquidation threshold. Only native withdrawals reduce the
// collateral considered.
func (e *Engine) IsWithdrawAllowed(addr crypto.Address, amount *uint256.Int, isNative bool) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, err := e.readAccount(addr)
	if err != nil {
		return false, err
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return e.withdrawAllowed(acc, amount, isNative)
}

// GetAccruedSupplyAmount returns the caller's supplied stable balance plus
// pending interest when token is the stable token, and zero otherwise.
func (e *Engine) GetAccruedSupplyAmount(caller crypto.Address, token Asset) (*uint256.Int, error) {
	if token != e.stable {
		return new(uint256.Int), nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, err := e.readAccount(caller)
	if err != nil {
		return nil, err
	}
	step, err := e.currentStep()
	if err != nil {
		return nil, err
	}
	interest, err := pendingInterest(acc, step)
	if err != nil {
		return nil, err
	}
	return checkedAdd(acc.SuppliedStable, interest)
}

// IsLiquidatable reports whether Liquidate would accept the account.
func (e *Engine) IsLiquidatable(addr crypto.Address) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, err := e.readAccount(addr)
	if err != nil {
		return false, err
	}
	return e.liquidatable(acc)
}

// Position values the account at current prices.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, err := e.readAccount(addr)
	if err != nil {
		return nil, err
	}
	collateralValue, err := e.collateralValue(acc, nil)
	if err != nil {
		return nil, err
	}
	debtValue, err := e.debtValue(acc)
	if err != nil {
		return nil, err
	}
	healthy, err := withinThreshold(debtValue, collateralValue)
	if err != nil {
		return nil, err
	}
	pos := &Position{
		Account:         acc,
		CollateralValue: collateralValue,
		DebtValue:       debtValue,
		HealthFactor:    decimal.Zero,
		Healthy:         healthy,
	}
	if !debtValue.IsZero() {
		capacity, err := mulDiv(collateralValue, percent, liquidationThreshold)
		if err != nil {
			return nil, err
		}
		scaledDebt, err := checkedMul(debtValue, percent)
		if err != nil {
			return nil, err
		}
		pos.HealthFactor = decimal.NewFromBigInt(capacity.ToBig(), 0).
			DivRound(decimal.NewFromBigInt(scaledDebt.ToBig(), 0), 18)
	}
	return pos, nil
}
