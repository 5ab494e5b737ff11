package lending

import "github.com/holiman/uint256"

var (
	liquidationThreshold = uint256.NewInt(LiquidationThreshold)
	borrowCoverage       = uint256.NewInt(BorrowCoverage)
	liquidationBonus     = uint256.NewInt(LiquidationBonus)
)

// collateralValue prices native collateral, less withdrawAmount, in stable
// terms.
func (e *Engine) collateralValue(acc *Account, withdrawAmount *uint256.Int) (*uint256.Int, error) {
	collateral := acc.CollateralNative
	if withdrawAmount != nil {
		remaining, ok := checkedSub(collateral, withdrawAmount)
		if !ok {
			return nil, ErrInsufficientBalance
		}
		collateral = remaining
	}
	price, err := e.price(NativeAsset)
	if err != nil {
		return nil, err
	}
	return valueOf(collateral, price)
}

func (e *Engine) debtValue(acc *Account) (*uint256.Int, error) {
	price, err := e.price(e.stable)
	if err != nil {
		return nil, err
	}
	return valueOf(acc.Debt, price)
}

// withinThreshold reports debtValue*100 <= collateralValue*100/75.
func withinThreshold(debtValue, collateralValue *uint256.Int) (bool, error) {
	lhs, err := checkedMul(debtValue, percent)
	if err != nil {
		return false, err
	}
	rhs, err := mulDiv(collateralValue, percent, liquidationThreshold)
	if err != nil {
		return false, err
	}
	return !lhs.Gt(rhs), nil
}

// withdrawAllowed implements the post-withdrawal utilisation check. Only
// native withdrawals reduce the collateral considered; stable withdrawals are
// judged on the unchanged collateral.
func (e *Engine) withdrawAllowed(acc *Account, withdrawAmount *uint256.Int, isNative bool) (bool, error) {
	var removed *uint256.Int
	if isNative {
		removed = withdrawAmount
	}
	collateralValue, err := e.collateralValue(acc, removed)
	if err != nil {
		return false, err
	}
	debtValue, err := e.debtValue(acc)
	if err != nil {
		return false, err
	}
	return withinThreshold(debtValue, collateralValue)
}

// borrowAllowed requires collateralValue*100 > newDebtValue*150, where
// newDebtValue includes the requested amount.
func (e *Engine) borrowAllowed(acc *Account, amount *uint256.Int) (bool, error) {
	collateralValue, err := e.collateralValue(acc, nil)
	if err != nil {
		return false, err
	}
	stablePrice, err := e.price(e.stable)
	if err != nil {
		return false, err
	}
	currentDebtValue, err := valueOf(acc.Debt, stablePrice)
	if err != nil {
		return false, err
	}
	addedValue, err := valueOf(amount, stablePrice)
	if err != nil {
		return false, err
	}
	newDebtValue, err := checkedAdd(currentDebtValue, addedValue)
	if err != nil {
		return false, err
	}
	lhs, err := checkedMul(collateralValue, percent)
	if err != nil {
		return false, err
	}
	rhs, err := checkedMul(newDebtValue, borrowCoverage)
	if err != nil {
		return false, err
	}
	return lhs.Gt(rhs), nil
}

// liquidatable reports whether the position breaches the liquidation
// threshold.
func (e *Engine) liquidatable(acc *Account) (bool, error) {
	collateralValue, err := e.collateralValue(acc, nil)
	if err != nil {
		return false, err
	}
	debtValue, err := e.debtValue(acc)
	if err != nil {
		return false, err
	}
	healthy, err := withinThreshold(debtValue, collateralValue)
	if err != nil {
		return false, err
	}
	return !healthy, nil
}
