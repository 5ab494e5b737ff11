package lending

import (
	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
)

const (
	liquidationPathCollateral = "collateral"
	liquidationPathShortfall  = "shortfall"
)

// Liquidate lets any caller repay up to amount of target's debt in exchange
// for LiquidationBonus percent of the repaid amount in native collateral.
//
// When the target's collateral cannot cover the seize amount, the collateral
// is zeroed and the native-denominated remainder is paid to the liquidator in
// stable units as is, while the borrower's supplied stable balance is debited
// by that remainder converted at the stable price. Liquidation does not accrue
// interest on the target.
func (e *Engine) Liquidate(liquidator, target crypto.Address, asset Asset, amount *uint256.Int) error {
	return e.run("liquidate", liquidator, func(tx *txn) error {
		if asset != e.stable {
			return ErrUnsupportedAsset
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if target.IsZero() {
			return ErrInvalidAddress
		}
		svc, err := e.token(e.stable)
		if err != nil {
			return err
		}
		acc, err := tx.account(target)
		if err != nil {
			return err
		}
		unhealthy, err := e.liquidatable(acc)
		if err != nil {
			return err
		}
		if !unhealthy {
			return ErrPositionHealthy
		}

		repay := minU256(amount, acc.Debt)
		market, err := tx.loadMarket()
		if err != nil {
			return err
		}
		totalBorrows, ok := checkedSub(market.TotalBorrows, repay)
		if !ok {
			return ErrArithmeticOverflow
		}
		if err := tx.pull(e.stable, svc, liquidator, repay); err != nil {
			return err
		}
		acc.Debt = new(uint256.Int).Sub(acc.Debt, repay)
		market.TotalBorrows = totalBorrows

		seize, err := mulDiv(repay, liquidationBonus, percent)
		if err != nil {
			return err
		}
		evt := events.LendingLiquidate{
			Liquidator: liquidator,
			Borrower:   target,
			Repaid:     repay.Clone(),
		}

		if !acc.CollateralNative.Lt(seize) {
			acc.CollateralNative = new(uint256.Int).Sub(acc.CollateralNative, seize)
			if err := tx.putAccount(acc); err != nil {
				return err
			}
			if err := tx.putMarket(market); err != nil {
				return err
			}
			if err := tx.payNative(liquidator, seize); err != nil {
				return err
			}
			evt.SeizedNative = seize
			tx.emit(evt)
			e.metrics.RecordLiquidation(liquidationPathCollateral)
			return nil
		}

		seizedNative := acc.CollateralNative
		remaining := new(uint256.Int).Sub(seize, seizedNative)
		acc.CollateralNative = new(uint256.Int)

		stablePrice, err := e.price(e.stable)
		if err != nil {
			return err
		}
		if stablePrice.IsZero() {
			return ErrZeroPrice
		}
		debit, err := mulDiv(remaining, wad, stablePrice)
		if err != nil {
			return err
		}
		supplied, ok := checkedSub(acc.SuppliedStable, debit)
		if !ok {
			return ErrInsufficientBalance
		}
		acc.SuppliedStable = supplied
		if err := tx.putAccount(acc); err != nil {
			return err
		}
		if err := tx.putMarket(market); err != nil {
			return err
		}
		if err := tx.payToken(e.stable, svc, liquidator, remaining); err != nil {
			return err
		}
		evt.SeizedNative = seizedNative
		evt.ShortfallPaid = remaining
		evt.SupplyDebited = debit
		tx.emit(evt)
		e.metrics.RecordLiquidation(liquidationPathShortfall)
		return nil
	})
}
