package lending

import "github.com/holiman/uint256"

const (
	// LiquidationThreshold is the utilisation percentage above which a
	// position may no longer withdraw and becomes liquidatable.
	LiquidationThreshold = 75
	// BorrowCoverage is the collateral coverage percentage new borrows must
	// strictly exceed.
	BorrowCoverage = 150
	// LiquidationBonus is the seize multiplier, in percent, applied to the
	// repaid amount.
	LiquidationBonus = 110
	// InterestPeriodSteps sets the per-step growth factor to
	// 1 + 1/InterestPeriodSteps.
	InterestPeriodSteps = 7_200_000
	// InitialReserve is the exact native value required at initialisation.
	InitialReserve = 1
)

var (
	wad     = uint256.NewInt(1_000_000_000_000_000_000)
	percent = uint256.NewInt(100)

	// growthPerStep is 1e18 + 1e18/7_200_000.
	growthPerStep = new(uint256.Int).Add(wad, new(uint256.Int).Div(wad, uint256.NewInt(InterestPeriodSteps)))
)

// GrowthPerStep returns the wad-scaled per-step compounding factor.
func GrowthPerStep() *uint256.Int { return growthPerStep.Clone() }

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedMul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return product, nil
}

// checkedSub returns a-b or ok=false when the result would be negative.
func checkedSub(a, b *uint256.Int) (*uint256.Int, bool) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, false
	}
	return diff, true
}

// mulDiv computes a*b/d, truncating. The caller guarantees d is non-zero.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	product, err := checkedMul(a, b)
	if err != nil {
		return nil, err
	}
	return product.Div(product, d), nil
}

// valueOf converts an amount into stable terms using a wad-scaled price.
func valueOf(amount, price *uint256.Int) (*uint256.Int, error) {
	return mulDiv(amount, price, wad)
}

func minU256(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
