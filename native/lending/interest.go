package lending

import "github.com/holiman/uint256"

// compound applies principal = principal * growthPerStep / 1e18 once per
// step. Each step truncates, so the loop cannot be replaced by a closed-form
// power without changing results. Cost is O(steps), except that the loop stops
// early once a step no longer changes the principal, since every later step
// would then produce the same value.
func compound(principal *uint256.Int, steps uint64) (*uint256.Int, error) {
	p := principal.Clone()
	next := new(uint256.Int)
	for i := uint64(0); i < steps; i++ {
		if _, overflow := next.MulOverflow(p, growthPerStep); overflow {
			return nil, ErrArithmeticOverflow
		}
		next.Div(next, wad)
		if next.Eq(p) {
			break
		}
		p, next = next, p
	}
	return p, nil
}

// pendingInterest returns the interest accrued on the supplied balance since
// the account's last update.
func pendingInterest(acc *Account, currentStep uint64) (*uint256.Int, error) {
	if acc.LastUpdateStep == 0 {
		return new(uint256.Int), nil
	}
	if currentStep < acc.LastUpdateStep {
		return nil, ErrStepRegression
	}
	grown, err := compound(acc.SuppliedStable, currentStep-acc.LastUpdateStep)
	if err != nil {
		return nil, err
	}
	return grown.Sub(grown, acc.SuppliedStable), nil
}

// accrue posts pending interest into SuppliedStable and stamps the account
// with currentStep, including on first touch.
func accrue(acc *Account, currentStep uint64) error {
	if acc.LastUpdateStep > 0 {
		interest, err := pendingInterest(acc, currentStep)
		if err != nil {
			return err
		}
		supplied, err := checkedAdd(acc.SuppliedStable, interest)
		if err != nil {
			return err
		}
		acc.SuppliedStable = supplied
	}
	acc.LastUpdateStep = currentStep
	return nil
}
