package lending

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
)

type undoStep struct {
	label  string
	revert func() error
}

// txn stages one action. Reads are served from working copies, every write
// and every token pull records an undo step, and payouts are always the last
// external effect of an action so they never need to be reverted.
type txn struct {
	e        *Engine
	action   string
	accounts map[string]*Account
	market   *Market
	undo     []undoStep
	events   []events.Event
	paidOut  bool
}

func (e *Engine) begin(action string) *txn {
	return &txn{e: e, action: action, accounts: make(map[string]*Account)}
}

func (tx *txn) account(addr crypto.Address) (*Account, error) {
	if acc, ok := tx.accounts[addr.Key()]; ok {
		return acc, nil
	}
	acc, err := tx.e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = newAccount(addr)
	}
	acc.Address = addr
	acc.ensureDefaults()
	tx.accounts[addr.Key()] = acc
	return acc, nil
}

func (tx *txn) loadMarket() (*Market, error) {
	if tx.market != nil {
		return tx.market, nil
	}
	market, err := tx.e.state.GetMarket()
	if err != nil {
		return nil, err
	}
	if market == nil {
		market = newMarket()
	}
	market.ensureDefaults()
	tx.market = market
	return market, nil
}

func (tx *txn) putAccount(acc *Account) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	state := tx.e.state
	revert, err := snapshot(
		func() (bool, error) { return state.HasAccount(acc.Address) },
		func() (func() error, error) {
			prev, err := state.GetAccount(acc.Address)
			if err != nil {
				return nil, err
			}
			return func() error { return state.PutAccount(prev) }, nil
		},
		func() error { return state.DeleteAccount(acc.Address) },
	)
	if err != nil {
		return err
	}
	if err := state.PutAccount(acc.Clone()); err != nil {
		return err
	}
	tx.undo = append(tx.undo, undoStep{label: "restore account " + acc.Address.String(), revert: revert})
	return nil
}

func (tx *txn) putMarket(market *Market) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	state := tx.e.state
	revert, err := snapshot(
		state.HasMarket,
		func() (func() error, error) {
			prev, err := state.GetMarket()
			if err != nil {
				return nil, err
			}
			return func() error { return state.PutMarket(prev) }, nil
		},
		state.DeleteMarket,
	)
	if err != nil {
		return err
	}
	if err := state.PutMarket(market.Clone()); err != nil {
		return err
	}
	tx.undo = append(tx.undo, undoStep{label: "restore market", revert: revert})
	return nil
}

// snapshot captures how to undo the next write of one record: restore the
// stored value when it exists, delete the key when it does not.
func snapshot(exists func() (bool, error), restore func() (func() error, error), remove func() error) (func() error, error) {
	ok, err := exists()
	if err != nil {
		return nil, err
	}
	if !ok {
		return remove, nil
	}
	return restore()
}

// pull moves amount of a token from an external owner into custody.
func (tx *txn) pull(asset Asset, svc TokenService, from crypto.Address, amount *uint256.Int) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if err := svc.TransferFrom(from, tx.e.custody, amount); err != nil {
		return external("transferFrom", asset, err)
	}
	refund := amount.Clone()
	tx.undo = append(tx.undo, undoStep{
		label:  fmt.Sprintf("refund %s %s to %s", refund.Dec(), asset, from.String()),
		revert: func() error { return svc.Transfer(from, refund) },
	})
	return nil
}

// payToken pays amount of a token out of custody. It must be the final effect.
func (tx *txn) payToken(asset Asset, svc TokenService, to crypto.Address, amount *uint256.Int) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.paidOut = true
	return external("transfer", asset, svc.Transfer(to, amount))
}

// payNative pays native currency out of custody. It must be the final effect.
func (tx *txn) payNative(to crypto.Address, amount *uint256.Int) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if tx.e.bank == nil {
		return fmt.Errorf("%w: native bank", ErrNotConfigured)
	}
	tx.paidOut = true
	return external("send", NativeAsset, tx.e.bank.Send(to, amount))
}

func (tx *txn) emit(evt events.Event) {
	tx.events = append(tx.events, evt)
}

var errPayoutNotFinal = errors.New("lending engine: effect staged after payout")

func (tx *txn) checkOpen() error {
	if tx.paidOut {
		return errPayoutNotFinal
	}
	return nil
}

// rollback reverts every recorded step in reverse order. Failures while
// reverting are joined onto cause.
func (tx *txn) rollback(cause error) error {
	var failures []error
	for i := len(tx.undo) - 1; i >= 0; i-- {
		step := tx.undo[i]
		if err := step.revert(); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", step.label, err))
		}
	}
	tx.undo = nil
	tx.events = nil
	if len(failures) == 0 {
		return cause
	}
	undoErr := errors.Join(failures...)
	tx.e.logger.Error("lending rollback incomplete",
		"action", tx.action,
		"error", cause.Error(),
		"reason", undoErr.Error())
	return errors.Join(cause, undoErr)
}
