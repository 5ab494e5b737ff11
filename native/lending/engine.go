package lending

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
	"lendledger/observability"
)

const moduleName = "lending"

// Engine orchestrates the state transitions of a single native/stable lending
// market. Every mutating operation holds the engine's write lock for its whole
// duration and either commits completely or leaves no trace.
type Engine struct {
	mu     sync.RWMutex
	emitMu sync.Mutex

	state   engineState
	custody crypto.Address
	stable  Asset

	steps   StepSource
	prices  PriceFeed
	tokens  TokenDirectory
	bank    NativeBank
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.LendingMetrics
}

// NewEngine constructs an engine holding funds in custody and lending the
// stable token. The engine starts with an in-memory state; use SetState to
// wire persistent storage.
func NewEngine(custody crypto.Address, stable Asset) *Engine {
	return &Engine{
		state:   NewMemState(),
		custody: custody,
		stable:  stable,
		emitter: events.NoopEmitter{},
		logger:  slog.Default().With(slog.String("component", moduleName)),
		metrics: observability.Lending(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetStepSource configures the host step counter used for accrual.
func (e *Engine) SetStepSource(src StepSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps = src
}

// SetPriceFeed configures the oracle queried by risk checks.
func (e *Engine) SetPriceFeed(feed PriceFeed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices = feed
}

// SetTokens configures the directory used to reach the stable token and any
// token named at initialisation.
func (e *Engine) SetTokens(dir TokenDirectory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens = dir
}

// SetNativeBank configures the native currency payout channel.
func (e *Engine) SetNativeBank(bank NativeBank) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bank = bank
}

// SetEmitter configures the event sink. A nil emitter discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("component", moduleName))
}

// SetMetrics replaces the metrics sink. Nil disables metrics.
func (e *Engine) SetMetrics(m *observability.LendingMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// StableAsset returns the configured stable token identifier.
func (e *Engine) StableAsset() Asset { return e.stable }

// Custody returns the ledger's custody account.
func (e *Engine) Custody() crypto.Address { return e.custody }

// run executes fn inside a journal. On failure every staged effect is undone;
// on success the staged events are emitted in order once the state lock has
// been released, so emitters may query the engine. Emitters must not invoke
// actions synchronously.
func (e *Engine) run(action string, caller crypto.Address, fn func(tx *txn) error) error {
	if e == nil {
		return ErrNilState
	}
	emitter, staged, err := e.commit(action, caller, fn)
	if err != nil {
		return err
	}
	defer e.emitMu.Unlock()
	for _, evt := range staged {
		emitter.Emit(evt)
	}
	return nil
}

// commit applies fn under the write lock. On success it returns holding
// emitMu, which keeps event dispatch in commit order across actions.
func (e *Engine) commit(action string, caller crypto.Address, fn func(tx *txn) error) (events.Emitter, []events.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	actionID := uuid.NewString()
	err := e.checkReady(caller)
	var tx *txn
	if err == nil {
		tx = e.begin(action)
		if err = fn(tx); err != nil {
			err = tx.rollback(err)
		}
	}
	e.metrics.ObserveAction(action, outcomeLabel(err), time.Since(started))
	if err != nil {
		e.logger.Debug("lending action rejected",
			"action", action,
			"action_id", actionID,
			"account", caller.String(),
			"error", err.Error())
		return nil, nil, err
	}

	if tx.market != nil {
		e.metrics.SetTotalBorrows(tx.market.TotalBorrows.ToBig())
	}
	e.logger.Debug("lending action applied",
		"action", action,
		"action_id", actionID,
		"account", caller.String())
	e.emitMu.Lock()
	return e.emitter, tx.events, nil
}

func (e *Engine) checkReady(caller crypto.Address) error {
	if e.state == nil {
		return ErrNilState
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	return nil
}

func (e *Engine) currentStep() (uint64, error) {
	if e.steps == nil {
		return 0, fmt.Errorf("%w: step source", ErrNotConfigured)
	}
	return e.steps.CurrentStep(), nil
}

func (e *Engine) price(asset Asset) (*uint256.Int, error) {
	if e.prices == nil {
		return nil, fmt.Errorf("%w: price feed", ErrNotConfigured)
	}
	p, err := e.prices.Price(asset)
	if err != nil {
		return nil, external("price", asset, err)
	}
	if p == nil {
		return new(uint256.Int), nil
	}
	return p, nil
}

func (e *Engine) token(asset Asset) (TokenService, error) {
	if e.tokens == nil {
		return nil, fmt.Errorf("%w: token directory", ErrNotConfigured)
	}
	svc, err := e.tokens.Token(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedAsset, err)
	}
	return svc, nil
}

// touch loads the caller's working copy and brings its supplied balance
// current.
func (e *Engine) touch(tx *txn, caller crypto.Address) (*Account, error) {
	step, err := e.currentStep()
	if err != nil {
		return nil, err
	}
	acc, err := tx.account(caller)
	if err != nil {
		return nil, err
	}
	if err := accrue(acc, step); err != nil {
		return nil, err
	}
	return acc, nil
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

// Initialize locks the bootstrap reserve. attachedNative must be exactly
// InitialReserve. When token is non-zero one unit of it is pulled from the
// caller as well.
func (e *Engine) Initialize(caller crypto.Address, token Asset, attachedNative *uint256.Int) error {
	return e.run("initialize", caller, func(tx *txn) error {
		market, err := tx.loadMarket()
		if err != nil {
			return err
		}
		if !market.Reserve.IsZero() {
			return ErrAlreadyInitialized
		}
		if attachedNative == nil || !attachedNative.Eq(uint256.NewInt(InitialReserve)) {
			return ErrInvalidInitialValue
		}
		market.Reserve = uint256.NewInt(InitialReserve)
		if err := tx.putMarket(market); err != nil {
			return err
		}
		if token.IsZero() {
			return nil
		}
		svc, err := e.token(token)
		if err != nil {
			return err
		}
		return tx.pull(token, svc, caller, uint256.NewInt(1))
	})
}

// Deposit credits native collateral or stable supply to the caller. Native
// deposits must attach exactly amount; stable deposits must attach nothing and
// pull amount from the caller.
func (e *Engine) Deposit(caller crypto.Address, asset Asset, amount, attachedNative *uint256.Int) error {
	return e.run("deposit", caller, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		if attachedNative == nil {
			attachedNative = new(uint256.Int)
		}
		switch asset {
		case NativeAsset:
			if !attachedNative.Eq(amount) {
				return ErrInvalidAmount
			}
		case e.stable:
			if !attachedNative.IsZero() {
				return ErrInvalidAmount
			}
		default:
			return ErrUnsupportedAsset
		}

		acc, err := e.touch(tx, caller)
		if err != nil {
			return err
		}
		if asset == NativeAsset {
			if acc.CollateralNative, err = checkedAdd(acc.CollateralNative, amount); err != nil {
				return err
			}
		} else {
			svc, err := e.token(e.stable)
			if err != nil {
				return err
			}
			if err := tx.pull(e.stable, svc, caller, amount); err != nil {
				return err
			}
			if acc.SuppliedStable, err = checkedAdd(acc.SuppliedStable, amount); err != nil {
				return err
			}
		}
		if err := tx.putAccount(acc); err != nil {
			return err
		}
		tx.emit(events.LendingDeposit{Account: caller, Asset: string(asset), Amount: amount.Clone()})
		return nil
	})
}

// Withdraw releases native collateral or supplied stable balance to the caller
// provided the position stays within the liquidation threshold.
func (e *Engine) Withdraw(caller crypto.Address, asset Asset, amount *uint256.Int) error {
	return e.run("withdraw", caller, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		if asset != NativeAsset && asset != e.stable {
			return ErrUnsupportedAsset
		}
		acc, err := e.touch(tx, caller)
		if err != nil {
			return err
		}

		isNative := asset == NativeAsset
		balance := acc.CollateralNative
		var svc TokenService
		if !isNative {
			balance = acc.SuppliedStable
			if svc, err = e.token(e.stable); err != nil {
				return err
			}
		}
		remaining, ok := checkedSub(balance, amount)
		if !ok {
			return ErrInsufficientBalance
		}
		allowed, err := e.withdrawAllowed(acc, amount, isNative)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrCollateralExceeded
		}

		if isNative {
			acc.CollateralNative = remaining
		} else {
			acc.SuppliedStable = remaining
		}
		if err := tx.putAccount(acc); err != nil {
			return err
		}
		if isNative {
			err = tx.payNative(caller, amount)
		} else {
			err = tx.payToken(e.stable, svc, caller, amount)
		}
		if err != nil {
			return err
		}
		tx.emit(events.LendingWithdraw{Account: caller, Asset: string(asset), Amount: amount.Clone()})
		return nil
	})
}

// Borrow lends amount of the stable token to the caller when native collateral
// value strictly exceeds BorrowCoverage percent of the projected debt value.
func (e *Engine) Borrow(caller crypto.Address, asset Asset, amount *uint256.Int) error {
	return e.run("borrow", caller, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		if asset != e.stable {
			return ErrUnsupportedAsset
		}
		svc, err := e.token(e.stable)
		if err != nil {
			return err
		}
		acc, err := e.touch(tx, caller)
		if err != nil {
			return err
		}
		allowed, err := e.borrowAllowed(acc, amount)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrCollateralExceeded
		}

		market, err := tx.loadMarket()
		if err != nil {
			return err
		}
		if acc.Debt, err = checkedAdd(acc.Debt, amount); err != nil {
			return err
		}
		if market.TotalBorrows, err = checkedAdd(market.TotalBorrows, amount); err != nil {
			return err
		}
		if err := tx.putAccount(acc); err != nil {
			return err
		}
		if err := tx.putMarket(market); err != nil {
			return err
		}
		if err := tx.payToken(e.stable, svc, caller, amount); err != nil {
			return err
		}
		tx.emit(events.LendingBorrow{Account: caller, Amount: amount.Clone()})
		return nil
	})
}

// Repay pulls amount of the stable token from the caller and reduces their
// debt. Repaying more than the outstanding debt fails.
func (e *Engine) Repay(caller crypto.Address, asset Asset, amount *uint256.Int) error {
	return e.run("repay", caller, func(tx *txn) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		if asset != e.stable {
			return ErrUnsupportedAsset
		}
		acc, err := e.touch(tx, caller)
		if err != nil {
			return err
		}
		debt, ok := checkedSub(acc.Debt, amount)
		if !ok {
			return ErrInsufficientBalance
		}
		market, err := tx.loadMarket()
		if err != nil {
			return err
		}
		totalBorrows, ok := checkedSub(market.TotalBorrows, amount)
		if !ok {
			return ErrArithmeticOverflow
		}

		svc, err := e.token(e.stable)
		if err != nil {
			return err
		}
		if err := tx.pull(e.stable, svc, caller, amount); err != nil {
			return err
		}
		acc.Debt = debt
		market.TotalBorrows = totalBorrows
		if err := tx.putAccount(acc); err != nil {
			return err
		}
		if err := tx.putMarket(market); err != nil {
			return err
		}
		tx.emit(events.LendingRepay{Account: caller, Amount: amount.Clone()})
		return nil
	})
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrCollateralExceeded):
		return "collateral_exceeded"
	case errors.Is(err, ErrPositionHealthy):
		return "position_healthy"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrInvalidInitialValue):
		return "invalid_initial_value"
	case errors.Is(err, ErrExternalTransferFailed):
		return "external_failure"
	case errors.Is(err, ErrStepRegression):
		return "step_regression"
	case errors.Is(err, ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, ErrZeroPrice):
		return "zero_price"
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrNilState):
		return "not_configured"
	default:
		return "error"
	}
}
