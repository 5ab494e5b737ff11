package lending

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
	nativelending "lendledger/native/lending"
	"lendledger/observability"
	"lendledger/observability/logging"
	"lendledger/storage"
)

const serviceName = "lendingd"

// Dependencies are the host collaborators wired into the engine. Prices,
// Tokens and Steps are required; without a Bank native withdrawals and
// collateral liquidations fail.
type Dependencies struct {
	Prices  nativelending.PriceFeed
	Tokens  nativelending.TokenDirectory
	Bank    nativelending.NativeBank
	Steps   nativelending.StepSource
	Emitter events.Emitter
	Logger  *slog.Logger
	Metrics *observability.LendingMetrics
}

// Service owns the storage and engine of one lending market and exposes its
// actions with string-encoded addresses and amounts.
type Service struct {
	db        storage.Database
	engine    *nativelending.Engine
	logger    *slog.Logger
	logCloser io.Closer
}

// New opens storage and wires the engine described by cfg.
func New(cfg Config, deps Dependencies) (*Service, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Prices == nil || deps.Tokens == nil || deps.Steps == nil {
		return nil, fmt.Errorf("lending service: price feed, token directory and step source are required")
	}
	custody, err := cfg.Lending.Custody()
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	var logCloser io.Closer
	if logger == nil {
		level, _ := cfg.Level()
		logger, logCloser = logging.New(serviceName, cfg.Environment, logging.Options{
			Level: level,
			File:  cfg.LogFile,
		})
	}

	var db storage.Database
	if cfg.DataDir == "" {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			if logCloser != nil {
				_ = logCloser.Close()
			}
			return nil, fmt.Errorf("open lending state: %w", err)
		}
		db = ldb
	}

	engine := nativelending.NewEngine(custody, cfg.Lending.Stable())
	engine.SetState(nativelending.NewKVState(db))
	engine.SetPriceFeed(deps.Prices)
	engine.SetTokens(deps.Tokens)
	engine.SetStepSource(deps.Steps)
	if deps.Bank != nil {
		engine.SetNativeBank(deps.Bank)
	}
	if deps.Emitter != nil {
		engine.SetEmitter(deps.Emitter)
	}
	if deps.Metrics != nil {
		engine.SetMetrics(deps.Metrics)
	}
	engine.SetLogger(logger)

	logger.Info("lending service ready",
		"stable", string(cfg.Lending.Stable()),
		"custody", custody.String(),
		"persistent", cfg.DataDir != "")

	return &Service{db: db, engine: engine, logger: logger, logCloser: logCloser}, nil
}

// Engine returns the underlying engine.
func (s *Service) Engine() *nativelending.Engine { return s.engine }

// Close releases storage and the log file.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
		s.logger.Info("lending service closed")
	}
	if s.logCloser != nil {
		err := s.logCloser.Close()
		s.logCloser = nil
		return err
	}
	return nil
}

// Initialize locks the bootstrap reserve on behalf of addr.
func (s *Service) Initialize(ctx context.Context, addr, token, attached string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caller, err := parseAddress(addr)
	if err != nil {
		return err
	}
	value, err := parseAmount(attached)
	if err != nil {
		return err
	}
	return s.engine.Initialize(caller, nativelending.Asset(strings.TrimSpace(token)), value)
}

// Deposit credits collateral or supply. attached is the native value the host
// already moved into custody and may be empty for stable deposits.
func (s *Service) Deposit(ctx context.Context, addr, asset, amount, attached string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caller, value, err := parseAction(addr, amount)
	if err != nil {
		return err
	}
	attachedValue := new(uint256.Int)
	if strings.TrimSpace(attached) != "" {
		if attachedValue, err = parseAmount(attached); err != nil {
			return err
		}
	}
	return s.engine.Deposit(caller, parseAsset(asset), value, attachedValue)
}

func (s *Service) Withdraw(ctx context.Context, addr, asset, amount string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caller, value, err := parseAction(addr, amount)
	if err != nil {
		return err
	}
	return s.engine.Withdraw(caller, parseAsset(asset), value)
}

func (s *Service) Borrow(ctx context.Context, addr, asset, amount string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caller, value, err := parseAction(addr, amount)
	if err != nil {
		return err
	}
	return s.engine.Borrow(caller, parseAsset(asset), value)
}

func (s *Service) Repay(ctx context.Context, addr, asset, amount string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caller, value, err := parseAction(addr, amount)
	if err != nil {
		return err
	}
	return s.engine.Repay(caller, parseAsset(asset), value)
}

func (s *Service) Liquidate(ctx context.Context, liquidator, borrower, asset, amount string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caller, value, err := parseAction(liquidator, amount)
	if err != nil {
		return err
	}
	target, err := parseAddress(borrower)
	if err != nil {
		return err
	}
	return s.engine.Liquidate(caller, target, parseAsset(asset), value)
}

// GetPosition values the account at current prices.
func (s *Service) GetPosition(ctx context.Context, addr string) (*nativelending.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	account, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	return s.engine.Position(account)
}

func parseAction(addr, amount string) (crypto.Address, *uint256.Int, error) {
	caller, err := parseAddress(addr)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	return caller, value, nil
}

func parseAddress(raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, nativelending.ErrInvalidAddress
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %w", nativelending.ErrInvalidAddress, err)
	}
	return addr, nil
}

var errMalformedAmount = errors.New("amount must be a base-10 integer")

func parseAmount(raw string) (*uint256.Int, error) {
	value, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nativelending.ErrInvalidAmount, errMalformedAmount)
	}
	return value, nil
}

func parseAsset(raw string) nativelending.Asset {
	return nativelending.Asset(strings.TrimSpace(raw))
}
