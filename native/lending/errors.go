package lending

import (
	"errors"
	"fmt"
)

var (
	ErrNilState            = errors.New("lending engine: state not configured")
	ErrNotConfigured       = errors.New("lending engine: collaborator not configured")
	ErrInvalidAmount       = errors.New("lending engine: amount must be positive")
	ErrInvalidAddress      = errors.New("lending engine: account address required")
	ErrUnsupportedAsset    = errors.New("lending engine: unsupported asset")
	ErrInsufficientBalance = errors.New("lending engine: insufficient balance")
	ErrCollateralExceeded  = errors.New("lending engine: collateral limit exceeded")
	ErrPositionHealthy     = errors.New("lending engine: position is healthy")
	ErrAlreadyInitialized  = errors.New("lending engine: already initialised")
	ErrInvalidInitialValue = errors.New("lending engine: initial value must be exactly one native unit")
	ErrStepRegression      = errors.New("lending engine: step counter moved backwards")
	ErrArithmeticOverflow  = errors.New("lending engine: arithmetic overflow or underflow")
	ErrZeroPrice           = errors.New("lending engine: stable price is zero")

	// ErrExternalTransferFailed matches every *ExternalError.
	ErrExternalTransferFailed = errors.New("lending engine: external call failed")
)

// ExternalError wraps a failure reported by the price feed, a token service
// or the native bank. errors.Is matches it against ErrExternalTransferFailed
// and against the wrapped cause.
type ExternalError struct {
	Op    string
	Asset Asset
	Err   error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("lending engine: %s %s: %v", e.Op, e.Asset, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

func (e *ExternalError) Is(target error) bool { return target == ErrExternalTransferFailed }

func external(op string, asset Asset, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Op: op, Asset: asset, Err: err}
}
