package lending

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// StepSource supplies the host's monotonically non-decreasing step counter.
type StepSource interface {
	CurrentStep() uint64
}

// PriceFeed returns wad-scaled unit prices for NativeAsset and the stable
// token.
type PriceFeed interface {
	Price(asset Asset) (*uint256.Int, error)
}

// TokenService moves token balances on behalf of the ledger's custody account.
// TransferFrom pulls from an external owner; Transfer pays out of custody.
type TokenService interface {
	TransferFrom(from, to crypto.Address, amount *uint256.Int) error
	Transfer(to crypto.Address, amount *uint256.Int) error
}

// TokenDirectory resolves token identifiers to their services.
type TokenDirectory interface {
	Token(asset Asset) (TokenService, error)
}

// NativeBank pays native currency out of the ledger's custody. Attached native
// value is credited by the host before an action runs.
type NativeBank interface {
	Send(to crypto.Address, amount *uint256.Int) error
}

// TokenMap is a static TokenDirectory.
type TokenMap map[Asset]TokenService

// Token implements TokenDirectory.
func (m TokenMap) Token(asset Asset) (TokenService, error) {
	svc, ok := m[asset]
	if !ok || svc == nil {
		return nil, fmt.Errorf("token %q not registered", asset)
	}
	return svc, nil
}

// ManualSteps is a StepSource driven explicitly by the host or a test.
type ManualSteps struct {
	mu   sync.Mutex
	step uint64
}

// NewManualSteps returns a step source starting at step.
func NewManualSteps(step uint64) *ManualSteps {
	return &ManualSteps{step: step}
}

// CurrentStep implements StepSource.
func (s *ManualSteps) CurrentStep() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Set moves the counter to step. Steps never move backwards; smaller values
// are ignored.
func (s *ManualSteps) Set(step uint64) {
	s.mu.Lock()
	if step > s.step {
		s.step = step
	}
	s.mu.Unlock()
}

// Advance moves the counter forward by delta and returns the new value.
func (s *ManualSteps) Advance(delta uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step += delta
	return s.step
}
