package lending

import (
	"sync"

	"lendledger/crypto"
)

// engineState is the persistence layer behind the engine. Implementations
// return zero-valued records for keys that were never written. Delete is only
// used to undo the first write of a record.
type engineState interface {
	GetAccount(addr crypto.Address) (*Account, error)
	HasAccount(addr crypto.Address) (bool, error)
	PutAccount(account *Account) error
	DeleteAccount(addr crypto.Address) error
	GetMarket() (*Market, error)
	HasMarket() (bool, error)
	PutMarket(market *Market) error
	DeleteMarket() error
}

// MemState is a map-backed sparse store. Entries are created on first write.
type MemState struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	market   *Market
}

// NewMemState returns an empty in-memory store.
func NewMemState() *MemState {
	return &MemState{accounts: make(map[string]*Account)}
}

func (m *MemState) GetAccount(addr crypto.Address) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if acc, ok := m.accounts[addr.Key()]; ok {
		return acc.Clone(), nil
	}
	return newAccount(addr), nil
}

func (m *MemState) PutAccount(account *Account) error {
	if account == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Address.Key()] = account.Clone()
	return nil
}

func (m *MemState) HasAccount(addr crypto.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[addr.Key()]
	return ok, nil
}

func (m *MemState) DeleteAccount(addr crypto.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, addr.Key())
	return nil
}

func (m *MemState) GetMarket() (*Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.market == nil {
		return newMarket(), nil
	}
	return m.market.Clone(), nil
}

func (m *MemState) PutMarket(market *Market) error {
	if market == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.market = market.Clone()
	return nil
}

func (m *MemState) HasMarket() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.market != nil, nil
}

func (m *MemState) DeleteMarket() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.market = nil
	return nil
}

// Accounts returns copies of every stored account in no particular order.
func (m *MemState) Accounts() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc.Clone())
	}
	return out
}
