package lending

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"lendledger/crypto"
	"lendledger/storage"
)

var (
	accountPrefix = []byte("lending/account/")
	marketKey     = ethcrypto.Keccak256([]byte("lending/market"))
)

type storedAccount struct {
	CollateralNative *big.Int
	Debt             *big.Int
	SuppliedStable   *big.Int
	LastUpdateStep   uint64
}

type storedMarket struct {
	Reserve      *big.Int
	TotalBorrows *big.Int
	TotalSupply  *big.Int
}

// KVState persists ledger records as RLP in a key-value database. Keys are
// keccak256 hashes of a module prefix and the account bytes.
type KVState struct {
	db storage.Database
}

// NewKVState binds the ledger state to db.
func NewKVState(db storage.Database) *KVState {
	return &KVState{db: db}
}

func accountKey(addr crypto.Address) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr.Bytes()))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

func (s *KVState) get(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrNilState
	}
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("lending store: decode: %w", err)
	}
	return true, nil
}

func (s *KVState) has(key []byte) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrNilState
	}
	_, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *KVState) remove(key []byte) error {
	if s == nil || s.db == nil {
		return ErrNilState
	}
	return s.db.Delete(key)
}

func (s *KVState) put(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return ErrNilState
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

func (s *KVState) GetAccount(addr crypto.Address) (*Account, error) {
	var stored storedAccount
	ok, err := s.get(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	acc := newAccount(addr)
	if !ok {
		return acc, nil
	}
	if acc.CollateralNative, err = fromStored(stored.CollateralNative); err != nil {
		return nil, err
	}
	if acc.Debt, err = fromStored(stored.Debt); err != nil {
		return nil, err
	}
	if acc.SuppliedStable, err = fromStored(stored.SuppliedStable); err != nil {
		return nil, err
	}
	acc.LastUpdateStep = stored.LastUpdateStep
	return acc, nil
}

func (s *KVState) PutAccount(account *Account) error {
	if account == nil {
		return nil
	}
	account.ensureDefaults()
	return s.put(accountKey(account.Address), &storedAccount{
		CollateralNative: account.CollateralNative.ToBig(),
		Debt:             account.Debt.ToBig(),
		SuppliedStable:   account.SuppliedStable.ToBig(),
		LastUpdateStep:   account.LastUpdateStep,
	})
}

func (s *KVState) HasAccount(addr crypto.Address) (bool, error) {
	return s.has(accountKey(addr))
}

func (s *KVState) DeleteAccount(addr crypto.Address) error {
	return s.remove(accountKey(addr))
}

func (s *KVState) GetMarket() (*Market, error) {
	var stored storedMarket
	ok, err := s.get(marketKey, &stored)
	if err != nil {
		return nil, err
	}
	market := newMarket()
	if !ok {
		return market, nil
	}
	if market.Reserve, err = fromStored(stored.Reserve); err != nil {
		return nil, err
	}
	if market.TotalBorrows, err = fromStored(stored.TotalBorrows); err != nil {
		return nil, err
	}
	if market.TotalSupply, err = fromStored(stored.TotalSupply); err != nil {
		return nil, err
	}
	return market, nil
}

func (s *KVState) PutMarket(market *Market) error {
	if market == nil {
		return nil
	}
	market.ensureDefaults()
	return s.put(marketKey, &storedMarket{
		Reserve:      market.Reserve.ToBig(),
		TotalBorrows: market.TotalBorrows.ToBig(),
		TotalSupply:  market.TotalSupply.ToBig(),
	})
}

func fromStored(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("lending store: negative amount %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("lending store: amount overflow")
	}
	return out, nil
}

func (s *KVState) HasMarket() (bool, error) {
	return s.has(marketKey)
}

func (s *KVState) DeleteMarket() error {
	return s.remove(marketKey)
}
