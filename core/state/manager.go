package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"custodia/core/types"
	"custodia/storage"
)

var (
	// ErrInsufficientFunds is returned by Transfer when the debited account
	// cannot cover the amount.
	ErrInsufficientFunds = errors.New("state: insufficient funds")
	// ErrInvalidAmount marks nil or negative transfer amounts.
	ErrInvalidAmount = errors.New("state: amount must be non-negative")
)

var accountPrefix = []byte("accounts/")

func accountKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s", accountPrefix, hex.EncodeToString(addr[:])))
}

// Manager mediates every read and write against the backing key-value store.
// Values are RLP encoded; module records go through the generic KV helpers
// while accounts have dedicated accessors so the transfer primitive can stay
// in one place.
type Manager struct {
	db storage.Database
}

// NewManager constructs a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account for addr, returning a zero-balance account when
// none has been persisted yet. Reads never materialize the default.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("state: manager not initialised")
	}
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.EnsureAccount(nil), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	acc := &types.Account{Nonce: stored.Nonce, Balance: stored.Balance}
	return types.EnsureAccount(acc), nil
}

// PutAccount persists the account under addr.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not initialised")
	}
	acc = types.EnsureAccount(acc)
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: acc.Nonce, Balance: acc.Balance})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), encoded)
}

// Mint credits freshly issued funds to addr. Only genesis tooling and tests
// should call this; lifecycle operations move existing funds via Transfer.
func (m *Manager) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	acc, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return m.PutAccount(addr, acc)
}

// Transfer atomically moves amount from one account to the other. The debit
// and credit either both persist or neither does: balances are checked before
// any write, and a zero amount is a no-op.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to, toAcc)
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under key and decodes it into out. The
// boolean return reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVHas reports whether key exists without decoding its value.
func (m *Manager) KVHas(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Has(key)
}

// KVDelete removes key from the store. Deleting an absent key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(key)
}

// KVIterate walks every stored entry under prefix in key order, handing the
// raw RLP value to fn.
func (m *Manager) KVIterate(prefix []byte, fn func(key, value []byte) error) error {
	if len(prefix) == 0 {
		return fmt.Errorf("kv: prefix must not be empty")
	}
	return m.db.Iterate(prefix, fn)
}
