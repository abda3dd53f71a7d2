package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// ledgerState abstracts the subset of state manager functionality the escrow
// ledger needs.
type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVIterate(prefix []byte, fn func(key, value []byte) error) error
}

var (
	escrowRecordPrefix  = []byte("escrow/record/")
	escrowBalancePrefix = []byte("escrow/balance/")
	escrowNextIDKey     = []byte("escrow/nextid")
)

var errNilLedger = errors.New("escrow: ledger not initialised")

func recordKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", escrowRecordPrefix, id))
}

func balanceKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", escrowBalancePrefix, id))
}

// storedEscrow keeps every field unsigned so the record stays RLP friendly.
type storedEscrow struct {
	ID               uint64
	Initiator        [20]byte
	Counterparty     [20]byte
	Arbitrator       [20]byte
	Amount           *big.Int
	Status           uint8
	CreatedAt        uint64
	HasDispute       bool
	DisputeInitiator [20]byte
}

// Ledger owns the escrow records, the parallel balance table and the
// sequential id allocator. Records are never deleted; balances exist exactly
// while the escrow is active (Pending or Disputed).
type Ledger struct {
	state ledgerState
}

// NewLedger constructs a ledger bound to the provided state backend.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// NextID returns the identifier the next allocation will use. IDs start at 1.
func (l *Ledger) NextID() (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilLedger
	}
	var next uint64
	ok, err := l.state.KVGet(escrowNextIDKey, &next)
	if err != nil {
		return 0, err
	}
	if !ok || next == 0 {
		return 1, nil
	}
	return next, nil
}

// Allocate assigns the next sequential id and persists a new pending escrow
// together with its balance entry, then advances the allocator.
func (l *Ledger) Allocate(initiator, counterparty, arbitrator [20]byte, amount *big.Int, createdAt int64) (*Escrow, error) {
	if l == nil || l.state == nil {
		return nil, errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	id, err := l.NextID()
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:           id,
		Initiator:    initiator,
		Counterparty: counterparty,
		Arbitrator:   arbitrator,
		Amount:       new(big.Int).Set(amount),
		Status:       StatusPending,
		CreatedAt:    createdAt,
	}
	if err := l.put(esc); err != nil {
		return nil, err
	}
	if err := l.state.KVPut(balanceKey(id), esc.Amount); err != nil {
		return nil, err
	}
	if err := l.state.KVPut(escrowNextIDKey, id+1); err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

func (l *Ledger) put(esc *Escrow) error {
	if esc == nil {
		return fmt.Errorf("escrow: nil escrow")
	}
	stored := &storedEscrow{
		ID:               esc.ID,
		Initiator:        esc.Initiator,
		Counterparty:     esc.Counterparty,
		Arbitrator:       esc.Arbitrator,
		Amount:           esc.Amount,
		Status:           uint8(esc.Status),
		CreatedAt:        uint64(esc.CreatedAt),
		HasDispute:       esc.HasDispute,
		DisputeInitiator: esc.DisputeInitiator,
	}
	if stored.Amount == nil {
		stored.Amount = big.NewInt(0)
	}
	return l.state.KVPut(recordKey(esc.ID), stored)
}

// Get returns the escrow stored under id, if any.
func (l *Ledger) Get(id uint64) (*Escrow, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errNilLedger
	}
	var stored storedEscrow
	ok, err := l.state.KVGet(recordKey(id), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	esc := &Escrow{
		ID:               stored.ID,
		Initiator:        stored.Initiator,
		Counterparty:     stored.Counterparty,
		Arbitrator:       stored.Arbitrator,
		Amount:           stored.Amount,
		Status:           Status(stored.Status),
		CreatedAt:        int64(stored.CreatedAt),
		HasDispute:       stored.HasDispute,
		DisputeInitiator: stored.DisputeInitiator,
	}
	if esc.Amount == nil {
		esc.Amount = big.NewInt(0)
	}
	return esc, true, nil
}

// GetBalance returns the amount currently held for id, if the escrow is still
// active.
func (l *Ledger) GetBalance(id uint64) (*big.Int, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errNilLedger
	}
	balance := new(big.Int)
	ok, err := l.state.KVGet(balanceKey(id), balance)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return balance, true, nil
}

// SetStatus merges the new status into the stored record. When disputeInitiator
// is non-nil the transition also records who raised the dispute; that field is
// written exactly once, on the transition into StatusDisputed.
func (l *Ledger) SetStatus(id uint64, status Status, disputeInitiator *[20]byte) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	esc, ok, err := l.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	esc.Status = status
	if disputeInitiator != nil {
		esc.HasDispute = true
		esc.DisputeInitiator = *disputeInitiator
	}
	return l.put(esc)
}

// ClearBalance removes the balance entry for id. Called exactly once, when the
// escrow reaches StatusCompleted.
func (l *Ledger) ClearBalance(id uint64) error {
	if l == nil || l.state == nil {
		return errNilLedger
	}
	return l.state.KVDelete(balanceKey(id))
}

// CustodialTotal derives the aggregate amount currently held across all active
// escrows by walking the balance table. The total is never stored redundantly.
func (l *Ledger) CustodialTotal() (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilLedger
	}
	total := big.NewInt(0)
	err := l.state.KVIterate(escrowBalancePrefix, func(_, value []byte) error {
		amount := new(big.Int)
		if err := rlp.DecodeBytes(value, amount); err != nil {
			return fmt.Errorf("escrow: decode balance: %w", err)
		}
		total.Add(total, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}
