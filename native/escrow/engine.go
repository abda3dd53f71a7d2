package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"custodia/core/events"
	"custodia/core/types"
)

var (
	errNilEngine     = errors.New("escrow engine: not configured")
	errNilReputation = errors.New("escrow engine: reputation store not configured")
	errNilTransfers  = errors.New("escrow engine: transfer backend not configured")
)

// VaultAddress is the module-owned custodial account. Every active escrow's
// deposit sits here until the lifecycle settles it.
var VaultAddress = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("custodia/escrow/vault"))[12:])
	return addr
}()

// reputationHooks is the slice of the reputation store the lifecycle engine
// drives.
type reputationHooks interface {
	arbitratorRegistry
	Touch(addr [20]byte) error
	RecordTradeCompleted(initiator, counterparty [20]byte) error
	RecordDisputeInitiated(addr [20]byte) error
	RecordDisputeOutcome(winner, loser [20]byte) error
	RecordCaseResolved(addr [20]byte) error
}

// transferState is the external value-transfer primitive. The engine calls it
// at most once per operation, before committing any ledger or reputation
// write, so a declined transfer leaves all module state untouched.
type transferState interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Engine orchestrates the escrow lifecycle: it validates callers through the
// guard predicates, moves funds through the transfer primitive and commits
// ledger plus reputation updates in a fixed order per operation.
type Engine struct {
	ledger     *Ledger
	reputation reputationHooks
	transfers  transferState
	emitter    events.Emitter
	nowFn      func() int64
}

// NewEngine wires the lifecycle engine to its collaborators.
func NewEngine(ledger *Ledger, reputation reputationHooks, transfers transferState) *Engine {
	return &Engine{
		ledger:     ledger,
		reputation: reputation,
		transfers:  transfers,
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: evt})
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.ledger == nil:
		return errNilEngine
	case e.reputation == nil:
		return errNilReputation
	case e.transfers == nil:
		return errNilTransfers
	}
	return nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if err := e.transfers.Transfer(from, to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// loadActive resolves the preconditions shared by the state-changing
// operations: a well-formed id and an existing record.
func (e *Engine) loadActive(id uint64) (*Escrow, error) {
	nextID, err := e.ledger.NextID()
	if err != nil {
		return nil, err
	}
	if !ValidEscrowID(id, nextID) {
		return nil, ErrInvalidEscrowID
	}
	esc, ok, err := e.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

// Create validates the parties, collects the deposit into the vault and
// allocates a pending escrow. Reputation records for the caller and
// counterparty are materialized lazily, strictly after validation passes: an
// arbitrator with no existing reputation record is rejected even though the
// same call would otherwise create one.
func (e *Engine) Create(caller, counterparty, arbitrator [20]byte, amount *big.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	if !ValidCounterparty(caller, counterparty) {
		return 0, ErrInvalidCounterparty
	}
	ok, err := ValidArbitrator(e.reputation, caller, arbitrator)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidArbitrator
	}
	// The deposit moves first: a declined transfer aborts the operation
	// before any ledger or reputation write lands.
	if err := e.transfer(caller, VaultAddress, amount); err != nil {
		return 0, err
	}
	if err := e.reputation.Touch(caller); err != nil {
		return 0, err
	}
	if err := e.reputation.Touch(counterparty); err != nil {
		return 0, err
	}
	esc, err := e.ledger.Allocate(caller, counterparty, arbitrator, amount, e.now())
	if err != nil {
		return 0, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.ID, nil
}

// Complete releases the held deposit to the counterparty and credits both
// sides with a successful trade. Only the counterparty may complete, and only
// while the escrow is pending.
func (e *Engine) Complete(id uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if caller != esc.Counterparty {
		return ErrNotAuthorized
	}
	if esc.Status != StatusPending {
		return ErrInvalidStatus
	}
	held, ok, err := e.ledger.GetBalance(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := e.transfer(VaultAddress, esc.Counterparty, held); err != nil {
		return err
	}
	if err := e.reputation.RecordTradeCompleted(esc.Initiator, esc.Counterparty); err != nil {
		return err
	}
	if err := e.ledger.SetStatus(id, StatusCompleted, nil); err != nil {
		return err
	}
	if err := e.ledger.ClearBalance(id); err != nil {
		return err
	}
	esc.Status = StatusCompleted
	e.emit(NewCompletedEvent(esc))
	return nil
}

// Dispute flags a pending escrow. Either party may raise it; the caller takes
// the dispute-initiation penalty and is recorded on the escrow. No funds move.
func (e *Engine) Dispute(id uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if caller != esc.Initiator && caller != esc.Counterparty {
		return ErrNotAuthorized
	}
	if esc.Status != StatusPending {
		return ErrInvalidStatus
	}
	if err := e.reputation.RecordDisputeInitiated(caller); err != nil {
		return err
	}
	if err := e.ledger.SetStatus(id, StatusDisputed, &caller); err != nil {
		return err
	}
	esc.Status = StatusDisputed
	esc.HasDispute = true
	esc.DisputeInitiator = caller
	e.emit(NewDisputedEvent(esc))
	return nil
}

// Arbitrate settles a disputed escrow. The assigned arbitrator's boolean fully
// determines the payout: the counterparty when releaseToCounterparty is set,
// the initiator otherwise. Who raised the dispute is recorded on the escrow
// but deliberately never consulted here. The receiving party wins the
// reputation pairing, the other side loses it, and the arbitrator is credited
// with a resolved case.
func (e *Engine) Arbitrate(id uint64, caller [20]byte, releaseToCounterparty bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if caller != esc.Arbitrator {
		return ErrNotAuthorized
	}
	if esc.Status != StatusDisputed {
		return ErrInvalidStatus
	}
	held, ok, err := e.ledger.GetBalance(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	winner, loser := esc.Initiator, esc.Counterparty
	if releaseToCounterparty {
		winner, loser = esc.Counterparty, esc.Initiator
	}
	if err := e.transfer(VaultAddress, winner, held); err != nil {
		return err
	}
	if err := e.reputation.RecordDisputeOutcome(winner, loser); err != nil {
		return err
	}
	if err := e.reputation.RecordCaseResolved(esc.Arbitrator); err != nil {
		return err
	}
	if err := e.ledger.SetStatus(id, StatusCompleted, nil); err != nil {
		return err
	}
	if err := e.ledger.ClearBalance(id); err != nil {
		return err
	}
	esc.Status = StatusCompleted
	e.emit(NewArbitratedEvent(esc, winner))
	return nil
}

// Escrow is the read-only lookup behind the query surface. Out-of-range ids
// report absence rather than an error.
func (e *Engine) Escrow(id uint64) (*Escrow, bool, error) {
	if e == nil || e.ledger == nil {
		return nil, false, errNilEngine
	}
	return e.ledger.Get(id)
}

// Balance returns the amount currently held for id, if the escrow is active.
func (e *Engine) Balance(id uint64) (*big.Int, bool, error) {
	if e == nil || e.ledger == nil {
		return nil, false, errNilEngine
	}
	return e.ledger.GetBalance(id)
}

// CustodialBalance derives the aggregate amount held across all active
// escrows.
func (e *Engine) CustodialBalance() (*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilEngine
	}
	return e.ledger.CustodialTotal()
}
