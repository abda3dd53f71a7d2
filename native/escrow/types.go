package escrow

import "math/big"

// Status represents the lifecycle states of an escrow. Pending escrows either
// complete directly or pass through Disputed before an arbitrator settles
// them. StatusRefunded is reserved by the wire protocol; no transition in the
// engine currently produces it.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusCompleted
	StatusDisputed
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusDisputed, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusDisputed:
		return "disputed"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further lifecycle operation may mutate the
// escrow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// Escrow is the custodial record locking a fixed amount between an initiator
// and a counterparty, with an arbitrator empowered to settle disputes.
// Identifiers are sequential and never reused; the amount is fixed at
// creation. DisputeInitiator is set exactly once, on the transition into
// StatusDisputed, and HasDispute distinguishes it from the zero address.
type Escrow struct {
	ID               uint64
	Initiator        [20]byte
	Counterparty     [20]byte
	Arbitrator       [20]byte
	Amount           *big.Int
	Status           Status
	CreatedAt        int64
	HasDispute       bool
	DisputeInitiator [20]byte
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}
