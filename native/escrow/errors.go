package escrow

import "errors"

var (
	// ErrInvalidEscrowID marks identifiers outside the allocated range.
	ErrInvalidEscrowID = errors.New("escrow: invalid escrow id")
	// ErrNotFound marks identifiers with no stored record.
	ErrNotFound = errors.New("escrow: escrow not found")
	// ErrNotAuthorized marks callers lacking the role an operation requires.
	ErrNotAuthorized = errors.New("escrow: caller not authorized")
	// ErrInvalidStatus marks operations attempted outside the required state.
	ErrInvalidStatus = errors.New("escrow: invalid status for operation")
	// ErrZeroAmount marks deposits of zero.
	ErrZeroAmount = errors.New("escrow: amount must be positive")
	// ErrInvalidCounterparty marks self-referential counterparties.
	ErrInvalidCounterparty = errors.New("escrow: invalid counterparty")
	// ErrInvalidArbitrator marks self-referential or unregistered arbitrators.
	ErrInvalidArbitrator = errors.New("escrow: invalid arbitrator")
	// ErrTransferFailed wraps failures of the external value-transfer
	// primitive. The operation that triggered it commits nothing.
	ErrTransferFailed = errors.New("escrow: transfer failed")
)

// Reserved sentinels carried over from the wire protocol. No code path emits
// them today; they are kept so the external error vocabulary stays stable.
var (
	ErrAlreadyExists = errors.New("escrow: already exists")
	ErrSelfTransfer  = errors.New("escrow: self transfer")
)
