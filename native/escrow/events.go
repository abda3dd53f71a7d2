package escrow

import (
	"encoding/hex"
	"strconv"

	"custodia/core/types"
)

const (
	EventTypeEscrowCreated    = "escrow.created"
	EventTypeEscrowCompleted  = "escrow.completed"
	EventTypeEscrowDisputed   = "escrow.disputed"
	EventTypeEscrowArbitrated = "escrow.arbitrated"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewCompletedEvent returns the canonical event payload emitted when a pending
// escrow settles to the counterparty.
func NewCompletedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCompleted, e) }

// NewDisputedEvent returns the canonical event payload emitted when a party
// raises a dispute.
func NewDisputedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowDisputed, e) }

// NewArbitratedEvent returns the canonical event payload emitted when an
// arbitrator settles a disputed escrow in favour of recipient.
func NewArbitratedEvent(e *Escrow, recipient [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowArbitrated, e)
	if evt.Attributes != nil {
		evt.Attributes["recipient"] = hex.EncodeToString(recipient[:])
	}
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(e.ID, 10)
	attrs["initiator"] = hex.EncodeToString(e.Initiator[:])
	attrs["counterparty"] = hex.EncodeToString(e.Counterparty[:])
	attrs["arbitrator"] = hex.EncodeToString(e.Arbitrator[:])
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	attrs["status"] = e.Status.String()
	attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	if e.HasDispute {
		attrs["disputeInitiator"] = hex.EncodeToString(e.DisputeInitiator[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
