package reputation

import (
	"encoding/hex"
	"strconv"

	"custodia/core/types"
)

const (
	// EventTypeArbitratorBootstrapped marks the out-of-band seeding of an
	// arbitrator record.
	EventTypeArbitratorBootstrapped = "reputation.arbitrator_bootstrapped"
)

type arbitratorBootstrapped struct {
	addr        [20]byte
	activeSince int64
}

// NewArbitratorBootstrappedEvent returns the canonical event payload for an
// arbitrator record seeded via the bootstrap hook.
func NewArbitratorBootstrappedEvent(addr [20]byte, activeSince int64) *types.Event {
	return (arbitratorBootstrapped{addr: addr, activeSince: activeSince}).Event()
}

func (e arbitratorBootstrapped) EventType() string { return EventTypeArbitratorBootstrapped }

func (e arbitratorBootstrapped) Event() *types.Event {
	return &types.Event{
		Type: EventTypeArbitratorBootstrapped,
		Attributes: map[string]string{
			"arbitrator":  hex.EncodeToString(e.addr[:]),
			"activeSince": strconv.FormatInt(e.activeSince, 10),
			"score":       strconv.FormatUint(BaselineScore, 10),
		},
	}
}
