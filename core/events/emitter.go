package events

import "custodia/core/types"

// Event is implemented by module-specific payloads that can render themselves
// into the canonical attribute form.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter receives events produced by the native engines. Implementations must
// not retain the event past the call.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event. Engines default to it so callers that do
// not care about events never have to wire one.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// MemoryEmitter accumulates emitted events in order. Intended for tests and
// for the daemon's in-process event log.
type MemoryEmitter struct {
	events []Event
}

func (m *MemoryEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	m.events = append(m.events, evt)
}

// Events returns the events emitted so far in emission order.
func (m *MemoryEmitter) Events() []Event {
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
