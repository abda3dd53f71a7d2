package types

// Event is the canonical structured payload emitted by native modules when
// state transitions occur. Attributes are flat string pairs so events can be
// serialised to any downstream sink without schema negotiation.
type Event struct {
	Type       string
	Attributes map[string]string
}
