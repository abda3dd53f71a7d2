package escrow

// arbitratorRegistry is the slice of the reputation store the guard consults
// when vetting arbitrator assignments.
type arbitratorRegistry interface {
	HasArbitrator(addr [20]byte) (bool, error)
}

// ValidEscrowID reports whether id falls inside the allocated range. Callers
// use it to short-circuit before any record lookup.
func ValidEscrowID(id, nextID uint64) bool {
	return id > 0 && id < nextID
}

// ValidCounterparty rejects self-escrow: the counterparty must differ from the
// caller.
func ValidCounterparty(caller, counterparty [20]byte) bool {
	return counterparty != caller
}

// ValidArbitrator requires the arbitrator to differ from the caller and to
// already hold a reputation record. The record is only ever created as a side
// effect of resolving a dispute or via the out-of-band bootstrap, so on a
// fresh system an arbitrator must be seeded before it can be named. Validation
// runs before any lazy initialisation; do not reorder.
func ValidArbitrator(registry arbitratorRegistry, caller, arbitrator [20]byte) (bool, error) {
	if arbitrator == caller {
		return false, nil
	}
	if registry == nil {
		return false, nil
	}
	return registry.HasArbitrator(arbitrator)
}
