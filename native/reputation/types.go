package reputation

// Scoring constants applied by the store. Scores are unsigned and saturate at
// zero when a penalty exceeds the accumulated score.
const (
	// BaselineScore seeds every record on first materialization.
	BaselineScore uint64 = 50
	// TradeCompletedReward is credited to both sides of a completed escrow.
	TradeCompletedReward uint64 = 5
	// DisputeInitiatedPenalty is deducted from the party raising a dispute.
	DisputeInitiatedPenalty uint64 = 3
	// DisputeLostPenalty is deducted from the losing side of an arbitration.
	DisputeLostPenalty uint64 = 10
	// CaseResolvedReward is credited to an arbitrator per resolved dispute.
	CaseResolvedReward uint64 = 2
)

// Participant tracks the trading history of an escrow party.
type Participant struct {
	Score             uint64
	TotalTrades       uint64
	SuccessfulTrades  uint64
	DisputesInitiated uint64
	DisputesLost      uint64
}

// Arbitrator tracks the resolution history of a dispute arbitrator. ActiveSince
// records when the account was first materialized as an arbitrator.
type Arbitrator struct {
	Score         uint64
	CasesResolved uint64
	ActiveSince   int64
}

// NewParticipant returns a fresh record seeded with the baseline score.
func NewParticipant() *Participant {
	return &Participant{Score: BaselineScore}
}

// NewArbitrator returns a fresh arbitrator record seeded with the baseline
// score and the supplied activation timestamp.
func NewArbitrator(activeSince int64) *Arbitrator {
	return &Arbitrator{Score: BaselineScore, ActiveSince: activeSince}
}

// Clone returns a copy of the participant record.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return NewParticipant()
	}
	clone := *p
	return &clone
}

// Clone returns a copy of the arbitrator record.
func (a *Arbitrator) Clone() *Arbitrator {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}
