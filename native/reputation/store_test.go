package reputation

import (
	"bytes"
	"testing"

	"custodia/core/state"
	storagepkg "custodia/storage"
)

const testNow int64 = 1_700_000_000

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(state.NewManager(storagepkg.NewMemDB()))
	store.SetNowFunc(func() int64 { return testNow })
	return store
}

func addr(fill byte) [20]byte {
	var a [20]byte
	copy(a[:], bytes.Repeat([]byte{fill}, 20))
	return a
}

func TestReadsDoNotMaterializeDefaults(t *testing.T) {
	store := newTestStore(t)
	a := addr(0x01)

	record, err := store.GetParticipant(a)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if record.Score != BaselineScore {
		t.Fatalf("expected baseline %d, got %d", BaselineScore, record.Score)
	}
	// The default returned by the read must not have been persisted.
	stored, ok, err := store.loadParticipant(a)
	if err != nil {
		t.Fatalf("load participant: %v", err)
	}
	if ok {
		t.Fatalf("read must not persist the default: %+v", stored)
	}
	if ok, err := store.HasArbitrator(a); err != nil || ok {
		t.Fatalf("arbitrator record must not exist: ok=%v err=%v", ok, err)
	}
}

func TestTouchMaterializesBaselineOnce(t *testing.T) {
	store := newTestStore(t)
	a := addr(0x01)
	if err := store.Touch(a); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := store.RecordDisputeInitiated(a); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	// A second Touch must not reset accumulated state.
	if err := store.Touch(a); err != nil {
		t.Fatalf("touch: %v", err)
	}
	record, err := store.GetParticipant(a)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if record.Score != 47 || record.DisputesInitiated != 1 {
		t.Fatalf("touch must be idempotent: %+v", record)
	}
}

func TestScoringTable(t *testing.T) {
	store := newTestStore(t)
	a := addr(0x0A)
	b := addr(0x0B)
	arb := addr(0x0C)

	if err := store.RecordTradeCompleted(a, b); err != nil {
		t.Fatalf("trade completed: %v", err)
	}
	for _, party := range [][20]byte{a, b} {
		record, err := store.GetParticipant(party)
		if err != nil {
			t.Fatalf("get participant: %v", err)
		}
		if record.Score != 55 || record.TotalTrades != 1 || record.SuccessfulTrades != 1 {
			t.Fatalf("completed trade bookkeeping wrong: %+v", record)
		}
	}

	if err := store.RecordDisputeInitiated(a); err != nil {
		t.Fatalf("dispute initiated: %v", err)
	}
	record, err := store.GetParticipant(a)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if record.Score != 52 || record.DisputesInitiated != 1 {
		t.Fatalf("dispute penalty wrong: %+v", record)
	}

	if err := store.RecordDisputeOutcome(a, b); err != nil {
		t.Fatalf("dispute outcome: %v", err)
	}
	winner, err := store.GetParticipant(a)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if winner.Score != 52 {
		t.Fatalf("winner score must not change, got %d", winner.Score)
	}
	if winner.SuccessfulTrades != 2 {
		t.Fatalf("winner successful trades must advance, got %d", winner.SuccessfulTrades)
	}
	loser, err := store.GetParticipant(b)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if loser.Score != 45 || loser.DisputesLost != 1 {
		t.Fatalf("loser bookkeeping wrong: %+v", loser)
	}

	if err := store.RecordCaseResolved(arb); err != nil {
		t.Fatalf("case resolved: %v", err)
	}
	arbRecord, ok, err := store.GetArbitrator(arb)
	if err != nil || !ok {
		t.Fatalf("get arbitrator: ok=%v err=%v", ok, err)
	}
	if arbRecord.Score != BaselineScore+CaseResolvedReward || arbRecord.CasesResolved != 1 {
		t.Fatalf("arbitrator bookkeeping wrong: %+v", arbRecord)
	}
	if arbRecord.ActiveSince != testNow {
		t.Fatalf("expected activation at %d, got %d", testNow, arbRecord.ActiveSince)
	}
}

func TestScoreSaturatesAtZero(t *testing.T) {
	store := newTestStore(t)
	winner := addr(0x01)
	loser := addr(0x02)

	// Baseline 50 survives four losses (10 each) and bottoms out at zero on
	// the fifth and every one after.
	for i := 0; i < 7; i++ {
		if err := store.RecordDisputeOutcome(winner, loser); err != nil {
			t.Fatalf("dispute outcome %d: %v", i, err)
		}
	}
	record, err := store.GetParticipant(loser)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if record.Score != 0 {
		t.Fatalf("score must saturate at zero, got %d", record.Score)
	}
	if record.DisputesLost != 7 {
		t.Fatalf("counters keep advancing past the floor, got %d", record.DisputesLost)
	}
}

func TestDeductSaturation(t *testing.T) {
	cases := []struct {
		score, penalty, want uint64
	}{
		{50, 3, 47},
		{10, 10, 0},
		{5, 10, 0},
		{0, 3, 0},
	}
	for _, tc := range cases {
		if got := deduct(tc.score, tc.penalty); got != tc.want {
			t.Fatalf("deduct(%d, %d): expected %d, got %d", tc.score, tc.penalty, tc.want, got)
		}
	}
}

func TestBootstrapArbitrator(t *testing.T) {
	store := newTestStore(t)
	arb := addr(0x0C)

	created, err := store.BootstrapArbitrator(arb)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !created {
		t.Fatalf("expected record creation")
	}
	record, ok, err := store.GetArbitrator(arb)
	if err != nil || !ok {
		t.Fatalf("get arbitrator: ok=%v err=%v", ok, err)
	}
	if record.Score != BaselineScore || record.CasesResolved != 0 || record.ActiveSince != testNow {
		t.Fatalf("bootstrap record wrong: %+v", record)
	}

	// Idempotent: a second bootstrap neither errors nor resets history.
	if err := store.RecordCaseResolved(arb); err != nil {
		t.Fatalf("case resolved: %v", err)
	}
	created, err = store.BootstrapArbitrator(arb)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if created {
		t.Fatalf("second bootstrap must be a no-op")
	}
	record, _, err = store.GetArbitrator(arb)
	if err != nil {
		t.Fatalf("get arbitrator: %v", err)
	}
	if record.CasesResolved != 1 {
		t.Fatalf("bootstrap must not reset history: %+v", record)
	}
}
