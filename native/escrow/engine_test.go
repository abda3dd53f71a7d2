package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"custodia/core/events"
	"custodia/core/state"
	"custodia/native/reputation"
	"custodia/storage"
)

const testNow int64 = 1_700_000_000

type testEnv struct {
	manager    *state.Manager
	ledger     *Ledger
	reputation *reputation.Store
	engine     *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	store := reputation.NewStore(manager)
	store.SetNowFunc(func() int64 { return testNow })
	ledger := NewLedger(manager)
	engine := NewEngine(ledger, store, manager)
	engine.SetNowFunc(func() int64 { return testNow })
	return &testEnv{manager: manager, ledger: ledger, reputation: store, engine: engine}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (env *testEnv) fund(t *testing.T, addr [20]byte, amount int64) {
	t.Helper()
	if err := env.manager.Mint(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (env *testEnv) seedArbitrator(t *testing.T, addr [20]byte) {
	t.Helper()
	if _, err := env.reputation.BootstrapArbitrator(addr); err != nil {
		t.Fatalf("bootstrap arbitrator: %v", err)
	}
}

func (env *testEnv) balanceOf(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	acc, err := env.manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc.Balance
}

func (env *testEnv) participant(t *testing.T, addr [20]byte) *reputation.Participant {
	t.Helper()
	record, err := env.reputation.GetParticipant(addr)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	return record
}

func TestCreateValidations(t *testing.T) {
	initiator := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	arbitrator := newTestAddress(0x03)
	stranger := newTestAddress(0x04)

	cases := []struct {
		name         string
		counterparty [20]byte
		arbitrator   [20]byte
		amount       *big.Int
		fundCaller   int64
		seed         bool
		wantErr      error
	}{
		{"ok", counterparty, arbitrator, big.NewInt(100), 100, true, nil},
		{"zero amount", counterparty, arbitrator, big.NewInt(0), 100, true, ErrZeroAmount},
		{"nil amount", counterparty, arbitrator, nil, 100, true, ErrZeroAmount},
		{"self counterparty", initiator, arbitrator, big.NewInt(100), 100, true, ErrInvalidCounterparty},
		{"self arbitrator", counterparty, initiator, big.NewInt(100), 100, true, ErrInvalidArbitrator},
		{"unregistered arbitrator", counterparty, stranger, big.NewInt(100), 100, false, ErrInvalidArbitrator},
		{"insufficient funds", counterparty, arbitrator, big.NewInt(100), 10, true, ErrTransferFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.fund(t, initiator, tc.fundCaller)
			if tc.seed {
				env.seedArbitrator(t, arbitrator)
			}
			_, err := env.engine.Create(initiator, tc.counterparty, tc.arbitrator, tc.amount)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateHoldsDepositAndAllocatesSequentially(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	arbitrator := newTestAddress(0x03)
	env.fund(t, initiator, 5_000)
	env.seedArbitrator(t, arbitrator)

	first, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first id 1, got %d", first)
	}
	second, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(500))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second != 2 {
		t.Fatalf("expected second id 2, got %d", second)
	}

	held, ok, err := env.engine.Balance(first)
	if err != nil || !ok {
		t.Fatalf("balance lookup: ok=%v err=%v", ok, err)
	}
	if held.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected held 1000, got %s", held)
	}
	total, err := env.engine.CustodialBalance()
	if err != nil {
		t.Fatalf("custodial balance: %v", err)
	}
	if total.Cmp(big.NewInt(1_500)) != 0 {
		t.Fatalf("expected custodial total 1500, got %s", total)
	}
	if got := env.balanceOf(t, VaultAddress); got.Cmp(big.NewInt(1_500)) != 0 {
		t.Fatalf("expected vault balance 1500, got %s", got)
	}
	if got := env.balanceOf(t, initiator); got.Cmp(big.NewInt(3_500)) != 0 {
		t.Fatalf("expected initiator balance 3500, got %s", got)
	}

	esc, ok, err := env.engine.Escrow(first)
	if err != nil || !ok {
		t.Fatalf("escrow lookup: ok=%v err=%v", ok, err)
	}
	if esc.Status != StatusPending {
		t.Fatalf("expected pending, got %s", esc.Status)
	}
	if esc.CreatedAt != testNow {
		t.Fatalf("expected createdAt %d, got %d", testNow, esc.CreatedAt)
	}
	if esc.HasDispute {
		t.Fatalf("fresh escrow must not carry a dispute initiator")
	}
}

func TestArbitratorValidationRunsBeforeInitialization(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	arbitrator := newTestAddress(0x03)
	env.fund(t, initiator, 1_000)

	_, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(100))
	if !errors.Is(err, ErrInvalidArbitrator) {
		t.Fatalf("expected ErrInvalidArbitrator, got %v", err)
	}
	// The rejected call must not have materialized anything: the same call
	// path would lazily create records only after validation passes.
	if ok, err := env.reputation.HasArbitrator(arbitrator); err != nil || ok {
		t.Fatalf("arbitrator record must not exist: ok=%v err=%v", ok, err)
	}
	if got := env.balanceOf(t, initiator); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("deposit must not move on rejected create, balance %s", got)
	}
	nextID, err := env.ledger.NextID()
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if nextID != 1 {
		t.Fatalf("allocator must not advance, next id %d", nextID)
	}

	env.seedArbitrator(t, arbitrator)
	if _, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(100)); err != nil {
		t.Fatalf("create after bootstrap: %v", err)
	}
}

func TestCreateTransferFailureCommitsNothing(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x01)
	counterparty := newTestAddress(0x02)
	arbitrator := newTestAddress(0x03)
	env.seedArbitrator(t, arbitrator)

	_, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(100))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if !errors.Is(err, state.ErrInsufficientFunds) {
		t.Fatalf("expected wrapped ErrInsufficientFunds, got %v", err)
	}
	nextID, err := env.ledger.NextID()
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if nextID != 1 {
		t.Fatalf("allocator must not advance, next id %d", nextID)
	}
	total, err := env.engine.CustodialBalance()
	if err != nil {
		t.Fatalf("custodial balance: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("custodial total must stay zero, got %s", total)
	}
}

func TestCompleteReleasesToCounterparty(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	env.fund(t, initiator, 1_000)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Complete(id, counterparty); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if got := env.balanceOf(t, counterparty); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected counterparty paid 1000, got %s", got)
	}
	if got := env.balanceOf(t, VaultAddress); got.Sign() != 0 {
		t.Fatalf("vault must be empty after completion, got %s", got)
	}
	if _, ok, _ := env.engine.Balance(id); ok {
		t.Fatalf("balance entry must be cleared after completion")
	}
	esc, _, err := env.engine.Escrow(id)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if esc.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", esc.Status)
	}

	for _, addr := range [][20]byte{initiator, counterparty} {
		record := env.participant(t, addr)
		if record.Score != 55 {
			t.Fatalf("expected score 55, got %d", record.Score)
		}
		if record.TotalTrades != 1 || record.SuccessfulTrades != 1 {
			t.Fatalf("expected one successful trade, got %+v", record)
		}
	}
}

func TestCompleteAuthorization(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	stranger := newTestAddress(0x0D)
	env.fund(t, initiator, 500)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(500))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, caller := range [][20]byte{initiator, arbitrator, stranger} {
		if err := env.engine.Complete(id, caller); !errors.Is(err, ErrNotAuthorized) {
			t.Fatalf("expected ErrNotAuthorized for caller %x, got %v", caller[:1], err)
		}
	}
	if got := env.balanceOf(t, VaultAddress); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("rejected completion must not move funds, vault %s", got)
	}
}

func TestTerminalStateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	env.fund(t, initiator, 500)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(500))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Complete(id, counterparty); err != nil {
		t.Fatalf("complete: %v", err)
	}

	before := env.participant(t, counterparty)
	if err := env.engine.Complete(id, counterparty); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on repeat complete, got %v", err)
	}
	if err := env.engine.Dispute(id, initiator); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on dispute, got %v", err)
	}
	if err := env.engine.Arbitrate(id, arbitrator, true); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on arbitrate, got %v", err)
	}
	after := env.participant(t, counterparty)
	if *before != *after {
		t.Fatalf("reputation must not change after terminal state: %+v vs %+v", before, after)
	}
}

func TestDisputeRecordsInitiatorAndPenalty(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	stranger := newTestAddress(0x0D)
	env.fund(t, initiator, 500)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(500))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Dispute(id, stranger); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := env.engine.Dispute(id, initiator); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	record := env.participant(t, initiator)
	if record.Score != 47 {
		t.Fatalf("expected score 47, got %d", record.Score)
	}
	if record.DisputesInitiated != 1 {
		t.Fatalf("expected one initiated dispute, got %d", record.DisputesInitiated)
	}
	esc, _, err := env.engine.Escrow(id)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if esc.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", esc.Status)
	}
	if !esc.HasDispute || esc.DisputeInitiator != initiator {
		t.Fatalf("dispute initiator not recorded: %+v", esc)
	}
	// Funds stay put.
	if got := env.balanceOf(t, VaultAddress); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("dispute must not move funds, vault %s", got)
	}
	if err := env.engine.Dispute(id, counterparty); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on second dispute, got %v", err)
	}
}

func TestArbitrateReleasesToInitiator(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	env.fund(t, initiator, 500)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(500))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Dispute(id, initiator); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := env.engine.Arbitrate(id, initiator, false); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-arbitrator, got %v", err)
	}
	if err := env.engine.Arbitrate(id, arbitrator, false); err != nil {
		t.Fatalf("arbitrate: %v", err)
	}

	if got := env.balanceOf(t, initiator); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected refund to initiator, balance %s", got)
	}
	winner := env.participant(t, initiator)
	if winner.Score != 47 {
		t.Fatalf("winner score must be unchanged at 47, got %d", winner.Score)
	}
	if winner.SuccessfulTrades != 1 {
		t.Fatalf("winner successful trades must advance, got %d", winner.SuccessfulTrades)
	}
	loser := env.participant(t, counterparty)
	if loser.Score != 40 {
		t.Fatalf("loser score must drop to 40, got %d", loser.Score)
	}
	if loser.DisputesLost != 1 {
		t.Fatalf("loser disputes lost must advance, got %d", loser.DisputesLost)
	}
	arb, ok, err := env.reputation.GetArbitrator(arbitrator)
	if err != nil || !ok {
		t.Fatalf("arbitrator lookup: ok=%v err=%v", ok, err)
	}
	if arb.Score != 52 || arb.CasesResolved != 1 {
		t.Fatalf("arbitrator must be credited: %+v", arb)
	}
	esc, _, err := env.engine.Escrow(id)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if esc.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", esc.Status)
	}
	if _, ok, _ := env.engine.Balance(id); ok {
		t.Fatalf("balance entry must be cleared after arbitration")
	}
}

func TestArbitrateIgnoresDisputeInitiator(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	env.fund(t, initiator, 300)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(300))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// The counterparty raises the dispute but the arbitrator can still award
	// the funds to the counterparty: the boolean alone decides.
	if err := env.engine.Dispute(id, counterparty); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := env.engine.Arbitrate(id, arbitrator, true); err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if got := env.balanceOf(t, counterparty); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected payout to counterparty, balance %s", got)
	}
	loser := env.participant(t, initiator)
	if loser.Score != 40 || loser.DisputesLost != 1 {
		t.Fatalf("initiator must take the loss: %+v", loser)
	}
}

func TestArbitrateRequiresDisputedStatus(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	env.fund(t, initiator, 100)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Arbitrate(id, arbitrator, true); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus while pending, got %v", err)
	}
}

func TestInvalidIDBoundaries(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	env.fund(t, initiator, 100)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok, _ := env.engine.Escrow(0); ok {
		t.Fatalf("escrow 0 must be absent")
	}
	if _, ok, _ := env.engine.Escrow(id + 1); ok {
		t.Fatalf("escrow beyond allocation must be absent")
	}
	if err := env.engine.Complete(0, counterparty); !errors.Is(err, ErrInvalidEscrowID) {
		t.Fatalf("expected ErrInvalidEscrowID for id 0, got %v", err)
	}
	if err := env.engine.Complete(id+1, counterparty); !errors.Is(err, ErrInvalidEscrowID) {
		t.Fatalf("expected ErrInvalidEscrowID past the allocator, got %v", err)
	}
}

func TestLifecycleEventsEmitted(t *testing.T) {
	env := newTestEnv(t)
	emitter := &events.MemoryEmitter{}
	env.engine.SetEmitter(emitter)

	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	env.fund(t, initiator, 400)
	env.seedArbitrator(t, arbitrator)

	id, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(400))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Dispute(id, initiator); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := env.engine.Arbitrate(id, arbitrator, false); err != nil {
		t.Fatalf("arbitrate: %v", err)
	}

	got := emitter.Events()
	want := []string{EventTypeEscrowCreated, EventTypeEscrowDisputed, EventTypeEscrowArbitrated}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, evt := range got {
		if evt.EventType() != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], evt.EventType())
		}
	}
	payload := got[2].Event()
	if payload.Attributes["recipient"] == "" {
		t.Fatalf("arbitrated event must carry the recipient")
	}
}

func TestConservationAcrossLifecycles(t *testing.T) {
	env := newTestEnv(t)
	initiator := newTestAddress(0x0A)
	counterparty := newTestAddress(0x0B)
	arbitrator := newTestAddress(0x0C)
	env.fund(t, initiator, 1_500)
	env.seedArbitrator(t, arbitrator)

	completed, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	disputed, err := env.engine.Create(initiator, counterparty, arbitrator, big.NewInt(500))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Complete(completed, counterparty); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.engine.Dispute(disputed, initiator); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := env.engine.Arbitrate(disputed, arbitrator, false); err != nil {
		t.Fatalf("arbitrate: %v", err)
	}

	// Every deposited unit has been paid out exactly once.
	initiatorBal := env.balanceOf(t, initiator)
	counterpartyBal := env.balanceOf(t, counterparty)
	sum := new(big.Int).Add(initiatorBal, counterpartyBal)
	if sum.Cmp(big.NewInt(1_500)) != 0 {
		t.Fatalf("funds not conserved: initiator %s + counterparty %s", initiatorBal, counterpartyBal)
	}
	if got := env.balanceOf(t, VaultAddress); got.Sign() != 0 {
		t.Fatalf("vault must be empty, got %s", got)
	}
	total, err := env.engine.CustodialBalance()
	if err != nil {
		t.Fatalf("custodial balance: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("custodial total must be zero, got %s", total)
	}
}
