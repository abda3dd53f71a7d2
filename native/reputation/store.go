package reputation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"custodia/core/events"
	"custodia/core/types"
)

// storage abstracts the subset of state manager functionality required by the
// reputation store.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	participantPrefix = []byte("reputation/participant/")
	arbitratorPrefix  = []byte("reputation/arbitrator/")
)

var errNilStore = errors.New("reputation: store not initialised")

func participantKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s", participantPrefix, hex.EncodeToString(addr[:])))
}

func arbitratorKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s", arbitratorPrefix, hex.EncodeToString(addr[:])))
}

// Stored representations keep every field unsigned so they stay RLP friendly.
type storedParticipant struct {
	Score             uint64
	TotalTrades       uint64
	SuccessfulTrades  uint64
	DisputesInitiated uint64
	DisputesLost      uint64
}

type storedArbitrator struct {
	Score         uint64
	CasesResolved uint64
	ActiveSince   uint64
}

// Store persists participant and arbitrator reputation records and applies the
// fixed scoring rules. Read accessors never materialize defaults; only the
// mutating Record* operations create records as a side effect.
type Store struct {
	store   storage
	emitter events.Emitter
	nowFn   func() int64
}

// NewStore constructs a reputation store bound to the supplied state backend.
func NewStore(store storage) *Store {
	return &Store{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (s *Store) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// SetNowFunc overrides the wall clock used for arbitrator activation stamps.
// Primarily for tests.
func (s *Store) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	s.nowFn = now
}

func (s *Store) now() int64 {
	if s == nil || s.nowFn == nil {
		return time.Now().Unix()
	}
	return s.nowFn()
}

// deduct applies a penalty to an unsigned score, saturating at zero.
func deduct(score, penalty uint64) uint64 {
	if penalty >= score {
		return 0
	}
	return score - penalty
}

func (s *Store) loadParticipant(addr [20]byte) (*storedParticipant, bool, error) {
	if s == nil || s.store == nil {
		return nil, false, errNilStore
	}
	var stored storedParticipant
	ok, err := s.store.KVGet(participantKey(addr), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &stored, true, nil
}

func (s *Store) loadArbitrator(addr [20]byte) (*storedArbitrator, bool, error) {
	if s == nil || s.store == nil {
		return nil, false, errNilStore
	}
	var stored storedArbitrator
	ok, err := s.store.KVGet(arbitratorKey(addr), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &stored, true, nil
}

func (s *Store) saveParticipant(addr [20]byte, stored *storedParticipant) error {
	return s.store.KVPut(participantKey(addr), stored)
}

func (s *Store) saveArbitrator(addr [20]byte, stored *storedArbitrator) error {
	return s.store.KVPut(arbitratorKey(addr), stored)
}

// materializeParticipant loads the record for addr, creating and persisting a
// baseline record when none exists. Idempotent.
func (s *Store) materializeParticipant(addr [20]byte) (*storedParticipant, error) {
	stored, ok, err := s.loadParticipant(addr)
	if err != nil {
		return nil, err
	}
	if ok {
		return stored, nil
	}
	fresh := &storedParticipant{Score: BaselineScore}
	if err := s.saveParticipant(addr, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Store) materializeArbitrator(addr [20]byte) (*storedArbitrator, error) {
	stored, ok, err := s.loadArbitrator(addr)
	if err != nil {
		return nil, err
	}
	if ok {
		return stored, nil
	}
	now := s.now()
	fresh := &storedArbitrator{Score: BaselineScore, ActiveSince: uint64(now)}
	if err := s.saveArbitrator(addr, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// GetParticipant returns the participant record for addr, or a fresh baseline
// record when none exists. The default is never persisted by a read.
func (s *Store) GetParticipant(addr [20]byte) (*Participant, error) {
	stored, ok, err := s.loadParticipant(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewParticipant(), nil
	}
	return &Participant{
		Score:             stored.Score,
		TotalTrades:       stored.TotalTrades,
		SuccessfulTrades:  stored.SuccessfulTrades,
		DisputesInitiated: stored.DisputesInitiated,
		DisputesLost:      stored.DisputesLost,
	}, nil
}

// GetArbitrator returns the arbitrator record for addr. The boolean reports
// whether a record has been materialized; callers deciding eligibility must
// check it rather than the returned defaults.
func (s *Store) GetArbitrator(addr [20]byte) (*Arbitrator, bool, error) {
	stored, ok, err := s.loadArbitrator(addr)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return NewArbitrator(0), false, nil
	}
	return &Arbitrator{
		Score:         stored.Score,
		CasesResolved: stored.CasesResolved,
		ActiveSince:   int64(stored.ActiveSince),
	}, true, nil
}

// HasArbitrator reports whether an arbitrator record exists for addr. This is
// the eligibility check behind naming an arbitrator on a new escrow.
func (s *Store) HasArbitrator(addr [20]byte) (bool, error) {
	_, ok, err := s.loadArbitrator(addr)
	return ok, err
}

// Touch materializes a baseline participant record for addr without applying
// any scoring rule. Lifecycle operations call it after validation so that all
// parties to an escrow exist in the table.
func (s *Store) Touch(addr [20]byte) error {
	_, err := s.materializeParticipant(addr)
	return err
}

// RecordTradeCompleted credits both sides of a normally completed escrow:
// +5 score, total-trades and successful-trades each advance by one.
func (s *Store) RecordTradeCompleted(initiator, counterparty [20]byte) error {
	for _, addr := range [][20]byte{initiator, counterparty} {
		stored, err := s.materializeParticipant(addr)
		if err != nil {
			return err
		}
		stored.Score += TradeCompletedReward
		stored.TotalTrades++
		stored.SuccessfulTrades++
		if err := s.saveParticipant(addr, stored); err != nil {
			return err
		}
	}
	return nil
}

// RecordDisputeInitiated penalises the party raising a dispute: -3 score,
// disputes-initiated advances by one.
func (s *Store) RecordDisputeInitiated(addr [20]byte) error {
	stored, err := s.materializeParticipant(addr)
	if err != nil {
		return err
	}
	stored.Score = deduct(stored.Score, DisputeInitiatedPenalty)
	stored.DisputesInitiated++
	return s.saveParticipant(addr, stored)
}

// RecordDisputeOutcome applies the arbitration verdict: the winner's
// successful-trades advances with no score change, the loser drops 10 score
// and disputes-lost advances by one.
func (s *Store) RecordDisputeOutcome(winner, loser [20]byte) error {
	won, err := s.materializeParticipant(winner)
	if err != nil {
		return err
	}
	won.SuccessfulTrades++
	if err := s.saveParticipant(winner, won); err != nil {
		return err
	}
	lost, err := s.materializeParticipant(loser)
	if err != nil {
		return err
	}
	lost.Score = deduct(lost.Score, DisputeLostPenalty)
	lost.DisputesLost++
	return s.saveParticipant(loser, lost)
}

// RecordCaseResolved credits the arbitrator for a resolved dispute: +2 score,
// cases-resolved advances by one. The record is materialized on first use so
// an arbitrator's history begins with its first resolution.
func (s *Store) RecordCaseResolved(arbitrator [20]byte) error {
	stored, err := s.materializeArbitrator(arbitrator)
	if err != nil {
		return err
	}
	stored.Score += CaseResolvedReward
	stored.CasesResolved++
	return s.saveArbitrator(arbitrator, stored)
}

// BootstrapArbitrator seeds a baseline arbitrator record out of band. The core
// lifecycle never creates an arbitrator record ahead of its first resolution,
// so a fresh system needs this hook before any escrow can name an arbitrator.
// Returns true when a record was created, false when one already existed.
func (s *Store) BootstrapArbitrator(addr [20]byte) (bool, error) {
	_, ok, err := s.loadArbitrator(addr)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	now := s.now()
	if err := s.saveArbitrator(addr, &storedArbitrator{Score: BaselineScore, ActiveSince: uint64(now)}); err != nil {
		return false, err
	}
	s.emit(NewArbitratorBootstrappedEvent(addr, now))
	return true, nil
}

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

func (s *Store) emit(evt *types.Event) {
	if s == nil || s.emitter == nil || evt == nil {
		return
	}
	s.emitter.Emit(reputationEvent{evt: evt})
}
