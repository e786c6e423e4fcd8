package consensus

import (
	"sync"
	"sync/atomic"

	"github.com/bitcraps/bitcraps/internal/diceroll"
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/reputation"
	"github.com/bitcraps/bitcraps/internal/types"
)

// Phase is a round's position in the Collect→Reveal→Vote→Commit/Abort
// state machine (§4.6).
type Phase int32

const (
	PhaseCollect Phase = iota
	PhaseReveal
	PhaseVote
	PhaseCommit
	PhaseAbort
)

func (p Phase) String() string {
	switch p {
	case PhaseCollect:
		return "collect"
	case PhaseReveal:
		return "reveal"
	case PhaseVote:
		return "vote"
	case PhaseCommit:
		return "commit"
	case PhaseAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Round drives one round_id's consensus. Phase transitions are a
// single atomic CAS (the hot path every dice roll takes); the vote
// tally and dice sub-round, touched far less often, sit behind a
// plain mutex rather than being folded into the same atomic word.
type Round struct {
	gameID     types.GameId
	roundID    uint64
	validators *ValidatorSet
	dice       *diceroll.Round

	phase atomic.Int32

	mu      sync.Mutex
	votes   map[types.PeerId]Vote
	tally   *tally
	outcome [32]byte
}

func NewRound(gameID types.GameId, roundID uint64, validators *ValidatorSet) *Round {
	r := &Round{
		gameID:     gameID,
		roundID:    roundID,
		validators: validators,
		dice:       diceroll.NewRound(gameID, roundID),
		votes:      make(map[types.PeerId]Vote),
		tally:      newTally(validators.Len()),
	}
	r.phase.Store(int32(PhaseCollect))
	return r
}

func (r *Round) Phase() Phase { return Phase(r.phase.Load()) }

func (r *Round) advance(from, to Phase) bool {
	return r.phase.CompareAndSwap(int32(from), int32(to))
}

// SubmitCommitment forwards to the embedded C5 round; the caller
// drives ReadyForReveal to decide the Collect→Reveal transition.
func (r *Round) SubmitCommitment(c diceroll.Commitment) error {
	if r.Phase() != PhaseCollect {
		return faults.New(faults.CodeOutOfOrder, "round %d not in collect phase", r.roundID)
	}
	return r.dice.SubmitCommitment(c)
}

// ReadyForReveal reports whether ≥ quorum commitments are in, and if
// so transitions Collect→Reveal (idempotent: a caller racing another
// goroutine's identical transition just loses the CAS harmlessly).
func (r *Round) ReadyForReveal() bool {
	if r.dice.CommitCount() < r.validators.Quorum() {
		return false
	}
	r.advance(PhaseCollect, PhaseReveal)
	return r.Phase() == PhaseReveal
}

func (r *Round) SubmitReveal(rv diceroll.Reveal) error {
	if r.Phase() != PhaseReveal {
		return faults.New(faults.CodeOutOfOrder, "round %d not in reveal phase", r.roundID)
	}
	return r.dice.SubmitReveal(rv)
}

// MissingReveals is forwarded so the caller can apply δ_missed once
// the reveal deadline passes, without the round itself touching C8.
func (r *Round) MissingReveals() []types.PeerId { return r.dice.MissingReveals() }

// ReadyForVote derives the dice outcome and moves Reveal→Vote. It
// returns faults.CodeInsufficientQuorum (not advancing) if too few
// valid reveals remain after the caller's missed-reveal penalties.
func (r *Round) ReadyForVote() (diceroll.Outcome, error) {
	if r.Phase() != PhaseReveal {
		return diceroll.Outcome{}, faults.New(faults.CodeOutOfOrder, "round %d not in reveal phase", r.roundID)
	}
	outcome, err := r.dice.DeriveOutcome(r.validators.Quorum())
	if err != nil {
		return diceroll.Outcome{}, err
	}
	r.advance(PhaseReveal, PhaseVote)
	return outcome, nil
}

// SubmitVote records v's ballot. A second vote from the same peer in
// this round for a different outcome hash is an equivocation proof; a
// repeat for the same outcome hash is accepted as a retransmission and
// not counted again. Everything else is tallied, and the round
// advances to Commit the instant any outcome reaches quorum.
func (r *Round) SubmitVote(v Vote) (*Round, error) {
	if r.Phase() != PhaseVote {
		return nil, faults.New(faults.CodeOutOfOrder, "round %d not in vote phase", r.roundID)
	}
	idx, ok := r.validators.IndexOf(v.Peer)
	if !ok {
		return nil, faults.New(faults.CodeInvalidSignature, "vote from non-validator %s", v.Peer)
	}
	if !v.verify() {
		return nil, faults.New(faults.CodeInvalidSignature, "vote from %s has invalid signature", v.Peer)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.votes[v.Peer]; ok {
		if prior.OutcomeHash == v.OutcomeHash {
			return r, nil // retransmission
		}
		proof := reputation.EquivocationProof{
			A: reputation.SignedStatement{Signer: v.Peer, Message: prior.transcript(), Signature: prior.Signature},
			B: reputation.SignedStatement{Signer: v.Peer, Message: v.transcript(), Signature: v.Signature},
		}
		return nil, faults.WithEvidence(faults.CodeEquivocation, proof,
			"peer %s voted for two distinct outcomes in round %d", v.Peer, r.roundID)
	}
	r.votes[v.Peer] = v
	count := r.tally.record(v.OutcomeHash, idx)
	if count >= r.validators.Quorum() {
		r.outcome = v.OutcomeHash
		r.advance(PhaseVote, PhaseCommit)
	}
	return r, nil
}

// Outcome returns the committed outcome hash; only meaningful once
// Phase() == PhaseCommit.
func (r *Round) Outcome() [32]byte { return r.outcome }

// Abort force-transitions the round to its terminal failure state from
// whatever phase it is in (timeout or unrecoverable fault).
func (r *Round) Abort() {
	for {
		cur := Phase(r.phase.Load())
		if cur == PhaseCommit || cur == PhaseAbort {
			return
		}
		if r.advance(cur, PhaseAbort) {
			return
		}
	}
}

func (r *Round) RoundID() uint64 { return r.roundID }
func (r *Round) Validators() *ValidatorSet { return r.validators }
