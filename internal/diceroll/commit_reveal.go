// Package diceroll implements C5, the commit–reveal dice protocol:
// each validator commits to a hidden nonce, reveals it once enough
// commitments are in, and the revealed nonces combine into the seed
// that drives a bias-free dice draw (§4.5).
package diceroll

import (
	"crypto/ed25519"
	"sort"

	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/reputation"
	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

// Commitment is v's signed c_v = SHA256(nonce_v‖v‖r) for round r.
type Commitment struct {
	Peer      types.PeerId
	RoundID   uint64
	Hash      [32]byte
	Signature []byte
}

func (c Commitment) transcript() []byte {
	return append(append([]byte{}, c.Peer[:]...), c.Hash[:]...)
}

// SignCommitment produces a Commitment for nonce, signed by key.
func SignCommitment(key *xcrypto.SigningKeyPair, peer types.PeerId, roundID uint64, nonce [32]byte) Commitment {
	c := Commitment{Peer: peer, RoundID: roundID, Hash: xcrypto.CommitmentHash(nonce, peer, roundID)}
	c.Signature = key.Sign(c.transcript())
	return c
}

func (c Commitment) verify() bool {
	return xcrypto.VerifySignature(ed25519.PublicKey(c.Peer[:]), c.transcript(), c.Signature)
}

// Reveal is v's broadcast of nonce_v itself.
type Reveal struct {
	Peer    types.PeerId
	RoundID uint64
	Nonce   [32]byte
}

// Round collects one round's commitments and reveals and derives the
// dice outcome once quorum is met. A Round is not safe for concurrent
// use without external synchronization — callers embed it behind the
// consensus engine's own locking (or atomic swap) discipline.
type Round struct {
	gameID  types.GameId
	roundID uint64

	commitments map[types.PeerId]Commitment
	reveals     map[types.PeerId]Reveal
}

func NewRound(gameID types.GameId, roundID uint64) *Round {
	return &Round{
		gameID:      gameID,
		roundID:     roundID,
		commitments: make(map[types.PeerId]Commitment),
		reveals:     make(map[types.PeerId]Reveal),
	}
}

// SubmitCommitment records c_v. A second, distinct commitment from a
// peer already on record is an equivocation proof, returned as
// evidence rather than merely rejected.
func (r *Round) SubmitCommitment(c Commitment) error {
	if c.RoundID != r.roundID {
		return faults.New(faults.CodeOutOfOrder, "commitment for round %d received in round %d", c.RoundID, r.roundID)
	}
	if !c.verify() {
		return faults.New(faults.CodeInvalidSignature, "commitment from %s has invalid signature", c.Peer)
	}
	prior, ok := r.commitments[c.Peer]
	if !ok {
		r.commitments[c.Peer] = c
		return nil
	}
	if prior.Hash == c.Hash {
		return nil // retransmission, not a new commitment
	}
	proof := reputation.EquivocationProof{
		A: reputation.SignedStatement{Signer: c.Peer, Message: prior.transcript(), Signature: prior.Signature},
		B: reputation.SignedStatement{Signer: c.Peer, Message: c.transcript(), Signature: c.Signature},
	}
	return faults.WithEvidence(faults.CodeEquivocation, proof,
		"peer %s submitted two distinct commitments in round %d", c.Peer, r.roundID)
}

// CommitCount reports how many distinct validators have committed.
func (r *Round) CommitCount() int { return len(r.commitments) }

// Committers lists every peer that has committed so far.
func (r *Round) Committers() []types.PeerId {
	out := make([]types.PeerId, 0, len(r.commitments))
	for p := range r.commitments {
		out = append(out, p)
	}
	return out
}

// SubmitReveal records nonce_v, rejecting it unless it reproduces the
// recorded commitment (§4.5 commit-binding invariant).
func (r *Round) SubmitReveal(rv Reveal) error {
	if rv.RoundID != r.roundID {
		return faults.New(faults.CodeOutOfOrder, "reveal for round %d received in round %d", rv.RoundID, r.roundID)
	}
	c, ok := r.commitments[rv.Peer]
	if !ok {
		return faults.New(faults.CodeInvalidSignature, "reveal from %s has no prior commitment", rv.Peer)
	}
	if xcrypto.CommitmentHash(rv.Nonce, rv.Peer, rv.RoundID) != c.Hash {
		return faults.New(faults.CodeInvalidSignature, "reveal from %s does not match its commitment", rv.Peer)
	}
	r.reveals[rv.Peer] = rv
	return nil
}

// MissingReveals lists committers that have not yet revealed, the set
// C8 penalizes with δ_missed once the reveal deadline passes.
func (r *Round) MissingReveals() []types.PeerId {
	var missing []types.PeerId
	for p := range r.commitments {
		if _, ok := r.reveals[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// Outcome is the derived combined seed plus the two craps dice.
type Outcome struct {
	Seed [32]byte
	Dice DiceRoll
}

// DeriveOutcome hashes valid reveals in ascending PeerId order into
// the combined seed and draws the dice from it. It fails with
// CodeInsufficientQuorum if fewer than quorum reveals remain — the
// caller must then abort and retry with an incremented round_id.
func (r *Round) DeriveOutcome(quorum int) (Outcome, error) {
	if len(r.reveals) < quorum {
		return Outcome{}, faults.New(faults.CodeInsufficientQuorum,
			"round %d has %d valid reveals, need %d", r.roundID, len(r.reveals), quorum)
	}
	ordered := make([]types.PeerId, 0, len(r.reveals))
	for p := range r.reveals {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	nonces := make([][32]byte, len(ordered))
	for i, p := range ordered {
		nonces[i] = r.reveals[p].Nonce
	}
	seed := xcrypto.CombinedSeed(nonces, r.roundID, r.gameID)
	dice, err := RollDice(seed)
	if err != nil {
		return Outcome{}, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	return Outcome{Seed: seed, Dice: dice}, nil
}

