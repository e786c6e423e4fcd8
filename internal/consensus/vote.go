package consensus

import (
	"crypto/ed25519"

	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

// Vote is one validator's Ed25519-signed ballot for a round's outcome
// (§4.6): signed over (game_id, round_id, outcome_hash,
// validator_set_hash) so it cannot be replayed into a different round,
// game, or membership.
type Vote struct {
	Peer             types.PeerId
	GameID           types.GameId
	RoundID          uint64
	OutcomeHash      [32]byte
	ValidatorSetHash [32]byte
	Signature        []byte
}

func (v Vote) transcript() []byte {
	h := xcrypto.VoteTranscriptHash(v.GameID, v.RoundID, v.OutcomeHash, v.ValidatorSetHash)
	return h[:]
}

// SignVote builds and signs a Vote for peer.
func SignVote(key *xcrypto.SigningKeyPair, peer types.PeerId, gameID types.GameId, roundID uint64, outcomeHash, validatorSetHash [32]byte) Vote {
	v := Vote{Peer: peer, GameID: gameID, RoundID: roundID, OutcomeHash: outcomeHash, ValidatorSetHash: validatorSetHash}
	v.Signature = key.Sign(v.transcript())
	return v
}

func (v Vote) verify() bool {
	return xcrypto.VerifySignature(ed25519.PublicKey(v.Peer[:]), v.transcript(), v.Signature)
}
