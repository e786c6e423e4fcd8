package xcrypto

import (
	"crypto/sha256"
	"encoding/binary"
)

// CommitmentHash computes SHA256(nonce || peer_id || round_id), the
// per-round commit–reveal binding of §3/§4.5.
func CommitmentHash(nonce [32]byte, peerID [32]byte, roundID uint64) [32]byte {
	h := sha256.New()
	h.Write(nonce[:])
	h.Write(peerID[:])
	var rb [8]byte
	binary.LittleEndian.PutUint64(rb[:], roundID)
	h.Write(rb[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CombinedSeed hashes ascending-PeerId-ordered reveals together with
// the round and game id to produce the dice seed (§4.5). Callers must
// pre-sort revealsInOrder by ascending PeerId before calling.
func CombinedSeed(revealsInOrder [][32]byte, roundID uint64, gameID [16]byte) [32]byte {
	h := sha256.New()
	for _, r := range revealsInOrder {
		h.Write(r[:])
	}
	var rb [8]byte
	binary.LittleEndian.PutUint64(rb[:], roundID)
	h.Write(rb[:])
	h.Write(gameID[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VoteTranscriptHash is the content an Ed25519 vote signs over:
// (game_id, round_id, outcome_hash, validator_set_hash), per §4.6.
func VoteTranscriptHash(gameID [16]byte, roundID uint64, outcomeHash, validatorSetHash [32]byte) [32]byte {
	h := sha256.New()
	h.Write(gameID[:])
	var rb [8]byte
	binary.LittleEndian.PutUint64(rb[:], roundID)
	h.Write(rb[:])
	h.Write(outcomeHash[:])
	h.Write(validatorSetHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ValidatorSetHash is a stable digest of a sorted validator set,
// preventing a vote from being replayed against a different validator
// set.
func ValidatorSetHash(sortedPeerIDs [][32]byte) [32]byte {
	h := sha256.New()
	for _, id := range sortedPeerIDs {
		h.Write(id[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
