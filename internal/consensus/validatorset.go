// Package consensus implements C6: the Byzantine round state machine
// that carries a C5 dice outcome from Collect through Vote to a
// Commit every honest validator agrees on, or an Abort the caller
// retries under an incremented round_id (§4.6).
package consensus

import (
	"sort"

	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

// ValidatorSet is the fixed, ascending-PeerId-ordered membership of
// one round. Its hash binds every vote to this exact membership so a
// vote cannot be replayed against a different set (§4.6).
type ValidatorSet struct {
	ordered []types.PeerId
	index   map[types.PeerId]int
	hash    [32]byte
}

// NewValidatorSet rejects n < 4: below that size no f ≥ 1 Byzantine
// tolerance is possible under q = ⌈2n/3⌉ (§4.6 mandatory invariant).
func NewValidatorSet(peers []types.PeerId) (*ValidatorSet, error) {
	if len(peers) < 4 {
		return nil, faults.New(faults.CodeInsufficientQuorum, "validator set of size %d rejected, minimum is 4", len(peers))
	}
	ordered := append([]types.PeerId(nil), peers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	index := make(map[types.PeerId]int, len(ordered))
	raw := make([][32]byte, len(ordered))
	for i, p := range ordered {
		index[p] = i
		raw[i] = p
	}
	return &ValidatorSet{ordered: ordered, index: index, hash: xcrypto.ValidatorSetHash(raw)}, nil
}

func (vs *ValidatorSet) Len() int { return len(vs.ordered) }

// Quorum is q = ⌈2n/3⌉, computed as an integer (no floating point, per
// the §4.6 boundary-correctness requirement).
func (vs *ValidatorSet) Quorum() int {
	n := len(vs.ordered)
	return (2*n + 2) / 3
}

func (vs *ValidatorSet) Hash() [32]byte { return vs.hash }

func (vs *ValidatorSet) IndexOf(peer types.PeerId) (int, bool) {
	i, ok := vs.index[peer]
	return i, ok
}

func (vs *ValidatorSet) Contains(peer types.PeerId) bool {
	_, ok := vs.index[peer]
	return ok
}

func (vs *ValidatorSet) Peers() []types.PeerId {
	return append([]types.PeerId(nil), vs.ordered...)
}
