package consensus

import (
	"github.com/jrick/bitset"
)

// tally counts votes per outcome hash using one bitset per candidate
// outcome, indexed by validator position in the ValidatorSet. A
// validator can only ever set one bit across all outcomes — double
// voting is caught and rejected as equivocation before it reaches the
// tally (see Round.SubmitVote).
type tally struct {
	n        int
	byOutcome map[[32]byte]bitset.Bytes
}

func newTally(n int) *tally {
	return &tally{n: n, byOutcome: make(map[[32]byte]bitset.Bytes)}
}

func (t *tally) record(outcome [32]byte, validatorIndex int) int {
	bs, ok := t.byOutcome[outcome]
	if !ok {
		bs = bitset.NewBytes(t.n)
		t.byOutcome[outcome] = bs
	}
	bs.Set(validatorIndex)
	return t.count(outcome)
}

func (t *tally) count(outcome [32]byte) int {
	bs, ok := t.byOutcome[outcome]
	if !ok {
		return 0
	}
	n := 0
	for i := 0; i < t.n; i++ {
		if bs.Get(i) {
			n++
		}
	}
	return n
}
