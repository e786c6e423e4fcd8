package consensus

import (
	"testing"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/diceroll"
	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

func testConsensusConfig() config.ConsensusConfig {
	return config.Default().Consensus
}

type testValidator struct {
	peer  types.PeerId
	key   *xcrypto.SigningKeyPair
	nonce [32]byte
}

func makeValidators(t *testing.T, n int) []testValidator {
	t.Helper()
	out := make([]testValidator, n)
	for i := 0; i < n; i++ {
		key, err := xcrypto.GenerateSigningKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		var peer types.PeerId
		copy(peer[:], key.Public)
		var nonce [32]byte
		nonce[0] = byte(i + 1)
		out[i] = testValidator{peer: peer, key: key, nonce: nonce}
	}
	return out
}

func TestQuorumThresholdCeilingDivision(t *testing.T) {
	cases := map[int]int{4: 3, 5: 4, 6: 4, 7: 5, 8: 6}
	for n, want := range cases {
		peers := make([]types.PeerId, n)
		for i := range peers {
			peers[i] = types.PeerId{byte(i + 1)}
		}
		vs, err := NewValidatorSet(peers)
		if err != nil {
			t.Fatal(err)
		}
		if got := vs.Quorum(); got != want {
			t.Errorf("n=%d: quorum=%d, want %d", n, got, want)
		}
	}
}

func TestNewValidatorSetRejectsBelowFour(t *testing.T) {
	if _, err := NewValidatorSet([]types.PeerId{{1}, {2}, {3}}); err == nil {
		t.Fatal("expected rejection of a 3-validator set")
	}
}

func runRoundToCommit(t *testing.T, validators []testValidator) (*Round, diceroll.Outcome) {
	t.Helper()
	peers := make([]types.PeerId, len(validators))
	for i, v := range validators {
		peers[i] = v.peer
	}
	vs, err := NewValidatorSet(peers)
	if err != nil {
		t.Fatal(err)
	}
	gameID, _ := types.NewGameId()
	round := NewRound(gameID, 1, vs)

	for _, v := range validators {
		c := diceroll.SignCommitment(v.key, v.peer, 1, v.nonce)
		if err := round.SubmitCommitment(c); err != nil {
			t.Fatalf("commit from %s: %v", v.peer, err)
		}
	}
	if !round.ReadyForReveal() {
		t.Fatal("round should be ready for reveal after all committed")
	}
	for _, v := range validators {
		if err := round.SubmitReveal(diceroll.Reveal{Peer: v.peer, RoundID: 1, Nonce: v.nonce}); err != nil {
			t.Fatalf("reveal from %s: %v", v.peer, err)
		}
	}
	outcome, err := round.ReadyForVote()
	if err != nil {
		t.Fatal(err)
	}
	outcomeHash := xcrypto.CommitmentHash(outcome.Seed, vs.Hash(), round.RoundID())

	for _, v := range validators {
		vote := SignVote(v.key, v.peer, gameID, 1, outcomeHash, vs.Hash())
		if _, err := round.SubmitVote(vote); err != nil {
			t.Fatalf("vote from %s: %v", v.peer, err)
		}
	}
	return round, outcome
}

func TestRoundReachesCommitWithUnanimousVotes(t *testing.T) {
	validators := makeValidators(t, 4)
	round, _ := runRoundToCommit(t, validators)
	if round.Phase() != PhaseCommit {
		t.Fatalf("expected commit phase, got %s", round.Phase())
	}
}

func TestRoundSurvivesOneByzantineDoubleCommit(t *testing.T) {
	validators := makeValidators(t, 4)
	peers := make([]types.PeerId, len(validators))
	for i, v := range validators {
		peers[i] = v.peer
	}
	vs, err := NewValidatorSet(peers)
	if err != nil {
		t.Fatal(err)
	}
	gameID, _ := types.NewGameId()
	round := NewRound(gameID, 1, vs)

	for i, v := range validators {
		c := diceroll.SignCommitment(v.key, v.peer, 1, v.nonce)
		if err := round.SubmitCommitment(c); err != nil {
			t.Fatalf("commit from %s: %v", v.peer, err)
		}
		if i == 0 {
			var other [32]byte
			other[0] = 99
			if err := round.SubmitCommitment(diceroll.SignCommitment(v.key, v.peer, 1, other)); err == nil {
				t.Fatal("expected equivocation fault for a second distinct commitment")
			}
		}
	}
	// the Byzantine validator's first commitment still stands, so all 4
	// validators (3 honest, 1 Byzantine-but-first-commitment) count
	// toward quorum (3) for n=4.
	if round.dice.CommitCount() != 4 {
		t.Fatalf("expected 4 distinct first commitments recorded, got %d", round.dice.CommitCount())
	}
	if !round.ReadyForReveal() {
		t.Fatal("round should still proceed to reveal with quorum met")
	}
}

func TestSubmitVoteDetectsEquivocation(t *testing.T) {
	validators := makeValidators(t, 4)
	peers := make([]types.PeerId, len(validators))
	for i, v := range validators {
		peers[i] = v.peer
	}
	vs, _ := NewValidatorSet(peers)
	gameID, _ := types.NewGameId()
	round := NewRound(gameID, 1, vs)
	round.phase.Store(int32(PhaseVote))

	var outcomeA, outcomeB [32]byte
	outcomeA[0], outcomeB[0] = 1, 2
	byz := validators[0]

	if _, err := round.SubmitVote(SignVote(byz.key, byz.peer, gameID, 1, outcomeA, vs.Hash())); err != nil {
		t.Fatal(err)
	}
	_, err := round.SubmitVote(SignVote(byz.key, byz.peer, gameID, 1, outcomeB, vs.Hash()))
	if err == nil {
		t.Fatal("expected equivocation fault for conflicting votes")
	}
}

func TestEngineStartRoundIsMonotonicAndPreempts(t *testing.T) {
	gameID, _ := types.NewGameId()
	cfgConsensus := testConsensusConfig()
	engine := NewEngine(gameID, cfgConsensus)
	validators := makeValidators(t, 4)
	peers := make([]types.PeerId, len(validators))
	for i, v := range validators {
		peers[i] = v.peer
	}

	r1, err := engine.StartRound(peers)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := engine.StartRound(peers)
	if err != nil {
		t.Fatal(err)
	}
	if r2.RoundID() <= r1.RoundID() {
		t.Fatalf("round_id did not increase: %d -> %d", r1.RoundID(), r2.RoundID())
	}
	if r1.Phase() != PhaseAbort {
		t.Fatalf("preempted round should be aborted, got %s", r1.Phase())
	}
}
