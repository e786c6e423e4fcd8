package game

import (
	"testing"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/consensus"
	"github.com/bitcraps/bitcraps/internal/diceroll"
	"github.com/bitcraps/bitcraps/internal/types"
)

func newTestGame(t *testing.T, balances map[types.PeerId]uint64) (*Game, types.PeerId) {
	t.Helper()
	gameID, _ := types.NewGameId()
	var validators []types.PeerId
	var first types.PeerId
	i := 0
	for p := range balances {
		validators = append(validators, p)
		if i == 0 {
			first = p
		}
		i++
	}
	for len(validators) < 4 {
		validators = append(validators, types.PeerId{byte(len(validators) + 100)})
	}
	engine := consensus.NewEngine(gameID, config.Default().Consensus)
	return New(gameID, validators, engine, balances), first
}

func TestPassWinsOnComeOutSeven(t *testing.T) {
	player := types.PeerId{1}
	g, _ := newTestGame(t, map[types.PeerId]uint64{player: 100})

	if err := g.PlaceBet(player, BetPass, 30); err != nil {
		t.Fatal(err)
	}
	if g.Balance(player) != 70 || g.Escrow() != 30 {
		t.Fatalf("unexpected balances after bet: balance=%d escrow=%d", g.Balance(player), g.Escrow())
	}

	outcome := diceroll.Outcome{Dice: diceroll.DiceRoll{D1: 3, D2: 4}} // sum 7
	if err := g.OnRoundCommit(outcome); err != nil {
		t.Fatal(err)
	}
	// No Don't Pass bettor staked against this round, so there is
	// nothing to fund a profit from: the Pass bet just gets its stake
	// back.
	if g.Balance(player) != 100 || g.Escrow() != 0 {
		t.Fatalf("unopposed pass win should return stake only: balance=%d escrow=%d", g.Balance(player), g.Escrow())
	}
	if g.Phase() != PhaseComeOut {
		t.Fatalf("expected come-out phase after resolution, got %s", g.Phase())
	}
}

func TestPassWinIsFundedByDontPassLoss(t *testing.T) {
	passPlayer := types.PeerId{1}
	dontPassPlayer := types.PeerId{2}
	g, _ := newTestGame(t, map[types.PeerId]uint64{passPlayer: 100, dontPassPlayer: 100})

	if err := g.PlaceBet(passPlayer, BetPass, 30); err != nil {
		t.Fatal(err)
	}
	if err := g.PlaceBet(dontPassPlayer, BetDontPass, 30); err != nil {
		t.Fatal(err)
	}

	outcome := diceroll.Outcome{Dice: diceroll.DiceRoll{D1: 3, D2: 4}} // sum 7
	if err := g.OnRoundCommit(outcome); err != nil {
		t.Fatal(err)
	}
	if g.Balance(passPlayer) != 130 {
		t.Fatalf("pass winner should collect the don't-pass stake: balance=%d", g.Balance(passPlayer))
	}
	if g.Balance(dontPassPlayer) != 70 {
		t.Fatalf("don't-pass loser should forfeit its stake: balance=%d", g.Balance(dontPassPlayer))
	}
	if g.Escrow() != 0 {
		t.Fatalf("escrow should be fully settled, got %d", g.Escrow())
	}
}

func TestComeOutEstablishesPoint(t *testing.T) {
	player := types.PeerId{1}
	g, _ := newTestGame(t, map[types.PeerId]uint64{player: 100})
	if err := g.PlaceBet(player, BetPass, 10); err != nil {
		t.Fatal(err)
	}

	outcome := diceroll.Outcome{Dice: diceroll.DiceRoll{D1: 2, D2: 4}} // sum 6
	if err := g.OnRoundCommit(outcome); err != nil {
		t.Fatal(err)
	}
	if g.Phase() != PhasePoint || g.Point() != 6 {
		t.Fatalf("expected point(6), got phase=%s point=%d", g.Phase(), g.Point())
	}
	if g.Escrow() != 10 {
		t.Fatalf("bet should remain escrowed while point is active, got %d", g.Escrow())
	}

	// shooter makes the point
	if err := g.OnRoundCommit(diceroll.Outcome{Dice: diceroll.DiceRoll{D1: 3, D2: 3}}); err != nil {
		t.Fatal(err)
	}
	// Unopposed again: making the point returns the stake, no more.
	if g.Balance(player) != 100 || g.Escrow() != 0 {
		t.Fatalf("pass should win on making the point: balance=%d escrow=%d", g.Balance(player), g.Escrow())
	}
}

func TestRoundAbortReturnsEscrow(t *testing.T) {
	player := types.PeerId{1}
	g, _ := newTestGame(t, map[types.PeerId]uint64{player: 100})
	if err := g.PlaceBet(player, BetPass, 30); err != nil {
		t.Fatal(err)
	}
	if err := g.OnRoundAbort(); err != nil {
		t.Fatal(err)
	}
	if g.Balance(player) != 100 || g.Escrow() != 0 {
		t.Fatalf("abort should fully refund escrow: balance=%d escrow=%d", g.Balance(player), g.Escrow())
	}
}

func TestPlaceBetRejectsAfterBetsClose(t *testing.T) {
	player := types.PeerId{1}
	g, _ := newTestGame(t, map[types.PeerId]uint64{player: 100})
	if _, err := g.StartRound(); err != nil {
		t.Fatal(err)
	}
	if err := g.PlaceBet(player, BetPass, 10); err == nil {
		t.Fatal("expected bets-closed rejection once a round has started")
	}
}
