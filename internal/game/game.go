package game

import (
	"sync"

	"github.com/bitcraps/bitcraps/internal/consensus"
	"github.com/bitcraps/bitcraps/internal/diceroll"
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/log"
	"github.com/bitcraps/bitcraps/internal/types"
)

var gameLog = log.New(log.GameTag)

// Game is one craps table: a shooter's sequence of rounds, the bet
// ledger for the round in flight, and the chip balances that invariant
// must sum to a constant across every transition (§4.7, §8 property 2).
type Game struct {
	id         types.GameId
	validators []types.PeerId
	engine     *consensus.Engine

	mu       sync.Mutex
	phase    Phase
	point    int
	balances map[types.PeerId]uint64
	escrow   uint64
	bets     []Bet
	total    uint64 // invariant: sum(balances) + escrow == total, always
	open     bool   // bets accepted only while open (before Collect opens)
}

func New(id types.GameId, validators []types.PeerId, engine *consensus.Engine, startingBalances map[types.PeerId]uint64) *Game {
	balances := make(map[types.PeerId]uint64, len(startingBalances))
	var total uint64
	for p, b := range startingBalances {
		balances[p] = b
		total += b
	}
	return &Game{
		id:         id,
		validators: append([]types.PeerId(nil), validators...),
		engine:     engine,
		phase:      PhaseComeOut,
		balances:   balances,
		total:      total,
		open:       true,
	}
}

func (g *Game) Phase() Phase { return g.phase }
func (g *Game) Point() int   { return g.point }

func (g *Game) Balance(player types.PeerId) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[player]
}

func (g *Game) Escrow() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.escrow
}

// PlaceBet escrows amount from player's balance for the round about to
// start. Only Pass/Don't Pass are accepted, and only on the come-out
// round (§4.7: "Pass / Don't Pass on the first round").
func (g *Game) PlaceBet(player types.PeerId, kind BetKind, amount uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		return ErrBetsClosed
	}
	if g.phase != PhaseComeOut {
		return faults.New(faults.CodeOutOfOrder, "pass/don't-pass bets are only accepted on the come-out round")
	}
	if g.balances[player] < amount {
		return faults.New(faults.CodeOutOfOrder, "player %s has insufficient balance for a %d-chip bet", player, amount)
	}
	g.balances[player] -= amount
	g.escrow += amount
	g.bets = append(g.bets, Bet{Player: player, Kind: kind, Amount: amount})
	return g.checkInvariantLocked()
}

// StartRound closes betting for this round and asks C6 to begin
// consensus over the validator set.
func (g *Game) StartRound() (*consensus.Round, error) {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
	return g.engine.StartRound(g.validators)
}

// OnRoundCommit is called the instant a round reaches consensus.Commit
// (never before — §4.7's "notified atomically when a round commits").
// It resolves the craps phase transition and settles or carries over
// the escrowed bets.
func (g *Game) OnRoundCommit(outcome diceroll.Outcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sum := outcome.Dice.Sum()
	var passWins bool
	var resolved bool

	switch g.phase {
	case PhaseComeOut:
		switch sum {
		case 7, 11:
			passWins, resolved = true, true
		case 2, 3, 12:
			passWins, resolved = false, true
		default:
			g.phase = PhasePoint
			g.point = sum
		}
	case PhasePoint:
		switch sum {
		case g.point:
			passWins, resolved = true, true
		case 7:
			passWins, resolved = false, true
		}
	}

	if resolved {
		g.settleLocked(passWins)
		g.phase = PhaseComeOut
		g.point = 0
	}
	g.open = true
	gameLog.Debugf("game %s round settled: dice=%v resolved=%v phase=%s", g.id, outcome.Dice, resolved, g.phase)
	return g.checkInvariantLocked()
}

// settleLocked pays winners out of the same round's losing stakes only:
// there is no house to manufacture a profit from, so a winning bet's
// payout is capped at its own stake plus its share of what the
// opposing side actually forfeited. A winning bet with no opposing
// stake this round just gets its own stake back. A losing bet's stake
// stays forfeited (payout 0), not refunded. Either way exactly each
// bet's own escrowed amount leaves escrow, so the overall total is
// unaffected.
func (g *Game) settleLocked(passWins bool) {
	var winStake, loseStake uint64
	for _, b := range g.bets {
		if (b.Kind == BetPass && passWins) || (b.Kind == BetDontPass && !passWins) {
			winStake += b.Amount
		} else {
			loseStake += b.Amount
		}
	}
	for _, b := range g.bets {
		win := (b.Kind == BetPass && passWins) || (b.Kind == BetDontPass && !passWins)
		if win {
			payout := b.Amount
			if winStake > 0 {
				payout += b.Amount * loseStake / winStake
			}
			g.balances[b.Player] += payout
		}
		g.escrow -= b.Amount
	}
	g.bets = nil
}

// OnRoundAbort returns every escrowed bet to its owner untouched
// (§4.7 escrow rule, §8 scenario S4).
func (g *Game) OnRoundAbort() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.bets {
		g.balances[b.Player] += b.Amount
		g.escrow -= b.Amount
	}
	g.bets = nil
	g.open = true
	return g.checkInvariantLocked()
}

func (g *Game) checkInvariantLocked() error {
	var sum uint64
	for _, b := range g.balances {
		sum += b
	}
	sum += g.escrow
	if sum != g.total {
		return faults.New(faults.CodeCorruptPersistedState,
			"chip conservation violated: balances+escrow=%d, want %d", sum, g.total)
	}
	return nil
}
