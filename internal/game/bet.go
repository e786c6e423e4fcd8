// Package game implements C7, the craps orchestrator: it maps the
// craps rules onto a sequence of C6 rounds, escrows chip bets for the
// round in flight, and settles them the instant that round commits
// (§4.7).
package game

import (
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/types"
)

// BetKind is the set of bets this orchestrator supports. §4.7 names
// Pass/Don't Pass only; other craps bets are out of scope.
type BetKind int

const (
	BetPass BetKind = iota
	BetDontPass
)

// Bet is one player's escrowed wager on the round in flight.
type Bet struct {
	Player types.PeerId
	Kind   BetKind
	Amount uint64
}

// Phase is the craps game's own phase, distinct from a round's C6
// phase: ComeOut is the opening roll of a shooter's turn; Point(n) is
// every roll after that until the shooter sevens out or hits the
// point (§4.7).
type Phase int

const (
	PhaseComeOut Phase = iota
	PhasePoint
)

func (p Phase) String() string {
	if p == PhasePoint {
		return "point"
	}
	return "come_out"
}

// ErrBetsClosed is returned once a round's Collect phase has opened;
// §4.7 only accepts new bets before that point.
var ErrBetsClosed = faults.New(faults.CodeOutOfOrder, "bets are closed for the round already in flight")
