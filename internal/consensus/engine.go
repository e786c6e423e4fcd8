package consensus

import (
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/log"
	"github.com/bitcraps/bitcraps/internal/types"
)

var consLog = log.New(log.ConsTag)

const maxTimeoutMultiplier = 16

// Engine sequences rounds for one game: round_id is strictly
// monotonic, a later round_id preempts (aborts) any round still live
// for this game, and phase timeouts double after each consecutive
// abort, capped, and reset on the next commit (§4.6).
type Engine struct {
	gameID types.GameId
	cfg    config.ConsensusConfig

	mu         sync.Mutex
	roundID    uint64
	current    *Round
	multiplier int
}

func NewEngine(gameID types.GameId, cfg config.ConsensusConfig) *Engine {
	return &Engine{gameID: gameID, cfg: cfg, multiplier: 1}
}

// PhaseTimeout is the live deadline width for the round's current
// phase, widened by the abort-doubling multiplier.
func (e *Engine) PhaseTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.cfg.PhaseTimeoutMs) * time.Millisecond * time.Duration(e.multiplier)
}

// StartRound preempts whatever round is live (aborting it) and begins
// round_id+1 over validators.
func (e *Engine) StartRound(peers []types.PeerId) (*Round, error) {
	validators, err := NewValidatorSet(peers)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.Phase() != PhaseCommit && e.current.Phase() != PhaseAbort {
		e.current.Abort()
		consLog.Debugf("round %d preempted by round %d", e.current.roundID, e.roundID+1)
	}
	e.roundID++
	e.current = NewRound(e.gameID, e.roundID, validators)
	return e.current, nil
}

// Current returns the live round, or nil before the first StartRound.
func (e *Engine) Current() *Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// OnAbort doubles the timeout multiplier (capped) for the next round;
// called by the caller driving phase deadlines once a round lands in
// PhaseAbort.
func (e *Engine) OnAbort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.multiplier *= 2
	if e.multiplier > maxTimeoutMultiplier {
		e.multiplier = maxTimeoutMultiplier
	}
}

// OnCommit resets the timeout multiplier to 1, since liveness has just
// been demonstrated.
func (e *Engine) OnCommit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.multiplier = 1
}

// RejectStale returns a fault if incoming is not the current round_id,
// used by message handlers to drop late messages from a preempted
// round without panicking the caller.
func (e *Engine) RejectStale(incoming uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if incoming != e.roundID {
		return faults.New(faults.CodeOutOfOrder, "round %d is stale, current round is %d", incoming, e.roundID)
	}
	return nil
}
