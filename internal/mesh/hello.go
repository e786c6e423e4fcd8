package mesh

import (
	"time"

	"github.com/bitcraps/bitcraps/internal/sched"
)

// helloPayload is the empty-bodied liveness broadcast: its arrival is
// all the peer table needs, so there is no payload to reassemble
// beyond the frame header itself.
var helloPayload = []byte{}

// HelloRunner paces liveness broadcasts and stale-peer eviction with
// an AdaptiveInterval (§4.4): an empty peer table or a failed hello
// backs off toward the ceiling, and a successful hello broadcast to a
// non-empty table resets the pace to the floor.
type HelloRunner struct {
	transport *Transport
	interval  *sched.AdaptiveInterval
	maxIdle   time.Duration
	cancel    *sched.Token
}

// NewHelloRunner starts the hello/eviction loop. floor/ceiling mirror
// scheduling.min_interval_ms and an implementation-chosen ceiling;
// maxIdle is the staleness threshold for peer eviction (§4.4).
func NewHelloRunner(t *Transport, floor, ceiling, maxIdle time.Duration) *HelloRunner {
	h := &HelloRunner{
		transport: t,
		interval:  sched.NewAdaptiveInterval(floor, ceiling),
		maxIdle:   maxIdle,
		cancel:    sched.NewToken(),
	}
	go h.run()
	return h
}

func (h *HelloRunner) run() {
	for {
		select {
		case <-h.cancel.Done():
			h.interval.Stop()
			return
		case <-h.interval.C():
			h.tick()
		}
	}
}

func (h *HelloRunner) tick() {
	stale := h.transport.table.EvictStale(h.maxIdle, time.Now())
	for _, p := range stale {
		if s := p.Session(); s != nil {
			s.Clear()
		}
		meshLog.Debugf("evicted stale peer %s", p.ID())
	}

	if h.transport.table.Len() == 0 {
		h.interval.Backoff()
		return
	}
	if err := h.transport.Broadcast(helloPayload, 1); err != nil {
		meshLog.Debugf("hello broadcast failed: %v", err)
		h.interval.Backoff()
		return
	}
	h.interval.Reset()
}

// Stop halts the hello loop.
func (h *HelloRunner) Stop() {
	h.cancel.Cancel(nil)
}
