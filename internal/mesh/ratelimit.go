package mesh

import (
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/internal/types"
)

// Token-bucket gossip rate limiting, keyed by peer rather than by IP:
// C4 forwards on behalf of peers it has never authenticated a transport
// session with, so a misbehaving or compromised peer must not be able
// to exhaust this node's CPU or mesh bandwidth via flooding (§4.4).
const (
	framesPerSecond    = 50
	framesBurstable    = 10
	garbageCollectTime = 10 * time.Second
	frameCost          = int64(time.Second) / framesPerSecond
	maxTokens          = frameCost * framesBurstable
)

type limiterEntry struct {
	mu       sync.Mutex
	lastTime time.Time
	tokens   int64
}

// Ratelimiter bounds inbound-frame processing per PeerId. A fresh peer
// starts with a bucket already missing one frame's worth of tokens,
// mirroring the reference engine's bias against burst-opening floods.
type Ratelimiter struct {
	mu      sync.RWMutex
	now     func() time.Time
	table   map[types.PeerId]*limiterEntry
	stop    chan struct{}
	stopped bool
}

func NewRatelimiter() *Ratelimiter {
	r := &Ratelimiter{
		now:   time.Now,
		table: make(map[types.PeerId]*limiterEntry),
		stop:  make(chan struct{}),
	}
	go r.gc()
	return r
}

func (r *Ratelimiter) gc() {
	ticker := time.NewTicker(garbageCollectTime)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Ratelimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.table {
		e.mu.Lock()
		stale := r.now().Sub(e.lastTime) > garbageCollectTime
		e.mu.Unlock()
		if stale {
			delete(r.table, id)
		}
	}
}

// Allow reports whether a frame from peer may be processed right now,
// deducting one frame's cost from its bucket.
func (r *Ratelimiter) Allow(peer types.PeerId) bool {
	r.mu.RLock()
	entry := r.table[peer]
	r.mu.RUnlock()

	if entry == nil {
		entry = &limiterEntry{tokens: maxTokens - frameCost, lastTime: r.now()}
		r.mu.Lock()
		r.table[peer] = entry
		r.mu.Unlock()
		return true
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	now := r.now()
	entry.tokens += now.Sub(entry.lastTime).Nanoseconds()
	entry.lastTime = now
	if entry.tokens > maxTokens {
		entry.tokens = maxTokens
	}
	if entry.tokens > frameCost {
		entry.tokens -= frameCost
		return true
	}
	return false
}

// Close stops the background garbage collector.
func (r *Ratelimiter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		close(r.stop)
		r.stopped = true
	}
}
