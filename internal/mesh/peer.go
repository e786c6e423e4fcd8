package mesh

import (
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/internal/noise"
	"github.com/bitcraps/bitcraps/internal/types"
)

// Peer is one entry of the peer table (§4.4): liveness bookkeeping,
// the radio signal strength last observed for it, and its own
// recently-seen window, kept separately from the node-wide Dedupe so
// a single noisy neighbor's retransmits never starve another link's
// LRU capacity.
type Peer struct {
	mu sync.RWMutex

	id         types.PeerId
	rssi       int8
	reputation float64
	session    *noise.Session

	firstSeen time.Time
	lastSeen  time.Time

	recent *Dedupe
}

func newPeer(id types.PeerId, dedupeWindow int) *Peer {
	now := time.Now()
	return &Peer{
		id:         id,
		reputation: 0.5,
		firstSeen:  now,
		lastSeen:   now,
		recent:     NewDedupe(dedupeWindow),
	}
}

func (p *Peer) ID() types.PeerId { return p.id }

func (p *Peer) touch(rssi int8, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rssi = rssi
	p.lastSeen = now
}

func (p *Peer) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

func (p *Peer) Reputation() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reputation
}

func (p *Peer) setReputation(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.reputation = v
}

func (p *Peer) Session() *noise.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// SetSession attaches the pairwise Noise session C3 negotiated for
// this peer; Table write access is not required since the Peer owns
// its own lock.
func (p *Peer) SetSession(s *noise.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
}

// Table is the single-writer, many-reader peer table of §5: Transport
// is the sole writer; Observe/Evict take the write lock while lookups
// take the read path.
type Table struct {
	mu           sync.RWMutex
	maxPeers     int
	dedupeWindow int
	peers        map[types.PeerId]*Peer
}

func NewTable(maxPeers, dedupeWindow int) *Table {
	return &Table{
		maxPeers:     maxPeers,
		dedupeWindow: dedupeWindow,
		peers:        make(map[types.PeerId]*Peer),
	}
}

func (t *Table) Get(id types.PeerId) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

// Observe records or refreshes liveness for id, evicting the worst
// peer (lowest reputation, then longest idle) if the table is already
// at capacity and id is new.
func (t *Table) Observe(id types.PeerId, rssi int8, now time.Time) *Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.peers[id]; ok {
		p.touch(rssi, now)
		return p
	}
	if len(t.peers) >= t.maxPeers {
		t.evictWorstLocked()
	}
	p := newPeer(id, t.dedupeWindow)
	p.touch(rssi, now)
	t.peers[id] = p
	return p
}

func (t *Table) evictWorstLocked() {
	var worst *Peer
	for _, p := range t.peers {
		if worst == nil {
			worst = p
			continue
		}
		pr, wr := p.Reputation(), worst.Reputation()
		switch {
		case pr < wr:
			worst = p
		case pr == wr && p.LastSeen().Before(worst.LastSeen()):
			worst = p
		}
	}
	if worst != nil {
		delete(t.peers, worst.id)
	}
}

// Evict removes id unconditionally, used for stale-peer sweeps and
// reputation-triggered ejection.
func (t *Table) Evict(id types.PeerId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

// EvictStale drops every peer idle longer than maxIdle, returning the
// evicted peers so the caller can tear down sessions for each before
// they are no longer reachable through the table.
func (t *Table) EvictStale(maxIdle time.Duration, now time.Time) []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []*Peer
	for id, p := range t.peers {
		if now.Sub(p.LastSeen()) > maxIdle {
			evicted = append(evicted, p)
			delete(t.peers, id)
		}
	}
	return evicted
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Snapshot returns a point-in-time copy of the peer list for readers
// that must not hold the table lock while iterating (§5's lock-free
// snapshot discipline).
func (t *Table) Snapshot() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}
