package mesh

import (
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/internal/types"
)

// pendingMessage accumulates fragments sharing one msg_id until every
// fragment_index has arrived or the deadline passes (§4.4).
type pendingMessage struct {
	total    uint8
	have     uint8
	parts    [][]byte
	deadline time.Time
}

// Reassembler holds in-flight fragmented messages, bounded to
// maxInFlight distinct msg_ids so a flood of bogus fragment_index=0
// frames cannot grow memory without limit.
type Reassembler struct {
	mu          sync.Mutex
	now         func() time.Time
	fragmentTTL time.Duration
	maxInFlight int
	pending     map[types.MsgId]*pendingMessage
}

func NewReassembler(fragmentTTL time.Duration, maxInFlight int) *Reassembler {
	return &Reassembler{
		now:         time.Now,
		fragmentTTL: fragmentTTL,
		maxInFlight: maxInFlight,
		pending:     make(map[types.MsgId]*pendingMessage),
	}
}

// Add feeds one fragment in; it returns the reassembled payload and
// true once the final fragment of its msg_id has arrived.
func (r *Reassembler) Add(f Frame) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	if f.FragmentTotal == 1 {
		return f.Payload, true
	}

	pm, ok := r.pending[f.MsgID]
	if !ok {
		if len(r.pending) >= r.maxInFlight {
			return nil, false
		}
		pm = &pendingMessage{
			total:    f.FragmentTotal,
			parts:    make([][]byte, f.FragmentTotal),
			deadline: r.now().Add(r.fragmentTTL),
		}
		r.pending[f.MsgID] = pm
	}
	if pm.total != f.FragmentTotal || int(f.FragmentIndex) >= len(pm.parts) {
		return nil, false
	}
	if pm.parts[f.FragmentIndex] == nil {
		pm.parts[f.FragmentIndex] = f.Payload
		pm.have++
	}
	if pm.have < pm.total {
		return nil, false
	}
	delete(r.pending, f.MsgID)

	size := 0
	for _, p := range pm.parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range pm.parts {
		out = append(out, p...)
	}
	return out, true
}

func (r *Reassembler) evictExpiredLocked() {
	now := r.now()
	for id, pm := range r.pending {
		if now.After(pm.deadline) {
			delete(r.pending, id)
		}
	}
}
