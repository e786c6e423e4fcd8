package mesh

import (
	"container/list"
	"sync"

	"lukechampine.com/blake3"

	"github.com/bitcraps/bitcraps/internal/types"
)

// dedupeKey is a fast 16-byte digest of a msg_id, distinct from the
// SHA-256 commitment path (§4.5): this cache only needs collision
// resistance against accidental reuse, not cryptographic binding.
type dedupeKey [16]byte

func hashMsgID(id types.MsgId) dedupeKey {
	sum := blake3.Sum256(id[:])
	var k dedupeKey
	copy(k[:], sum[:16])
	return k
}

// Dedupe is a fixed-capacity window of recently seen msg_ids (§4.4):
// once full, the earliest-recorded entry is evicted to admit a new one
// (a repeat sighting does not refresh an entry, see Seen).
type Dedupe struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[dedupeKey]*list.Element
}

func NewDedupe(capacity int) *Dedupe {
	return &Dedupe{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[dedupeKey]*list.Element),
	}
}

// Seen reports whether id has already been recorded, and as a side
// effect records it. A duplicate is reported without refreshing its
// recency, matching a plain append-only dedupe window rather than an
// access-order cache that a flood could keep artificially warm.
func (d *Dedupe) Seen(id types.MsgId) bool {
	k := hashMsgID(id)
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[k]; ok {
		return true
	}
	el := d.ll.PushBack(k)
	d.index[k] = el
	if d.ll.Len() > d.capacity {
		oldest := d.ll.Front()
		if oldest != nil {
			d.ll.Remove(oldest)
			delete(d.index, oldest.Value.(dedupeKey))
		}
	}
	return false
}

func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ll.Len()
}
