package mesh

import (
	"time"

	"github.com/bitcraps/bitcraps/internal/types"
)

// processInbound implements §4.4's routing decision: reassemble if
// this node is a recipient, forward only if not a duplicate, ttl > 0,
// and the sender's reputation clears the gossip threshold.
func (t *Transport) processInbound(in inboundFrame) {
	if !t.limiter.Allow(in.from) {
		meshLog.Debugf("ratelimited frame from %s", in.from)
		return
	}
	f, err := UnmarshalFrame(in.raw)
	if err != nil {
		meshLog.Debugf("dropping malformed frame from %s: %v", in.from, err)
		return
	}

	peer := t.table.Observe(in.from, 0, time.Now())

	if peer.Reputation() < t.cfg.Mesh.GossipReputationThreshold {
		meshLog.Debugf("refusing to gossip from low-reputation peer %s", in.from)
		return
	}
	// Either cache alone is enough to call this a duplicate: the
	// node-wide cache catches the same msg_id re-entering through a
	// different neighbor mid-flood, which the peer-scoped window can't
	// see since it's never heard it from *this* neighbor before.
	peerDup := peer.recent.Seen(f.MsgID)
	nodeDup := t.dedupe.Seen(f.MsgID)
	if nodeDup || peerDup {
		return
	}

	isRecipient := f.Broadcast() || f.Dst == t.local
	if isRecipient {
		if payload, complete := t.reassembler.Add(f); complete {
			t.deliver(f.Src, payload)
		}
	}

	if f.TTL == 0 {
		return
	}
	if f.Broadcast() || f.Dst != t.local {
		forwarded := f
		forwarded.TTL--
		_ = t.floodToAll(forwarded, in.from)
	}
}

func (t *Transport) deliver(from types.PeerId, payload []byte) {
	select {
	case t.events <- Event{Peer: from, Payload: payload}:
	default:
		meshLog.Debugf("dropping event for %s: events channel full", from)
	}
}

// floodToAll forwards f to every known peer except except_ (typically
// the neighbor it just arrived from, to avoid an immediate echo).
func (t *Transport) floodToAll(f Frame, except types.PeerId) error {
	raw := f.Marshal()
	var firstErr error
	for _, p := range t.table.Snapshot() {
		if p.ID() == except {
			continue
		}
		if err := t.sink.Send(p.ID(), raw); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
