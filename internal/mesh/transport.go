package mesh

import (
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/log"
	"github.com/bitcraps/bitcraps/internal/sched"
	"github.com/bitcraps/bitcraps/internal/types"
)

var meshLog = log.New(log.MeshTag)

// LinkSender is the core-to-platform half of the BLE bridge (§6):
// send(peer_id, bytes). Implementations must not block the caller for
// longer than a single radio write.
type LinkSender interface {
	Send(peer types.PeerId, data []byte) error
}

// Event is one delivered application payload, already reassembled and
// deduplicated, ready for C3 to decrypt or C6/C7 to consume.
type Event struct {
	Peer    types.PeerId
	Payload []byte
}

// inboundFrame pairs a raw wire frame with the neighbor that handed it
// to the BLE bridge, queued by Deliver and drained by the worker loop.
type inboundFrame struct {
	from types.PeerId
	raw  []byte
}

// Transport is C4: the mesh routing and framing layer sitting above
// the BLE bridge. It owns the peer table exclusively (§5); all other
// subsystems only ever see Events or call Send/Broadcast.
type Transport struct {
	local types.PeerId
	cfg   config.Config
	sink  LinkSender

	table       *Table
	dedupe      *Dedupe
	reassembler *Reassembler
	limiter     *Ratelimiter
	budget      *sched.LoopBudget
	cancel      *sched.Token

	inbound chan inboundFrame
	events  chan Event

	mu       sync.Mutex
	closedCh chan struct{}
	closed   bool
}

const inboundQueueCapacity = 256

func NewTransport(local types.PeerId, cfg config.Config, sink LinkSender) *Transport {
	t := &Transport{
		local:       local,
		cfg:         cfg,
		sink:        sink,
		table:       NewTable(cfg.Mesh.MaxPeers, cfg.Mesh.DedupeWindow),
		dedupe:      NewDedupe(cfg.Mesh.DedupeWindow),
		reassembler: NewReassembler(5*time.Second, cfg.Mesh.MaxPeers*4),
		limiter:     NewRatelimiter(),
		budget:      sched.NewLoopBudget(cfg.Scheduling.LoopBudgetPerWindow, time.Duration(cfg.Scheduling.WindowMs)*time.Millisecond),
		cancel:      sched.NewToken(),
		inbound:     make(chan inboundFrame, inboundQueueCapacity),
		events:      make(chan Event, inboundQueueCapacity),
		closedCh:    make(chan struct{}),
	}
	go t.worker()
	return t
}

// Events delivers reassembled, deduplicated application payloads.
func (t *Transport) Events() <-chan Event { return t.events }

// Table exposes the peer table for C8's reputation updates and C6's
// validator-set exclusion lookups.
func (t *Transport) Table() *Table { return t.table }

// Deliver is the BLE bridge's on_data_received hook: it must never
// block the platform thread, so a full queue is reported rather than
// waited on (§5's backpressure policy — drop gossip first).
func (t *Transport) Deliver(from types.PeerId, raw []byte) error {
	select {
	case t.inbound <- inboundFrame{from: from, raw: raw}:
		return nil
	default:
		return faults.New(faults.CodeQueueFull, "mesh inbound queue full")
	}
}

func (t *Transport) worker() {
	for {
		select {
		case <-t.cancel.Done():
			return
		case f := <-t.inbound:
			if err := t.budget.Take(); err != nil {
				meshLog.Debugf("dropping frame from %s: %v", f.from, err)
				continue
			}
			t.processInbound(f)
		}
	}
}

func (t *Transport) nextMsgID() types.MsgId {
	return types.NewMsgId()
}

// Send unicasts payload to peer, fragmenting if it exceeds mtu.
func (t *Transport) Send(peer types.PeerId, payload []byte, mtu int) error {
	return t.sendFrames(peer, payload, mtu, t.cfg.Mesh.MaxTTL, false)
}

// Broadcast floods payload to every known peer with the given ttl.
func (t *Transport) Broadcast(payload []byte, ttl uint8) error {
	var zero types.PeerId
	return t.sendFrames(zero, payload, maxFragmentPayload, ttl, true)
}

const maxFragmentPayload = 480 // conservative BLE GATT MTU headroom

func (t *Transport) sendFrames(dst types.PeerId, payload []byte, mtu int, ttl uint8, broadcast bool) error {
	if mtu <= 0 {
		mtu = maxFragmentPayload
	}
	msgID := t.nextMsgID()
	total := (len(payload) + mtu - 1) / mtu
	if total == 0 {
		total = 1
	}
	if total > maxFragmentTotal {
		return faults.New(faults.CodeHandshakeFailure, "payload requires %d fragments, exceeds max %d", total, maxFragmentTotal)
	}
	flags := uint8(0)
	if broadcast {
		flags |= FlagBroadcast
	}

	for i := 0; i < total; i++ {
		start := i * mtu
		end := start + mtu
		if end > len(payload) {
			end = len(payload)
		}
		f := Frame{
			Version:       frameVersion,
			Flags:         flags,
			MsgID:         msgID,
			Src:           t.local,
			Dst:           dst,
			TTL:           ttl,
			FragmentIndex: uint8(i),
			FragmentTotal: uint8(total),
			Payload:       payload[start:end],
		}
		if broadcast {
			if err := t.floodToAll(f, types.PeerId{}); err != nil {
				return err
			}
			continue
		}
		if err := t.sink.Send(dst, f.Marshal()); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the worker loop and releases the rate limiter's
// background sweeper.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.cancel.Cancel(nil)
	t.limiter.Close()
	close(t.closedCh)
}
