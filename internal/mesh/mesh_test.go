package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/types"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Version:       frameVersion,
		Flags:         FlagBroadcast,
		MsgID:         types.NewMsgId(),
		Src:           types.PeerId{1},
		Dst:           types.PeerId{},
		TTL:           3,
		FragmentIndex: 0,
		FragmentTotal: 1,
		Payload:       []byte("hello mesh"),
	}
	got, err := UnmarshalFrame(f.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got.MsgID != f.MsgID || string(got.Payload) != "hello mesh" || !got.Broadcast() {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestUnmarshalFrameRejectsExcessiveTTL(t *testing.T) {
	f := Frame{Version: frameVersion, TTL: 200, FragmentTotal: 1, MsgID: types.NewMsgId()}
	if _, err := UnmarshalFrame(f.Marshal()); err == nil {
		t.Fatal("expected rejection of ttl beyond max_ttl")
	}
}

func TestDedupeEvictsOldestBeyondCapacity(t *testing.T) {
	d := NewDedupe(2)
	a, b, c := types.NewMsgId(), types.NewMsgId(), types.NewMsgId()

	if d.Seen(a) {
		t.Fatal("a should be fresh")
	}
	if d.Seen(b) {
		t.Fatal("b should be fresh")
	}
	if !d.Seen(a) {
		t.Fatal("a should now be a duplicate")
	}
	// c evicts a (oldest) since capacity is 2 and b/a are both present.
	if d.Seen(c) {
		t.Fatal("c should be fresh")
	}
	if d.Len() > 2 {
		t.Fatalf("dedupe grew beyond capacity: %d", d.Len())
	}
}

func TestReassemblerCombinesFragmentsInOrder(t *testing.T) {
	r := NewReassembler(time.Second, 8)
	id := types.NewMsgId()
	f0 := Frame{MsgID: id, FragmentIndex: 0, FragmentTotal: 2, Payload: []byte("hel")}
	f1 := Frame{MsgID: id, FragmentIndex: 1, FragmentTotal: 2, Payload: []byte("lo")}

	if _, complete := r.Add(f0); complete {
		t.Fatal("should not complete after only the first fragment")
	}
	payload, complete := r.Add(f1)
	if !complete {
		t.Fatal("should complete after the second fragment")
	}
	if string(payload) != "hello" {
		t.Fatalf("got %q", payload)
	}
}

func TestReassemblerDropsExpiredMessages(t *testing.T) {
	r := NewReassembler(time.Millisecond, 8)
	now := time.Now()
	r.now = func() time.Time { return now }
	id := types.NewMsgId()
	f0 := Frame{MsgID: id, FragmentIndex: 0, FragmentTotal: 2, Payload: []byte("a")}
	r.Add(f0)

	now = now.Add(time.Second)
	f1 := Frame{MsgID: id, FragmentIndex: 1, FragmentTotal: 2, Payload: []byte("b")}
	if _, complete := r.Add(f1); complete {
		t.Fatal("expired fragment buffer should not complete")
	}
}

func TestTableEvictsLowestReputationWhenFull(t *testing.T) {
	table := NewTable(2, 16)
	now := time.Now()
	a := table.Observe(types.PeerId{1}, 0, now)
	a.setReputation(0.9)
	b := table.Observe(types.PeerId{2}, 0, now)
	b.setReputation(0.1)

	table.Observe(types.PeerId{3}, 0, now.Add(time.Second))

	if _, ok := table.Get(types.PeerId{2}); ok {
		t.Fatal("lowest-reputation peer should have been evicted")
	}
	if _, ok := table.Get(types.PeerId{1}); !ok {
		t.Fatal("higher-reputation peer should survive")
	}
}

func TestTableEvictStale(t *testing.T) {
	table := NewTable(8, 16)
	now := time.Now()
	table.Observe(types.PeerId{1}, 0, now)

	evicted := table.EvictStale(time.Second, now.Add(5*time.Second))
	if len(evicted) != 1 {
		t.Fatalf("expected 1 stale peer, got %d", len(evicted))
	}
	if table.Len() != 0 {
		t.Fatal("table should be empty after eviction")
	}
}

type fakeSink struct {
	mu  sync.Mutex
	out map[types.PeerId][][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{out: make(map[types.PeerId][][]byte)}
}

func (f *fakeSink) Send(peer types.PeerId, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out[peer] = append(f.out[peer], append([]byte(nil), data...))
	return nil
}

func (f *fakeSink) sent(peer types.PeerId) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out[peer])
}

func TestTransportDeliversReassembledEventOnInboundFrame(t *testing.T) {
	cfg := config.Default()
	local := types.PeerId{9}
	sink := newFakeSink()
	tr := NewTransport(local, cfg, sink)
	defer tr.Close()

	from := types.PeerId{1}
	f := Frame{
		Version:       frameVersion,
		MsgID:         types.NewMsgId(),
		Src:           from,
		Dst:           local,
		TTL:           2,
		FragmentIndex: 0,
		FragmentTotal: 1,
		Payload:       []byte("roll"),
	}
	if err := tr.Deliver(from, f.Marshal()); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-tr.Events():
		if string(ev.Payload) != "roll" || ev.Peer != from {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered event")
	}
}

func TestTransportDropsDuplicateFrames(t *testing.T) {
	cfg := config.Default()
	local := types.PeerId{9}
	sink := newFakeSink()
	tr := NewTransport(local, cfg, sink)
	defer tr.Close()

	from := types.PeerId{1}
	f := Frame{
		Version:       frameVersion,
		MsgID:         types.NewMsgId(),
		Src:           from,
		Dst:           local,
		TTL:           2,
		FragmentIndex: 0,
		FragmentTotal: 1,
		Payload:       []byte("once"),
	}
	raw := f.Marshal()
	tr.Deliver(from, raw)
	tr.Deliver(from, raw)

	<-tr.Events()
	select {
	case ev := <-tr.Events():
		t.Fatalf("duplicate frame should not produce a second event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransportRefusesGossipBelowReputationThreshold(t *testing.T) {
	cfg := config.Default()
	local := types.PeerId{9}
	sink := newFakeSink()
	tr := NewTransport(local, cfg, sink)
	defer tr.Close()

	from := types.PeerId{1}
	tr.table.Observe(from, 0, time.Now())
	peer, _ := tr.table.Get(from)
	peer.setReputation(0.0)

	f := Frame{
		Version:       frameVersion,
		MsgID:         types.NewMsgId(),
		Src:           from,
		Dst:           local,
		TTL:           2,
		FragmentIndex: 0,
		FragmentTotal: 1,
		Payload:       []byte("ignored"),
	}
	tr.Deliver(from, f.Marshal())

	select {
	case ev := <-tr.Events():
		t.Fatalf("expected no event from a below-threshold peer: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
