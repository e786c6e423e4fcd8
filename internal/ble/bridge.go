// Package ble is the capability-interface contract of §6: the core
// depends only on this interface, never on a concrete Android JNI or
// iOS CoreBluetooth binding, per §9's "dynamic dispatch of BLE
// platforms → capability interface" redesign note.
package ble

import (
	"time"

	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/log"
	"github.com/bitcraps/bitcraps/internal/mesh"
	"github.com/bitcraps/bitcraps/internal/types"
)

var bleLog = log.New(log.MeshTag)

// Service and characteristic UUIDs must match across platforms (§6).
const (
	ServiceUUID = "12345678-1234-5678-1234-567812345678"
	TXCharUUID  = "12345678-1234-5678-1234-567812345679"
	RXCharUUID  = "12345678-1234-5678-1234-567812345680"
)

// State is the platform's Bluetooth radio state (§6).
type State int

const (
	StateOn State = iota
	StateOff
	StateResetting
	StateUnauthorized
	StateUnsupported
)

func (s State) String() string {
	switch s {
	case StateOn:
		return "on"
	case StateOff:
		return "off"
	case StateResetting:
		return "resetting"
	case StateUnauthorized:
		return "unauthorized"
	case StateUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Platform is the core-to-platform half of the bridge (§6): every
// method must return quickly — the platform implementation owns the
// actual radio I/O and reports completion asynchronously through the
// Core callbacks below, not through these return values.
type Platform interface {
	mesh.LinkSender
	StartAdvertising(serviceUUID string) error
	StopAdvertising() error
	StartScanning(serviceUUID string) error
	StopScanning() error
	Connect(peer types.PeerId) error
	Disconnect(peer types.PeerId) error
}

// discoveryQueueCapacity bounds the enqueue-only on_peer_discovered
// channel; a full queue drops the oldest discovery rather than block
// the platform thread (§5 backpressure: drop gossip first, and a
// rediscovery is cheap to miss).
const discoveryQueueCapacity = 128

// Discovery is one on_peer_discovered event.
type Discovery struct {
	Peer           types.PeerId
	RSSI           int8
	AdvServiceUUID string
}

// Bridge adapts the platform's callbacks onto a mesh.Transport: every
// method here is the platform-to-core half of §6 and must never block
// the caller's thread.
type Bridge struct {
	transport  *mesh.Transport
	platform   Platform
	discovered chan Discovery
}

func NewBridge(transport *mesh.Transport, platform Platform) *Bridge {
	return &Bridge{
		transport:  transport,
		platform:   platform,
		discovered: make(chan Discovery, discoveryQueueCapacity),
	}
}

// Discovered delivers on_peer_discovered events to whatever connection
// manager decides which discovered peers to dial.
func (b *Bridge) Discovered() <-chan Discovery { return b.discovered }

// OnPeerDiscovered is enqueue-only per §6.
func (b *Bridge) OnPeerDiscovered(peer types.PeerId, rssi int8, advServiceUUID string) {
	d := Discovery{Peer: peer, RSSI: rssi, AdvServiceUUID: advServiceUUID}
	select {
	case b.discovered <- d:
		return
	default:
	}
	select {
	case old := <-b.discovered:
		bleLog.Debugf("dropping discovery of %s, queue full", old.Peer)
	default:
	}
	select {
	case b.discovered <- d:
	default:
		bleLog.Debugf("dropping discovery of %s, queue full", peer)
	}
}

// OnPeerConnected/OnPeerDisconnected only touch the peer table via
// Observe/Evict, both of which are lock-bounded and safe to call from
// the platform thread directly.
func (b *Bridge) OnPeerConnected(peer types.PeerId) {
	b.transport.Table().Observe(peer, 0, time.Now())
}

func (b *Bridge) OnPeerDisconnected(peer types.PeerId) {
	if p, ok := b.transport.Table().Get(peer); ok {
		if s := p.Session(); s != nil {
			s.Clear()
		}
	}
	b.transport.Table().Evict(peer)
}

// OnDataReceived is the non-blocking on_data_received hook: it just
// forwards to Transport.Deliver, which enqueues and returns
// CodeQueueFull rather than block (§5).
func (b *Bridge) OnDataReceived(peer types.PeerId, data []byte) error {
	if err := b.transport.Deliver(peer, data); err != nil {
		return faults.Wrap(faults.CodeQueueFull, err)
	}
	return nil
}

// OnBluetoothStateChanged reacts to radio-level state transitions; Off,
// Unsupported and Unauthorized surface as a CodeBluetoothOff transport fault to
// whatever is waiting on the mesh (§7).
func (b *Bridge) OnBluetoothStateChanged(state State) error {
	bleLog.Infof("bluetooth state changed to %s", state)
	switch state {
	case StateOff, StateUnsupported, StateUnauthorized:
		return faults.New(faults.CodeBluetoothOff, "bluetooth unavailable: %s", state)
	default:
		return nil
	}
}

// StartAdvertising/StartScanning are thin pass-throughs to the
// platform implementation, kept on Bridge so callers have one object
// to hold rather than two.
func (b *Bridge) StartAdvertising() error { return b.platform.StartAdvertising(ServiceUUID) }
func (b *Bridge) StopAdvertising() error  { return b.platform.StopAdvertising() }
func (b *Bridge) StartScanning() error    { return b.platform.StartScanning(ServiceUUID) }
func (b *Bridge) StopScanning() error     { return b.platform.StopScanning() }
func (b *Bridge) Connect(peer types.PeerId) error    { return b.platform.Connect(peer) }
func (b *Bridge) Disconnect(peer types.PeerId) error { return b.platform.Disconnect(peer) }
