package ble

import (
	"testing"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/mesh"
	"github.com/bitcraps/bitcraps/internal/types"
)

type fakePlatform struct {
	advertising bool
	scanning    bool
}

func (p *fakePlatform) Send(types.PeerId, []byte) error        { return nil }
func (p *fakePlatform) StartAdvertising(string) error           { p.advertising = true; return nil }
func (p *fakePlatform) StopAdvertising() error                  { p.advertising = false; return nil }
func (p *fakePlatform) StartScanning(string) error              { p.scanning = true; return nil }
func (p *fakePlatform) StopScanning() error                     { p.scanning = false; return nil }
func (p *fakePlatform) Connect(types.PeerId) error              { return nil }
func (p *fakePlatform) Disconnect(types.PeerId) error           { return nil }

func TestOnPeerDiscoveredIsNonBlockingAndQueued(t *testing.T) {
	cfg := config.Default()
	tr := mesh.NewTransport(types.PeerId{1}, cfg, &fakePlatform{})
	defer tr.Close()
	b := NewBridge(tr, &fakePlatform{})

	peer := types.PeerId{2}
	b.OnPeerDiscovered(peer, -40, ServiceUUID)

	select {
	case d := <-b.Discovered():
		if d.Peer != peer || d.RSSI != -40 {
			t.Fatalf("unexpected discovery: %+v", d)
		}
	default:
		t.Fatal("expected a queued discovery event")
	}
}

func TestOnBluetoothStateChangedFlagsUnavailable(t *testing.T) {
	cfg := config.Default()
	tr := mesh.NewTransport(types.PeerId{1}, cfg, &fakePlatform{})
	defer tr.Close()
	b := NewBridge(tr, &fakePlatform{})

	if err := b.OnBluetoothStateChanged(StateOn); err != nil {
		t.Fatalf("StateOn should not fault: %v", err)
	}
	if err := b.OnBluetoothStateChanged(StateOff); err == nil {
		t.Fatal("StateOff should fault")
	}
}

func TestStartAdvertisingDelegatesToPlatform(t *testing.T) {
	cfg := config.Default()
	tr := mesh.NewTransport(types.PeerId{1}, cfg, &fakePlatform{})
	defer tr.Close()
	platform := &fakePlatform{}
	b := NewBridge(tr, platform)

	if err := b.StartAdvertising(); err != nil {
		t.Fatal(err)
	}
	if !platform.advertising {
		t.Fatal("expected platform to start advertising")
	}
}
