// Command bitcrapsd wires C1–C8 into a running node: it loads
// configuration, opens the reputation evidence log, and holds the
// mesh transport open until the process is signalled to stop. The
// concrete BLE radio binding is supplied by a platform wrapper (Android
// JNI, iOS CoreBluetooth) that satisfies ble.Platform; this binary uses
// a no-op platform so the daemon can be exercised headlessly.
package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/decred/slog"
	flags "github.com/jessevdk/go-flags"

	"github.com/bitcraps/bitcraps/internal/ble"
	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/log"
	"github.com/bitcraps/bitcraps/internal/mesh"
	"github.com/bitcraps/bitcraps/internal/reputation"
	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

var mainLog = log.New("MAIN")

type options struct {
	ConfigPath string `long:"config" short:"c" description:"path to the node's YAML config file" default:"bitcraps.yaml"`
	DataDir    string `long:"data-dir" short:"d" description:"directory for persisted sessions and reputation evidence" default:"./data"`
	Verbose    bool   `long:"verbose" short:"v" description:"enable debug logging"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	if opts.Verbose {
		mainLog.SetLevel(slog.LevelDebug)
	}

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		mainLog.Errorf("config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		mainLog.Errorf("invalid config: %v", err)
		os.Exit(1)
	}

	identity, err := xcrypto.GenerateSigningKeyPair()
	if err != nil {
		mainLog.Errorf("generate identity: %v", err)
		os.Exit(1)
	}
	var local types.PeerId
	copy(local[:], identity.Public)
	mainLog.Infof("node identity: %s", local)

	ledger, err := reputation.Open(filepath.Join(opts.DataDir, "reputation.leveldb"), cfg.Reputation)
	if err != nil {
		mainLog.Errorf("open reputation ledger: %v", err)
		os.Exit(1)
	}
	defer ledger.Close()

	transport := mesh.NewTransport(local, cfg, noopPlatform{})
	defer transport.Close()

	floor := time.Duration(cfg.Scheduling.MinIntervalMs) * time.Millisecond
	hello := mesh.NewHelloRunner(transport, floor, 10*floor, cfg.Session.IdleTimeout)
	defer hello.Stop()

	bridge := ble.NewBridge(transport, noopPlatform{})
	if err := bridge.StartAdvertising(); err != nil {
		mainLog.Warnf("start advertising: %v", err)
	}
	if err := bridge.StartScanning(); err != nil {
		mainLog.Warnf("start scanning: %v", err)
	}

	mainLog.Infof("bitcrapsd running, config=%s data-dir=%s", opts.ConfigPath, opts.DataDir)
	waitForShutdown()
	mainLog.Infof("shutting down")
}

func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

// noopPlatform stands in for a real BLE binding when running headless:
// Send writes a debug log line instead of transmitting, and every other
// radio operation simply returns success.
type noopPlatform struct{}

func (noopPlatform) Send(peer types.PeerId, data []byte) error {
	mainLog.Debugf("noop send to %s: %d bytes", peer, len(data))
	return nil
}
func (noopPlatform) StartAdvertising(serviceUUID string) error { return nil }
func (noopPlatform) StopAdvertising() error                    { return nil }
func (noopPlatform) StartScanning(serviceUUID string) error     { return nil }
func (noopPlatform) StopScanning() error                        { return nil }
func (noopPlatform) Connect(peer types.PeerId) error            { return nil }
func (noopPlatform) Disconnect(peer types.PeerId) error         { return nil }
