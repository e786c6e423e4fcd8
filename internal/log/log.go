// Package log wires every subsystem's logger off of one shared backend,
// the same split the reference node uses between a process-wide
// slog.Backend and a named slog.Logger per subsystem.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/decred/slog"
)

var (
	once    sync.Once
	backend slog.Backend
)

func backendInstance() slog.Backend {
	once.Do(func() {
		backend = slog.NewBackend(os.Stderr)
	})
	return backend
}

// SetOutput redirects the shared backend, primarily for tests.
func SetOutput(w io.Writer) {
	backend = slog.NewBackend(w)
}

// Subsystem tags are kept short, matching the reference node's
// four-letter convention (PEER, RPCC, ...).
const (
	SchedTag  = "SCHD"
	CryptoTag = "XCRY"
	NoiseTag  = "NOIS"
	MeshTag   = "MESH"
	DiceTag   = "DICE"
	ConsTag   = "CONS"
	GameTag   = "GAME"
	RepTag    = "REPU"
	APITag    = "APIC"
)

// New returns a named logger at Info level; callers raise it with
// SetLevel for debugging.
func New(subsystem string) slog.Logger {
	l := backendInstance().Logger(subsystem)
	l.SetLevel(slog.LevelInfo)
	return l
}
