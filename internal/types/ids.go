// Package types holds the identifier types shared across every
// subsystem (§3): peers, sessions, games, and rounds reference each
// other only by these handles, never by pointer, so that each
// subsystem can stay the sole owner of its state (§9 "arena + id").
package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// PeerId is the Ed25519 public key of a node.
type PeerId [32]byte

func (p PeerId) String() string { return hex.EncodeToString(p[:8]) }

func (p PeerId) Less(o PeerId) bool {
	for i := range p {
		if p[i] != o[i] {
			return p[i] < o[i]
		}
	}
	return false
}

// SessionId scopes one Noise session between two peers.
type SessionId [16]byte

func NewSessionId() (SessionId, error) {
	var id SessionId
	if _, err := rand.Read(id[:]); err != nil {
		return SessionId{}, fmt.Errorf("generate session id: %w", err)
	}
	return id, nil
}

func (s SessionId) String() string { return hex.EncodeToString(s[:]) }

// GameId is assigned by the game's creator.
type GameId [16]byte

func NewGameId() (GameId, error) {
	var id GameId
	if _, err := rand.Read(id[:]); err != nil {
		return GameId{}, fmt.Errorf("generate game id: %w", err)
	}
	return id, nil
}

func (g GameId) String() string { return hex.EncodeToString(g[:]) }

// RoundId increases monotonically within a game.
type RoundId uint64

// MsgId is a UUIDv4 identifying one logical mesh message across all of
// its fragments (§4.4, §6).
type MsgId [16]byte

func NewMsgId() MsgId {
	var id MsgId
	copy(id[:], uuid.New()[:])
	return id
}

func (m MsgId) String() string {
	u, _ := uuid.FromBytes(m[:])
	return u.String()
}
