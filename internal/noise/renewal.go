package noise

import (
	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

// Renew implements §3's expiry behavior: zeroize the expiring session,
// then if the handshake can be re-run (both parties still reachable,
// decided by C4), hand back a brand-new session id and fresh keys with
// the old session's final transcript hash folded into the new chain
// key, so a renewed session is cryptographically bound to its
// predecessor without reusing any of its key material.
func Renew(expiring *Session, newID types.SessionId, hs *Handshake, cfg config.Config) (*Session, error) {
	expiring.mu.RLock()
	priorHash := expiring.handshake.sym.hash
	expiring.mu.RUnlock()

	if hs.Phase() != PhaseTransport {
		return nil, faults.New(faults.CodeInvalidHandshakeStep, "renewal handshake not complete")
	}
	hs.sym.MixKey(priorHash[:])

	next, err := NewSession(newID, expiring.peer, hs, cfg)
	if err != nil {
		return nil, err
	}
	expiring.Clear()
	xcrypto.Zero(priorHash[:])
	return next, nil
}
