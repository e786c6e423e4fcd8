package noise

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/log"
	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

var sessionLog = log.New(log.NoiseTag)

// Warning is surfaced to C7 at 80% of any lifecycle limit (§4.3).
type Warning struct {
	SessionID types.SessionId
	Reason    string
}

// Session is the NoiseSession of §3: one per peer pairing, owned
// exclusively by this package. C4 only ever sees its ciphertext.
type Session struct {
	mu sync.RWMutex

	id        types.SessionId
	peer      types.PeerId
	role      Role
	phase     Phase
	handshake *Handshake

	baseSendKey [32]byte // fixed at Finalize/Load; per-epoch keys derive from this, never mutated
	baseRecvKey [32]byte
	sendKey     [32]byte // cache of RotatedKey(baseSendKey, sendEpoch)
	recvKey     [32]byte // cache of RotatedKey(baseRecvKey, recvEpoch)
	sendEpoch   uint64
	recvEpoch   uint64
	sendCtr     atomic.Uint64
	recvCtr     atomic.Uint64

	oldKeys []oldKey // bounded ring of rotated-out receive keys, by epoch

	createdAt  time.Time
	lastActive time.Time
	rotatedAt  time.Time

	cfg      config.Config
	warnings chan Warning
	now      func() time.Time
}

type oldKey struct {
	epoch     uint64
	key       [32]byte
	expiresAt time.Time
	anyCtr    bool   // whether maxCtr has been set yet
	maxCtr    uint64 // lowest counter still acceptable: reject counter < maxCtr
}

// NewSession creates a session bound to a completed Handshake; callers
// obtain the Handshake by driving Step() to PhaseTransport first. The
// keys Finalize returns become the immutable epoch-0 base secrets:
// every later epoch's key is derived directly from them (§4.3), never
// chained from the previous epoch, so either side can independently
// compute the key for any epoch the other side announces.
func NewSession(id types.SessionId, peer types.PeerId, hs *Handshake, cfg config.Config) (*Session, error) {
	if hs.Phase() != PhaseTransport {
		return nil, faults.New(faults.CodeInvalidHandshakeStep, "handshake not complete")
	}
	baseSend, baseRecv, err := hs.Finalize()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s := &Session{
		id:          id,
		peer:        peer,
		role:        hs.role,
		phase:       PhaseTransport,
		handshake:   hs,
		baseSendKey: baseSend,
		baseRecvKey: baseRecv,
		sendKey:     baseSend,
		recvKey:     baseRecv,
		createdAt:   now,
		lastActive:  now,
		rotatedAt:   now,
		cfg:         cfg,
		warnings:    make(chan Warning, 8),
		now:         time.Now,
	}
	return s, nil
}

// epochKey derives the transport key for a given epoch directly from
// an immutable base secret: epoch 0 is the base key itself, every
// later epoch is an independent HKDF expansion keyed by the epoch
// number, not a chain through intervening epochs.
func epochKey(base [32]byte, epoch uint64) ([32]byte, error) {
	if epoch == 0 {
		return base, nil
	}
	return xcrypto.RotatedKey(base[:], epoch)
}

func (s *Session) ID() types.SessionId { return s.id }
func (s *Session) Peer() types.PeerId  { return s.peer }
func (s *Session) Role() Role          { return s.role }

func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Warnings delivers §4.3's 80%-of-limit notices to the orchestrator.
func (s *Session) Warnings() <-chan Warning { return s.warnings }

func (s *Session) pushWarning(reason string) {
	select {
	case s.warnings <- Warning{SessionID: s.id, Reason: reason}:
	default:
	}
}

// checkLimitsLocked evaluates the §4.3 lifecycle limits; caller holds
// s.mu. It returns a Fault{KindTiming, CodeSessionExpired} once a hard
// limit is crossed.
func (s *Session) checkLimitsLocked() error {
	age := s.now().Sub(s.createdAt)
	idle := s.now().Sub(s.lastActive)
	sent := s.sendCtr.Load()

	warnAt := s.cfg.Session.WarningThreshold
	if age >= time.Duration(float64(s.cfg.Session.MaxDuration)*warnAt) && age < s.cfg.Session.MaxDuration {
		s.pushWarning("approaching max_duration")
	}
	if float64(sent) >= float64(s.cfg.Session.MaxMessageCount)*warnAt && sent < s.cfg.Session.MaxMessageCount {
		s.pushWarning("approaching max_message_count")
	}

	if age >= s.cfg.Session.MaxDuration {
		return faults.New(faults.CodeSessionExpired, "session exceeded max_duration %s", s.cfg.Session.MaxDuration)
	}
	if sent >= s.cfg.Session.MaxMessageCount {
		return faults.New(faults.CodeSessionExpired, "session exceeded max_message_count %d", s.cfg.Session.MaxMessageCount)
	}
	if idle >= s.cfg.Session.IdleTimeout {
		return faults.New(faults.CodeSessionExpired, "session idle for %s", idle)
	}
	return nil
}

// Encrypt seals plaintext for transport, advancing the send counter.
// It fails once a lifecycle limit has been crossed; the caller (C3's
// owner, ultimately C4) must renew before retrying.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseTransport {
		return nil, faults.New(faults.CodeInvalidHandshakeStep, "session not in Transport phase")
	}
	if err := s.checkLimitsLocked(); err != nil {
		s.phase = PhaseFailed
		return nil, err
	}
	s.maybeRotateLocked()

	aead, err := xcrypto.NewTransportAEAD(s.sendKey)
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	counter := s.sendCtr.Add(1) - 1
	if sent := counter + 1; float64(sent) >= float64(s.cfg.Session.MaxMessageCount)*s.cfg.Session.WarningThreshold &&
		sent < s.cfg.Session.MaxMessageCount {
		s.pushWarning("approaching max_message_count")
	}
	nonce := xcrypto.TransportNonce(counter)
	header := TransportHeader{Epoch: uint32(s.sendEpoch), Counter: counter}.Marshal()
	ct := aead.Seal(nil, nonce[:], plaintext, nil)
	s.lastActive = s.now()
	return append(header, ct...), nil
}

// Decrypt opens an inbound transport message, delivering plaintext
// messages in strict send order within the session (§5), rejecting
// replays and messages encrypted under a key rotated out too long ago.
func (s *Session) Decrypt(framed []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseTransport {
		return nil, faults.New(faults.CodeInvalidHandshakeStep, "session not in Transport phase")
	}
	header, err := UnmarshalTransportHeader(framed)
	if err != nil {
		return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
	}
	ct := framed[12:]
	epoch := uint64(header.Epoch)

	switch {
	case epoch > s.recvEpoch:
		// The peer rotated ahead of us; adopt its epoch directly from
		// the immutable base secret rather than waiting for our own
		// send-side rotation to catch up (§4.3 passive promotion).
		if err := s.adoptRecvEpochLocked(epoch); err != nil {
			return nil, err
		}
	case epoch < s.recvEpoch:
		if pt, ok := s.tryOldKeysLocked(epoch, header.Counter, ct); ok {
			return pt, nil
		}
		return nil, faults.New(faults.CodeReplayDetected, "epoch %d retired, key no longer held", epoch)
	}

	if epoch == s.recvEpoch && header.Counter < s.recvCtr.Load() {
		return nil, faults.New(faults.CodeReplayDetected, "counter %d already seen", header.Counter)
	}

	aead, err := xcrypto.NewTransportAEAD(s.recvKey)
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	nonce := xcrypto.TransportNonce(header.Counter)
	pt, err := aead.Open(nil, nonce[:], ct, nil)
	if err != nil {
		return nil, faults.New(faults.CodeHandshakeFailure, "AEAD open failed: %v", err)
	}
	s.recvCtr.Store(header.Counter + 1)
	s.lastActive = s.now()
	s.checkLimitsLocked() //nolint:errcheck // advisory warning push only on the happy path
	return pt, nil
}

// adoptRecvEpochLocked moves the receive side forward to epoch,
// deriving its key directly from baseRecvKey and retiring the prior
// epoch's key into the grace-period ring rather than discarding it
// outright, so messages already in flight under the old epoch still
// decrypt. Caller holds s.mu.
func (s *Session) adoptRecvEpochLocked(epoch uint64) error {
	newKey, err := epochKey(s.baseRecvKey, epoch)
	if err != nil {
		return faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	s.oldKeys = append(s.oldKeys, oldKey{
		epoch:     s.recvEpoch,
		key:       s.recvKey,
		expiresAt: s.now().Add(s.cfg.Rekey.KeepOldKeysFor),
	})
	s.recvEpoch = epoch
	s.recvKey = newKey
	s.recvCtr.Store(0)
	return nil
}

func (s *Session) tryOldKeysLocked(epoch, counter uint64, ct []byte) ([]byte, bool) {
	now := s.now()
	live := s.oldKeys[:0]
	var result []byte
	found := false
	for _, ok := range s.oldKeys {
		if now.After(ok.expiresAt) {
			xcrypto.Zero(ok.key[:])
			continue
		}
		if !found && ok.epoch == epoch {
			if ok.anyCtr && counter < ok.maxCtr {
				// Replay of a counter already consumed under this
				// retired epoch; reject before spending an AEAD open.
				live = append(live, ok)
				continue
			}
			aead, err := xcrypto.NewTransportAEAD(ok.key)
			if err == nil {
				nonce := xcrypto.TransportNonce(counter)
				if pt, err := aead.Open(nil, nonce[:], ct, nil); err == nil {
					result, found = pt, true
					ok.anyCtr = true
					ok.maxCtr = counter + 1
				}
			}
		}
		live = append(live, ok)
	}
	s.oldKeys = live
	return result, found
}

// maybeRotateLocked implements §4.3's send-side rotation: rotate when
// rotation_interval elapses OR the per-key message ceiling is reached.
// The new epoch's key is derived directly from the immutable base
// secret, never chained from the current key, so the peer can derive
// the identical key from the epoch number alone. Caller holds s.mu.
func (s *Session) maybeRotateLocked() {
	elapsed := s.now().Sub(s.rotatedAt) >= s.cfg.Rekey.RotationInterval
	overCount := s.sendCtr.Load() >= s.cfg.Rekey.MaxMessagesPerKey
	if !elapsed && !overCount {
		return
	}
	nextEpoch := s.sendEpoch + 1
	newSend, err := epochKey(s.baseSendKey, nextEpoch)
	if err != nil {
		return
	}
	xcrypto.Zero(s.sendKey[:])
	s.sendKey = newSend
	s.sendEpoch = nextEpoch
	s.sendCtr.Store(0)
	s.rotatedAt = s.now()
	sessionLog.Debugf("session %s rotated send key (epoch %d)", s.id, s.sendEpoch)
}

// Clear zeroizes all key material, the final step of a session
// teardown (§3 lifecycle).
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	xcrypto.Zero(s.baseSendKey[:])
	xcrypto.Zero(s.baseRecvKey[:])
	xcrypto.Zero(s.sendKey[:])
	xcrypto.Zero(s.recvKey[:])
	for i := range s.oldKeys {
		xcrypto.Zero(s.oldKeys[i].key[:])
	}
	s.oldKeys = nil
	s.phase = PhaseFailed
}

// MessageSize bound used by callers sizing reassembly buffers for a
// lone transport message.
const MessageSize = 12 + chacha20poly1305.Overhead
