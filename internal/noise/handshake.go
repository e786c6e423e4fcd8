package noise

import (
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

// Role distinguishes the two parties of a Noise_XX exchange; which
// role a session was created with is persisted alongside it so rekey
// counters remain unambiguous across a restart (§9 open question).
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Phase is the handshake/session state machine of §3/§4.3:
// Uninitialized -> Handshaking(0..2) -> Transport -> {Renewing|Failed}.
// It only ever advances; Failed and Renewing are the sole exceptions
// that a Transport session can reach.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseHandshaking0
	PhaseHandshaking1
	PhaseHandshaking2
	PhaseTransport
	PhaseRenewing
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "Uninitialized"
	case PhaseHandshaking0:
		return "Handshaking(0)"
	case PhaseHandshaking1:
		return "Handshaking(1)"
	case PhaseHandshaking2:
		return "Handshaking(2)"
	case PhaseTransport:
		return "Transport"
	case PhaseRenewing:
		return "Renewing"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Handshake drives one Noise_XX exchange to completion. It never
// transitions backward: a Step call out of order returns
// InvalidHandshakeStep rather than silently resetting state (§4.3).
type Handshake struct {
	role  Role
	phase Phase
	sym   symmetricState

	localStatic    xcrypto.DHPrivateKey
	localStaticPub xcrypto.DHPublicKey
	localEphemeral xcrypto.DHPrivateKey

	remoteStaticPub    xcrypto.DHPublicKey
	remoteEphemeralPub xcrypto.DHPublicKey
	haveRemoteStatic   bool
}

// NewHandshake starts a fresh Noise_XX exchange for the given role and
// local static identity key.
func NewHandshake(role Role, localStatic xcrypto.DHPrivateKey) (*Handshake, error) {
	pub, err := localStatic.Public()
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	return &Handshake{
		role:           role,
		phase:          PhaseUninitialized,
		sym:            newSymmetricState(),
		localStatic:    localStatic,
		localStaticPub: pub,
	}, nil
}

func (h *Handshake) Phase() Phase { return h.phase }

// RemoteStatic returns the authenticated peer static key, valid only
// once the initiator has consumed message 2 or the responder has
// consumed message 3; callers should prefer checking
// Phase==PhaseTransport.
func (h *Handshake) RemoteStatic() (xcrypto.DHPublicKey, bool) {
	return h.remoteStaticPub, h.haveRemoteStatic
}

// Step implements the contract of §4.3: given an inbound handshake
// message (nil for the initiator's first call), it produces the next
// outbound message. The initiator's final step returns message 3 as it
// moves to Transport; the responder's final step returns nil.
func (h *Handshake) Step(inbound []byte) (outbound []byte, err error) {
	switch h.role {
	case RoleInitiator:
		return h.stepInitiator(inbound)
	default:
		return h.stepResponder(inbound)
	}
}

func (h *Handshake) stepInitiator(inbound []byte) ([]byte, error) {
	switch h.phase {
	case PhaseUninitialized:
		if inbound != nil {
			return nil, faults.New(faults.CodeInvalidHandshakeStep, "initiator's first step must not take input")
		}
		eph, err := xcrypto.GenerateDHPrivateKey()
		if err != nil {
			return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
		}
		h.localEphemeral = eph
		ephPub, _ := eph.Public()
		h.sym.MixHash(ephPub[:])

		msg := Message1{Ephemeral: ephPub}
		h.phase = PhaseHandshaking0
		return msg.Marshal(), nil

	case PhaseHandshaking0:
		if inbound == nil {
			return nil, faults.New(faults.CodeInvalidHandshakeStep, "initiator step in phase %s requires message 2", h.phase)
		}
		var msg Message2
		if err := msg.Unmarshal(inbound); err != nil {
			return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
		}
		h.remoteEphemeralPub = msg.Ephemeral
		h.sym.MixHash(msg.Ephemeral[:])

		ss, err := h.localEphemeral.SharedSecret(msg.Ephemeral) // ee
		if err != nil {
			return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
		}
		h.sym.MixKey(ss[:])

		staticPt, err := h.sym.DecryptAndHash(msg.StaticCipher[:])
		if err != nil {
			return nil, faults.New(faults.CodeHandshakeFailure, "decrypt responder static key: %v", err)
		}
		copy(h.remoteStaticPub[:], staticPt)

		ss, err = h.localEphemeral.SharedSecret(h.remoteStaticPub) // es
		if err != nil {
			return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
		}
		h.sym.MixKey(ss[:])

		if _, err := h.sym.DecryptAndHash(msg.PayloadTag[:]); err != nil {
			return nil, faults.New(faults.CodeHandshakeFailure, "responder payload auth failed: %v", err)
		}
		h.haveRemoteStatic = true

		// -> s, se
		staticCt := h.sym.EncryptAndHash(h.localStaticPub[:])
		ss, err = h.localStatic.SharedSecret(h.remoteEphemeralPub) // se
		if err != nil {
			return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
		}
		h.sym.MixKey(ss[:])
		payloadTag := h.sym.EncryptAndHash(nil)

		var out Message3
		copy(out.StaticCipher[:], staticCt)
		copy(out.PayloadTag[:], payloadTag)
		h.phase = PhaseTransport
		return out.Marshal(), nil

	default:
		return nil, faults.New(faults.CodeInvalidHandshakeStep, "initiator step called in phase %s", h.phase)
	}
}

func (h *Handshake) stepResponder(inbound []byte) ([]byte, error) {
	switch h.phase {
	case PhaseUninitialized:
		var msg Message1
		if err := msg.Unmarshal(inbound); err != nil {
			return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
		}
		h.remoteEphemeralPub = msg.Ephemeral
		h.sym.MixHash(msg.Ephemeral[:])
		h.phase = PhaseHandshaking0
		return h.produceMessage2()

	case PhaseHandshaking1:
		var msg Message3
		if err := msg.Unmarshal(inbound); err != nil {
			return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
		}
		staticPt, err := h.sym.DecryptAndHash(msg.StaticCipher[:])
		if err != nil {
			return nil, faults.New(faults.CodeHandshakeFailure, "decrypt initiator static key: %v", err)
		}
		copy(h.remoteStaticPub[:], staticPt)
		h.haveRemoteStatic = true

		ss, err := h.localEphemeral.SharedSecret(h.remoteStaticPub) // se
		if err != nil {
			return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
		}
		h.sym.MixKey(ss[:])

		if _, err := h.sym.DecryptAndHash(msg.PayloadTag[:]); err != nil {
			return nil, faults.New(faults.CodeHandshakeFailure, "initiator payload auth failed: %v", err)
		}
		h.phase = PhaseTransport
		return nil, nil

	default:
		return nil, faults.New(faults.CodeInvalidHandshakeStep, "responder step called in phase %s", h.phase)
	}
}

func (h *Handshake) produceMessage2() ([]byte, error) {
	eph, err := xcrypto.GenerateDHPrivateKey()
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	h.localEphemeral = eph
	ephPub, _ := eph.Public()
	h.sym.MixHash(ephPub[:])

	ss, err := eph.SharedSecret(h.remoteEphemeralPub) // ee
	if err != nil {
		return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
	}
	h.sym.MixKey(ss[:])

	staticCt := h.sym.EncryptAndHash(h.localStaticPub[:])

	ss, err = h.localStatic.SharedSecret(h.remoteEphemeralPub) // es
	if err != nil {
		return nil, faults.Wrap(faults.CodeHandshakeFailure, err)
	}
	h.sym.MixKey(ss[:])
	payloadTag := h.sym.EncryptAndHash(nil)

	var msg Message2
	msg.Ephemeral = ephPub
	copy(msg.StaticCipher[:], staticCt)
	copy(msg.PayloadTag[:], payloadTag)

	h.phase = PhaseHandshaking1
	return msg.Marshal(), nil
}

// Finalize derives the directional transport keys once Phase ==
// Transport. It must be called exactly once per completed handshake.
func (h *Handshake) Finalize() (sendKey, recvKey [32]byte, err error) {
	if h.phase != PhaseTransport {
		return sendKey, recvKey, faults.New(faults.CodeInvalidHandshakeStep,
			"cannot finalize handshake in phase %s", h.phase)
	}
	i2r, r2i := h.sym.Split()
	if h.role == RoleInitiator {
		return i2r, r2i, nil
	}
	return r2i, i2r, nil
}
