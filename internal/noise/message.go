// Package noise runs the Noise_XX_25519_ChaChaPoly_SHA256 handshake
// pattern over the BLE GATT transport (§4.3): three handshake messages
// establish a pairwise NoiseSession with forward secrecy, after which
// transport messages flow through a counter-nonce AEAD with bounded
// lifetime, rekey, and encrypted resumption.
package noise

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	NoiseConstruction = "Noise_XX_25519_ChaChaPoly_SHA256"

	DHLen  = 32
	TagLen = chacha20poly1305.Overhead
)

var errMessageLengthMismatch = errors.New("noise: message length mismatch")

// Message1 is "-> e": the initiator's bare ephemeral public key.
type Message1 struct {
	Ephemeral [DHLen]byte
}

func (m *Message1) Marshal() []byte {
	return append([]byte(nil), m.Ephemeral[:]...)
}

func (m *Message1) Unmarshal(b []byte) error {
	if len(b) != DHLen {
		return errMessageLengthMismatch
	}
	copy(m.Ephemeral[:], b)
	return nil
}

// Message2 is "<- e, ee, s, es": the responder's ephemeral key plus its
// static key and an empty payload, both encrypted under the running
// transcript.
type Message2 struct {
	Ephemeral    [DHLen]byte
	StaticCipher [DHLen + TagLen]byte
	PayloadTag   [TagLen]byte
}

func (m *Message2) Marshal() []byte {
	out := make([]byte, 0, DHLen+len(m.StaticCipher)+TagLen)
	out = append(out, m.Ephemeral[:]...)
	out = append(out, m.StaticCipher[:]...)
	out = append(out, m.PayloadTag[:]...)
	return out
}

func (m *Message2) Unmarshal(b []byte) error {
	want := DHLen + DHLen + TagLen + TagLen
	if len(b) != want {
		return errMessageLengthMismatch
	}
	off := 0
	copy(m.Ephemeral[:], b[off:off+DHLen])
	off += DHLen
	copy(m.StaticCipher[:], b[off:off+DHLen+TagLen])
	off += DHLen + TagLen
	copy(m.PayloadTag[:], b[off:off+TagLen])
	return nil
}

// Message3 is "-> s, se": the initiator's static key, encrypted, plus
// an empty payload tag, completing mutual authentication.
type Message3 struct {
	StaticCipher [DHLen + TagLen]byte
	PayloadTag   [TagLen]byte
}

func (m *Message3) Marshal() []byte {
	out := make([]byte, 0, len(m.StaticCipher)+TagLen)
	out = append(out, m.StaticCipher[:]...)
	out = append(out, m.PayloadTag[:]...)
	return out
}

func (m *Message3) Unmarshal(b []byte) error {
	want := DHLen + TagLen + TagLen
	if len(b) != want {
		return errMessageLengthMismatch
	}
	copy(m.StaticCipher[:], b[:DHLen+TagLen])
	copy(m.PayloadTag[:], b[DHLen+TagLen:])
	return nil
}

// TransportHeader precedes ciphertext in every post-handshake message: a
// 4-byte little-endian rekey epoch and an 8-byte little-endian counter
// that doubles as the AEAD nonce material (mirrors the Noise engine's
// MessageTransport layout). The epoch lets a receiver that never
// initiated a rotation itself still derive the sender's current key
// on demand, directly from the immutable base secret (§4.3).
type TransportHeader struct {
	Epoch   uint32
	Counter uint64
}

func (h TransportHeader) Marshal() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], h.Epoch)
	binary.LittleEndian.PutUint64(b[4:], h.Counter)
	return b
}

func UnmarshalTransportHeader(b []byte) (TransportHeader, error) {
	if len(b) < 12 {
		return TransportHeader{}, errMessageLengthMismatch
	}
	return TransportHeader{
		Epoch:   binary.LittleEndian.Uint32(b[0:4]),
		Counter: binary.LittleEndian.Uint64(b[4:12]),
	}, nil
}
