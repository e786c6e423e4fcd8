// Package xcrypto is the fixed set of cryptographic primitives the
// design allows (§4.2): Ed25519 for identity and votes, X25519 for
// ECDH, ChaCha20-Poly1305/XChaCha20-Poly1305 AEAD, SHA-256 for
// commitments and transcripts, HKDF-SHA256 for key derivation, and
// Argon2id for password-derived channel keys. Every key type zeroizes
// on Clear(); every comparison of a tag or MAC is constant time.
package xcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// SigningKeyPair is an Ed25519 identity: it both signs protocol
// statements (commitments, votes) and, as its public half, is the
// node's PeerId (§3).
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

func (k *SigningKeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

func VerifySignature(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// Clear zeroizes the private key material.
func (k *SigningKeyPair) Clear() {
	Zero(k.Private)
}

// DHPrivateKey is an X25519 private scalar, clamped per RFC 7748.
type DHPrivateKey [32]byte

// DHPublicKey is an X25519 public point.
type DHPublicKey [32]byte

func GenerateDHPrivateKey() (DHPrivateKey, error) {
	var sk DHPrivateKey
	if _, err := rand.Read(sk[:]); err != nil {
		return DHPrivateKey{}, fmt.Errorf("generate x25519 key: %w", err)
	}
	sk[0] &= 248
	sk[31] = (sk[31] & 127) | 64
	return sk, nil
}

func (sk DHPrivateKey) Public() (DHPublicKey, error) {
	var pk DHPublicKey
	out, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return DHPublicKey{}, fmt.Errorf("derive x25519 public key: %w", err)
	}
	copy(pk[:], out)
	return pk, nil
}

// SharedSecret computes the ECDH shared secret with a peer's public
// key. It returns an error rather than the RFC 7748 all-zero output
// that indicates a low-order point, refusing to hand back a degenerate
// secret (the same defensive check the Noise engine's DH call relies
// on transitively through golang.org/x/crypto/curve25519).
func (sk DHPrivateKey) SharedSecret(peer DHPublicKey) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(sk[:], peer[:])
	if err != nil {
		return out, fmt.Errorf("compute x25519 shared secret: %w", err)
	}
	copy(out[:], shared)
	if IsZero(out[:]) {
		return out, fmt.Errorf("x25519 shared secret is the all-zero low-order point")
	}
	return out, nil
}

func (sk *DHPrivateKey) Clear() { Zero(sk[:]) }

// Zero overwrites b with zeroes; used on every key and nonce buffer
// before it is dropped.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// IsZero reports whether b is entirely zero, in constant time.
func IsZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

// ConstantTimeEqual wraps subtle.ConstantTimeCompare for MAC/tag
// comparisons, returning a plain bool.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
