package noise

import (
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

// symmetricState is the running (chainKey, hash) transcript the
// handshake mixes every exchanged value into, the same role the Noise
// engine's mixKey/mixHash pair plays for its own construction, here
// generalized from BLAKE2s to the SHA-256 hash the design mandates.
type symmetricState struct {
	chainKey [32]byte
	hash     [32]byte
}

func newSymmetricState() symmetricState {
	h := sha256.Sum256([]byte(NoiseConstruction))
	var s symmetricState
	s.chainKey = h
	s.hash = mixHash(h, []byte(NoiseConstruction))
	return s
}

func mixHash(h [32]byte, data []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h[:])
	hasher.Write(data)
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

func (s *symmetricState) MixHash(data []byte) {
	s.hash = mixHash(s.hash, data)
}

func (s *symmetricState) MixKey(inputKeyMaterial []byte) {
	out, err := xcrypto.HKDFExpand(s.chainKey[:], inputKeyMaterial, []byte("ck"), 32)
	if err != nil {
		panic("noise: hkdf failure mixing key: " + err.Error())
	}
	copy(s.chainKey[:], out)
}

// cipherKey derives the symmetric key used to encrypt the next
// handshake payload from the current chain key.
func (s *symmetricState) cipherKey() [chacha20poly1305.KeySize]byte {
	out, err := xcrypto.HKDFExpand(s.chainKey[:], nil, []byte("k"), chacha20poly1305.KeySize)
	if err != nil {
		panic("noise: hkdf failure deriving cipher key: " + err.Error())
	}
	var key [chacha20poly1305.KeySize]byte
	copy(key[:], out)
	return key
}

// EncryptAndHash seals plaintext (possibly empty) under the current
// transcript hash as associated data, then mixes the ciphertext into
// the transcript so both sides converge on the same hash.
func (s *symmetricState) EncryptAndHash(plaintext []byte) []byte {
	key := s.cipherKey()
	aead, err := xcrypto.NewTransportAEAD(key)
	if err != nil {
		panic("noise: aead construction failed: " + err.Error())
	}
	var zeroNonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, zeroNonce[:], plaintext, s.hash[:])
	s.MixHash(ct)
	return ct
}

// DecryptAndHash is EncryptAndHash's inverse; it fails closed (no
// transcript mutation) on a MAC failure so a rejected message cannot
// desynchronize the two transcripts.
func (s *symmetricState) DecryptAndHash(ciphertext []byte) ([]byte, error) {
	key := s.cipherKey()
	aead, err := xcrypto.NewTransportAEAD(key)
	if err != nil {
		return nil, err
	}
	var zeroNonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, zeroNonce[:], ciphertext, s.hash[:])
	if err != nil {
		return nil, err
	}
	s.MixHash(ciphertext)
	return pt, nil
}

// Split derives the pair of directional transport keys once the
// handshake completes, one per direction, so send and receive never
// share a key.
func (s *symmetricState) Split() (initToResp, respToInit [32]byte) {
	a, err := xcrypto.HKDFExpand(s.chainKey[:], nil, []byte("split-i2r"), 32)
	if err != nil {
		panic(err)
	}
	b, err := xcrypto.HKDFExpand(s.chainKey[:], nil, []byte("split-r2i"), 32)
	if err != nil {
		panic(err)
	}
	copy(initToResp[:], a)
	copy(respToInit[:], b)
	return
}
