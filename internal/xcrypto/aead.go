package xcrypto

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NewTransportAEAD builds a ChaCha20-Poly1305 AEAD for pairwise Noise
// transport messages, which use a 12-byte nonce built from a monotonic
// counter (§4.3).
func NewTransportAEAD(key [chacha20poly1305.KeySize]byte) (cipher.AEAD, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("construct chacha20poly1305: %w", err)
	}
	return aead, nil
}

// TransportNonce encodes a send/recv counter into the 12-byte ChaCha20
// nonce: 4 zero bytes followed by the little-endian counter, matching
// the Noise engine's transport-message nonce layout.
func TransportNonce(counter uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// NewChannelAEAD builds an XChaCha20-Poly1305 AEAD for group-channel
// encryption (§4.3), which takes a full 24-byte random-ish nonce rather
// than a bare counter.
func NewChannelAEAD(key [chacha20poly1305.KeySize]byte) (cipher.AEAD, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20poly1305: %w", err)
	}
	return aead, nil
}

// ChannelNonce composes the 24-byte nonce required of group-channel
// messages: an 8-byte monotonic counter, an 8-byte millisecond
// timestamp, and 8 bytes of CSPRNG randomness (§4.3), so that even a
// counter collision across restarts cannot repeat a (key, nonce) pair
// without also repeating the timestamp and the random tail.
func ChannelNonce(counter uint64, unixMillis int64, random [8]byte) [chacha20poly1305.NonceSizeX]byte {
	var nonce [chacha20poly1305.NonceSizeX]byte
	binary.LittleEndian.PutUint64(nonce[0:8], counter)
	binary.LittleEndian.PutUint64(nonce[8:16], uint64(unixMillis))
	copy(nonce[16:24], random[:])
	return nonce
}
