package noise

import (
	"crypto/rand"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

// Channel is the group-channel encryption layer of §4.3: beyond
// pairwise Noise sessions, a shared symmetric key secures broadcast
// traffic with XChaCha20-Poly1305 and a 24-byte nonce composed of a
// monotonic counter, a millisecond timestamp, and CSPRNG randomness.
type Channel struct {
	mu      sync.Mutex
	key     [chacha20poly1305.KeySize]byte
	counter uint64
	seen    map[[chacha20poly1305.NonceSizeX]byte]struct{}
}

func NewChannel(key [chacha20poly1305.KeySize]byte) *Channel {
	return &Channel{key: key, seen: make(map[[chacha20poly1305.NonceSizeX]byte]struct{})}
}

// Seal encrypts plaintext under a freshly composed nonce.
func (c *Channel) Seal(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	aead, err := xcrypto.NewChannelAEAD(c.key)
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	var random [8]byte
	if _, err := rand.Read(random[:]); err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	c.counter++
	nonce := xcrypto.ChannelNonce(c.counter, time.Now().UnixMilli(), random)
	out := make([]byte, 0, len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, nonce[:]...)
	out = aead.Seal(out, nonce[:], plaintext, nil)
	return out, nil
}

// Open decrypts and verifies a channel message, rejecting any
// (key, nonce) pair already seen (§4.3).
func (c *Channel) Open(framed []byte) ([]byte, error) {
	if len(framed) < chacha20poly1305.NonceSizeX {
		return nil, faults.New(faults.CodeHandshakeFailure, "channel message shorter than nonce")
	}
	var nonce [chacha20poly1305.NonceSizeX]byte
	copy(nonce[:], framed[:chacha20poly1305.NonceSizeX])
	ct := framed[chacha20poly1305.NonceSizeX:]

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[nonce]; dup {
		return nil, faults.New(faults.CodeReplayDetected, "channel nonce reused")
	}

	aead, err := xcrypto.NewChannelAEAD(c.key)
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	pt, err := aead.Open(nil, nonce[:], ct, nil)
	if err != nil {
		return nil, faults.New(faults.CodeHandshakeFailure, "channel AEAD open failed: %v", err)
	}
	c.seen[nonce] = struct{}{}
	return pt, nil
}
