package xcrypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// HKDFExpand derives outLen bytes of key material from secret using
// HKDF-SHA256 with the given info label, the generalized form of the
// Noise engine's KDF1/KDF2/KDF3 chaining-key derivation.
func HKDFExpand(secret, salt, info []byte, outLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// RotatedKey derives the rekeyed send key HKDF(base_secret,
// "send_key" || counter) demanded by §4.3's forward-secrecy rotation.
func RotatedKey(baseSecret []byte, counter uint64) ([32]byte, error) {
	info := append([]byte("send_key"), encodeUint64(counter)...)
	out, err := HKDFExpand(baseSecret, nil, info, 32)
	if err != nil {
		return [32]byte{}, err
	}
	var key [32]byte
	copy(key[:], out)
	return key, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// Argon2Params matches the floors §4.2 mandates: mem_cost >= 64 MiB,
// time_cost >= 3, parallelism 4.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	KeyLen      uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 4, KeyLen: 32}
}

// DeriveStorageKey derives a device-bound key for persisted-session
// encryption (§4.3) from a passphrase/device secret and a random salt
// via Argon2id.
func DeriveStorageKey(secret, salt []byte, p Argon2Params) []byte {
	if p.KeyLen == 0 {
		p = DefaultArgon2Params()
	}
	return argon2.IDKey(secret, salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLen)
}
