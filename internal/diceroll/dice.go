package diceroll

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// DiceRoll is a craps roll: two independent draws, each in 1..6.
type DiceRoll struct {
	D1, D2 uint8
}

func (d DiceRoll) Sum() int { return int(d.D1) + int(d.D2) }

// rejectionCeiling is the largest multiple of 6 not exceeding 256;
// bytes at or above it are discarded so the 1..6 mapping carries no
// modulo bias (§4.5 "not modulo bias").
const rejectionCeiling = 252

// RollDice draws two dice from a CSPRNG seeded by combined_seed. The
// seed is used as a ChaCha20 key over an all-zero keystream, which is
// exactly the "CSPRNG seeded with combined_seed" construction §4.5
// calls for and gives an effectively unbounded stream to draw
// rejection-sampled bytes from.
func RollDice(seed [32]byte) (DiceRoll, error) {
	var nonce [chacha20.NonceSize]byte
	stream, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce[:])
	if err != nil {
		return DiceRoll{}, fmt.Errorf("init dice stream cipher: %w", err)
	}
	return DiceRoll{D1: drawDie(stream), D2: drawDie(stream)}, nil
}

func drawDie(stream *chacha20.Cipher) uint8 {
	var buf [64]byte
	for {
		var out [64]byte
		stream.XORKeyStream(out[:], buf[:])
		for _, b := range out {
			if b < rejectionCeiling {
				return b%6 + 1
			}
		}
		// astronomically unlikely to need a second block (252/256 acceptance
		// rate per byte), but loop rather than bound the attempts.
	}
}
