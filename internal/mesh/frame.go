// Package mesh implements the gossip transport of §4.4: framing and
// fragmentation, duplicate suppression, reputation-gated flooding, and
// the peer table, all running above the opaque byte-frame BLE bridge
// of §6. C3's Noise sessions and Channel broadcasts supply the
// ciphertext this package only ever forwards.
package mesh

import (
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/types"
)

const (
	frameVersion = 1

	// FlagBroadcast marks dst_peer as meaningless; every peer is a
	// recipient.
	FlagBroadcast uint8 = 1 << 0

	maxTTL           = 8
	maxFragmentTotal = 64

	// headerSize is the fixed-size prefix before payload bytes.
	headerSize = 1 + 1 + 16 + 32 + 32 + 1 + 1 + 1
)

// Frame is one wire-level mesh message (§4.4, §6): version, flags,
// msg_id, src/dst peer, hop-decremented ttl, and fragment position.
// Larger logical messages are split across several Frames sharing a
// msg_id.
type Frame struct {
	Version       uint8
	Flags         uint8
	MsgID         types.MsgId
	Src           types.PeerId
	Dst           types.PeerId
	TTL           uint8
	FragmentIndex uint8
	FragmentTotal uint8
	Payload       []byte
}

func (f Frame) Broadcast() bool { return f.Flags&FlagBroadcast != 0 }

// Marshal encodes f as {version, flags, msg_id, src, dst, ttl,
// fragment_index, fragment_total, payload}, all little-endian per §6.
func (f Frame) Marshal() []byte {
	out := make([]byte, headerSize+len(f.Payload))
	off := 0
	out[off] = f.Version
	off++
	out[off] = f.Flags
	off++
	copy(out[off:], f.MsgID[:])
	off += 16
	copy(out[off:], f.Src[:])
	off += 32
	copy(out[off:], f.Dst[:])
	off += 32
	out[off] = f.TTL
	off++
	out[off] = f.FragmentIndex
	off++
	out[off] = f.FragmentTotal
	off++
	copy(out[off:], f.Payload)
	return out
}

// UnmarshalFrame decodes and bounds-checks a wire frame, rejecting
// fragment_total and ttl values outside §6's limits before any buffer
// is allocated on their behalf.
func UnmarshalFrame(b []byte) (Frame, error) {
	if len(b) < headerSize {
		return Frame{}, faults.New(faults.CodeHandshakeFailure, "mesh frame shorter than header")
	}
	var f Frame
	off := 0
	f.Version = b[off]
	off++
	f.Flags = b[off]
	off++
	copy(f.MsgID[:], b[off:off+16])
	off += 16
	copy(f.Src[:], b[off:off+32])
	off += 32
	copy(f.Dst[:], b[off:off+32])
	off += 32
	f.TTL = b[off]
	off++
	f.FragmentIndex = b[off]
	off++
	f.FragmentTotal = b[off]
	off++
	f.Payload = append([]byte(nil), b[off:]...)

	if f.Version != frameVersion {
		return Frame{}, faults.New(faults.CodeHandshakeFailure, "unsupported mesh frame version %d", f.Version)
	}
	if f.TTL > maxTTL {
		return Frame{}, faults.New(faults.CodeHandshakeFailure, "ttl %d exceeds max_ttl", f.TTL)
	}
	if f.FragmentTotal == 0 || f.FragmentTotal > maxFragmentTotal || f.FragmentIndex >= f.FragmentTotal {
		return Frame{}, faults.New(faults.CodeHandshakeFailure, "invalid fragment_index/fragment_total")
	}
	return f, nil
}
