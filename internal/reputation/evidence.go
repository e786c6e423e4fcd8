// Package reputation implements C8: per-peer reputation scoring fed by
// equivocation proofs and protocol-compliance evidence from C5/C6,
// persisted with github.com/syndtr/goleveldb so evidence survives a
// restart and can be handed to a third party for independent
// verification (§4.8).
package reputation

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

// SignedStatement is one signed protocol message — a commitment or a
// vote — in the form an equivocation proof needs: who signed it, what
// they signed, and the signature itself. Verification depends only on
// the signer's public key, per §4.8's "any third party can verify
// without trusting C8".
type SignedStatement struct {
	Signer    types.PeerId
	Message   []byte
	Signature []byte
}

// EquivocationProof is two conflicting statements from the same signer
// within the same round; it is self-contained evidence.
type EquivocationProof struct {
	A, B SignedStatement
}

// VerifyEquivocation checks that a and b are both validly signed by
// the same peer and carry distinct messages. A caller additionally
// binds the "same context" requirement (same round_id, same phase)
// before constructing the proof — this function only checks the
// signature/distinctness half.
func VerifyEquivocation(p EquivocationProof) error {
	if p.A.Signer != p.B.Signer {
		return fmt.Errorf("equivocation proof signers differ")
	}
	pub := ed25519.PublicKey(p.A.Signer[:])
	if !xcrypto.VerifySignature(pub, p.A.Message, p.A.Signature) {
		return fmt.Errorf("equivocation proof statement A has invalid signature")
	}
	if !xcrypto.VerifySignature(pub, p.B.Message, p.B.Signature) {
		return fmt.Errorf("equivocation proof statement B has invalid signature")
	}
	if bytes.Equal(p.A.Message, p.B.Message) {
		return fmt.Errorf("equivocation proof statements are identical, not conflicting")
	}
	return nil
}
