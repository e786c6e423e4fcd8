package noise

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

func mustStaticKey(t *testing.T) xcrypto.DHPrivateKey {
	t.Helper()
	k, err := xcrypto.GenerateDHPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

// driveHandshake runs Noise_XX to completion between two Handshake
// state machines and returns them both in PhaseTransport.
func driveHandshake(t *testing.T, initStatic, respStatic xcrypto.DHPrivateKey) (*Handshake, *Handshake) {
	t.Helper()
	initiator, err := NewHandshake(RoleInitiator, initStatic)
	if err != nil {
		t.Fatal(err)
	}
	responder, err := NewHandshake(RoleResponder, respStatic)
	if err != nil {
		t.Fatal(err)
	}

	msg1, err := initiator.Step(nil)
	if err != nil {
		t.Fatalf("initiator step1: %v", err)
	}
	msg2, err := responder.Step(msg1)
	if err != nil {
		t.Fatalf("responder step1: %v", err)
	}
	msg3, err := initiator.Step(msg2)
	if err != nil {
		t.Fatalf("initiator step2: %v", err)
	}
	if initiator.Phase() != PhaseTransport {
		t.Fatalf("initiator should be Transport, got %s", initiator.Phase())
	}
	if _, err := responder.Step(msg3); err != nil {
		t.Fatalf("responder step2: %v", err)
	}
	if responder.Phase() != PhaseTransport {
		t.Fatalf("responder should be Transport, got %s", responder.Phase())
	}
	return initiator, responder
}

func TestHandshakeXXReachesTransport(t *testing.T) {
	initStatic := mustStaticKey(t)
	respStatic := mustStaticKey(t)
	initiator, responder := driveHandshake(t, initStatic, respStatic)

	iPub, _ := initStatic.Public()
	rPub, _ := respStatic.Public()

	gotRemoteAtResponder, ok := responder.RemoteStatic()
	if !ok || gotRemoteAtResponder != iPub {
		t.Fatal("responder did not learn initiator's authenticated static key")
	}
	gotRemoteAtInitiator, ok := initiator.RemoteStatic()
	if !ok || gotRemoteAtInitiator != rPub {
		t.Fatal("initiator did not learn responder's authenticated static key")
	}
}

func TestHandshakeRejectsOutOfOrderStep(t *testing.T) {
	initiator, err := NewHandshake(RoleInitiator, mustStaticKey(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := initiator.Step(nil); err != nil {
		t.Fatal(err)
	}
	// Calling Step again in the same phase but as if it were the first
	// step (nil input) must fail rather than silently reset.
	if _, err := initiator.Step(nil); err == nil {
		t.Fatal("expected InvalidHandshakeStep for repeated first step")
	}
}

func TestHandshakeRejectsReplayedStep1(t *testing.T) {
	initStatic := mustStaticKey(t)
	respStatic := mustStaticKey(t)
	initiator, err := NewHandshake(RoleInitiator, initStatic)
	if err != nil {
		t.Fatal(err)
	}
	responderA, err := NewHandshake(RoleResponder, respStatic)
	if err != nil {
		t.Fatal(err)
	}
	responderB, err := NewHandshake(RoleResponder, respStatic)
	if err != nil {
		t.Fatal(err)
	}

	msg1, _ := initiator.Step(nil)
	msg2, err := responderA.Step(msg1)
	if err != nil {
		t.Fatal(err)
	}
	initiator.Step(msg2)

	// A second, fresh responder consuming the initiator's msg1 again is
	// a separate handshake attempt, so it succeeds.
	if _, err := responderB.Step(msg1); err != nil {
		t.Fatal("a fresh responder consuming msg1 again is itself valid (different session)")
	}
	// But feeding responderA's message2 to initiator a second time
	// (replay) must fail since initiator already advanced past it.
	if _, err := initiator.Step(msg2); err == nil {
		t.Fatal("expected rejection of replayed handshake message")
	}
}

func newTestSession(t *testing.T, role Role, hs *Handshake, cfg config.Config) *Session {
	t.Helper()
	id, err := types.NewSessionId()
	if err != nil {
		t.Fatal(err)
	}
	var peer types.PeerId
	s, err := NewSession(id, peer, hs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	_ = role
	return s
}

func TestSessionEncryptDecryptRoundTrip(t *testing.T) {
	initiator, responder := driveHandshake(t, mustStaticKey(t), mustStaticKey(t))
	cfg := config.Default()

	a := newTestSession(t, RoleInitiator, initiator, cfg)
	b := newTestSession(t, RoleResponder, responder, cfg)

	ct, err := a.Encrypt([]byte("roll the dice"))
	if err != nil {
		t.Fatal(err)
	}
	pt, err := b.Decrypt(ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != "roll the dice" {
		t.Fatalf("got %q", pt)
	}

	// Replaying the same ciphertext must be rejected.
	if _, err := b.Decrypt(ct); err == nil {
		t.Fatal("expected replay rejection")
	}
}

func TestSessionLifetimeExpiresOnMessageCount(t *testing.T) {
	initiator, responder := driveHandshake(t, mustStaticKey(t), mustStaticKey(t))
	cfg := config.Default()
	cfg.Session.MaxMessageCount = 3
	cfg.Rekey.MaxMessagesPerKey = 1000 // keep rotation out of the way

	a := newTestSession(t, RoleInitiator, initiator, cfg)
	b := newTestSession(t, RoleResponder, responder, cfg)
	_ = b

	for i := 0; i < 3; i++ {
		if _, err := a.Encrypt([]byte("msg")); err != nil {
			t.Fatalf("message %d should succeed: %v", i, err)
		}
	}
	if _, err := a.Encrypt([]byte("one too many")); err == nil {
		t.Fatal("expected session expiry after max_message_count")
	}
}

func TestSessionWarningAt80Percent(t *testing.T) {
	initiator, responder := driveHandshake(t, mustStaticKey(t), mustStaticKey(t))
	cfg := config.Default()
	cfg.Session.MaxMessageCount = 10
	cfg.Rekey.MaxMessagesPerKey = 1000

	a := newTestSession(t, RoleInitiator, initiator, cfg)
	_ = responder

	for i := 0; i < 8; i++ {
		if _, err := a.Encrypt([]byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case w := <-a.Warnings():
		if w.SessionID != a.ID() {
			t.Fatal("warning carries wrong session id")
		}
	default:
		t.Fatal("expected an 80% warning by message 8 of 10")
	}
}

func TestSessionRotationKeepsOldKeyForGracePeriod(t *testing.T) {
	initiator, responder := driveHandshake(t, mustStaticKey(t), mustStaticKey(t))
	cfg := config.Default()
	cfg.Rekey.MaxMessagesPerKey = 2
	cfg.Rekey.KeepOldKeysFor = time.Minute
	cfg.Session.MaxMessageCount = 1000

	a := newTestSession(t, RoleInitiator, initiator, cfg)
	b := newTestSession(t, RoleResponder, responder, cfg)

	// A delayed message, still under epoch 0, arrives after everything
	// else below and must still decrypt during the grace period.
	ct1, err := a.Encrypt([]byte("before rotation"))
	if err != nil {
		t.Fatal(err)
	}
	// Force A to rotate to epoch 1 without B ever calling Encrypt: B
	// must pick up A's new epoch purely from the header on the next
	// Decrypt (passive promotion), not from having rotated itself.
	a.Encrypt([]byte("x"))
	ct3, err := a.Encrypt([]byte("y"))
	if err != nil {
		t.Fatal(err)
	}
	if a.sendEpoch == 0 {
		t.Fatal("expected A to have rotated past epoch 0")
	}

	pt3, err := b.Decrypt(ct3)
	if err != nil {
		t.Fatalf("B should adopt A's new epoch from the header: %v", err)
	}
	if string(pt3) != "y" {
		t.Fatalf("got %q", pt3)
	}
	if b.recvEpoch != a.sendEpoch {
		t.Fatalf("B did not adopt A's epoch: got %d want %d", b.recvEpoch, a.sendEpoch)
	}

	// The epoch-0 message delivered late must still decrypt under the
	// retired key held in B's grace-period ring.
	if _, err := b.Decrypt(ct1); err != nil {
		t.Fatalf("delayed message under old epoch should still decrypt: %v", err)
	}
}

func TestPersistRoundTripContinuesCounters(t *testing.T) {
	initiator, responder := driveHandshake(t, mustStaticKey(t), mustStaticKey(t))
	cfg := config.Default()
	a := newTestSession(t, RoleInitiator, initiator, cfg)
	_ = responder

	for i := 0; i < 3; i++ {
		if _, err := a.Encrypt([]byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "sessions.db"), []byte("device-secret"), []byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.Save(a); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.Load(a.ID(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.sendCtr.Load() != a.sendCtr.Load() {
		t.Fatalf("send counter not continued: got %d want %d", loaded.sendCtr.Load(), a.sendCtr.Load())
	}
	if loaded.role != a.role {
		t.Fatal("role not persisted")
	}
}

func TestPersistVersionMismatchForcesRehandshake(t *testing.T) {
	initiator, responder := driveHandshake(t, mustStaticKey(t), mustStaticKey(t))
	cfg := config.Default()
	a := newTestSession(t, RoleInitiator, initiator, cfg)
	_ = responder

	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "sessions.db"), []byte("device-secret"), []byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Save(a); err != nil {
		t.Fatal(err)
	}

	var row blobRow
	if err := store.db.First(&row, "session_id = ?", a.ID().String()).Error; err != nil {
		t.Fatal(err)
	}
	row.Version = PersistVersion + 1
	if err := store.db.Save(&row).Error; err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load(a.ID(), cfg); err == nil {
		t.Fatal("expected version mismatch to force re-handshake")
	}
}

func TestChannelRejectsReusedNonce(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	ch := NewChannel(key)

	ct, err := ch.Seal([]byte("broadcast"))
	if err != nil {
		t.Fatal(err)
	}
	pt, err := ch.Open(ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != "broadcast" {
		t.Fatalf("got %q", pt)
	}
	if _, err := ch.Open(ct); err == nil {
		t.Fatal("expected rejection of reused (key, nonce)")
	}
}
