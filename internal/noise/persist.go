package noise

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"fmt"

	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/types"
	"github.com/bitcraps/bitcraps/internal/xcrypto"
)

var timeNow = time.Now

// PersistVersion is the non-skippable format version of §6: a mismatch
// forces re-handshake rather than a silent partial restore.
const PersistVersion = uint8(1)

// sessionRecord is the serialized transport state. Unlike the Noise
// reference engine (whose persisted format regenerates the local
// keypair on load, invalidating identity across restarts), the role
// and the session id are persisted too so rekey counters stay
// unambiguous (§9 open questions).
type sessionRecord struct {
	Version     uint8
	SessionID   types.SessionId
	Peer        types.PeerId
	Role        Role
	BaseSendKey [32]byte
	BaseRecvKey [32]byte
	SendEpoch   uint64
	RecvEpoch   uint64
	SendCounter uint64
	RecvCounter uint64
}

// blobRow is the gorm-mapped table backing the encrypted-blob key
// value store (§6 Persistence), the same ORM/SQLite pairing the
// reference mesh controller uses for its own durable state.
type blobRow struct {
	SessionID string `gorm:"primaryKey"`
	Version   uint8
	Payload   []byte
}

func (blobRow) TableName() string { return "noise_session_blobs" }

// Store is an encrypted key-value store for persisted sessions.
type Store struct {
	db         *gorm.DB
	storageKey [chacha20poly1305.KeySize]byte
}

// OpenStore opens (or creates) the sqlite-backed blob store at path,
// deriving the storage key from a device-bound secret via Argon2id.
func OpenStore(path string, deviceSecret, salt []byte) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, faults.Wrap(faults.CodeCorruptPersistedState, fmt.Errorf("open session store: %w", err))
	}
	if err := db.AutoMigrate(&blobRow{}); err != nil {
		return nil, faults.Wrap(faults.CodeCorruptPersistedState, fmt.Errorf("migrate session store: %w", err))
	}
	key := xcrypto.DeriveStorageKey(deviceSecret, salt, xcrypto.DefaultArgon2Params())
	s := &Store{db: db}
	copy(s.storageKey[:], key)
	return s, nil
}

// Save atomically encrypts and writes the session's transport state.
// The storage key is shared device-wide across every persisted
// session, so the blob nonce is drawn from the CSPRNG rather than any
// session-local counter: a counter unique only within one session
// would collide across sessions sealed under the same key.
func (store *Store) Save(s *Session) error {
	s.mu.RLock()
	rec := sessionRecord{
		Version:     PersistVersion,
		SessionID:   s.id,
		Peer:        s.peer,
		Role:        s.role,
		BaseSendKey: s.baseSendKey,
		BaseRecvKey: s.baseRecvKey,
		SendEpoch:   s.sendEpoch,
		RecvEpoch:   s.recvEpoch,
		SendCounter: s.sendCtr.Load(),
		RecvCounter: s.recvCtr.Load(),
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return faults.Wrap(faults.CodeCorruptPersistedState, err)
	}

	aead, err := xcrypto.NewChannelAEAD(store.storageKey)
	if err != nil {
		return faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	ciphertext := aead.Seal(nil, nonce[:], buf.Bytes(), []byte(s.id.String()))

	payload := make([]byte, 0, chacha20poly1305.NonceSizeX+len(ciphertext))
	payload = append(payload, nonce[:]...)
	payload = append(payload, ciphertext...)

	row := blobRow{SessionID: s.id.String(), Version: PersistVersion, Payload: payload}
	if err := store.db.Save(&row).Error; err != nil {
		return faults.Wrap(faults.CodeCorruptPersistedState, fmt.Errorf("write session blob: %w", err))
	}
	return nil
}

// Load decrypts and verifies a persisted session. A version mismatch
// or integrity failure forces re-handshake rather than trusting a
// partially-valid restore.
func (store *Store) Load(id types.SessionId, cfg config.Config) (*Session, error) {
	var row blobRow
	if err := store.db.First(&row, "session_id = ?", id.String()).Error; err != nil {
		return nil, faults.Wrap(faults.CodeCorruptPersistedState, fmt.Errorf("read session blob: %w", err))
	}
	if row.Version != PersistVersion {
		return nil, faults.New(faults.CodeCorruptPersistedState,
			"persisted session version %d incompatible with %d, re-handshake required", row.Version, PersistVersion)
	}
	if len(row.Payload) < chacha20poly1305.NonceSizeX {
		return nil, faults.New(faults.CodeCorruptPersistedState, "truncated session blob")
	}
	nonce := row.Payload[:chacha20poly1305.NonceSizeX]
	ciphertext := row.Payload[chacha20poly1305.NonceSizeX:]

	aead, err := xcrypto.NewChannelAEAD(store.storageKey)
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(id.String()))
	if err != nil {
		return nil, faults.New(faults.CodeCorruptPersistedState, "session blob failed integrity check")
	}

	var rec sessionRecord
	if err := gob.NewDecoder(bytes.NewReader(plaintext)).Decode(&rec); err != nil {
		return nil, faults.Wrap(faults.CodeCorruptPersistedState, err)
	}

	now := timeNow()
	s := &Session{
		id:          rec.SessionID,
		peer:        rec.Peer,
		role:        rec.Role,
		phase:       PhaseTransport,
		baseSendKey: rec.BaseSendKey,
		baseRecvKey: rec.BaseRecvKey,
		sendEpoch:   rec.SendEpoch,
		recvEpoch:   rec.RecvEpoch,
		createdAt:   now,
		lastActive:  now,
		rotatedAt:   now,
		cfg:         cfg,
		warnings:    make(chan Warning, 8),
		now:         timeNow,
	}
	sendKey, err := epochKey(s.baseSendKey, s.sendEpoch)
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	recvKey, err := epochKey(s.baseRecvKey, s.recvEpoch)
	if err != nil {
		return nil, faults.Wrap(faults.CodeCryptoPrimitiveFailure, err)
	}
	s.sendKey = sendKey
	s.recvKey = recvKey
	s.sendCtr.Store(rec.SendCounter)
	s.recvCtr.Store(rec.RecvCounter)
	return s, nil
}

// Close releases the underlying database handle.
func (store *Store) Close() error {
	db, err := store.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
