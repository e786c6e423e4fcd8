package reputation

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/bitcraps/bitcraps/internal/config"
	"github.com/bitcraps/bitcraps/internal/faults"
	"github.com/bitcraps/bitcraps/internal/log"
	"github.com/bitcraps/bitcraps/internal/types"
)

var repLog = log.New(log.RepTag)

const startingScore = 0.5

// Ledger is the C8 reputation store: an in-memory score map plus a
// goleveldb evidence log, so the proof behind an ejection survives a
// restart. Scores themselves are not persisted, and Open does not
// rebuild them from the log: after a restart every peer starts again
// at the starting score.
type Ledger struct {
	mu     sync.RWMutex
	scores map[types.PeerId]float64
	cfg    config.ReputationConfig
	db     *leveldb.DB
}

// Open loads (or creates) the evidence log at path. An empty path
// keeps the ledger in memory only, for tests and simulation.
func Open(path string, cfg config.ReputationConfig) (*Ledger, error) {
	l := &Ledger{scores: make(map[types.PeerId]float64), cfg: cfg}
	if path == "" {
		return l, nil
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open reputation evidence log: %w", err)
	}
	l.db = db
	return l, nil
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Score returns peer's current reputation, defaulting to the §4.8
// starting score of 0.5 for a peer never seen before.
func (l *Ledger) Score(peer types.PeerId) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.scores[peer]; ok {
		return s
	}
	return startingScore
}

// BelowThreshold reports whether peer's reputation has fallen far
// enough that C4 must refuse to gossip from it and C6 must exclude it
// from the next validator set.
func (l *Ledger) BelowThreshold(peer types.PeerId) bool {
	return l.Score(peer) < l.cfg.ExclusionThreshold
}

func (l *Ledger) set(peer types.PeerId, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	l.mu.Lock()
	l.scores[peer] = score
	l.mu.Unlock()
}

// RecordEquivocation drops peer's reputation to 0 irrevocably and
// persists the proof; the drop cannot be undone by any later +δ_good.
func (l *Ledger) RecordEquivocation(peer types.PeerId, proof EquivocationProof) error {
	if err := VerifyEquivocation(proof); err != nil {
		return faults.Wrap(faults.CodeInvalidSignature, err)
	}
	l.set(peer, 0)
	repLog.Warnf("peer %s ejected: equivocation proof verified", peer)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(proof); err != nil {
		return fmt.Errorf("encode equivocation proof for %s: %w", peer, err)
	}
	return l.persistEvidence(peer, "equivocation", buf.Bytes())
}

// RecordMissedReveal applies δ_missed after a committed peer fails to
// reveal before the reveal deadline (§4.5, §4.8).
func (l *Ledger) RecordMissedReveal(peer types.PeerId) {
	l.adjust(peer, -l.cfg.DeltaMissed)
	repLog.Debugf("peer %s missed reveal, reputation now %.3f", peer, l.Score(peer))
}

// RecordInvalidSignature applies δ_invalid for a bad MAC or signature
// that falls short of a full equivocation proof.
func (l *Ledger) RecordInvalidSignature(peer types.PeerId) {
	l.adjust(peer, -l.cfg.DeltaInvalid)
}

// RecordGood applies a bounded +δ_good for successful participation in
// a committed round.
func (l *Ledger) RecordGood(peer types.PeerId) {
	l.adjust(peer, l.cfg.DeltaGood)
}

func (l *Ledger) adjust(peer types.PeerId, delta float64) {
	l.mu.Lock()
	cur, ok := l.scores[peer]
	if !ok {
		cur = startingScore
	}
	if cur == 0 {
		// irrevocably ejected; no adjustment can restore it.
		l.mu.Unlock()
		return
	}
	next := cur + delta
	if next < 0 {
		next = 0
	}
	if next > 1 {
		next = 1
	}
	l.scores[peer] = next
	l.mu.Unlock()
}

func (l *Ledger) persistEvidence(peer types.PeerId, kind string, proof []byte) error {
	if l.db == nil {
		return nil
	}
	key := evidenceKey(peer, kind)
	if err := l.db.Put(key, proof, nil); err != nil {
		return fmt.Errorf("persist %s evidence for %s: %w", kind, peer, err)
	}
	return nil
}

func evidenceKey(peer types.PeerId, kind string) []byte {
	key := make([]byte, 0, len(peer)+len(kind)+8)
	key = append(key, peer[:]...)
	key = append(key, kind...)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(len(kind)))
	return append(key, seq[:]...)
}
