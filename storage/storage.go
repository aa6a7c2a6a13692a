// Package storage persists election state across restarts: sealed
// chains, the peer list, trustee key material, and a durable
// pending-vote queue. Artifacts are JSON-encoded into a prefixed
// key-value store, one prefix per artifact family, so every stored
// value is also human-inspectable on disk.
//
// Prefixes in use:
//   - 'ch/' sealed chains, keyed by election id
//   - 'pe/' the peer list snapshot
//   - 'tk/' trustee key material, keyed by election id
//   - 'pv/' pending votes awaiting inclusion, queued
//   - 'pvr/' reservations on pending votes, so a crashed worker's
//     in-flight pop does not permanently hide the entry
package storage

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/dmattosr/electioncore/coreerr"
)

var (
	chainPrefix             = []byte("ch/")
	peerPrefix              = []byte("pe/")
	keyMaterialPrefix       = []byte("tk/")
	pendingVotePrefix       = []byte("pv/")
	pendingVoteReservPrefix = []byte("pvr/")
)

// maxKeySize is the length, in bytes, of a content-derived key.
const maxKeySize = 12

// reservationTTL bounds how long a pop-without-ack reservation holds an
// entry out of circulation before it is eligible to be picked again.
const reservationTTL = 30 * time.Second

// Storage wraps a prefixed key-value database with JSON artifact
// encoding and a reservation-based queue.
type Storage struct {
	db db.Database
}

// New returns a Storage backed by backing.
func New(backing db.Database) *Storage {
	return &Storage{db: backing}
}

// Close closes the underlying database.
func (s *Storage) Close() {
	s.db.Close()
}

func hashKey(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:maxKeySize]
}

// setArtifact JSON-encodes v and stores it under key within prefix. If
// key is nil, the key is derived from the encoded content's hash.
func (s *Storage) setArtifact(prefix, key []byte, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode artifact: %v", coreerr.ErrIO, err)
	}
	if key == nil {
		key = hashKey(data)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, data); err != nil {
		wTx.Discard()
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	if err := wTx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return key, nil
}

// getArtifact JSON-decodes the value stored under key within prefix
// into out. It fails with coreerr.ErrNotFound if no such key exists.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrNotFound, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode artifact: %v", coreerr.ErrIO, err)
	}
	return nil
}

func (s *Storage) deleteArtifact(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Delete(key); err != nil {
		wTx.Discard()
		return fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return wTx.Commit()
}

// listKeys returns every key stored under prefix.
func (s *Storage) listKeys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(nil, func(k, _ []byte) bool {
		keyCopy := make([]byte, len(k))
		copy(keyCopy, k)
		keys = append(keys, keyCopy)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return keys, nil
}

type reservationRecord struct {
	ReservedAtUnix int64 `json:"reserved_at_unix"`
}

// isReserved reports whether key holds a live (non-expired) reservation.
func (s *Storage) isReserved(reservPrefix, key []byte) bool {
	var rec reservationRecord
	if err := s.getArtifact(reservPrefix, key, &rec); err != nil {
		return false
	}
	reservedAt := time.Unix(rec.ReservedAtUnix, 0)
	return time.Since(reservedAt) < reservationTTL
}

func (s *Storage) setReservation(reservPrefix, key []byte, now time.Time) error {
	_, err := s.setArtifact(reservPrefix, key, reservationRecord{ReservedAtUnix: now.Unix()})
	return err
}

func (s *Storage) clearReservation(reservPrefix, key []byte) error {
	if err := s.deleteArtifact(reservPrefix, key); err != nil && !errors.Is(err, coreerr.ErrNotFound) {
		return err
	}
	return nil
}
