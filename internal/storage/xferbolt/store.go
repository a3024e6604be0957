// Package xferbolt persists transfer progress in a BoltDB file: one
// record per transfer plus its chunk bitmask. An interrupted receive can
// then resume from the journaled bitmask instead of starting over.
package xferbolt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bRecords  = "transfers"
	bBitmasks = "bitmasks"

	defaultTO = 2 * time.Second
)

var ErrNotFound = errors.New("xferbolt: not found")

// Record is the journaled view of one transfer. State is the numeric
// transfer.State; this package stays ignorant of the state machine.
type Record struct {
	ID          uint32 `json:"id"`
	State       uint8  `json:"state"`
	Filename    string `json:"filename"`
	Peer        string `json:"peer"`
	TotalChunks uint32 `json:"total_chunks"`
	DoneChunks  uint32 `json:"done_chunks"`
}

// Store is a BoltDB-backed transfer journal.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("xferbolt: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bRecords)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bBitmasks)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func key(id uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], id)
	return k[:]
}

// SaveRecord upserts one transfer record.
func (s *Store) SaveRecord(r Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bRecords)).Put(key(r.ID), val)
	})
}

// SaveBitmask upserts the chunk bitmask for one transfer.
func (s *Store) SaveBitmask(id uint32, bits []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bBitmasks)).Put(key(id), bits)
	})
}

// Load returns the record and bitmask journaled for id.
func (s *Store) Load(id uint32) (Record, []byte, error) {
	var rec Record
	var bits []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bRecords)).Get(key(id))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if b := tx.Bucket([]byte(bBitmasks)).Get(key(id)); b != nil {
			bits = make([]byte, len(b))
			copy(bits, b)
		}
		return nil
	})
	if err != nil {
		return Record{}, nil, err
	}
	return rec, bits, nil
}

// List returns every journaled record in id order.
func (s *Store) List() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bRecords)).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a transfer's record and bitmask.
func (s *Store) Delete(id uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bRecords)).Delete(key(id)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bBitmasks)).Delete(key(id))
	})
}
