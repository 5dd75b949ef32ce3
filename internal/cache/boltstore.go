package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const recordsBucket = "records"

// BoltStore persists cache entries in a local bbolt file so recognition
// results survive restarts.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the cache database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		return berr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load returns the stored entry for a fingerprint, or nil on miss.
func (s *BoltStore) Load(fingerprint string) (*Entry, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(recordsBucket)).Get([]byte(fingerprint)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &e, nil
}

// Save stores an entry under its fingerprint.
func (s *BoltStore) Save(fingerprint string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).Put([]byte(fingerprint), raw)
	})
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
