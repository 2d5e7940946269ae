package store

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const pendingBucket = "pending_checkouts"

var ErrKVClosed = errors.New("kv store is closed")

// BoltKV is a file-backed key/value store for client-local state.
type BoltKV struct {
	db *bolt.DB
}

// OpenBoltKV opens (or creates) the database file. A second process holding
// the file lock makes this fail after one second.
func OpenBoltKV(path string) (*BoltKV, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(pendingBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltKV{db: db}, nil
}

func (s *BoltKV) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Get returns nil when the key does not exist.
func (s *BoltKV) Get(key string) ([]byte, error) {
	if s.db == nil {
		return nil, ErrKVClosed
	}

	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(pendingBucket)).Get([]byte(key))
		if v != nil {
			// Bolt values are only valid for the life of the transaction.
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *BoltKV) Set(key string, value []byte) error {
	if s.db == nil {
		return ErrKVClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Put([]byte(key), value)
	})
}
