// Package boltstore adapts go.etcd.io/bbolt to the storage.KeyValueStore
// contract. The on-disk engine's internals stay out of this module's
// scope; this is a thin adapter exercising an existing embedded store
// behind the fixed contract, not a reimplementation of one.
package boltstore

import (
	"go.etcd.io/bbolt"

	"github.com/empower1/nodefabric/internal/storage"
)

var bucketName = []byte("nodefabric")

// Store wraps a single bbolt database file.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return storage.ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Exists(key []byte) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(bucketName).Get(key) != nil
		return nil
	})
	return exists, err
}

// AtomicBatchWrite applies batch inside a single bbolt transaction: bbolt
// commits the whole transaction atomically to disk, so partial state is
// never observable.
func (s *Store) AtomicBatchWrite(batch []storage.Write) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, w := range batch {
			if err := b.Put(w.Key, w.Value); err != nil {
				return err
			}
		}
		return nil
	})
}
