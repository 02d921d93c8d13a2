// Package memstore is an in-memory reference KeyValueStore, used by tests
// and as the default adapter for the demo daemon.
package memstore

import (
	"sync"

	"github.com/empower1/nodefabric/internal/storage"
)

// Store is a mutex-guarded map implementing storage.KeyValueStore.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New builds an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Exists(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[string(key)]
	return ok, nil
}

// AtomicBatchWrite applies every write under a single lock acquisition,
// so no reader ever observes a partial batch.
func (s *Store) AtomicBatchWrite(batch []storage.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range batch {
		v := make([]byte, len(w.Value))
		copy(v, w.Value)
		s.data[string(w.Key)] = v
	}
	return nil
}
