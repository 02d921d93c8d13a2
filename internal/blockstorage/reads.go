package blockstorage

import (
	"errors"
	"fmt"

	"github.com/empower1/nodefabric/internal/storage"
)

// ReadBlock fetches the committed block for hash, verifying its integrity
// checksum before returning it.
func (s *Store) ReadBlock(hash Hash) (StoredBlock, error) {
	data, err := s.kv.Get(blockKey(hash))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return StoredBlock{}, ErrBlockNotFound
	}
	if err != nil {
		return StoredBlock{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return s.decodeAndVerify(data)
}

// ReadBlockByHeight resolves height to its block, using the in-memory
// height index when available and falling back to the height/ key
// otherwise (e.g. immediately after process restart before a read warms
// the index).
func (s *Store) ReadBlockByHeight(height uint64) (StoredBlock, error) {
	s.indexMu.RLock()
	hash, ok := s.heightIndex[height]
	s.indexMu.RUnlock()
	if ok {
		return s.ReadBlock(hash)
	}

	data, err := s.kv.Get(heightKey(height))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return StoredBlock{}, ErrHeightNotFound
	}
	if err != nil {
		return StoredBlock{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if len(data) != len(Hash{}) {
		return StoredBlock{}, fmt.Errorf("%w: malformed height index entry", ErrDataCorruption)
	}
	var h Hash
	copy(h[:], data)
	block, err := s.ReadBlock(h)
	if err != nil {
		return StoredBlock{}, err
	}
	s.indexMu.Lock()
	s.heightIndex[height] = h
	s.indexMu.Unlock()
	return block, nil
}

// ReadRange returns up to the configured RangeReadCap blocks starting at
// fromHeight, regardless of the caller-requested limit.
func (s *Store) ReadRange(fromHeight uint64, limit int) ([]StoredBlock, error) {
	if limit <= 0 || limit > s.cfg.RangeReadCap {
		limit = s.cfg.RangeReadCap
	}
	blocks := make([]StoredBlock, 0, limit)
	for height := fromHeight; len(blocks) < limit; height++ {
		block, err := s.ReadBlockByHeight(height)
		if errors.Is(err, ErrHeightNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// LookupTransaction resolves a transaction hash to the location of the
// block that contains it.
func (s *Store) LookupTransaction(txHash []byte) (TransactionLocation, error) {
	data, err := s.kv.Get(txKey(txHash))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return TransactionLocation{}, ErrTransactionNotFound
	}
	if err != nil {
		return TransactionLocation{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	loc, err := decodeTxLocation(data)
	if err != nil {
		return TransactionLocation{}, fmt.Errorf("%w: %v", ErrDataCorruption, err)
	}
	return loc, nil
}

func (s *Store) decodeAndVerify(data []byte) (StoredBlock, error) {
	block, err := decodeStoredBlock(data)
	if err != nil {
		return StoredBlock{}, fmt.Errorf("%w: %v", ErrDataCorruption, err)
	}
	want := checksum(block.Block.Header.ParentHash, block.Block.Header.Height, block.MerkleRoot, block.StateRoot)
	if want != block.Checksum {
		return StoredBlock{}, ErrDataCorruption
	}
	return block, nil
}
