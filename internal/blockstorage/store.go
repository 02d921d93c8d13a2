package blockstorage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/ipc"
	"github.com/empower1/nodefabric/internal/storage"
	"github.com/empower1/nodefabric/internal/telemetry"
)

// Store is the Assembly Choreographer: it buffers per-block arrivals and
// commits a StoredBlock exactly once validated body, Merkle root, and
// state root have all arrived, then serves reads of committed blocks.
type Store struct {
	cfg   Config
	kv    storage.KeyValueStore
	disk  DiskStatter
	clock clock.Clock
	log   *zap.Logger
	bus   *ipc.Bus
	keys  ipc.KeyProvider

	pendingMu    sync.Mutex
	pending      map[Hash]*PendingAssembly
	pendingOrder []Hash

	indexMu         sync.RWMutex
	heightIndex     map[uint64]Hash
	latestHeight    uint64
	hasLatest       bool
	finalizedHeight uint64
	hasFinalized    bool
}

// NewStore builds a Store. It loads any existing metadata from kv so a
// restarted process resumes from its last committed height.
func NewStore(cfg Config, kv storage.KeyValueStore, disk DiskStatter, clk clock.Clock, log *zap.Logger, bus *ipc.Bus, keys ipc.KeyProvider) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		cfg:         cfg,
		kv:          kv,
		disk:        disk,
		clock:       clk,
		log:         log.Named("block-storage"),
		bus:         bus,
		keys:        keys,
		pending:     make(map[Hash]*PendingAssembly),
		heightIndex: make(map[uint64]Hash),
	}
	if err := s.loadMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadMetadata() error {
	data, err := s.kv.Get(metaKey())
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	meta, err := decodeMetadata(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	s.latestHeight = meta.LatestHeight
	s.hasLatest = meta.HasLatest
	s.finalizedHeight = meta.FinalizedHeight
	s.hasFinalized = meta.HasFinalized
	return nil
}

func (s *Store) currentMetadataLocked() Metadata {
	return Metadata{
		LatestHeight:    s.latestHeight,
		HasLatest:       s.hasLatest,
		FinalizedHeight: s.finalizedHeight,
		HasFinalized:    s.hasFinalized,
	}
}

// LatestHeight reports the highest committed height, if any.
func (s *Store) LatestHeight() (uint64, bool) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.latestHeight, s.hasLatest
}

// FinalizedHeight reports the highest finalized height, if any.
func (s *Store) FinalizedHeight() (uint64, bool) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.finalizedHeight, s.hasFinalized
}

// --- choreography: arrival handlers ---

// OnBlockValidated records the validated body for p.BlockHash.
func (s *Store) OnBlockValidated(p BlockValidatedPayload) error {
	pa, complete := s.arrive(p.BlockHash, func(pa *PendingAssembly) {
		block := p.Block
		pa.Validated = &block
		pa.BlockHeight = p.BlockHeight
	})
	if !complete {
		return nil
	}
	return s.commit(pa)
}

// OnMerkleRootComputed records the Merkle root for p.BlockHash.
func (s *Store) OnMerkleRootComputed(p MerkleRootComputedPayload) error {
	pa, complete := s.arrive(p.BlockHash, func(pa *PendingAssembly) {
		root := p.MerkleRoot
		pa.MerkleRoot = &root
	})
	if !complete {
		return nil
	}
	return s.commit(pa)
}

// OnStateRootComputed records the state root for p.BlockHash.
func (s *Store) OnStateRootComputed(p StateRootComputedPayload) error {
	pa, complete := s.arrive(p.BlockHash, func(pa *PendingAssembly) {
		root := p.StateRoot
		pa.StateRoot = &root
	})
	if !complete {
		return nil
	}
	return s.commit(pa)
}

// arrive applies mutate to the (possibly new) pending assembly for hash,
// purging timed-out assemblies first and evicting the oldest incomplete
// one if the buffer is still over ceiling afterward; GC runs strictly
// before eviction within one sweep. It returns a snapshot of
// the assembly and whether it is now complete.
func (s *Store) arrive(hash Hash, mutate func(*PendingAssembly)) (PendingAssembly, bool) {
	now := s.clock.Now()
	s.pendingMu.Lock()
	purged := s.purgeExpiredLocked(now)

	pa, ok := s.pending[hash]
	if !ok {
		if len(s.pending) >= s.cfg.MaxPendingAssemblies {
			if evicted := s.evictOldestLocked(); evicted != nil {
				s.log.Warn("assembly buffer full, evicted oldest incomplete assembly",
					zap.String("block_hash", fmt.Sprintf("%x", evicted.BlockHash)))
			}
		}
		pa = &PendingAssembly{BlockHash: hash, StartedAt: now}
		s.pending[hash] = pa
		s.pendingOrder = append(s.pendingOrder, hash)
	}
	mutate(pa)
	complete := pa.Complete()
	var result PendingAssembly
	if complete {
		result = *pa
		delete(s.pending, hash)
		s.removeFromOrderLocked(hash)
	}
	telemetry.PendingAssemblies.Set(float64(len(s.pending)))
	s.pendingMu.Unlock()

	for _, p := range purged {
		s.publishAssemblyTimeout(p, now)
	}
	return result, complete
}

func (s *Store) removeFromOrderLocked(hash Hash) {
	for i, h := range s.pendingOrder {
		if h == hash {
			s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
			return
		}
	}
}

func (s *Store) evictOldestLocked() *PendingAssembly {
	if len(s.pendingOrder) == 0 {
		return nil
	}
	hash := s.pendingOrder[0]
	s.pendingOrder = s.pendingOrder[1:]
	pa := s.pending[hash]
	delete(s.pending, hash)
	return pa
}

// purgeExpiredLocked removes every assembly older than AssemblyTimeout.
// Caller holds pendingMu.
func (s *Store) purgeExpiredLocked(now time.Time) []PendingAssembly {
	if len(s.pendingOrder) == 0 {
		return nil
	}
	cutoff := now.Add(-s.cfg.AssemblyTimeout)
	var purged []PendingAssembly
	kept := s.pendingOrder[:0]
	for _, hash := range s.pendingOrder {
		pa := s.pending[hash]
		if pa.StartedAt.Before(cutoff) {
			purged = append(purged, *pa)
			delete(s.pending, hash)
			continue
		}
		kept = append(kept, hash)
	}
	s.pendingOrder = kept
	return purged
}

// PendingCount reports the number of live pending assemblies, for tests
// and metrics; it never exceeds Config.MaxPendingAssemblies.
func (s *Store) PendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// RunGC forces an immediate purge sweep; the periodic GC task calls this
// on its own ticker.
func (s *Store) RunGC() {
	now := s.clock.Now()
	s.pendingMu.Lock()
	purged := s.purgeExpiredLocked(now)
	telemetry.PendingAssemblies.Set(float64(len(s.pending)))
	s.pendingMu.Unlock()
	for _, p := range purged {
		s.publishAssemblyTimeout(p, now)
	}
}

func (s *Store) publishAssemblyTimeout(p PendingAssembly, now time.Time) {
	telemetry.AssembliesTimedOut.Inc()
	s.log.Warn("assembly timed out", zap.String("block_hash", fmt.Sprintf("%x", p.BlockHash)))
	payload := AssemblyTimeoutPayload{
		BlockHash:      p.BlockHash,
		HadValidated:   p.Validated != nil,
		HadMerkleRoot:  p.MerkleRoot != nil,
		HadStateRoot:   p.StateRoot != nil,
		PendingSeconds: now.Sub(p.StartedAt).Seconds(),
	}
	s.publish(payload)
}

func (s *Store) publish(payload ipc.EventPayload) {
	if s.bus == nil {
		return
	}
	event, err := ipc.NewBusEvent(s.clock, s.keys, ipc.SubsystemBlockStorage, payload)
	if err != nil {
		s.log.Error("failed to seal event", zap.Error(err))
		return
	}
	s.bus.Publish(event)
}

// --- commit path ---

func (s *Store) commit(pa PendingAssembly) error {
	block := *pa.Validated
	height := pa.BlockHeight
	hash := pa.BlockHash
	merkleRoot := *pa.MerkleRoot
	stateRoot := *pa.StateRoot

	exists, err := s.kv.Exists(blockKey(hash))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if exists {
		return ErrBlockExists
	}

	if height != 0 {
		parentExists, err := s.kv.Exists(blockKey(block.Header.ParentHash))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if !parentExists {
			return ErrParentNotFound
		}
	}

	pct, err := s.disk.AvailablePercent(s.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if pct < s.cfg.DiskFloorPercent {
		return ErrDiskFull
	}

	sum := checksum(block.Header.ParentHash, height, merkleRoot, stateRoot)
	stored := StoredBlock{
		Block:      block,
		Hash:       hash,
		MerkleRoot: merkleRoot,
		StateRoot:  stateRoot,
		Checksum:   sum,
		StoredAt:   s.clock.Now(),
	}
	encoded, err := encodeStoredBlock(stored)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if len(encoded) > s.cfg.MaxBlockSize {
		return ErrBlockTooLarge
	}

	s.indexMu.Lock()
	meta := s.currentMetadataLocked()
	if !meta.HasLatest || height > meta.LatestHeight {
		meta.LatestHeight = height
		meta.HasLatest = true
	}
	encodedMeta, err := encodeMetadata(meta)
	s.indexMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	batch := []storage.Write{
		{Key: blockKey(hash), Value: encoded},
		{Key: heightKey(height), Value: append([]byte(nil), hash[:]...)},
		{Key: metaKey(), Value: encodedMeta},
	}
	for i, txHash := range block.Transactions {
		loc := TransactionLocation{BlockHash: hash, BlockHeight: height, TxIndex: i, MerkleRoot: merkleRoot}
		encLoc, err := encodeTxLocation(loc)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		batch = append(batch, storage.Write{Key: txKey(txHash), Value: encLoc})
	}

	if err := s.kv.AtomicBatchWrite(batch); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	s.indexMu.Lock()
	s.heightIndex[height] = hash
	s.latestHeight = meta.LatestHeight
	s.hasLatest = meta.HasLatest
	s.indexMu.Unlock()

	telemetry.BlocksStored.Inc()
	s.log.Info("block stored", zap.Uint64("height", height), zap.String("hash", fmt.Sprintf("%x", hash)))
	s.publish(BlockStoredPayload{BlockHash: hash, BlockHeight: height, MerkleRoot: merkleRoot, StateRoot: stateRoot})
	if len(block.Transactions) > 0 {
		s.publish(BlockStorageConfirmationPayload{BlockHeight: height, Transactions: block.Transactions})
	}
	return nil
}

// MarkFinalized records height as the highest finalized height. It
// accepts only strictly increasing heights.
func (s *Store) MarkFinalized(height uint64) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.hasFinalized && height <= s.finalizedHeight {
		return ErrInvalidFinalization
	}
	meta := s.currentMetadataLocked()
	meta.FinalizedHeight = height
	meta.HasFinalized = true
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if err := s.kv.AtomicBatchWrite([]storage.Write{{Key: metaKey(), Value: encoded}}); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	s.finalizedHeight = height
	s.hasFinalized = true
	return nil
}
