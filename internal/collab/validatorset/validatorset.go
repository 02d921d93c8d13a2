// Package validatorset is the reference ValidatorSetProvider adapter
// contract: an in-memory epoch-keyed validator set,
// breaking the cyclic Consensus/Finality -> state-management dependency
// by resolving the set through an explicit epoch state-root port instead
// of importing state-management directly.
package validatorset

import (
	"errors"
	"sync"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/finality"
)

var (
	ErrUnknownEpoch = errors.New("validatorset: no state root recorded for epoch")
	ErrUnknownRoot  = errors.New("validatorset: no validator set recorded for state root")
)

// Hash is the 32-byte content hash shared across the fabric.
type Hash = blockstorage.Hash

// Validator is one entry of an epoch's active set: an id, its stake
// weight, and the public key finality re-verifies attestation
// signatures against.
type Validator struct {
	ID        finality.ValidatorID
	Stake     uint64
	PublicKey []byte
}

// Provider is an in-memory ValidatorSetProvider keyed by epoch state
// root. A real deployment resolves both maps from state-management
// snapshots; this reference adapter is seeded directly, which is enough
// to exercise the contract in tests and the demo daemon.
type Provider struct {
	mu         sync.RWMutex
	epochRoots map[uint64]Hash
	setsByRoot map[Hash][]Validator
	epoch      uint64
}

// New returns an empty Provider at epoch 0.
func New() *Provider {
	return &Provider{
		epochRoots: make(map[uint64]Hash),
		setsByRoot: make(map[Hash][]Validator),
	}
}

// Seed registers the validator set active at epoch, keyed by its state
// root. Seeding an epoch higher than CurrentEpoch advances CurrentEpoch
// to it; seeding a lower or equal epoch leaves CurrentEpoch unchanged.
func (p *Provider) Seed(epoch uint64, stateRoot Hash, validators []Validator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epochRoots[epoch] = stateRoot
	cp := make([]Validator, len(validators))
	copy(cp, validators)
	p.setsByRoot[stateRoot] = cp
	if epoch > p.epoch {
		p.epoch = epoch
	}
}

// GetEpochStateRoot implements finality.ValidatorSetProvider.
func (p *Provider) GetEpochStateRoot(epoch uint64) (Hash, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	root, ok := p.epochRoots[epoch]
	if !ok {
		return Hash{}, ErrUnknownEpoch
	}
	return root, nil
}

// GetValidatorSetAtEpoch implements finality.ValidatorSetProvider.
func (p *Provider) GetValidatorSetAtEpoch(epoch uint64, stateRoot Hash) (finality.ValidatorSet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	validators, ok := p.setsByRoot[stateRoot]
	if !ok {
		return finality.ValidatorSet{}, ErrUnknownRoot
	}
	stakes := make(map[finality.ValidatorID]uint64, len(validators))
	for _, v := range validators {
		stakes[v.ID] = v.Stake
	}
	return finality.ValidatorSet{Stakes: stakes}, nil
}

// CurrentEpoch implements finality.ValidatorSetProvider.
func (p *Provider) CurrentEpoch() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.epoch
}

// PublicKey implements finality.PubKeyLookup by scanning every seeded
// set for a matching validator id. A production state snapshot would
// index this directly; the reference adapter's seeded sets are small
// enough that a scan is adequate.
func (p *Provider) PublicKey(id finality.ValidatorID) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, validators := range p.setsByRoot {
		for _, v := range validators {
			if v.ID == id {
				return v.PublicKey, true
			}
		}
	}
	return nil, false
}
