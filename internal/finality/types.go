// Package finality implements the finality circuit breaker:
// Casper-FFG-style checkpoint justification and finalization,
// slashing detection, and an explicit halted state that stops taking
// input rather than silently advancing on pathological conditions.
package finality

import (
	"github.com/empower1/nodefabric/internal/blockstorage"
)

// Hash is the 32-byte content hash shared with blockstorage.
type Hash = blockstorage.Hash

// ValidatorID identifies a validator within the active set for an epoch.
type ValidatorID [32]byte

// CheckpointStatus is a Checkpoint's place in the justification/
// finalization lifecycle.
type CheckpointStatus int

const (
	CheckpointPending CheckpointStatus = iota
	CheckpointJustified
	CheckpointFinalized
)

// Checkpoint is an epoch boundary's justification/finalization record.
// Finalized implies Justified; attested stake never exceeds total stake.
type Checkpoint struct {
	Epoch         uint64
	BlockHash     Hash
	BlockHeight   uint64
	AttestedStake uint64
	TotalStake    uint64
	Status        CheckpointStatus
	// Attesters records which validators have already contributed stake
	// to this checkpoint, so a validator's second attestation for the
	// same target does not double-count.
	Attesters map[ValidatorID]struct{}
}

func newCheckpoint(epoch uint64, blockHash Hash, blockHeight, totalStake uint64) *Checkpoint {
	return &Checkpoint{
		Epoch:       epoch,
		BlockHash:   blockHash,
		BlockHeight: blockHeight,
		TotalStake:  totalStake,
		Attesters:   make(map[ValidatorID]struct{}),
	}
}

// Attestation is a single validator's vote for a Casper-FFG source/target
// checkpoint pair.
type Attestation struct {
	ValidatorID     ValidatorID
	Signature       []byte // 65-byte ECDSA or 96-byte BLS, never mixed within one proof
	SourceEpoch     uint64
	SourceBlockHash Hash
	TargetEpoch     uint64
	TargetBlockHash Hash
	TargetHeight    uint64
}

// conflictsWith reports whether a and b are the two conflicting votes of
// a slashable offense: a double vote (same target epoch, different
// target block) or a surround vote (one attestation's source/target
// range strictly contains the other's).
func (a Attestation) conflictsWith(b Attestation) bool {
	if a.TargetEpoch == b.TargetEpoch && a.TargetBlockHash != b.TargetBlockHash {
		return true
	}
	if a.SourceEpoch < b.SourceEpoch && a.TargetEpoch > b.TargetEpoch {
		return true
	}
	if b.SourceEpoch < a.SourceEpoch && b.TargetEpoch > a.TargetEpoch {
		return true
	}
	return false
}

// SlashableOffenseType classifies a detected conflict.
type SlashableOffenseType int

const (
	OffenseDoubleVote SlashableOffenseType = iota
	OffenseSurroundVote
)

func (t SlashableOffenseType) String() string {
	if t == OffenseSurroundVote {
		return "surround_vote"
	}
	return "double_vote"
}

// SlashableOffense records a detected double/surround vote: the type,
// both conflicting attestations, and the epoch at which it was caught.
type SlashableOffense struct {
	ValidatorID   ValidatorID
	OffenseType   SlashableOffenseType
	First, Second Attestation
	DetectedEpoch uint64
}

// CircuitState is the breaker's current mode.
type CircuitState string

const (
	StateRunning                   CircuitState = "running"
	StateDegraded                  CircuitState = "degraded"
	StateHaltedAwaitingIntervention CircuitState = "halted_awaiting_intervention"
)

// ValidatorSet is the active validator set resolved for one epoch.
type ValidatorSet struct {
	Stakes map[ValidatorID]uint64
}

// Contains reports whether id is in the active set.
func (v ValidatorSet) Contains(id ValidatorID) bool {
	_, ok := v.Stakes[id]
	return ok
}

// Stake returns id's stake weight, if present.
func (v ValidatorSet) Stake(id ValidatorID) (uint64, bool) {
	s, ok := v.Stakes[id]
	return s, ok
}

// TotalStake sums every validator's stake in the set.
func (v ValidatorSet) TotalStake() uint64 {
	var total uint64
	for _, s := range v.Stakes {
		total += s
	}
	return total
}

// ValidatorSetProvider breaks the cyclic "Consensus -> validator set ->
// state root -> validator set" dependency: the validator set
// at epoch E is resolved by first resolving the epoch's state root and
// then reading from the state snapshot at that root, through this port,
// rather than importing state-management directly.
type ValidatorSetProvider interface {
	GetValidatorSetAtEpoch(epoch uint64, stateRoot Hash) (ValidatorSet, error)
	GetEpochStateRoot(epoch uint64) (Hash, error)
	CurrentEpoch() uint64
}

// AttestationVerifier re-verifies an attestation's signature,
// independent of any upstream validation: inputs are never trusted just
// because a prior hop claims to have checked them.
type AttestationVerifier interface {
	VerifyAttestation(att Attestation, validator ValidatorID) bool
}
