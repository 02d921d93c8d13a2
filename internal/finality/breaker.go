package finality

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/telemetry"
)

// Breaker is the pure-logic Finality Circuit Breaker: checkpoint
// justification/finalization, slashing detection, and the halted state.
// It holds no bus dependency; it stores the injected clock but performs
// no attestation-age check, mirroring how blockstorage.Store and
// mempool.Pool separate domain logic from their Subsystem wrapper.
type Breaker struct {
	cfg      Config
	log      *zap.Logger
	clock    clock.Clock
	verifier AttestationVerifier
	vsp      ValidatorSetProvider

	mu sync.Mutex

	checkpoints          map[uint64]*Checkpoint // by epoch
	lastJustifiedEpoch   uint64
	lastFinalizedEpoch   uint64
	lastFinalizedHeight  uint64
	lastFinalizedHash    Hash
	epochsWithoutFinality uint64

	// attestationHistory bounds each validator's recent votes for
	// slashing detection, newest last, capped at cfg.AttestationHistoryCeiling.
	attestationHistory map[ValidatorID][]Attestation

	slashable []SlashableOffense

	state           CircuitState
	syncFailures    int
	halted          bool
	inactivityLeak  bool
}

// NewBreaker builds a Breaker in the Running state with no checkpoints.
func NewBreaker(cfg Config, verifier AttestationVerifier, vsp ValidatorSetProvider, clk clock.Clock, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{
		cfg:                cfg,
		log:                log.Named("finality"),
		clock:              clk,
		verifier:           verifier,
		vsp:                vsp,
		checkpoints:        make(map[uint64]*Checkpoint),
		attestationHistory: make(map[ValidatorID][]Attestation),
		state:              StateRunning,
	}
}

// State reports the breaker's current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// epochOf maps a block height to its epoch under cfg.EpochLength.
func (b *Breaker) epochOf(height uint64) uint64 {
	if b.cfg.EpochLength == 0 {
		return height
	}
	return height / b.cfg.EpochLength
}

// RegisterCheckpointCandidate opens a checkpoint record at the block's
// epoch boundary once BlockStorage confirms the block, so attestations
// have a target to accumulate stake against. It is a no-op if a
// checkpoint for that epoch already exists.
func (b *Breaker) RegisterCheckpointCandidate(stored blockstorage.BlockStoredPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()

	epoch := b.epochOf(stored.BlockHeight)
	if _, exists := b.checkpoints[epoch]; exists {
		return
	}
	stakeRoot, err := b.vsp.GetEpochStateRoot(epoch)
	if err != nil {
		b.log.Warn("cannot resolve epoch state root", zap.Uint64("epoch", epoch), zap.Error(err))
		return
	}
	set, err := b.vsp.GetValidatorSetAtEpoch(epoch, stakeRoot)
	if err != nil {
		b.log.Warn("cannot resolve validator set", zap.Uint64("epoch", epoch), zap.Error(err))
		return
	}
	b.checkpoints[epoch] = newCheckpoint(epoch, stored.BlockHash, stored.BlockHeight, set.TotalStake())
}

// ProcessAttestation is the zero-trust attestation intake path: it
// re-verifies the signature regardless of any upstream check, confirms
// validator-set membership, screens for a slashable conflict against the
// validator's attestation history, and only then applies the vote's
// stake to the target checkpoint.
func (b *Breaker) ProcessAttestation(att Attestation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halted {
		return ErrSystemHalted
	}

	epoch := b.vsp.CurrentEpoch()
	stateRoot, err := b.vsp.GetEpochStateRoot(att.TargetEpoch)
	if err != nil {
		return err
	}
	set, err := b.vsp.GetValidatorSetAtEpoch(att.TargetEpoch, stateRoot)
	if err != nil {
		return err
	}
	if !set.Contains(att.ValidatorID) {
		return ErrUnknownValidator
	}
	if !b.verifier.VerifyAttestation(att, att.ValidatorID) {
		return ErrInvalidSignature
	}

	if offense, conflicted := b.checkConflict(att); conflicted {
		b.slashable = append(b.slashable, offense)
		telemetry.SlashableOffenses.WithLabelValues(offense.OffenseType.String()).Inc()
		b.log.Warn("slashable offense detected",
			zap.String("type", offense.OffenseType.String()),
			zap.Uint64("epoch", epoch))
		return ErrConflictingAttestation
	}
	b.recordHistory(att)

	checkpoint, ok := b.checkpoints[att.TargetEpoch]
	if !ok {
		checkpoint = newCheckpoint(att.TargetEpoch, att.TargetBlockHash, att.TargetHeight, set.TotalStake())
		b.checkpoints[att.TargetEpoch] = checkpoint
	}
	if _, already := checkpoint.Attesters[att.ValidatorID]; already {
		return nil
	}
	stake, _ := set.Stake(att.ValidatorID)
	checkpoint.Attesters[att.ValidatorID] = struct{}{}
	checkpoint.AttestedStake += stake

	b.tryJustify(checkpoint)
	b.tryFinalize()
	return nil
}

// checkConflict compares att against every attestation still retained in
// the validator's bounded history.
func (b *Breaker) checkConflict(att Attestation) (SlashableOffense, bool) {
	for _, prior := range b.attestationHistory[att.ValidatorID] {
		if prior.conflictsWith(att) {
			offenseType := OffenseSurroundVote
			if prior.TargetEpoch == att.TargetEpoch {
				offenseType = OffenseDoubleVote
			}
			return SlashableOffense{
				ValidatorID:   att.ValidatorID,
				OffenseType:   offenseType,
				First:         prior,
				Second:        att,
				DetectedEpoch: att.TargetEpoch,
			}, true
		}
	}
	return SlashableOffense{}, false
}

func (b *Breaker) recordHistory(att Attestation) {
	hist := append(b.attestationHistory[att.ValidatorID], att)
	if ceiling := b.cfg.AttestationHistoryCeiling; ceiling > 0 && len(hist) > ceiling {
		hist = hist[len(hist)-ceiling:]
	}
	b.attestationHistory[att.ValidatorID] = hist
}

// tryJustify promotes checkpoint to Justified once its attested stake
// clears the configured percentage of total stake.
func (b *Breaker) tryJustify(checkpoint *Checkpoint) {
	if checkpoint.Status != CheckpointPending {
		return
	}
	if checkpoint.TotalStake == 0 {
		return
	}
	if checkpoint.AttestedStake*100 >= checkpoint.TotalStake*b.cfg.JustificationThresholdPercent {
		checkpoint.Status = CheckpointJustified
		if checkpoint.Epoch > b.lastJustifiedEpoch || b.lastJustifiedEpoch == 0 {
			b.lastJustifiedEpoch = checkpoint.Epoch
		}
		b.log.Info("checkpoint justified", zap.Uint64("epoch", checkpoint.Epoch))
	}
}

// tryFinalize applies the two-consecutive-justified-checkpoints rule:
// epoch E finalizes once both E and E+1 are justified.
func (b *Breaker) tryFinalize() {
	for epoch, checkpoint := range b.checkpoints {
		if checkpoint.Status != CheckpointJustified {
			continue
		}
		next, ok := b.checkpoints[epoch+1]
		if !ok || next.Status != CheckpointJustified {
			continue
		}
		if checkpoint.Epoch <= b.lastFinalizedEpoch && b.lastFinalizedEpoch != 0 {
			continue
		}
		checkpoint.Status = CheckpointFinalized
		b.lastFinalizedEpoch = checkpoint.Epoch
		b.lastFinalizedHeight = checkpoint.BlockHeight
		b.lastFinalizedHash = checkpoint.BlockHash
		b.epochsWithoutFinality = 0
		b.inactivityLeak = false
		telemetry.CheckpointsFinalized.Inc()
		b.log.Info("checkpoint finalized",
			zap.Uint64("epoch", checkpoint.Epoch),
			zap.Uint64("height", checkpoint.BlockHeight))
	}
}

// LastFinalized returns the most recently finalized checkpoint's height,
// hash, and whether any checkpoint has ever finalized.
func (b *Breaker) LastFinalized() (uint64, Hash, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFinalizedHeight, b.lastFinalizedHash, b.lastFinalizedEpoch != 0 || b.lastFinalizedHash != (Hash{})
}

// SlashableOffenses returns every offense detected so far.
func (b *Breaker) SlashableOffenses() []SlashableOffense {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SlashableOffense, len(b.slashable))
	copy(out, b.slashable)
	return out
}

// AdvanceEpoch is called once per epoch boundary to track finalization
// liveness and raise the inactivity-leak flag after cfg.InactivityLeakEpochs
// consecutive epochs without a new finalization.
func (b *Breaker) AdvanceEpoch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epochsWithoutFinality++
	if b.epochsWithoutFinality >= b.cfg.InactivityLeakEpochs {
		b.inactivityLeak = true
		b.log.Warn("inactivity leak condition raised", zap.Uint64("epochs_without_finality", b.epochsWithoutFinality))
	}
}

// InactivityLeak reports whether the breaker currently sees an
// inactivity leak condition.
func (b *Breaker) InactivityLeak() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inactivityLeak
}

// setStateLocked transitions the circuit state and mirrors it into the
// observability gauge. Caller holds b.mu.
func (b *Breaker) setStateLocked(state CircuitState) {
	b.state = state
	var v float64
	switch state {
	case StateDegraded:
		v = 1
	case StateHaltedAwaitingIntervention:
		v = 2
	}
	telemetry.CircuitState.Set(v)
}

// ReportSyncFailure records a SyncFailed signal; after cfg.MaxSyncFailures
// consecutive failures the breaker halts and stops taking attestations.
func (b *Breaker) ReportSyncFailure() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncFailures++
	switch {
	case b.syncFailures >= b.cfg.MaxSyncFailures:
		b.setStateLocked(StateHaltedAwaitingIntervention)
		b.halted = true
	case b.syncFailures > 0:
		b.setStateLocked(StateDegraded)
	}
	return b.state
}

// ReportSyncRecovered clears the failure streak and returns the breaker
// to Running if it was only Degraded, not halted.
func (b *Breaker) ReportSyncRecovered() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncFailures = 0
	if !b.halted {
		b.setStateLocked(StateRunning)
	}
	return b.state
}

// ResetFromHalted is the explicit, out-of-band operator action that
// clears a halted breaker back to Running. There is no automatic path
// out of HaltedAwaitingIntervention.
func (b *Breaker) ResetFromHalted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
	b.syncFailures = 0
	b.setStateLocked(StateRunning)
}
