// Command nodefabricd wires the full subsystem fabric together against
// the in-memory reference adapters and drives a short demonstration
// chain: transactions enter through signature verification, consensus
// assembles blocks, the choreography commits them, and finality
// justifies and finalizes the resulting checkpoints.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/collab/mempoolgw"
	"github.com/empower1/nodefabric/internal/collab/sigverify"
	"github.com/empower1/nodefabric/internal/collab/validatorset"
	"github.com/empower1/nodefabric/internal/consensus"
	"github.com/empower1/nodefabric/internal/finality"
	"github.com/empower1/nodefabric/internal/ipc"
	"github.com/empower1/nodefabric/internal/mempool"
	"github.com/empower1/nodefabric/internal/registry"
	"github.com/empower1/nodefabric/internal/sigverification"
	"github.com/empower1/nodefabric/internal/statemgmt"
	"github.com/empower1/nodefabric/internal/storage/memstore"
	"github.com/empower1/nodefabric/internal/txindex"
)

const demoBlocks = 4

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("node exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	clk := clock.New()
	bus := ipc.NewBus()
	defer bus.Shutdown()

	keys, err := ipc.NewMasterKeyProvider([]byte("nodefabricd-demo-master-secret"))
	if err != nil {
		return err
	}

	kv := memstore.New()
	storeCfg := blockstorage.DefaultConfig()
	store, err := blockstorage.NewStore(storeCfg, kv, blockstorage.UnixDiskStatter{}, clk, log, bus, keys)
	if err != nil {
		return err
	}

	pool := mempool.New(mempool.DefaultConfig(), clk, log, bus, keys)
	gateway := mempoolgw.New(pool)
	index := txindex.New(txindex.DefaultConfig(), log)
	stateStore := statemgmt.New()
	verifier := sigverify.New()
	vsp := validatorset.New()

	finalityCfg := finality.DefaultConfig()
	finalityCfg.EpochLength = 2 // short epochs so the demo finalizes quickly
	breaker := finality.NewBreaker(finalityCfg, finality.NewSigVerifyAdapter(verifier, vsp), vsp, clk, log)

	validator := consensus.New(consensus.DefaultConfig(), store, gateway, log)

	consensusSub := consensus.NewSubsystem(validator, bus, keys, clk, log)
	finalitySub := finality.NewSubsystem(breaker, bus, keys, clk, log)

	reg := registry.New(log)
	descriptors := []registry.Descriptor{
		{ID: ipc.SubsystemBlockStorage, Enabled: true, IsCore: true,
			Subsystem: blockstorage.NewSubsystem(store, bus, log)},
		{ID: ipc.SubsystemTransactionIndexing, Enabled: true, IsCore: true,
			Dependencies: []ipc.SubsystemID{ipc.SubsystemBlockStorage},
			Subsystem:    txindex.NewSubsystem(index, bus, keys, clk, log)},
		{ID: ipc.SubsystemStateManagement, Enabled: true, IsCore: true,
			Dependencies: []ipc.SubsystemID{ipc.SubsystemBlockStorage},
			Subsystem:    statemgmt.NewSubsystem(stateStore, bus, keys, clk, log)},
		{ID: ipc.SubsystemMempool, Enabled: true, IsCore: true,
			Dependencies: []ipc.SubsystemID{ipc.SubsystemSignatureVerify},
			Subsystem:    mempool.NewSubsystem(pool, bus, keys, log)},
		{ID: ipc.SubsystemConsensus, Enabled: true, IsCore: true,
			Dependencies: []ipc.SubsystemID{ipc.SubsystemBlockStorage, ipc.SubsystemMempool},
			Subsystem:    consensusSub},
		{ID: ipc.SubsystemFinality, Enabled: true, IsCore: true,
			Dependencies: []ipc.SubsystemID{ipc.SubsystemBlockStorage, ipc.SubsystemConsensus},
			Subsystem:    finalitySub},
		{ID: ipc.SubsystemSignatureVerify, Enabled: true, IsCore: true,
			Subsystem: sigverification.NewSubsystem(verifier, bus, keys, clk, log)},
		{ID: ipc.SubsystemPeerDiscovery, Enabled: false},
		{ID: ipc.SubsystemSmartContracts, Enabled: false},
		{ID: ipc.SubsystemBloomFilters, Enabled: false},
		{ID: ipc.SubsystemEVMExecution, Enabled: false},
		{ID: ipc.SubsystemAPIGateway, Enabled: false},
	}
	for _, desc := range descriptors {
		if err := reg.Register(desc); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reg.InitAll(ctx); err != nil {
		return err
	}
	if err := reg.StartAll(ctx); err != nil {
		return err
	}
	defer reg.StopAll(context.Background())
	log.Info("fabric running", zap.Bool("healthy", reg.Healthy()))

	// A single demo validator holds all stake, so one attestation per
	// epoch clears the justification threshold.
	valPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return err
	}
	valID := finality.ValidatorID(sha256.Sum256(valPriv.PubKey().SerializeCompressed()))
	for epoch := uint64(0); epoch <= demoBlocks; epoch++ {
		var root blockstorage.Hash
		binary.BigEndian.PutUint64(root[:8], epoch)
		vsp.Seed(epoch, root, []validatorset.Validator{{
			ID: valID, Stake: 100, PublicKey: valPriv.PubKey().SerializeCompressed(),
		}})
	}

	userPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return err
	}

	go demoLoop(log, clk, bus, keys, consensusSub, store, valPriv, userPriv, valID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
	return nil
}

// demoLoop drives a short chain end to end: it submits one signed
// transaction per block, proposes the block, waits for the choreography
// to commit it, then attests at each epoch boundary so checkpoints
// justify and finalize.
func demoLoop(log *zap.Logger, clk clock.Clock, bus *ipc.Bus, keys ipc.KeyProvider,
	cons *consensus.Subsystem, store *blockstorage.Store,
	valPriv, userPriv *secp256k1.PrivateKey, valID finality.ValidatorID) {

	var parentHash blockstorage.Hash
	parentHeight := uint64(0)
	for i := 0; i < demoBlocks; i++ {
		submitTransaction(log, clk, bus, keys, userPriv, uint64(i))
		time.Sleep(time.Second)

		blockHash := demoBlockHash(uint64(i))
		err := cons.ProposeBlock(parentHeight, parentHash, blockHash,
			clk.Now().Unix(), valPriv.PubKey().SerializeCompressed(), nil, i == 0)
		if err != nil {
			log.Error("propose failed", zap.Error(err))
			return
		}
		time.Sleep(200 * time.Millisecond)

		height := uint64(i)
		stored, err := store.ReadBlockByHeight(height)
		if err != nil {
			log.Error("block did not commit", zap.Uint64("height", height), zap.Error(err))
			return
		}
		// One vote per epoch: a second vote in the same epoch for a
		// different block would be a slashable double vote.
		if height%2 == 0 {
			attest(log, clk, bus, keys, valPriv, valID, height, stored.Hash)
			time.Sleep(200 * time.Millisecond)
		}
		parentHash = stored.Hash
		parentHeight = height
	}
	if height, ok := store.FinalizedHeight(); ok {
		log.Info("demo chain complete", zap.Uint64("finalized_height", height))
	} else {
		log.Warn("demo chain complete but nothing finalized")
	}
}

func submitTransaction(log *zap.Logger, clk clock.Clock, bus *ipc.Bus, keys ipc.KeyProvider,
	priv *secp256k1.PrivateKey, nonce uint64) {

	sender := priv.PubKey().SerializeCompressed()
	payload := sigverification.SubmitTransactionPayload{
		Sender:    sender,
		PublicKey: sender,
		Nonce:     nonce,
		GasPrice:  10,
		GasLimit:  21000,
		Timestamp: clk.Now().Unix(),
	}
	payload.Hash = demoTxHash(sender, nonce)
	digest := sigverify.Hash256(sigverification.SigningBytes(payload))
	payload.Signature = secpecdsa.SignCompact(priv, digest[:], true)

	// The API gateway is out of scope; the demo impersonates it with its
	// derived key, which is exactly what a real gateway adapter would do.
	event, err := ipc.NewBusEvent(clk, keys, ipc.SubsystemAPIGateway, payload)
	if err != nil {
		log.Error("seal SubmitTransaction failed", zap.Error(err))
		return
	}
	bus.Publish(event)
}

func attest(log *zap.Logger, clk clock.Clock, bus *ipc.Bus, keys ipc.KeyProvider,
	priv *secp256k1.PrivateKey, valID finality.ValidatorID, height uint64, blockHash blockstorage.Hash) {

	epoch := height / 2 // matches the demo's EpochLength of 2
	att := finality.Attestation{
		ValidatorID:     valID,
		SourceEpoch:     epoch,
		TargetEpoch:     epoch,
		TargetBlockHash: blockHash,
		TargetHeight:    height,
	}
	digest := sigverify.Hash256(finality.AttestationSigningBytes(att))
	payload := finality.SubmitAttestationPayload{
		ValidatorID:     att.ValidatorID,
		Signature:       secpecdsa.SignCompact(priv, digest[:], true),
		SourceEpoch:     att.SourceEpoch,
		SourceBlockHash: att.SourceBlockHash,
		TargetEpoch:     att.TargetEpoch,
		TargetBlockHash: att.TargetBlockHash,
		TargetHeight:    att.TargetHeight,
	}
	event, err := ipc.NewBusEvent(clk, keys, ipc.SubsystemConsensus, payload)
	if err != nil {
		log.Error("seal SubmitAttestation failed", zap.Error(err))
		return
	}
	bus.Publish(event)
}

func demoBlockHash(height uint64) blockstorage.Hash {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], height)
	return sha256.Sum256(append([]byte("nodefabricd-block-"), seed[:]...))
}

func demoTxHash(sender []byte, nonce uint64) []byte {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], nonce)
	sum := sha256.Sum256(append(append([]byte("nodefabricd-tx-"), sender...), seed[:]...))
	return sum[:]
}
