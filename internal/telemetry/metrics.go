// Package telemetry holds the fabric's Prometheus instrumentation.
// Collectors are registered on the default registry at package load;
// exposing them over HTTP is the (out-of-scope) admin surface's job —
// a host process mounts promhttp.Handler itself.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts bus publishes by topic.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodefabric",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Events published to the in-process bus, by topic.",
	}, []string{"topic"})

	// EventsDropped counts events lost to subscriber back-pressure.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nodefabric",
		Subsystem: "bus",
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber's bounded queue was full.",
	})

	// PendingAssemblies tracks the assembly buffer depth.
	PendingAssemblies = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodefabric",
		Subsystem: "blockstorage",
		Name:      "pending_assemblies",
		Help:      "Blocks currently awaiting one or more of their three choreography inputs.",
	})

	// BlocksStored counts committed blocks.
	BlocksStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nodefabric",
		Subsystem: "blockstorage",
		Name:      "blocks_stored_total",
		Help:      "Blocks atomically committed to the key/value store.",
	})

	// AssembliesTimedOut counts assemblies purged by the GC sweep.
	AssembliesTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nodefabric",
		Subsystem: "blockstorage",
		Name:      "assemblies_timed_out_total",
		Help:      "Incomplete assemblies purged after the configured timeout.",
	})

	// MempoolSize tracks pooled transactions by lifecycle state.
	MempoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nodefabric",
		Subsystem: "mempool",
		Name:      "transactions",
		Help:      "Pooled transactions by state.",
	}, []string{"state"})

	// CheckpointsFinalized counts finalized checkpoints.
	CheckpointsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nodefabric",
		Subsystem: "finality",
		Name:      "checkpoints_finalized_total",
		Help:      "Checkpoints that reached Finalized.",
	})

	// CircuitState reports the breaker's mode: 0 running, 1 degraded,
	// 2 halted awaiting intervention.
	CircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodefabric",
		Subsystem: "finality",
		Name:      "circuit_state",
		Help:      "Circuit breaker state (0=running, 1=degraded, 2=halted).",
	})

	// SlashableOffenses counts detected double and surround votes.
	SlashableOffenses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodefabric",
		Subsystem: "finality",
		Name:      "slashable_offenses_total",
		Help:      "Detected slashable offenses, by type.",
	}, []string{"type"})
)
