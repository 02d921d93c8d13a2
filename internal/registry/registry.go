// Package registry resolves the enabled subsystem set, enforces
// declared dependencies, and drives subsystem lifecycle
// (register → init → start → stop).
package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/ipc"
)

// Status is a subsystem's lifecycle state. Transitions form a DAG;
// Disabled is terminal for the run.
type Status string

const (
	StatusNotRegistered Status = "not_registered"
	StatusRegistered    Status = "registered"
	StatusStarting      Status = "starting"
	StatusRunning       Status = "running"
	StatusStopped       Status = "stopped"
	StatusFailed        Status = "failed"
	StatusDisabled      Status = "disabled"
)

// Subsystem is anything the registry can start and stop. Init runs once,
// synchronously, before Start; Start launches the subsystem's background
// tasks (typically reading a bus Subscription in a loop) and must return
// promptly; Stop must be idempotent-safe to call after a failed Start.
type Subsystem interface {
	ID() ipc.SubsystemID
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Descriptor declares one subsystem's static configuration: whether it is
// enabled for this run, whether it is load-bearing for overall health, and
// which other subsystems it depends on.
type Descriptor struct {
	ID           ipc.SubsystemID
	Enabled      bool
	IsCore       bool
	Dependencies []ipc.SubsystemID
	Subsystem    Subsystem // nil when Enabled is false
}

var (
	ErrUnknownSubsystem     = fmt.Errorf("registry: unknown subsystem")
	ErrDependencyDisabled   = fmt.Errorf("registry: dependency disabled")
	ErrAlreadyRegistered    = fmt.Errorf("registry: subsystem already registered")
	ErrNotRegistered        = fmt.Errorf("registry: subsystem not registered")
	ErrInvalidTransition    = fmt.Errorf("registry: invalid lifecycle transition")
	ErrSubsystemMissingImpl = fmt.Errorf("registry: enabled subsystem has no implementation")
)

type entry struct {
	desc   Descriptor
	status Status
}

// Registry owns every subsystem handle exclusively; subsystems own their
// own domain state.
type Registry struct {
	mu      sync.RWMutex
	log     *zap.Logger
	entries map[ipc.SubsystemID]*entry
	order   []ipc.SubsystemID // registration order, also start/stop order
}

// New builds an empty registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:     log.Named("registry"),
		entries: make(map[ipc.SubsystemID]*entry),
	}
}

// Register adds desc to the registry. A disabled descriptor is recorded as
// Disabled immediately and skipped by Init/Start/Stop.
func (r *Registry) Register(desc Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, desc.ID)
	}
	if desc.Enabled && desc.Subsystem == nil {
		return fmt.Errorf("%w: %s", ErrSubsystemMissingImpl, desc.ID)
	}

	status := StatusRegistered
	if !desc.Enabled {
		status = StatusDisabled
	}
	r.entries[desc.ID] = &entry{desc: desc, status: status}
	r.order = append(r.order, desc.ID)
	r.log.Info("registered subsystem", zap.Stringer("subsystem", desc.ID), zap.Bool("enabled", desc.Enabled))
	return nil
}

// Status reports the current lifecycle state of id.
func (r *Registry) Status(id ipc.SubsystemID) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return StatusNotRegistered, fmt.Errorf("%w: %s", ErrUnknownSubsystem, id)
	}
	return e.status, nil
}

// ValidateDependencies checks that, for every enabled subsystem, every
// declared dependency is also enabled. All violations are aggregated with
// multierr before refusing to start.
func (r *Registry) ValidateDependencies() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs error
	for _, id := range r.order {
		e := r.entries[id]
		if !e.desc.Enabled {
			continue
		}
		for _, dep := range e.desc.Dependencies {
			depEntry, ok := r.entries[dep]
			if !ok || !depEntry.desc.Enabled {
				errs = multierr.Append(errs, fmt.Errorf("%w: %s requires %s", ErrDependencyDisabled, id, dep))
			}
		}
	}
	return errs
}

// InitAll runs Init for every enabled subsystem in registration order,
// after validating dependencies. It stops at the first failure.
func (r *Registry) InitAll(ctx context.Context) error {
	if err := r.ValidateDependencies(); err != nil {
		return err
	}
	for _, id := range r.enabledOrder() {
		e := r.entryFor(id)
		if err := e.desc.Subsystem.Init(ctx); err != nil {
			r.setStatus(id, StatusFailed)
			return fmt.Errorf("init %s: %w", id, err)
		}
	}
	return nil
}

// StartAll starts every enabled subsystem in registration order.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, id := range r.enabledOrder() {
		e := r.entryFor(id)
		r.setStatus(id, StatusStarting)
		if err := e.desc.Subsystem.Start(ctx); err != nil {
			r.setStatus(id, StatusFailed)
			return fmt.Errorf("start %s: %w", id, err)
		}
		r.setStatus(id, StatusRunning)
		r.log.Info("subsystem running", zap.Stringer("subsystem", id))
	}
	return nil
}

// StopAll stops every enabled subsystem in reverse registration order,
// aborting outstanding tasks at their next suspension point. Errors are
// aggregated; StopAll always attempts every subsystem.
func (r *Registry) StopAll(ctx context.Context) error {
	order := r.enabledOrder()
	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		e := r.entryFor(id)
		if err := e.desc.Subsystem.Stop(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", id, err))
			r.setStatus(id, StatusFailed)
			continue
		}
		r.setStatus(id, StatusStopped)
	}
	return errs
}

// Healthy reports whether every enabled, is_core subsystem is Running.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		e := r.entries[id]
		if e.desc.Enabled && e.desc.IsCore && e.status != StatusRunning {
			return false
		}
	}
	return true
}

func (r *Registry) enabledOrder() []ipc.SubsystemID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ipc.SubsystemID, 0, len(r.order))
	for _, id := range r.order {
		if r.entries[id].desc.Enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) entryFor(id ipc.SubsystemID) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) setStatus(id ipc.SubsystemID, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id].status = status
}
