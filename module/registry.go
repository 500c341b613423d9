package module

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/errors"
)

// Registry is the set of live modules. The host creates one and passes it
// to the loader; cvar changes reach modules through it.
type Registry struct {
	log    *zap.Logger
	mods   []*Instance
	mu     sync.Mutex
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log}
}

// Add registers inst. Names are unique among live modules.
func (r *Registry) Add(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New(errors.PhaseLoad, errors.KindClosed).Module(inst.Name()).Detail("registry closed").Build()
	}
	for _, m := range r.mods {
		if m.name == inst.name {
			return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Module(inst.Name()).Detail("a module with this name is already loaded").Build()
		}
	}
	r.mods = append(r.mods, inst)
	return nil
}

// Remove drops the named module without unloading it.
func (r *Registry) Remove(name string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, m := range r.mods {
		if m.name == name {
			r.mods = append(r.mods[:k], r.mods[k+1:]...)
			return m
		}
	}
	return nil
}

// Get returns the named module or nil.
func (r *Registry) Get(name string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mods {
		if m.name == name {
			return m
		}
	}
	return nil
}

// Each calls fn for every module in load order. fn may add or remove
// modules.
func (r *Registry) Each(fn func(*Instance)) {
	for _, m := range r.snapshot() {
		fn(m)
	}
}

func (r *Registry) snapshot() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Instance(nil), r.mods...)
}

// Len returns the number of live modules.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mods)
}

// Attach subscribes the registry to cvar changes. Every change is pushed
// into the mirrors of every loaded module that registered the variable.
func (r *Registry) Attach(cvars *cvar.Registry) {
	cvars.Subscribe(r.Propagate)
}

// Propagate pushes v into every loaded module's mirrors. Faulted modules
// are skipped.
func (r *Registry) Propagate(v *cvar.Var) {
	for _, m := range r.snapshot() {
		if m.State() != Loaded || m.ledger == nil {
			continue
		}
		if err := m.ledger.Propagate(v); err != nil {
			r.log.Warn("cvar propagation failed",
				zap.String("module", m.name),
				zap.String("cvar", v.Name),
				zap.Error(err))
		}
	}
}

// Close unloads every module, most recently loaded first, and refuses
// further additions.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	mods := r.mods
	r.mods = nil
	r.closed = true
	r.mu.Unlock()

	var errs error
	for k := len(mods) - 1; k >= 0; k-- {
		errs = multierr.Append(errs, mods[k].Unload(ctx))
	}
	return errs
}
