// Package module holds loaded module instances and the registry of live
// modules.
//
// An Instance pairs one backend, bytecode or native, with the ledger of
// host resources the module acquired. Callers use Instance.Call the same
// way for both backends. Unload releases the ledger before destroying the
// backend, so cleanup still runs under the module's identity.
package module

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/ledger"
	"github.com/wippyai/modhost/value"
)

// State is the lifecycle state of an instance.
type State int32

const (
	Unloaded State = iota
	Loading
	Loaded
	Faulted
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// Instance is one loaded module.
type Instance struct {
	backend Backend
	iface   *abi.Interface
	ledger  *ledger.Ledger
	log     *zap.Logger
	name    string
	mu      sync.Mutex
	state   State
}

// New wraps a ready backend. The instance starts Loaded.
func New(name string, iface *abi.Interface, backend Backend, l *ledger.Ledger, log *zap.Logger) *Instance {
	if log == nil {
		log = zap.NewNop()
	}
	return &Instance{
		backend: backend,
		iface:   iface,
		ledger:  l,
		log:     log.With(zap.String("module", name), zap.String("backend", backend.Kind())),
		name:    name,
		state:   Loaded,
	}
}

func (i *Instance) Name() string              { return i.name }
func (i *Instance) Interface() *abi.Interface { return i.iface }
func (i *Instance) Backend() Backend          { return i.backend }
func (i *Instance) Ledger() *ledger.Ledger    { return i.ledger }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Call invokes a declared export. Arguments must match the export
// signature tag for tag. A call that faults the backend moves the
// instance to Faulted; later calls are refused until it is reloaded.
func (i *Instance) Call(ctx context.Context, export string, args ...value.Value) ([]value.Value, error) {
	i.mu.Lock()
	state := i.state
	i.mu.Unlock()

	switch state {
	case Unloaded:
		return nil, errors.New(errors.PhaseRuntime, errors.KindClosed).
			Module(i.name).Symbol(export).Detail("module unloaded").Build()
	case Faulted:
		return nil, errors.New(errors.PhaseRuntime, errors.KindCorrupted).
			Module(i.name).Symbol(export).Detail("module faulted by an earlier call").Build()
	}

	d, ok := i.iface.Export(export)
	if !ok {
		return nil, errors.New(errors.PhaseRuntime, errors.KindMissingExport).
			Module(i.name).Symbol(export).Detail("not declared by interface %s", i.iface.Name).Build()
	}
	if !d.Signature.Accepts(args) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Module(i.name).Symbol(export).Detail("arguments %v do not match %s", args, d.Signature.Mask).Build()
	}

	out, err := i.backend.call(ctx, i.name, d, args)
	if err != nil {
		if i.backend.faulted() {
			i.mu.Lock()
			if i.state == Loaded {
				i.state = Faulted
			}
			i.mu.Unlock()
			i.log.Error("module faulted", zap.String("export", export), zap.Error(err))
		}
		return nil, err
	}
	return out, nil
}

// Unload releases the ledger, then destroys the backend. Errors from both
// steps are returned together; the instance is unloaded either way.
// Unloading twice does nothing.
func (i *Instance) Unload(ctx context.Context) error {
	i.mu.Lock()
	if i.state == Unloaded {
		i.mu.Unlock()
		return nil
	}
	i.state = Unloaded
	i.mu.Unlock()

	var errs error
	if i.ledger != nil {
		errs = multierr.Append(errs, i.ledger.Release())
	}
	errs = multierr.Append(errs, i.backend.destroy(ctx))
	if errs != nil {
		i.log.Warn("unload finished with errors", zap.Error(errs))
	} else {
		i.log.Debug("unloaded")
	}
	return errs
}
