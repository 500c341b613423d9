package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/engine"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/value"
)

// Backend is either *Bytecode or *Native. The interface is sealed: no
// other type can implement it, so an instance always has exactly one
// backend.
type Backend interface {
	// Kind names the backend for diagnostics.
	Kind() string
	call(ctx context.Context, module string, d *abi.ExportDescriptor, args []value.Value) ([]value.Value, error)
	faulted() bool
	destroy(ctx context.Context) error
}

// Bytecode runs a module in the sandboxed engine.
type Bytecode struct {
	Instance *engine.Instance
}

func (b *Bytecode) Kind() string { return "bytecode" }

func (b *Bytecode) call(ctx context.Context, _ string, d *abi.ExportDescriptor, args []value.Value) ([]value.Value, error) {
	return b.Instance.Invoke(ctx, d.Name, args...)
}

func (b *Bytecode) faulted() bool { return b.Instance.Faulted() }

func (b *Bytecode) destroy(ctx context.Context) error { return b.Instance.Close(ctx) }

// Library is an opened native library.
type Library interface {
	// Lookup resolves an exported symbol.
	Lookup(symbol string) (any, error)
	// Close unloads the library if the platform allows it.
	Close() error
}

// Native runs a module from a native library through the exports its
// entry symbol returned.
type Native struct {
	Library Library
	Exports *abi.NativeExports
	Path    string

	mu    sync.Mutex
	fault error
}

// NewNative checks that exports provides every function iface declares.
func NewNative(name, path string, lib Library, exports *abi.NativeExports, iface *abi.Interface) (*Native, error) {
	if exports == nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNullExport).
			Module(name).Path(path).Symbol(iface.Entry()).Detail("entry returned no export table").Build()
	}
	for _, exp := range iface.Exports {
		fn, ok := exports.Funcs[exp.Name]
		if !ok {
			return nil, errors.New(errors.PhaseLoad, errors.KindMissingExport).
				Module(name).Path(path).Symbol(exp.Name).Detail("interface %s requires this export", iface.Name).Build()
		}
		if fn == nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindNullExport).
				Module(name).Path(path).Symbol(exp.Name).Build()
		}
	}
	return &Native{Library: lib, Exports: exports, Path: path}, nil
}

func (n *Native) Kind() string { return "native" }

// call runs the native function. A panic inside the module faults it like
// a sandbox fault faults bytecode.
func (n *Native) call(ctx context.Context, module string, d *abi.ExportDescriptor, args []value.Value) (out []value.Value, err error) {
	fn := n.Exports.Funcs[d.Name]
	if fn == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindMissingExport).Module(module).Symbol(d.Name).Build()
	}

	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			n.mu.Lock()
			n.fault = cause
			n.mu.Unlock()
			out, err = nil, errors.New(errors.PhaseRuntime, errors.KindModuleError).
				Module(module).Symbol(d.Name).Cause(cause).Detail("native module panicked").Build()
		}
	}()

	out, err = fn(ctx, args)
	if err != nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindModuleError).
			Module(module).Symbol(d.Name).Cause(err).Detail("call failed").Build()
	}
	if len(out) != len(d.Signature.Results) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Module(module).Symbol(d.Name).
			Detail("returned %d values, %s declares %d", len(out), d.Signature.Mask, len(d.Signature.Results)).Build()
	}
	for k, v := range out {
		if v.Tag() != d.Signature.Results[k] {
			return nil, errors.TypeMismatch(errors.PhaseRuntime, d.Signature.Results[k].String(), v.Tag().String())
		}
	}
	return out, nil
}

func (n *Native) faulted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fault != nil
}

func (n *Native) destroy(context.Context) error {
	if n.Exports != nil && n.Exports.Shutdown != nil {
		n.Exports.Shutdown()
	}
	if n.Library == nil {
		return nil
	}
	if err := n.Library.Close(); err != nil {
		return errors.Wrap(errors.PhaseCleanup, errors.KindIO, err, "close library "+n.Path)
	}
	return nil
}
