package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/memory"
	"github.com/wippyai/modhost/value"
)

// Instance is one instantiated bytecode module with its own runtime,
// linear memory and value stack.
type Instance struct {
	rt      wazero.Runtime
	mod     api.Module
	mem     memory.Linear
	iface   *abi.Interface
	fault   error
	name    string
	stack   value.Stack
	mu      sync.Mutex
	limit   uint32
	imports int
	closed  bool
}

// Name returns the module name.
func (i *Instance) Name() string { return i.name }

// Memory returns the instance's linear memory.
func (i *Instance) Memory() memory.Linear { return i.mem }

func (i *Instance) bindMemory(mod api.Module) {
	if i.mem == nil {
		i.mem = memoryOf(mod, i.limit)
	}
}

// thunk adapts an import descriptor to a wazero host function. Errors from
// the thunk fault the instance and unwind the wasm call by panicking with
// the error, which wazero recovers and returns from the export call.
func (i *Instance) thunk(d *abi.ImportDescriptor) api.GoModuleFunc {
	params, results := d.Signature.Params, d.Signature.Results
	return func(ctx context.Context, caller api.Module, stack []uint64) {
		i.bindMemory(caller)
		c := &abi.Call{
			Memory: i.mem,
			Frame:  value.NewFrame(stack, params, results),
			Module: i.name,
		}
		if err := d.Thunk(ctx, c); err != nil {
			i.setFault(err)
			Logger().Debug("thunk failed",
				zap.String("module", i.name),
				zap.String("import", d.Name),
				zap.Error(err))
			panic(err)
		}
	}
}

func (i *Instance) setFault(err error) {
	i.mu.Lock()
	if i.fault == nil {
		i.fault = err
	}
	i.mu.Unlock()
}

// Faulted reports whether a call has failed. A faulted instance is not
// safe to run again.
func (i *Instance) Faulted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fault != nil
}

// Fault returns the error that faulted the instance.
func (i *Instance) Fault() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fault
}

// Push pushes an argument for the next Call.
func (i *Instance) Push(v value.Value) error { return i.stack.Push(v) }

// Pop pops a result or unconsumed argument.
func (i *Instance) Pop() (value.Value, error) { return i.stack.Pop() }

// Reset clears the value stack.
func (i *Instance) Reset() { i.stack.Reset() }

// Depth returns the number of values on the stack.
func (i *Instance) Depth() int { return i.stack.Len() }

func (i *Instance) usable() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return errors.New(errors.PhaseRuntime, errors.KindClosed).Module(i.name).Detail("instance closed").Build()
	}
	if i.fault != nil {
		return errors.New(errors.PhaseRuntime, errors.KindCorrupted).
			Module(i.name).Cause(i.fault).Detail("instance faulted by an earlier call").Build()
	}
	return nil
}

// Call invokes export with arguments taken from the top of the stack and
// pushes its results. The arguments stay on the stack if they do not match
// the export signature.
func (i *Instance) Call(ctx context.Context, export string) error {
	if err := i.usable(); err != nil {
		return err
	}
	d, ok := i.iface.Export(export)
	if !ok {
		return errors.New(errors.PhaseRuntime, errors.KindMissingExport).
			Module(i.name).Symbol(export).Detail("not declared by interface %s", i.iface.Name).Build()
	}

	args, err := i.stack.Take(len(d.Signature.Params))
	if err != nil {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Module(i.name).Symbol(export).Cause(err).Detail("not enough arguments on stack").Build()
	}
	if !d.Signature.Accepts(args) {
		for _, a := range args {
			i.stack.Push(a)
		}
		return errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Module(i.name).Symbol(export).Detail("arguments %v do not match %s", args, d.Signature.Mask).Build()
	}

	fn := i.mod.ExportedFunction(export)
	if fn == nil {
		return errors.New(errors.PhaseRuntime, errors.KindMissingExport).Module(i.name).Symbol(export).Build()
	}

	raw := make([]uint64, len(args))
	for k, a := range args {
		raw[k] = a.Raw()
	}
	out, err := fn.Call(ctx, raw...)
	if err != nil {
		i.setFault(err)
		Logger().Warn("module call failed",
			zap.String("module", i.name),
			zap.String("export", export),
			zap.Error(err))
		return errors.New(errors.PhaseRuntime, errors.KindModuleError).
			Module(i.name).Symbol(export).Cause(err).Detail("call aborted").Build()
	}

	for k, r := range out {
		v, err := value.FromRaw(d.Signature.Results[k], r)
		if err != nil {
			return err
		}
		if err := i.stack.Push(v); err != nil {
			return err
		}
	}
	return nil
}

// Invoke pushes args, calls export and pops its results.
func (i *Instance) Invoke(ctx context.Context, export string, args ...value.Value) ([]value.Value, error) {
	d, ok := i.iface.Export(export)
	if !ok {
		return nil, errors.New(errors.PhaseRuntime, errors.KindMissingExport).
			Module(i.name).Symbol(export).Detail("not declared by interface %s", i.iface.Name).Build()
	}
	base := i.stack.Len()
	for _, a := range args {
		if err := i.stack.Push(a); err != nil {
			i.truncate(base)
			return nil, err
		}
	}
	if err := i.Call(ctx, export); err != nil {
		i.truncate(base)
		return nil, err
	}
	out, err := i.stack.Take(len(d.Signature.Results))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (i *Instance) truncate(n int) {
	for i.stack.Len() > n {
		i.stack.Pop()
	}
}

// Close destroys the module and its runtime. Closing twice is a no-op.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	i.stack.Reset()
	i.mem = nil
	if err := i.rt.Close(ctx); err != nil {
		return errors.Wrap(errors.PhaseCleanup, errors.KindIO, err, "close runtime for "+i.name)
	}
	return nil
}
