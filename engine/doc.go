// Package engine runs bytecode modules on wazero behind a small dispatcher
// contract: load, call, push, pop and reset.
//
// # Isolation
//
// Every Instance gets its own wazero runtime. Modules import host functions
// from a fixed namespace ("env" by default), and each instance needs that
// namespace bound to thunks that close over its own ledger, so two modules
// can never share a host module. Compiled code is shared across runtimes
// through one CompilationCache owned by the Engine.
//
// # Binding
//
// Load resolves every function the module imports against the supplied
// import tables by exact name:
//
//	missing name          -> *errors.MissingImportsError (lists every one)
//	wasm type != mask     -> signature_mismatch
//	declared export gone  -> missing_export
//
// All of these fail the load; nothing is deferred to call time.
//
// # Faults
//
// A thunk that returns an error aborts the wasm call. The error (often a
// sandbox fault from memory.Translate) is carried out of Call, and the
// instance is marked faulted. A faulted instance refuses every later call
// with a corrupted error; the only way forward is to unload it.
//
// # Calling
//
//	inst.Push(value.I32(3))
//	inst.Push(value.I32(4))
//	err := inst.Call(ctx, "add")   // consumes 2 args, pushes 1 result
//	sum, _ := inst.Pop()
//
// Invoke wraps the same sequence for callers holding a slice of values.
package engine
