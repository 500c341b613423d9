// Package errors provides structured error types for modhost.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the module name, the step path and symbol involved, and
// the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindVersionMismatch).
//		Module("game").
//		Symbol("ModuleEntry").
//		Detail("module reports API %d, host expects %d", got, want).
//		Build()
//
// Or use convenience constructors for sandbox faults:
//
//	err := errors.NullPointer(4, 1)
//	err := errors.OutOfBounds(offset, length, committed)
//
// Sandbox faults (phase "sandbox") abort the module call that raised them.
// Load faults abort the load. Neither is retried.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
