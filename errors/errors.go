package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseSandbox  Phase = "sandbox"  // module memory access and growth
	PhaseLoad     Phase = "load"     // module discovery and instantiation
	PhaseRegister Phase = "register" // cvar and file registration from a module
	PhaseRuntime  Phase = "runtime"  // export calls and thunk dispatch
	PhaseCleanup  Phase = "cleanup"  // ledger teardown
	PhaseHost     Phase = "host"     // import table construction
	PhaseConfig   Phase = "config"   // host configuration and cvars
)

// Kind categorizes the error
type Kind string

const (
	KindNullPointer       Kind = "null_pointer"
	KindMisaligned        Kind = "misaligned"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindMemoryGrowth      Kind = "memory_growth"
	KindTypeMismatch      Kind = "type_mismatch"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindMissingImport     Kind = "missing_import"
	KindMissingExport     Kind = "missing_export"
	KindSymbolMissing     Kind = "symbol_missing"
	KindVersionMismatch   Kind = "version_mismatch"
	KindNullExport        Kind = "null_export"
	KindNotFound          Kind = "not_found"
	KindCapacity          Kind = "capacity"
	KindCorrupted         Kind = "corrupted"
	KindClosed            Kind = "closed"
	KindInvalidInput      Kind = "invalid_input"
	KindModuleError       Kind = "module_error"
	KindIO                Kind = "io"
)

// Error is the structured error type used throughout modhost
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Module string
	Symbol string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" {
		b.WriteString(" in module ")
		b.WriteString(e.Module)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, " -> "))
	}

	if e.Symbol != "" {
		b.WriteString(": symbol ")
		b.WriteString(e.Symbol)
	}

	if e.Detail != "" {
		if e.Symbol != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Module sets the name of the module the error belongs to
func (b *Builder) Module(name string) *Builder {
	b.err.Module = name
	return b
}

// Path sets the step path (e.g. probe candidate, import name)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Symbol sets the symbol or import name involved
func (b *Builder) Symbol(s string) *Builder {
	b.err.Symbol = s
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sandbox fault constructors. These are raised for pointers that come from
// module code and are never recoverable for the call in progress.

// NullPointer creates a null module pointer fault
func NullPointer(size, count uint32) *Error {
	return &Error{
		Phase:  PhaseSandbox,
		Kind:   KindNullPointer,
		Detail: fmt.Sprintf("null offset for %d x %d bytes", count, size),
		Value:  uint32(0),
	}
}

// Misaligned creates a misaligned module pointer fault
func Misaligned(offset, align uint32) *Error {
	return &Error{
		Phase:  PhaseSandbox,
		Kind:   KindMisaligned,
		Detail: fmt.Sprintf("offset 0x%x not aligned to %d", offset, align),
		Value:  offset,
	}
}

// OutOfBounds creates an out-of-bounds module pointer fault
func OutOfBounds(offset uint32, length, committed uint64) *Error {
	return &Error{
		Phase:  PhaseSandbox,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [0x%x, 0x%x) exceeds committed memory of %d bytes", offset, uint64(offset)+length, committed),
		Value:  offset,
	}
}

// MemoryGrowth creates a forbidden memory growth fault
func MemoryGrowth(current, delta, maximum uint32) *Error {
	return &Error{
		Phase:  PhaseSandbox,
		Kind:   KindMemoryGrowth,
		Detail: fmt.Sprintf("cannot grow %d pages by %d (maximum %d)", current, delta, maximum),
		Value:  delta,
	}
}

// TypeMismatch creates a tag mismatch error
func TypeMismatch(phase Phase, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("want %s, got %s", want, got),
	}
}

// Load creates a module loading error
func Load(module, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Module: module,
		Detail: detail,
		Cause:  cause,
	}
}

// Capacity creates a soft registration capacity error
func Capacity(module, what string, limit int) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindCapacity,
		Module: module,
		Detail: fmt.Sprintf("%s limit of %d reached", what, limit),
		Value:  limit,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsSandboxFault reports whether err carries a sandbox fault anywhere in its chain.
func IsSandboxFault(err error) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Phase == PhaseSandbox {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsLoadFault reports whether err is a load-time fault.
func IsLoadFault(err error) bool {
	var mi *MissingImportsError
	if stderrors.As(err, &mi) {
		return true
	}
	var e *Error
	return stderrors.As(err, &e) && e.Phase == PhaseLoad
}

// HasKind reports whether any *Error in the chain has the given kind.
func HasKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "env"
	Function  string // e.g., "trap_Print"
}

// MissingImportsError is returned when a bytecode module declares imports
// that no table in the interface provides
type MissingImportsError struct {
	Module  string
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace#function" strings
func NewMissingImportsError(module string, imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Module:  module,
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func parseImportKey(key string) (namespace, function string) {
	ns, fn, found := strings.Cut(key, "#")
	if found {
		return ns, fn
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[load] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[load] module %s is missing %d host function(s):\n", e.Module, len(e.Imports)))

	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp.Function)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, fn := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type. A MissingImportsError
// also matches a load/missing_import *Error target.
func (e *MissingImportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingImportsError:
		return true
	case *Error:
		return t.Phase == PhaseLoad && t.Kind == KindMissingImport
	}
	return false
}
