package abi

import (
	"context"

	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/filesys"
	"github.com/wippyai/modhost/value"
)

const (
	// DefaultEntrySymbol is the native entry point looked up when an
	// interface does not name one.
	DefaultEntrySymbol = "ModuleEntry"
	// DefaultNamespace is the wasm import module bytecode modules import from.
	DefaultNamespace = "env"
)

// Interface describes what a logical module must provide and at which API
// version. It is the unit a load request binds against.
type Interface struct {
	Name        string
	EntrySymbol string
	Namespace   string
	Exports     []ExportDescriptor
	APIVersion  uint32
}

// Entry returns the native entry symbol name.
func (i *Interface) Entry() string {
	if i.EntrySymbol == "" {
		return DefaultEntrySymbol
	}
	return i.EntrySymbol
}

// ImportNamespace returns the wasm import module name.
func (i *Interface) ImportNamespace() string {
	if i.Namespace == "" {
		return DefaultNamespace
	}
	return i.Namespace
}

// Export finds a declared export by name.
func (i *Interface) Export(name string) (*ExportDescriptor, bool) {
	for k := range i.Exports {
		if i.Exports[k].Name == name {
			return &i.Exports[k], true
		}
	}
	return nil, false
}

// Validate checks the interface is usable for a load.
func (i *Interface) Validate() error {
	if i.Name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "interface name is empty")
	}
	if len(i.Exports) == 0 {
		return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Module(i.Name).Detail("interface declares no exports").Build()
	}
	seen := make(map[string]bool, len(i.Exports))
	for _, e := range i.Exports {
		if seen[e.Name] {
			return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Module(i.Name).Symbol(e.Name).Detail("duplicate export").Build()
		}
		seen[e.Name] = true
	}
	return nil
}

// Host is the import table a native module receives from its entry symbol.
// It offers the same capabilities the trap table gives bytecode modules.
type Host interface {
	Print(msg string)
	// Error reports a module-raised fatal error and returns it for the
	// module to propagate out of the current export call.
	Error(msg string) error
	Milliseconds() int32

	CvarRegister(local *cvar.Local, name, defaultValue string, flags cvar.Flags) error
	CvarUpdate(local *cvar.Local) error
	CvarSet(name, value string) error
	CvarString(name string) string
	CvarInteger(name string) int32

	FOpen(path string, mode filesys.Mode) (filesys.Handle, int64, error)
	FRead(h filesys.Handle, buf []byte) (int, error)
	FWrite(h filesys.Handle, buf []byte) (int, error)
	FClose(h filesys.Handle) error
}

// NativeFunc is one export of a native module.
type NativeFunc func(ctx context.Context, args []value.Value) ([]value.Value, error)

// NativeExports is what a native entry symbol returns. APIVersion must stay
// the first field and must equal the interface's APIVersion exactly.
type NativeExports struct {
	APIVersion uint32
	Funcs      map[string]NativeFunc
	Shutdown   func()
}

// EntryFunc is the type of a native module's entry symbol.
type EntryFunc func(host Host) *NativeExports
