package abi

import (
	"context"
	"strings"

	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/memory"
	"github.com/wippyai/modhost/value"
)

// TrapPrefix marks engine-specific host calls. Standard-library imports carry
// no prefix.
const TrapPrefix = "trap_"

// Call is what a thunk sees of the module calling it: its name for
// diagnostics, its linear memory, and the argument/return frame.
// None of it may be retained after the thunk returns.
type Call struct {
	Memory memory.Linear
	Frame  *value.Frame
	Module string
}

// Thunk implements one import. A returned error aborts the module call.
type Thunk func(ctx context.Context, c *Call) error

// ImportDescriptor pairs an import name with its signature and host thunk.
type ImportDescriptor struct {
	Thunk     Thunk
	Name      string
	Signature Signature
}

// Import builds a descriptor, panicking on a malformed mask. Tables are
// static, so a bad mask is a programming error.
func Import(name, mask string, thunk Thunk) ImportDescriptor {
	return ImportDescriptor{Name: name, Signature: MustSignature(mask), Thunk: thunk}
}

// ExportDescriptor names an entry point the host may invoke.
type ExportDescriptor struct {
	Name      string
	Signature Signature
}

// Export builds an export descriptor.
func Export(name, mask string) ExportDescriptor {
	return ExportDescriptor{Name: name, Signature: MustSignature(mask)}
}

// ImportTable is one capability group's imports.
type ImportTable struct {
	byName  map[string]int
	Group   string
	Prefix  string
	Imports []ImportDescriptor
}

// NewImportTable validates and indexes a group of imports. Every name must
// carry prefix, and a group without a prefix may not use TrapPrefix.
func NewImportTable(group, prefix string, imports ...ImportDescriptor) (*ImportTable, error) {
	t := &ImportTable{
		Group:   group,
		Prefix:  prefix,
		Imports: imports,
		byName:  make(map[string]int, len(imports)),
	}
	for i, imp := range imports {
		if imp.Name == "" {
			return nil, errors.InvalidInput(errors.PhaseHost, group+": import with empty name")
		}
		if imp.Thunk == nil {
			return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Symbol(imp.Name).Detail("%s: nil thunk", group).Build()
		}
		if prefix != "" && !strings.HasPrefix(imp.Name, prefix) {
			return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Symbol(imp.Name).Detail("%s: name lacks prefix %q", group, prefix).Build()
		}
		if prefix == "" && strings.HasPrefix(imp.Name, TrapPrefix) {
			return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Symbol(imp.Name).Detail("%s: unprefixed group may not define trap names", group).Build()
		}
		if _, dup := t.byName[imp.Name]; dup {
			return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Symbol(imp.Name).Detail("%s: duplicate import", group).Build()
		}
		t.byName[imp.Name] = i
	}
	return t, nil
}

// MustImportTable is NewImportTable for static tables.
func MustImportTable(group, prefix string, imports ...ImportDescriptor) *ImportTable {
	t, err := NewImportTable(group, prefix, imports...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup finds an import by exact name.
func (t *ImportTable) Lookup(name string) (*ImportDescriptor, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return &t.Imports[i], true
}

// Names returns the import names in declaration order.
func (t *ImportTable) Names() []string {
	names := make([]string, len(t.Imports))
	for i, imp := range t.Imports {
		names[i] = imp.Name
	}
	return names
}

// Resolve finds name across tables, first match wins.
func Resolve(tables []*ImportTable, name string) (*ImportDescriptor, bool) {
	for _, t := range tables {
		if d, ok := t.Lookup(name); ok {
			return d, true
		}
	}
	return nil, false
}
