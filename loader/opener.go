package loader

import (
	"plugin"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/module"
)

// Opener opens native libraries.
type Opener interface {
	Open(path string) (module.Library, error)
}

// PluginOpener opens Go plugins built with -buildmode=plugin.
type PluginOpener struct{}

func (PluginOpener) Open(path string) (module.Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "open plugin "+path)
	}
	return pluginLibrary{p: p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

func (l pluginLibrary) Lookup(symbol string) (any, error) {
	return l.p.Lookup(symbol)
}

// Close is a no-op: the Go runtime cannot unload a plugin.
func (pluginLibrary) Close() error { return nil }

// entryFunc accepts the shapes an entry symbol can take: a plain function,
// the named abi.EntryFunc type, or a pointer to a variable of either.
func entryFunc(sym any) (abi.EntryFunc, bool) {
	switch f := sym.(type) {
	case func(abi.Host) *abi.NativeExports:
		return f, f != nil
	case abi.EntryFunc:
		return f, f != nil
	case *func(abi.Host) *abi.NativeExports:
		if f == nil || *f == nil {
			return nil, false
		}
		return *f, true
	case *abi.EntryFunc:
		if f == nil || *f == nil {
			return nil, false
		}
		return *f, true
	}
	return nil, false
}
