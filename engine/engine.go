package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/memory"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages caps linear memory per instance in pages (64KB each).
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CacheDir, when set, persists compiled code across processes.
	CacheDir string
}

// Engine compiles and instantiates bytecode modules.
type Engine struct {
	cache  wazero.CompilationCache
	cfg    Config
	mu     sync.Mutex
	closed bool
}

// New creates an engine. cfg may be nil.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	e := &Engine{}
	if cfg != nil {
		e.cfg = *cfg
	}
	if e.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(e.cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "open compilation cache "+e.cfg.CacheDir)
		}
		e.cache = cache
	} else {
		e.cache = wazero.NewCompilationCache()
	}
	return e, nil
}

// MemoryLimitPages returns the configured per-instance page limit.
func (e *Engine) MemoryLimitPages() uint32 { return e.cfg.MemoryLimitPages }

func (e *Engine) runtimeConfig() wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().WithCompilationCache(e.cache)
	if e.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	return rc
}

// Close releases the compilation cache. Instances own their runtimes and
// must be closed separately.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.cache.Close(ctx)
}

// Load compiles image, binds its imports against tables, checks the
// interface's exports and instantiates it in a fresh runtime.
func (e *Engine) Load(ctx context.Context, name string, image []byte, iface *abi.Interface, tables []*abi.ImportTable) (*Instance, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.New(errors.PhaseLoad, errors.KindClosed).Module(name).Detail("engine closed").Build()
	}
	if err := iface.Validate(); err != nil {
		return nil, err
	}

	rt := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())
	inst, err := e.load(ctx, rt, name, image, iface, tables)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	Logger().Debug("module instantiated",
		zap.String("module", name),
		zap.Int("bytes", len(image)),
		zap.Int("imports", inst.imports))
	return inst, nil
}

func (e *Engine) load(ctx context.Context, rt wazero.Runtime, name string, image []byte, iface *abi.Interface, tables []*abi.ImportTable) (*Instance, error) {
	compiled, err := rt.CompileModule(ctx, image)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindCorrupted).
			Module(name).Cause(err).Detail("compile failed").Build()
	}

	used, err := bindImports(name, iface.ImportNamespace(), compiled.ImportedFunctions(), tables)
	if err != nil {
		return nil, err
	}
	if err := checkExports(name, iface, compiled.ExportedFunctions()); err != nil {
		return nil, err
	}

	inst := &Instance{
		rt:      rt,
		iface:   iface,
		name:    name,
		limit:   e.cfg.MemoryLimitPages,
		imports: len(used),
	}

	if len(used) > 0 {
		hb := rt.NewHostModuleBuilder(iface.ImportNamespace())
		for _, d := range used {
			hb.NewFunctionBuilder().
				WithGoModuleFunction(inst.thunk(d), d.Signature.WasmParams(), d.Signature.WasmResults()).
				WithName(d.Name).
				Export(d.Name)
		}
		if _, err := hb.Instantiate(ctx); err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindCorrupted).
				Module(name).Cause(err).Detail("instantiate host imports").Build()
		}
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindCorrupted).
			Module(name).Cause(err).Detail("instantiate failed").Build()
	}
	if mod.Memory() == nil {
		mod.Close(ctx)
		return nil, errors.New(errors.PhaseLoad, errors.KindMissingExport).
			Module(name).Detail("module defines no linear memory").Build()
	}
	inst.mod = mod
	inst.bindMemory(mod)
	return inst, nil
}

// bindImports resolves every imported function. Unresolved names are
// collected so the error lists all of them; a signature disagreement fails
// immediately.
func bindImports(module, namespace string, defs []api.FunctionDefinition, tables []*abi.ImportTable) ([]*abi.ImportDescriptor, error) {
	var missing []string
	used := make([]*abi.ImportDescriptor, 0, len(defs))
	seen := make(map[string]bool, len(defs))

	for _, def := range defs {
		ns, fn, _ := def.Import()
		if ns != namespace {
			missing = append(missing, ns+"#"+fn)
			continue
		}
		d, ok := abi.Resolve(tables, fn)
		if !ok {
			missing = append(missing, ns+"#"+fn)
			continue
		}
		if !d.Signature.Matches(def.ParamTypes(), def.ResultTypes()) {
			return nil, errors.New(errors.PhaseLoad, errors.KindSignatureMismatch).
				Module(module).
				Symbol(fn).
				Detail("host provides %s, module imports %s", d.Signature.Mask, abi.WasmMask(def.ParamTypes(), def.ResultTypes())).
				Build()
		}
		if !seen[fn] {
			seen[fn] = true
			used = append(used, d)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingImportsError(module, missing)
	}
	return used, nil
}

func checkExports(module string, iface *abi.Interface, defs map[string]api.FunctionDefinition) error {
	for _, exp := range iface.Exports {
		def, ok := defs[exp.Name]
		if !ok {
			return errors.New(errors.PhaseLoad, errors.KindMissingExport).
				Module(module).Symbol(exp.Name).Detail("interface %s requires this export", iface.Name).Build()
		}
		if !exp.Signature.Matches(def.ParamTypes(), def.ResultTypes()) {
			return errors.New(errors.PhaseLoad, errors.KindSignatureMismatch).
				Module(module).
				Symbol(exp.Name).
				Detail("interface declares %s, module exports %s", exp.Signature.Mask, abi.WasmMask(def.ParamTypes(), def.ResultTypes())).
				Build()
		}
	}
	return nil
}

// Inspect lists a module's imports ("ns#name") and exported functions
// without instantiating it.
func (e *Engine) Inspect(ctx context.Context, image []byte) (imports []string, exports []string, err error) {
	rt := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, image)
	if err != nil {
		return nil, nil, errors.New(errors.PhaseLoad, errors.KindCorrupted).Cause(err).Detail("compile failed").Build()
	}
	for _, def := range compiled.ImportedFunctions() {
		ns, fn, _ := def.Import()
		imports = append(imports, ns+"#"+fn+" "+abi.WasmMask(def.ParamTypes(), def.ResultTypes()))
	}
	for name, def := range compiled.ExportedFunctions() {
		exports = append(exports, name+" "+abi.WasmMask(def.ParamTypes(), def.ResultTypes()))
	}
	sort.Strings(exports)
	return imports, exports, nil
}

func memoryOf(mod api.Module, limit uint32) memory.Linear {
	if mem := mod.Memory(); mem != nil {
		return memory.FromWazero(mem, limit)
	}
	return nil
}
