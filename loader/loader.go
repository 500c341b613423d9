// Package loader finds, instantiates and registers modules.
//
// A load request names a module and the interface it must satisfy. The
// bytecode backend is tried first: vm/<name>.wasm on the search path. When
// that is absent or fails, native libraries are probed in a fixed order of
// directories and the first loadable one is bound through its entry symbol.
// Once a native library has been opened, any problem binding it is fatal;
// the loader does not fall back to a later candidate.
package loader

import (
	"context"
	"io"
	"path/filepath"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/engine"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/filesys"
	"github.com/wippyai/modhost/ledger"
	"github.com/wippyai/modhost/module"
	"github.com/wippyai/modhost/stdlib"
	"github.com/wippyai/modhost/traps"
)

// Config holds the directories and preferences a load consults.
type Config struct {
	// Search is where bytecode images are looked up, as vm/<name>.wasm.
	Search filesys.SearchPath

	// HomeDir and LibDir are the two roots probed for native libraries,
	// each joined with GameDir and then BaseGame.
	HomeDir string
	LibDir  string

	// GameDir is the active mod directory. Empty means only BaseGame.
	GameDir  string
	BaseGame string

	// PreferNative skips the bytecode backend.
	PreferNative bool

	// GOOS and GOARCH select the library file name. Empty means the
	// running platform.
	GOOS   string
	GOARCH string
}

// Options wires a Loader to the host services modules draw on.
type Options struct {
	Config   Config
	Engine   *engine.Engine
	Files    *filesys.Service
	Cvars    *cvar.Registry
	Registry *module.Registry

	// Opener opens native libraries. Nil means PluginOpener.
	Opener Opener
	Logger *zap.Logger

	// Output receives module prints. Nil routes them to the logger.
	Output io.Writer

	// Access checks a native candidate before it is opened. Nil means a
	// readable and executable regular file.
	Access func(path string) error
}

// Loader turns load requests into registered module instances.
type Loader struct {
	cfg      Config
	engine   *engine.Engine
	files    *filesys.Service
	cvars    *cvar.Registry
	registry *module.Registry
	opener   Opener
	log      *zap.Logger
	out      io.Writer
	access   func(string) error
}

// New validates opts and creates a Loader.
func New(opts Options) (*Loader, error) {
	if opts.Cvars == nil || opts.Registry == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "loader needs a cvar registry and a module registry")
	}
	if opts.Engine == nil && !opts.Config.PreferNative {
		return nil, errors.InvalidInput(errors.PhaseConfig, "loader needs an engine unless native modules are preferred")
	}
	l := &Loader{
		cfg:      opts.Config,
		engine:   opts.Engine,
		files:    opts.Files,
		cvars:    opts.Cvars,
		registry: opts.Registry,
		opener:   opts.Opener,
		log:      opts.Logger,
		out:      opts.Output,
		access:   opts.Access,
	}
	if l.opener == nil {
		l.opener = PluginOpener{}
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.access == nil {
		l.access = access
	}
	if l.cfg.GOOS == "" {
		l.cfg.GOOS = runtime.GOOS
	}
	if l.cfg.GOARCH == "" {
		l.cfg.GOARCH = runtime.GOARCH
	}
	return l, nil
}

// Registry returns the registry loaded modules are added to.
func (l *Loader) Registry() *module.Registry { return l.registry }

// ImagePath is the search-path relative location of a bytecode image.
func ImagePath(name string) string { return "vm/" + name + ".wasm" }

func librarySuffix(goos string) string {
	switch goos {
	case "darwin", "ios":
		return ".dylib"
	case "windows":
		return ".dll"
	}
	return ".so"
}

// LibraryName is the file name of a native module for a platform.
func LibraryName(name, goos, goarch string) string {
	return name + "_" + goarch + librarySuffix(goos)
}

// Probe returns the native candidates for name in the order they are
// tried: home/gamedir, home/basegame, libdir/gamedir, libdir/basegame.
// Empty directories are skipped and duplicates appear once.
func (l *Loader) Probe(name string) []string {
	file := LibraryName(name, l.cfg.GOOS, l.cfg.GOARCH)
	var out []string
	seen := make(map[string]bool)
	for _, root := range []string{l.cfg.HomeDir, l.cfg.LibDir} {
		if root == "" {
			continue
		}
		for _, dir := range []string{l.cfg.GameDir, l.cfg.BaseGame} {
			if dir == "" {
				continue
			}
			p := filepath.Join(root, dir, file)
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Load instantiates name against iface and adds it to the registry.
func (l *Loader) Load(ctx context.Context, name string, iface *abi.Interface) (*module.Instance, error) {
	if err := iface.Validate(); err != nil {
		return nil, err
	}
	if l.registry.Get(name) != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Module(name).Detail("already loaded").Build()
	}
	log := l.log.With(zap.String("module", name), zap.String("interface", iface.Name))

	var bytecodeErr error
	if !l.cfg.PreferNative {
		inst, err := l.loadBytecode(ctx, name, iface, log)
		if err == nil {
			log.Info("module loaded", zap.String("backend", "bytecode"))
			return inst, nil
		}
		bytecodeErr = err
		log.Info("bytecode backend unavailable", zap.Error(err))
	}

	inst, err := l.loadNative(ctx, name, iface, log)
	if err != nil {
		if errors.HasKind(err, errors.KindNotFound) {
			return nil, multierr.Append(err, bytecodeErr)
		}
		return nil, err
	}
	return inst, nil
}

func (l *Loader) newLedger(name string, log *zap.Logger) *ledger.Ledger {
	return ledger.New(name, l.cvars, l.files, log)
}

func (l *Loader) trapOptions(log *zap.Logger) traps.Options {
	return traps.Options{Logger: log, Output: l.out}
}

func (l *Loader) loadBytecode(ctx context.Context, name string, iface *abi.Interface, log *zap.Logger) (*module.Instance, error) {
	if l.engine == nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Module(name).Detail("no bytecode engine configured").Build()
	}
	image, where, err := l.cfg.Search.ReadFile(ImagePath(name))
	if err != nil {
		return nil, err
	}
	led := l.newLedger(name, log)
	env := traps.New(led, l.trapOptions(log))
	bc, err := l.engine.Load(ctx, name, image, iface, []*abi.ImportTable{env.Table(), stdlib.Table()})
	if err != nil {
		// a start function may already have opened files or registered cvars
		return nil, multierr.Append(errors.New(errors.PhaseLoad, errors.KindCorrupted).
			Module(name).Path(where).Cause(err).Detail("bytecode image rejected").Build(), led.Release())
	}
	inst := module.New(name, iface, &module.Bytecode{Instance: bc}, led, log)
	if err := l.registry.Add(inst); err != nil {
		return nil, multierr.Append(err, inst.Unload(ctx))
	}
	log.Debug("bytecode image", zap.String("path", where))
	return inst, nil
}

func (l *Loader) loadNative(ctx context.Context, name string, iface *abi.Interface, log *zap.Logger) (*module.Instance, error) {
	candidates := l.Probe(name)
	for _, p := range candidates {
		if err := l.access(p); err != nil {
			log.Debug("native candidate skipped", zap.String("path", p), zap.Error(err))
			continue
		}
		lib, err := l.opener.Open(p)
		if err != nil {
			log.Warn("native library failed to open", zap.String("path", p), zap.Error(err))
			continue
		}
		return l.bindNative(ctx, name, iface, p, lib, log)
	}
	return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
		Module(name).
		Path(candidates...).
		Detail("interface %s: no bytecode image and no loadable native library", iface.Name).
		Build()
}

// bindNative resolves the entry symbol of an opened library and checks
// what it returns. Every failure here is fatal and closes lib.
func (l *Loader) bindNative(ctx context.Context, name string, iface *abi.Interface, path string, lib module.Library, log *zap.Logger) (*module.Instance, error) {
	fail := func(err error) (*module.Instance, error) {
		return nil, multierr.Append(err, lib.Close())
	}

	sym, err := lib.Lookup(iface.Entry())
	if err != nil {
		return fail(errors.New(errors.PhaseLoad, errors.KindSymbolMissing).
			Module(name).Path(path).Symbol(iface.Entry()).Cause(err).Build())
	}
	entry, ok := entryFunc(sym)
	if !ok {
		return fail(errors.New(errors.PhaseLoad, errors.KindSymbolMissing).
			Module(name).Path(path).Symbol(iface.Entry()).
			Detail("symbol has type %T, want abi.EntryFunc", sym).Build())
	}

	led := l.newLedger(name, log)
	exports := entry(traps.Host(led, l.trapOptions(log)))
	if exports == nil {
		return fail(multierr.Append(errors.New(errors.PhaseLoad, errors.KindNullExport).
			Module(name).Path(path).Symbol(iface.Entry()).Detail("entry returned no export table").Build(),
			led.Release()))
	}
	if exports.APIVersion != iface.APIVersion {
		err := errors.New(errors.PhaseLoad, errors.KindVersionMismatch).
			Module(name).Path(path).Value(exports.APIVersion).
			Detail("interface %s is version %d, library reports %d", iface.Name, iface.APIVersion, exports.APIVersion).
			Build()
		return fail(multierr.Append(err, shutdown(exports, led)))
	}

	nb, err := module.NewNative(name, path, lib, exports, iface)
	if err != nil {
		return fail(multierr.Append(err, shutdown(exports, led)))
	}
	inst := module.New(name, iface, nb, led, log)
	if err := l.registry.Add(inst); err != nil {
		return nil, multierr.Append(err, inst.Unload(ctx))
	}
	log.Info("module loaded", zap.String("backend", "native"), zap.String("path", path))
	return inst, nil
}

// shutdown undoes a successful entry call whose result was refused.
func shutdown(exports *abi.NativeExports, led *ledger.Ledger) error {
	err := led.Release()
	if exports.Shutdown != nil {
		exports.Shutdown()
	}
	return err
}

// Unload removes name from the registry and unloads it.
func (l *Loader) Unload(ctx context.Context, name string) error {
	inst := l.registry.Remove(name)
	if inst == nil {
		return errors.New(errors.PhaseLoad, errors.KindNotFound).
			Module(name).Detail("module is not loaded").Build()
	}
	return inst.Unload(ctx)
}

// Restart unloads inst and loads a fresh instance of the same name and
// interface. The old instance is gone even when the reload fails.
func (l *Loader) Restart(ctx context.Context, inst *module.Instance) (*module.Instance, error) {
	name, iface := inst.Name(), inst.Interface()
	if cur := l.registry.Get(name); cur == inst {
		l.registry.Remove(name)
	}
	if err := inst.Unload(ctx); err != nil {
		l.log.Warn("unload before restart", zap.String("module", name), zap.Error(err))
	}
	return l.Load(ctx, name, iface)
}
