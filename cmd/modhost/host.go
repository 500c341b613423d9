package main

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/config"
	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/engine"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/filesys"
	"github.com/wippyai/modhost/loader"
	"github.com/wippyai/modhost/module"
)

// host bundles the services one CLI invocation runs modules against.
type host struct {
	cfg      *config.Config
	log      *zap.Logger
	cvars    *cvar.Registry
	files    *filesys.Service
	engine   *engine.Engine
	registry *module.Registry
	loader   *loader.Loader
	cancel   context.CancelFunc
	// reloads signals cvar file changes; drained by reloadCvars
	reloads <-chan struct{}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newHost(ctx context.Context, cfg *config.Config, out io.Writer) (*host, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	engine.SetLogger(log.Named("engine"))

	h := &host{cfg: cfg, log: log, cvars: cvar.NewRegistry()}
	h.registry = module.NewRegistry(log)
	h.registry.Attach(h.cvars)

	if cfg.CvarFile != "" {
		n, err := cvar.LoadFile(h.cvars, cfg.CvarFile)
		if err != nil {
			log.Warn("cvar file", zap.String("path", cfg.CvarFile), zap.Error(err))
		}
		log.Debug("cvars loaded", zap.Int("count", n))
		if cfg.WatchCvars {
			wctx, cancel := context.WithCancel(ctx)
			h.cancel = cancel
			if h.reloads, err = cvar.Watch(wctx, cfg.CvarFile, log); err != nil {
				log.Warn("cvar watch", zap.Error(err))
			}
		}
	}

	if h.files, err = filesys.New(cfg.Root()); err != nil {
		h.close(ctx)
		return nil, err
	}
	if h.engine, err = engine.New(ctx, cfg.Engine()); err != nil {
		h.close(ctx)
		return nil, err
	}
	h.loader, err = loader.New(loader.Options{
		Config:   cfg.Loader(),
		Engine:   h.engine,
		Files:    h.files,
		Cvars:    h.cvars,
		Registry: h.registry,
		Logger:   log,
		Output:   out,
	})
	if err != nil {
		h.close(ctx)
		return nil, err
	}
	// startup is over: Init variables are fixed from here on
	h.cvars.Seal()
	return h, nil
}

func (h *host) close(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	errs := h.registry.Close(ctx)
	if h.cfg.CvarFile != "" {
		errs = multierr.Append(errs, cvar.ArchiveFile(h.cvars, h.cfg.CvarFile))
	}
	if h.files != nil {
		errs = multierr.Append(errs, h.files.Shutdown())
	}
	if h.engine != nil {
		errs = multierr.Append(errs, h.engine.Close(ctx))
	}
	h.log.Sync()
	return errs
}

// reloadCvars re-reads the cvar file when the watcher reported a change.
// It must run on the goroutine that calls into modules, since the new
// values propagate into module memory.
func (h *host) reloadCvars() {
	if h.reloads == nil {
		return
	}
	select {
	case <-h.reloads:
	default:
		return
	}
	n, err := cvar.LoadFile(h.cvars, h.cfg.CvarFile)
	if err != nil {
		h.log.Warn("cvar file reload", zap.String("path", h.cfg.CvarFile), zap.Error(err))
	}
	h.log.Debug("cvar file reloaded", zap.String("path", h.cfg.CvarFile), zap.Int("applied", n))
}

// resolveInterface reads an interface file or, without one, derives an
// interface from every function the bytecode image exports.
func (h *host) resolveInterface(ctx context.Context, name, path string) (*abi.Interface, error) {
	if path != "" {
		return readInterface(path)
	}
	image, where, err := h.cfg.SearchPath().ReadFile(loader.ImagePath(name))
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Module(name).Cause(err).
			Detail("no bytecode image to derive the interface from; pass --interface").Build()
	}
	_, exports, err := h.engine.Inspect(ctx, image)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindCorrupted).Module(name).Path(where).Cause(err).Build()
	}
	iface := &abi.Interface{Name: name}
	for _, e := range exports {
		fn, mask, _ := strings.Cut(e, " ")
		iface.Exports = append(iface.Exports, abi.Export(fn, mask))
	}
	return iface, nil
}

// interfaceFile is the TOML form of an interface:
//
//	name = "game"
//	api_version = 7
//	entry = "ModuleEntry"
//	[exports]
//	add = "i:ii"
type interfaceFile struct {
	Name       string            `toml:"name"`
	APIVersion uint32            `toml:"api_version"`
	Entry      string            `toml:"entry"`
	Namespace  string            `toml:"namespace"`
	Exports    map[string]string `toml:"exports"`
}

func readInterface(path string) (*abi.Interface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindIO).Path(path).Cause(err).Detail("read interface").Build()
	}
	var f interfaceFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).Path(path).Cause(err).Detail("parse interface").Build()
	}
	iface := &abi.Interface{
		Name:        f.Name,
		APIVersion:  f.APIVersion,
		EntrySymbol: f.Entry,
		Namespace:   f.Namespace,
	}
	names := make([]string, 0, len(f.Exports))
	for n := range f.Exports {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if _, err := abi.ParseSignature(f.Exports[n]); err != nil {
			return nil, err
		}
		iface.Exports = append(iface.Exports, abi.Export(n, f.Exports[n]))
	}
	if err := iface.Validate(); err != nil {
		return nil, err
	}
	return iface, nil
}

func (h *host) load(ctx context.Context, name, ifaceFile string) (*module.Instance, error) {
	iface, err := h.resolveInterface(ctx, name, ifaceFile)
	if err != nil {
		return nil, err
	}
	return h.loader.Load(ctx, name, iface)
}
