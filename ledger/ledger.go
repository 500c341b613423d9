// Package ledger tracks the host-visible side effects of one module: the
// cvars it registered and the files it opened. Release reclaims all of
// them before the module backend is destroyed.
package ledger

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/filesys"
)

const (
	// MaxGlueRecords is the per-module cvar registration limit.
	MaxGlueRecords = 1024
	// MaxFileHandles bounds the file-handle universe a module draws from.
	// The universe is the host-wide table, so modules share one quota: a
	// module holding every handle starves the others until it closes or
	// is unloaded.
	MaxFileHandles = filesys.MaxHandles
)

// Glue pairs a module-local mirror with the host variable it follows. The
// variable is referenced, never owned.
type Glue struct {
	Var    *cvar.Var
	Mirror Mirror
}

// Ledger is the per-module resource record.
type Ledger struct {
	cvars    *cvar.Registry
	files    *filesys.Service
	log      *zap.Logger
	module   string
	glue     []Glue
	open     Bitset
	mu       sync.Mutex
	released bool
}

// New creates an empty ledger for module. files may be nil for modules
// that get no file access.
func New(module string, cvars *cvar.Registry, files *filesys.Service, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		module: module,
		cvars:  cvars,
		files:  files,
		log:    log.With(zap.String("module", module)),
	}
}

// Module returns the owning module name.
func (l *Ledger) Module() string { return l.module }

// Cvars returns the host registry the ledger registers against.
func (l *Ledger) Cvars() *cvar.Registry { return l.cvars }

func (l *Ledger) closedErr() error {
	return errors.New(errors.PhaseRegister, errors.KindClosed).
		Module(l.module).Detail("module resources already released").Build()
}

func (l *Ledger) find(key any) int {
	for i := range l.glue {
		if l.glue[i].Mirror.Key() == key {
			return i
		}
	}
	return -1
}

// RegisterCvar gets or creates the host variable and binds mirror to it,
// then copies the current value into the mirror and raises its modified
// flag. A nil mirror only creates
// the variable. When the glue table is full the registration is refused,
// logged and reported as a capacity error; nothing is created.
func (l *Ledger) RegisterCvar(name, defaultValue string, flags cvar.Flags, mirror Mirror) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return l.closedErr()
	}

	idx := -1
	if mirror != nil {
		idx = l.find(mirror.Key())
		if idx < 0 && len(l.glue) >= MaxGlueRecords {
			err := errors.Capacity(l.module, "cvar glue record", MaxGlueRecords)
			err.Symbol = name
			l.log.Warn("cvar registration refused", zap.String("cvar", name), zap.Error(err))
			return err
		}
	}

	if l.cvars.Get(name) == nil {
		flags |= cvar.VMCreated
	}
	v, err := l.cvars.GetOrCreate(name, defaultValue, flags)
	if err != nil {
		return errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			Module(l.module).Symbol(name).Cause(err).Detail("cvar registration failed").Build()
	}
	if mirror == nil {
		return nil
	}

	if idx < 0 {
		l.glue = append(l.glue, Glue{Var: v, Mirror: mirror})
	} else {
		l.glue[idx].Var = v
	}
	// whatever the mirror held before, the module sees a fresh value
	err = mirror.Store(v.Snapshot())
	if err == nil {
		err = mirror.MarkModified()
	}
	if err != nil {
		return errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			Module(l.module).Symbol(name).Cause(err).Detail("mirror cvar").Build()
	}
	return nil
}

// UpdateCvar re-mirrors the record bound to mirror.
func (l *Ledger) UpdateCvar(mirror Mirror) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return l.closedErr()
	}
	idx := l.find(mirror.Key())
	if idx < 0 {
		return errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Module(l.module).Value(mirror.Key()).Detail("cvar mirror was never registered").Build()
	}
	return l.glue[idx].Mirror.Store(l.glue[idx].Var.Snapshot())
}

// Propagate re-mirrors every record bound to v. Mirror failures are logged
// and returned together; every record is still visited.
func (l *Ledger) Propagate(v *cvar.Var) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	var errs error
	snap := v.Snapshot()
	for _, g := range l.glue {
		if g.Var != v {
			continue
		}
		if err := g.Mirror.Store(snap); err != nil {
			l.log.Warn("cvar propagation", zap.String("cvar", v.Name), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// GlueCount returns the number of glue records.
func (l *Ledger) GlueCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.glue)
}

// Glue returns a copy of the glue records.
func (l *Ledger) Glue() []Glue {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Glue(nil), l.glue...)
}

func (l *Ledger) requireFiles() error {
	if l.files == nil {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Module(l.module).Detail("module has no file access").Build()
	}
	return nil
}

func (l *Ledger) notOwned(h filesys.Handle) error {
	return errors.New(errors.PhaseRuntime, errors.KindNotFound).
		Module(l.module).Value(h).Detail("file handle %d is not owned by this module", h).Build()
}

// OpenFile opens path and records the handle.
func (l *Ledger) OpenFile(path string, mode filesys.Mode) (filesys.Handle, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return 0, 0, l.closedErr()
	}
	if err := l.requireFiles(); err != nil {
		return 0, 0, err
	}
	h, n, err := l.files.Open(path, mode)
	if err != nil {
		return 0, 0, err
	}
	l.open.Set(h)
	return h, n, nil
}

// CloseFile closes an owned handle. The handle is forgotten even when the
// close itself fails.
func (l *Ledger) CloseFile(h filesys.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open.Has(h) {
		return l.notOwned(h)
	}
	l.open.Clear(h)
	return l.files.Close(h)
}

// ReadFile reads from an owned handle.
func (l *Ledger) ReadFile(h filesys.Handle, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open.Has(h) {
		return 0, l.notOwned(h)
	}
	return l.files.Read(h, buf)
}

// WriteFile writes to an owned handle.
func (l *Ledger) WriteFile(h filesys.Handle, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open.Has(h) {
		return 0, l.notOwned(h)
	}
	return l.files.Write(h, buf)
}

// SeekFile moves the offset of an owned handle.
func (l *Ledger) SeekFile(h filesys.Handle, offset int64, whence int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open.Has(h) {
		return 0, l.notOwned(h)
	}
	return l.files.Seek(h, offset, whence)
}

// Owns reports whether h is open by this module.
func (l *Ledger) Owns(h filesys.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open.Has(h)
}

// OpenFiles lists owned handles in ascending order.
func (l *Ledger) OpenFiles() []filesys.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]filesys.Handle, 0, l.open.Len())
	l.open.Each(func(h filesys.Handle) { out = append(out, h) })
	return out
}

// Released reports whether Release has run.
func (l *Ledger) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Release force-closes every open file and drops all glue records. Close
// failures are logged and collected; they never stop the loop. Host
// variables are left untouched. Calling Release again does nothing.
func (l *Ledger) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	var errs error
	l.open.Each(func(h filesys.Handle) {
		l.open.Clear(h)
		if err := l.files.Close(h); err != nil {
			l.log.Warn("force close", zap.Uint32("handle", uint32(h)), zap.Error(err))
			errs = multierr.Append(errs, errors.New(errors.PhaseCleanup, errors.KindIO).
				Module(l.module).Value(h).Cause(err).Detail("force close file %d", h).Build())
			return
		}
		l.log.Debug("force closed file", zap.Uint32("handle", uint32(h)))
	})

	for i := range l.glue {
		l.glue[i] = Glue{}
	}
	l.glue = nil
	return errs
}
