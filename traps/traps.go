// Package traps implements the engine-specific host calls a module makes
// through its ledger: printing, fatal errors, the clock, cvars and files.
//
// An Env serves one module. Bytecode modules reach it through Table, whose
// imports carry the trap_ prefix; native modules receive it as their
// abi.Host. Both paths share the same methods, so the two backends see the
// same behavior.
package traps

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/filesys"
	"github.com/wippyai/modhost/ledger"
)

// Group is the import table group name.
const Group = "traps"

// Env is the trap state of one module.
type Env struct {
	ledger *ledger.Ledger
	log    *zap.Logger
	out    io.Writer
	start  time.Time
}

var _ abi.Host = (*Env)(nil)

// Options configures an Env.
type Options struct {
	// Logger receives module errors and, when Output is nil, module prints.
	Logger *zap.Logger
	// Output receives trap_Print text verbatim.
	Output io.Writer
	// Start is the zero point of Milliseconds. Zero means now.
	Start time.Time
}

// New creates the trap environment for the module owning l.
func New(l *ledger.Ledger, opts Options) *Env {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	return &Env{
		ledger: l,
		log:    log.With(zap.String("module", l.Module())),
		out:    opts.Output,
		start:  start,
	}
}

// Host returns an abi.Host for a native module backed by l.
func Host(l *ledger.Ledger, opts Options) abi.Host { return New(l, opts) }

// Ledger returns the ledger the environment records into.
func (e *Env) Ledger() *ledger.Ledger { return e.ledger }

func (e *Env) Print(msg string) {
	if e.out != nil {
		io.WriteString(e.out, msg)
		return
	}
	e.log.Info("module print", zap.String("text", msg))
}

// Error builds the fault a module raises to abort the current call.
func (e *Env) Error(msg string) error {
	e.log.Error("module error", zap.String("text", msg))
	return errors.New(errors.PhaseRuntime, errors.KindModuleError).
		Module(e.ledger.Module()).Detail("%s", msg).Build()
}

func (e *Env) Milliseconds() int32 {
	return int32(time.Since(e.start).Milliseconds())
}

func (e *Env) CvarRegister(local *cvar.Local, name, defaultValue string, flags cvar.Flags) error {
	var m ledger.Mirror
	if local != nil {
		m = ledger.LocalMirror{Local: local}
	}
	return e.ledger.RegisterCvar(name, defaultValue, flags, m)
}

func (e *Env) CvarUpdate(local *cvar.Local) error {
	return e.ledger.UpdateCvar(ledger.LocalMirror{Local: local})
}

// CvarSet changes a host variable. Refusals such as a read-only variable
// are logged and returned; they do not fault the module.
func (e *Env) CvarSet(name, value string) error {
	if err := e.ledger.Cvars().Set(name, value); err != nil {
		e.log.Warn("cvar set refused", zap.String("cvar", name), zap.Error(err))
		return err
	}
	return nil
}

func (e *Env) CvarString(name string) string {
	if s, ok := e.ledger.Cvars().Snapshot(name); ok {
		return s.String
	}
	return ""
}

func (e *Env) CvarInteger(name string) int32 {
	if s, ok := e.ledger.Cvars().Snapshot(name); ok {
		return s.Integer
	}
	return 0
}

func (e *Env) FOpen(path string, mode filesys.Mode) (filesys.Handle, int64, error) {
	h, n, err := e.ledger.OpenFile(path, mode)
	if err != nil {
		e.log.Debug("open failed", zap.String("path", path), zap.Stringer("mode", mode), zap.Error(err))
		return 0, 0, err
	}
	return h, n, nil
}

func (e *Env) FRead(h filesys.Handle, buf []byte) (int, error) {
	return e.ledger.ReadFile(h, buf)
}

func (e *Env) FWrite(h filesys.Handle, buf []byte) (int, error) {
	return e.ledger.WriteFile(h, buf)
}

func (e *Env) FClose(h filesys.Handle) error {
	return e.ledger.CloseFile(h)
}
