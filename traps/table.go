package traps

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/filesys"
	"github.com/wippyai/modhost/ledger"
	"github.com/wippyai/modhost/memory"
	"github.com/wippyai/modhost/value"
)

// Table returns the trap imports bound to this environment. Each bytecode
// module gets its own table because the thunks record into its ledger.
//
// Soft failures (a refused registration, a file that cannot be opened)
// come back to the module as -1. Bad pointers, handles the module does not
// own and trap_Error fault the call.
func (e *Env) Table() *abi.ImportTable {
	return abi.MustImportTable(Group, abi.TrapPrefix,
		abi.Import("trap_Print", "v:p", e.trapPrint),
		abi.Import("trap_Error", "v:p", e.trapError),
		abi.Import("trap_Milliseconds", "i:", e.trapMilliseconds),
		abi.Import("trap_Cvar_Register", "i:pppi", e.trapCvarRegister),
		abi.Import("trap_Cvar_Update", "v:p", e.trapCvarUpdate),
		abi.Import("trap_Cvar_Set", "v:pp", e.trapCvarSet),
		abi.Import("trap_Cvar_VariableIntegerValue", "i:p", e.trapCvarInteger),
		abi.Import("trap_Cvar_VariableStringBuffer", "v:ppu", e.trapCvarStringBuffer),
		abi.Import("trap_FS_FOpenFile", "i:ppi", e.trapFOpen),
		abi.Import("trap_FS_Read", "i:pui", e.trapFRead),
		abi.Import("trap_FS_Write", "i:pui", e.trapFWrite),
		abi.Import("trap_FS_FCloseFile", "v:i", e.trapFClose),
	)
}

func stringArg(c *abi.Call, i int) (string, error) {
	p, err := c.Frame.Ptr(i)
	if err != nil {
		return "", err
	}
	return memory.CString(c.Memory, p)
}

func fail(c *abi.Call) error { return c.Frame.Return(value.I32(-1)) }

func (e *Env) trapPrint(_ context.Context, c *abi.Call) error {
	msg, err := stringArg(c, 0)
	if err != nil {
		return err
	}
	e.Print(msg)
	return nil
}

func (e *Env) trapError(_ context.Context, c *abi.Call) error {
	msg, err := stringArg(c, 0)
	if err != nil {
		return err
	}
	return e.Error(msg)
}

func (e *Env) trapMilliseconds(_ context.Context, c *abi.Call) error {
	return c.Frame.Return(value.I32(e.Milliseconds()))
}

// mirrorArg validates a module cvar struct pointer. A null pointer means
// the module keeps no mirror.
func mirrorArg(c *abi.Call, i int) (ledger.Mirror, error) {
	p, err := c.Frame.Ptr(i)
	if err != nil {
		return nil, err
	}
	if p == 0 {
		return nil, nil
	}
	if _, err := memory.Translate(c.Memory, p, ledger.MirrorSize, 1, 4); err != nil {
		return nil, err
	}
	return ledger.MemoryMirror{Mem: c.Memory, Offset: p}, nil
}

func (e *Env) trapCvarRegister(_ context.Context, c *abi.Call) error {
	m, err := mirrorArg(c, 0)
	if err != nil {
		return err
	}
	name, err := stringArg(c, 1)
	if err != nil {
		return err
	}
	def, err := stringArg(c, 2)
	if err != nil {
		return err
	}
	flags, err := c.Frame.I32(3)
	if err != nil {
		return err
	}
	if err := e.ledger.RegisterCvar(name, def, cvar.Flags(uint32(flags)), m); err != nil {
		if errors.IsSandboxFault(err) {
			return err
		}
		return fail(c)
	}
	return c.Frame.Return(value.I32(0))
}

func (e *Env) trapCvarUpdate(_ context.Context, c *abi.Call) error {
	m, err := mirrorArg(c, 0)
	if err != nil {
		return err
	}
	if m == nil {
		return errors.NullPointer(ledger.MirrorSize, 1)
	}
	return e.ledger.UpdateCvar(m)
}

func (e *Env) trapCvarSet(_ context.Context, c *abi.Call) error {
	name, err := stringArg(c, 0)
	if err != nil {
		return err
	}
	val, err := stringArg(c, 1)
	if err != nil {
		return err
	}
	e.CvarSet(name, val)
	return nil
}

func (e *Env) trapCvarInteger(_ context.Context, c *abi.Call) error {
	name, err := stringArg(c, 0)
	if err != nil {
		return err
	}
	return c.Frame.Return(value.I32(e.CvarInteger(name)))
}

func (e *Env) trapCvarStringBuffer(_ context.Context, c *abi.Call) error {
	name, err := stringArg(c, 0)
	if err != nil {
		return err
	}
	buf, err := c.Frame.Ptr(1)
	if err != nil {
		return err
	}
	size, err := c.Frame.U32(2)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	rem, err := memory.Remaining(c.Memory, buf)
	if err != nil {
		return err
	}
	if rem < uint64(size) {
		size = uint32(rem)
	}
	_, err = memory.WriteCString(c.Memory, buf, size, e.CvarString(name))
	return err
}

// trapFOpen opens a file and stores its handle through the out pointer.
// With a null out pointer it only reports the file length.
func (e *Env) trapFOpen(_ context.Context, c *abi.Call) error {
	path, err := stringArg(c, 0)
	if err != nil {
		return err
	}
	out, err := c.Frame.Ptr(1)
	if err != nil {
		return err
	}
	mode, err := c.Frame.I32(2)
	if err != nil {
		return err
	}
	if out != 0 {
		// fail before opening anything if the handle cannot be stored
		if err := memory.WriteU32(c.Memory, out, 0); err != nil {
			return err
		}
	}

	h, n, err := e.FOpen(path, filesys.Mode(mode))
	if err != nil {
		return fail(c)
	}
	if out == 0 {
		if err := e.FClose(h); err != nil {
			return err
		}
	} else if err := memory.WriteU32(c.Memory, out, uint32(h)); err != nil {
		e.FClose(h)
		return err
	}
	return c.Frame.Return(value.I32(int32(min(n, 1<<31-1))))
}

func bufferArgs(c *abi.Call) ([]byte, filesys.Handle, error) {
	p, err := c.Frame.Ptr(0)
	if err != nil {
		return nil, 0, err
	}
	n, err := c.Frame.U32(1)
	if err != nil {
		return nil, 0, err
	}
	h, err := c.Frame.I32(2)
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, filesys.Handle(h), nil
	}
	b, err := memory.Translate(c.Memory, p, 1, n, 1)
	if err != nil {
		return nil, 0, err
	}
	return b, filesys.Handle(h), nil
}

// ioResult turns a file operation outcome into the module-visible count.
// Operations on handles the module does not own fault the call.
func ioResult(c *abi.Call, n int, err error) error {
	if err != nil {
		if errors.HasKind(err, errors.KindNotFound) {
			return err
		}
		return fail(c)
	}
	return c.Frame.Return(value.I32(int32(n)))
}

func (e *Env) trapFRead(_ context.Context, c *abi.Call) error {
	buf, h, err := bufferArgs(c)
	if err != nil {
		return err
	}
	n, err := e.FRead(h, buf)
	return ioResult(c, n, err)
}

func (e *Env) trapFWrite(_ context.Context, c *abi.Call) error {
	buf, h, err := bufferArgs(c)
	if err != nil {
		return err
	}
	n, err := e.FWrite(h, buf)
	return ioResult(c, n, err)
}

func (e *Env) trapFClose(_ context.Context, c *abi.Call) error {
	h, err := c.Frame.I32(0)
	if err != nil {
		return err
	}
	if err := e.FClose(filesys.Handle(h)); err != nil {
		if errors.HasKind(err, errors.KindNotFound) {
			return err
		}
		e.log.Warn("close failed", zap.Int32("handle", h), zap.Error(err))
	}
	return nil
}
