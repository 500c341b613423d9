package ledger

import (
	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/memory"
)

// Layout of a module-side cvar mirror in linear memory.
const (
	MirrorSize      = 280
	MirrorStringCap = 256

	offHandle   = 0
	offModCount = 4
	offValue    = 8
	offInteger  = 12
	offFlags    = 16
	offModified = 20
	offString   = 24
)

// Mirror is a module-local copy of a host variable.
type Mirror interface {
	// Store copies the variable state into the mirror, raising its
	// modified flag when the modification count moved.
	Store(s cvar.Snapshot) error
	// MarkModified raises the modified flag regardless of the count.
	MarkModified() error
	// Key identifies the mirror slot within one module.
	Key() any
}

// MemoryMirror is a mirror struct inside a bytecode module's linear memory.
// The whole struct is re-validated on every store because the memory may
// have grown or the module may have passed a bad pointer.
type MemoryMirror struct {
	Mem    memory.Linear
	Offset uint32
}

func (m MemoryMirror) Key() any { return m.Offset }

func (m MemoryMirror) Store(s cvar.Snapshot) error {
	if _, err := memory.Translate(m.Mem, m.Offset, MirrorSize, 1, 4); err != nil {
		return err
	}
	prev, err := memory.ReadI32(m.Mem, m.Offset+offModCount)
	if err != nil {
		return err
	}

	if err := memory.WriteU32(m.Mem, m.Offset+offHandle, s.Handle); err != nil {
		return err
	}
	if err := memory.WriteI32(m.Mem, m.Offset+offModCount, s.ModificationCount); err != nil {
		return err
	}
	if err := memory.WriteF32(m.Mem, m.Offset+offValue, s.Value); err != nil {
		return err
	}
	if err := memory.WriteI32(m.Mem, m.Offset+offInteger, s.Integer); err != nil {
		return err
	}
	if err := memory.WriteU32(m.Mem, m.Offset+offFlags, uint32(s.Flags)); err != nil {
		return err
	}
	if prev != s.ModificationCount {
		if err := memory.WriteU32(m.Mem, m.Offset+offModified, 1); err != nil {
			return err
		}
	}
	_, err = memory.WriteCString(m.Mem, m.Offset+offString, MirrorStringCap, s.String)
	return err
}

func (m MemoryMirror) MarkModified() error {
	if _, err := memory.Translate(m.Mem, m.Offset, MirrorSize, 1, 4); err != nil {
		return err
	}
	return memory.WriteU32(m.Mem, m.Offset+offModified, 1)
}

// ReadMemoryMirror decodes a mirror struct, for diagnostics and tests.
func ReadMemoryMirror(mem memory.Linear, offset uint32) (cvar.Local, error) {
	var l cvar.Local
	if _, err := memory.Translate(mem, offset, MirrorSize, 1, 4); err != nil {
		return l, err
	}
	l.Handle, _ = memory.ReadU32(mem, offset+offHandle)
	l.ModificationCount, _ = memory.ReadI32(mem, offset+offModCount)
	l.Value, _ = memory.ReadF32(mem, offset+offValue)
	l.Integer, _ = memory.ReadI32(mem, offset+offInteger)
	flags, _ := memory.ReadU32(mem, offset+offFlags)
	l.Flags = cvar.Flags(flags)
	modified, _ := memory.ReadU32(mem, offset+offModified)
	l.Modified = modified != 0

	b, _ := memory.Translate(mem, offset+offString, 1, MirrorStringCap, 1)
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	l.String = string(b)
	return l, nil
}

// LocalMirror wraps a native module's Go-side mirror.
type LocalMirror struct {
	Local *cvar.Local
}

func (m LocalMirror) Key() any { return m.Local }

func (m LocalMirror) Store(s cvar.Snapshot) error { return m.Local.Store(s) }

func (m LocalMirror) MarkModified() error {
	m.Local.Modified = true
	return nil
}
