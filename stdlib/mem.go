package stdlib

import (
	"bytes"
	"context"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/memory"
	"github.com/wippyai/modhost/value"
)

func memImports() []abi.ImportDescriptor {
	return []abi.ImportDescriptor{
		abi.Import("memcmp", "i:ppu", memcmp),
		abi.Import("memset", "p:piu", memset),
		abi.Import("memcpy", "p:ppu", memcpy),
		abi.Import("strlen", "u:p", strlen),
		abi.Import("strncmp", "i:ppu", strncmp),
	}
}

func sign(n int) int32 {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// ptrPair reads two pointer arguments and a length.
func ptrPair(f *value.Frame) (a, b, n uint32, err error) {
	if a, err = f.Ptr(0); err != nil {
		return
	}
	if b, err = f.Ptr(1); err != nil {
		return
	}
	n, err = f.U32(2)
	return
}

func memcmp(_ context.Context, c *abi.Call) error {
	a, b, n, err := ptrPair(c.Frame)
	if err != nil {
		return err
	}
	x, err := memory.Translate(c.Memory, a, 1, n, 1)
	if err != nil {
		return err
	}
	y, err := memory.Translate(c.Memory, b, 1, n, 1)
	if err != nil {
		return err
	}
	return c.Frame.Return(value.I32(sign(bytes.Compare(x, y))))
}

func memset(_ context.Context, c *abi.Call) error {
	dst, err := c.Frame.Ptr(0)
	if err != nil {
		return err
	}
	v, err := c.Frame.I32(1)
	if err != nil {
		return err
	}
	n, err := c.Frame.U32(2)
	if err != nil {
		return err
	}
	b, err := memory.Translate(c.Memory, dst, 1, n, 1)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = byte(v)
	}
	return c.Frame.Return(value.U32(dst))
}

// memcpy tolerates overlap, like memmove.
func memcpy(_ context.Context, c *abi.Call) error {
	dst, src, n, err := ptrPair(c.Frame)
	if err != nil {
		return err
	}
	to, err := memory.Translate(c.Memory, dst, 1, n, 1)
	if err != nil {
		return err
	}
	from, err := memory.Translate(c.Memory, src, 1, n, 1)
	if err != nil {
		return err
	}
	copy(to, from)
	return c.Frame.Return(value.U32(dst))
}

func strlen(_ context.Context, c *abi.Call) error {
	p, err := c.Frame.Ptr(0)
	if err != nil {
		return err
	}
	s, err := memory.CString(c.Memory, p)
	if err != nil {
		return err
	}
	return c.Frame.Return(value.U32(uint32(len(s))))
}

func strncmp(_ context.Context, c *abi.Call) error {
	a, b, n, err := ptrPair(c.Frame)
	if err != nil {
		return err
	}
	x, err := boundedCString(c.Memory, a, n)
	if err != nil {
		return err
	}
	y, err := boundedCString(c.Memory, b, n)
	if err != nil {
		return err
	}
	return c.Frame.Return(value.I32(sign(bytes.Compare(x, y))))
}

// boundedCString reads at most limit bytes of a C string. The string must
// either terminate or reach limit inside committed memory.
func boundedCString(mem memory.Linear, offset, limit uint32) ([]byte, error) {
	rem, err := memory.Remaining(mem, offset)
	if err != nil {
		return nil, err
	}
	n := limit
	if rem < uint64(n) {
		n = uint32(rem)
	}
	b, err := memory.Translate(mem, offset, 1, n, 1)
	if err != nil {
		return nil, err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i], nil
	}
	if n < limit {
		return nil, errors.New(errors.PhaseSandbox, errors.KindOutOfBounds).
			Value(offset).
			Detail("string at 0x%x runs past committed memory", offset).
			Build()
	}
	return b, nil
}
