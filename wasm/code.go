package wasm

import wbin "github.com/wippyai/modhost/wasm/internal/binary"

// Code is a fluent encoder for function bodies.
type Code struct {
	w *wbin.Writer
}

// NewCode starts an empty instruction sequence.
func NewCode() *Code { return &Code{w: wbin.NewWriter()} }

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte { return c.w.Bytes() }

// Op emits a bare opcode.
func (c *Code) Op(op byte) *Code {
	c.w.Byte(op)
	return c
}

func (c *Code) opU32(op byte, v uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(v)
	return c
}

// memarg emits a load/store with natural alignment log2(size).
func (c *Code) memarg(op byte, alignLog2, offset uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(alignLog2)
	c.w.WriteU32(offset)
	return c
}

func (c *Code) LocalGet(i uint32) *Code { return c.opU32(OpLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code { return c.opU32(OpLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code { return c.opU32(OpLocalTee, i) }
func (c *Code) Call(fn uint32) *Code    { return c.opU32(OpCall, fn) }
func (c *Code) Br(depth uint32) *Code   { return c.opU32(OpBr, depth) }
func (c *Code) BrIf(depth uint32) *Code { return c.opU32(OpBrIf, depth) }

func (c *Code) I32Const(v int32) *Code {
	c.w.Byte(OpI32Const)
	c.w.WriteS32(v)
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.w.Byte(OpI64Const)
	c.w.WriteS64(v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.w.Byte(OpF32Const)
	c.w.WriteF32(v)
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.w.Byte(OpF64Const)
	c.w.WriteF64(v)
	return c
}

func (c *Code) I32Load(offset uint32) *Code   { return c.memarg(OpI32Load, 2, offset) }
func (c *Code) I32Store(offset uint32) *Code  { return c.memarg(OpI32Store, 2, offset) }
func (c *Code) I32Load8U(offset uint32) *Code { return c.memarg(OpI32Load8U, 0, offset) }
func (c *Code) I32Store8(offset uint32) *Code { return c.memarg(OpI32Store8, 0, offset) }
func (c *Code) F32Load(offset uint32) *Code   { return c.memarg(OpF32Load, 2, offset) }
func (c *Code) F64Store(offset uint32) *Code  { return c.memarg(OpF64Store, 3, offset) }

// Block opens a block with no result.
func (c *Code) Block() *Code {
	c.w.Byte(OpBlock)
	c.w.Byte(BlockEmpty)
	return c
}

// Loop opens a loop with no result.
func (c *Code) Loop() *Code {
	c.w.Byte(OpLoop)
	c.w.Byte(BlockEmpty)
	return c
}

func (c *Code) Drop() *Code        { return c.Op(OpDrop) }
func (c *Code) Return() *Code      { return c.Op(OpReturn) }
func (c *Code) Unreachable() *Code { return c.Op(OpUnreachable) }
func (c *Code) End() *Code         { return c.Op(OpEnd) }
