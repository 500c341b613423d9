// Package memory implements a bytecode module's linear memory and the
// pointer validator every host thunk goes through before touching it.
//
// Offsets handed to the host by module code are untrusted. Translate turns an
// offset into a byte range only when it is non-null, aligned and fully inside
// committed memory; the bound is computed in 64 bits so that offsets near
// 4 GiB never wrap around. The check is unconditional.
//
// Slices returned here are views of the module's memory. They are valid only
// until the module runs again, since growth may reallocate the buffer; callers
// must not keep them past the thunk that obtained them.
package memory

import (
	"github.com/wippyai/modhost/errors"
)

// PageSize is the linear memory growth granularity.
const PageSize = 65536

// Pages describes a memory's page accounting.
type Pages struct {
	Initial uint32
	Maximum uint32
	Current uint32
}

// Bytes returns the committed byte size for the current page count.
func (p Pages) Bytes() uint64 {
	return uint64(p.Current) * PageSize
}

// Linear is a module's linear memory.
type Linear interface {
	// Bytes returns the committed memory. The slice is only valid for the
	// duration of the current host call.
	Bytes() []byte
	// Size returns the committed size in bytes.
	Size() uint64
	// Pages returns the page accounting.
	Pages() Pages
	// Grow adds delta pages and returns the previous page count.
	Grow(delta uint32) (uint32, error)
}

// Translate validates a module pointer and returns the addressed bytes.
// The returned slice has length elemSize*count.
//
// It fails with a sandbox fault when offset is zero, when offset is not a
// multiple of align, or when offset+elemSize*count exceeds committed memory.
// A zero-length request still has to pass the null and alignment checks.
func Translate(mem Linear, offset, elemSize, count, align uint32) ([]byte, error) {
	if offset == 0 {
		return nil, errors.NullPointer(elemSize, count)
	}
	if align == 0 {
		align = 1
	}
	if offset%align != 0 {
		return nil, errors.Misaligned(offset, align)
	}

	length := uint64(elemSize) * uint64(count)
	end := uint64(offset) + length
	if mem == nil {
		return nil, errors.OutOfBounds(offset, length, 0)
	}
	committed := mem.Size()
	if end > committed {
		return nil, errors.OutOfBounds(offset, length, committed)
	}

	buf := mem.Bytes()
	if end > uint64(len(buf)) {
		return nil, errors.OutOfBounds(offset, length, uint64(len(buf)))
	}
	return buf[offset:end:end], nil
}

// Remaining returns the number of committed bytes from offset to the end of
// memory. It applies the same null check as Translate.
func Remaining(mem Linear, offset uint32) (uint64, error) {
	if offset == 0 {
		return 0, errors.NullPointer(1, 0)
	}
	if mem == nil {
		return 0, errors.OutOfBounds(offset, 0, 0)
	}
	size := mem.Size()
	if uint64(offset) > size {
		return 0, errors.OutOfBounds(offset, 0, size)
	}
	return size - uint64(offset), nil
}
