package memory

import (
	"github.com/wippyai/modhost/errors"
)

// Buffer is a host-owned linear memory: one contiguous byte slice sized to
// the current page count. It only grows, never beyond Maximum.
type Buffer struct {
	data  []byte
	pages Pages
	freed bool
}

// NewBuffer allocates initial pages with a growth ceiling of maximum pages.
func NewBuffer(initial, maximum uint32) (*Buffer, error) {
	if maximum < initial {
		return nil, errors.InvalidInput(errors.PhaseSandbox, "maximum pages below initial pages")
	}
	if maximum > 65536 {
		return nil, errors.InvalidInput(errors.PhaseSandbox, "maximum pages exceed 32-bit address space")
	}
	return &Buffer{
		data:  make([]byte, uint64(initial)*PageSize),
		pages: Pages{Initial: initial, Maximum: maximum, Current: initial},
	}, nil
}

func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Size() uint64 { return uint64(len(b.data)) }

func (b *Buffer) Pages() Pages { return b.pages }

// Grow extends the buffer by delta pages. Growth past Maximum, or after Free,
// is a sandbox fault.
func (b *Buffer) Grow(delta uint32) (uint32, error) {
	prev := b.pages.Current
	if b.freed {
		return prev, errors.New(errors.PhaseSandbox, errors.KindClosed).Detail("grow after free").Build()
	}
	if uint64(prev)+uint64(delta) > uint64(b.pages.Maximum) {
		return prev, errors.MemoryGrowth(prev, delta, b.pages.Maximum)
	}
	if delta == 0 {
		return prev, nil
	}
	next := make([]byte, uint64(prev+delta)*PageSize)
	copy(next, b.data)
	b.data = next
	b.pages.Current = prev + delta
	return prev, nil
}

// Free releases the buffer. Later accesses see zero committed bytes.
// Calling Free more than once is harmless.
func (b *Buffer) Free() {
	b.data = nil
	b.pages.Current = 0
	b.freed = true
}
