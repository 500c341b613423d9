package memory

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/modhost/errors"
)

// wazeroMemory adapts a wazero instance memory. wazero owns the buffer; the
// view is re-read on every access because memory.grow may replace it.
type wazeroMemory struct {
	mem     api.Memory
	initial uint32
	maximum uint32
}

// FromWazero wraps the memory of an instantiated module. The page limits are
// taken from the memory's definition; a memory without a declared maximum is
// capped at limitPages (the engine's configured limit).
func FromWazero(mem api.Memory, limitPages uint32) Linear {
	w := &wazeroMemory{mem: mem, maximum: limitPages}
	if def := mem.Definition(); def != nil {
		w.initial = def.Min()
		if declared, ok := def.Max(); ok && (limitPages == 0 || declared < limitPages) {
			w.maximum = declared
		}
	}
	if w.maximum == 0 {
		w.maximum = 65536
	}
	return w
}

func (w *wazeroMemory) Bytes() []byte {
	buf, ok := w.mem.Read(0, w.mem.Size())
	if !ok {
		return nil
	}
	return buf
}

func (w *wazeroMemory) Size() uint64 { return uint64(w.mem.Size()) }

func (w *wazeroMemory) Pages() Pages {
	return Pages{
		Initial: w.initial,
		Maximum: w.maximum,
		Current: uint32(uint64(w.mem.Size()) / PageSize),
	}
}

func (w *wazeroMemory) Grow(delta uint32) (uint32, error) {
	cur := uint32(uint64(w.mem.Size()) / PageSize)
	if uint64(cur)+uint64(delta) > uint64(w.maximum) {
		return cur, errors.MemoryGrowth(cur, delta, w.maximum)
	}
	prev, ok := w.mem.Grow(delta)
	if !ok {
		return cur, errors.MemoryGrowth(cur, delta, w.maximum)
	}
	return prev, nil
}
