package ledger

import (
	"math/bits"

	"github.com/wippyai/modhost/filesys"
)

const bitsetWords = (MaxFileHandles + 63) / 64

// Bitset records which file handles a module owns. The zero value is an
// empty set.
type Bitset struct {
	words [bitsetWords]uint64
}

func (b *Bitset) Set(h filesys.Handle) bool {
	if !h.Valid() {
		return false
	}
	i := h.Index()
	b.words[i/64] |= 1 << (i % 64)
	return true
}

func (b *Bitset) Clear(h filesys.Handle) {
	if !h.Valid() {
		return
	}
	i := h.Index()
	b.words[i/64] &^= 1 << (i % 64)
}

func (b *Bitset) Has(h filesys.Handle) bool {
	if !h.Valid() {
		return false
	}
	i := h.Index()
	return b.words[i/64]&(1<<(i%64)) != 0
}

// Each calls fn for every member in ascending order. fn may clear members.
func (b *Bitset) Each(fn func(filesys.Handle)) {
	for w := range b.words {
		word := b.words[w]
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			word &^= 1 << bit
			fn(filesys.Handle(w*64 + bit + 1))
		}
	}
}

func (b *Bitset) Len() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b *Bitset) Empty() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}
