package filesys

import (
	"os"
	"sync"
)

// MaxHandles is the number of files the host can have open at once, across
// all modules. It is part of the module ABI: handles are 1..MaxHandles.
const MaxHandles = 64

// Handle identifies an open file. Handle 0 is reserved and always invalid.
type Handle uint32

// Index returns the zero-based slot of h, for bitmaps over the handle universe.
func (h Handle) Index() int { return int(h) - 1 }

// Valid reports whether h is inside the handle universe.
func (h Handle) Valid() bool { return h >= 1 && h <= MaxHandles }

type entry struct {
	file  *os.File
	path  string
	mode  Mode
	valid bool
}

// handleTable is a fixed-capacity handle allocator. Freed handles are
// reused, lowest first, so handle values stay small and predictable.
type handleTable struct {
	entries  [MaxHandles]entry
	freeList []Handle
	next     Handle
	mu       sync.Mutex
}

func newHandleTable() *handleTable {
	return &handleTable{next: 1}
}

func (t *handleTable) insert(e entry) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.valid = true
	if n := len(t.freeList); n > 0 {
		lowest := 0
		for i := 1; i < n; i++ {
			if t.freeList[i] < t.freeList[lowest] {
				lowest = i
			}
		}
		h := t.freeList[lowest]
		t.freeList = append(t.freeList[:lowest], t.freeList[lowest+1:]...)
		t.entries[h.Index()] = e
		return h, true
	}
	if t.next > MaxHandles {
		return 0, false
	}
	h := t.next
	t.next++
	t.entries[h.Index()] = e
	return h, true
}

func (t *handleTable) get(h Handle) (entry, bool) {
	if !h.Valid() {
		return entry{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[h.Index()]
	return e, e.valid
}

func (t *handleTable) remove(h Handle) (entry, bool) {
	if !h.Valid() {
		return entry{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[h.Index()]
	if !e.valid {
		return entry{}, false
	}
	t.entries[h.Index()] = entry{}
	t.freeList = append(t.freeList, h)
	return e, true
}

func (t *handleTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.entries {
		if t.entries[i].valid {
			n++
		}
	}
	return n
}

func (t *handleTable) each(fn func(Handle, entry)) {
	t.mu.Lock()
	snapshot := t.entries
	t.mu.Unlock()
	for i, e := range snapshot {
		if e.valid {
			fn(Handle(i+1), e)
		}
	}
}
