package memory

import (
	"sync"
)

// Handle identifies a region in the arena. The low 32 bits hold the
// slot index plus one, the high 32 bits the slot's generation at
// allocation time. A handle kept across a release no longer matches
// the slot generation and is rejected instead of resolving to whatever
// reused the slot.
type Handle uint64

func makeHandle(index int, gen uint32) Handle {
	return Handle(uint64(index+1) | uint64(gen)<<32)
}

func (h Handle) index() int {
	return int(uint32(h)) - 1
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

type slot struct {
	region *Region
	gen    uint32
	live   bool
}

// arena stores regions in reusable slots. Slots are recycled through a
// free list; the generation counter bumps on every release so stale
// handles stay detectable.
type arena struct {
	slots    []slot
	freeList []int
	mu       sync.RWMutex
}

func newArena() *arena {
	return &arena{
		slots:    make([]slot, 0, 64),
		freeList: make([]int, 0, 16),
	}
}

func (a *arena) insert(r *Region) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.slots[idx].region = r
		a.slots[idx].live = true
		return makeHandle(idx, a.slots[idx].gen)
	}

	a.slots = append(a.slots, slot{region: r, live: true})
	return makeHandle(len(a.slots)-1, 0)
}

// get resolves a handle to its region, rejecting stale generations.
func (a *arena) get(h Handle) (*Region, bool) {
	if h == 0 {
		return nil, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	idx := h.index()
	if idx < 0 || idx >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[idx]
	if !s.live || s.gen != h.generation() {
		return nil, false
	}
	return s.region, true
}

// release frees the slot behind a handle and bumps its generation.
func (a *arena) release(h Handle) (*Region, bool) {
	if h == 0 {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := h.index()
	if idx < 0 || idx >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[idx]
	if !s.live || s.gen != h.generation() {
		return nil, false
	}

	r := s.region
	s.region = nil
	s.live = false
	s.gen++
	a.freeList = append(a.freeList, idx)
	return r, true
}

// each visits every live region. The callback must not call back into
// the arena.
func (a *arena) each(fn func(h Handle, r *Region) bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := range a.slots {
		if !a.slots[i].live {
			continue
		}
		if !fn(makeHandle(i, a.slots[i].gen), a.slots[i].region) {
			return
		}
	}
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.freeList)
}
