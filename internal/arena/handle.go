// Package arena provides a handle-indexed store for Components and Buffers.
// Rather than hold Go pointers across the simulated core boundary, callers
// store values here once and pass the returned Handle around; "which core
// owns this object" becomes a property of which Arena the handle was
// allocated from, not an accident of the memory model.
package arena

import (
	"sync"

	"github.com/audiograph/corefw/internal/errors"
)

// Handle is an opaque 32-bit reference into an Arena. The zero Handle is
// never valid and is reserved to mean "no object".
type Handle uint32

// Invalid is the reserved zero handle.
const Invalid Handle = 0

// Arena is a generic, concurrency-safe slot allocator keyed by Handle.
// Slots are reused after Free, so a Handle surviving past its Free call is
// a caller bug, not an Arena one: Get/Put on a freed handle returns
// CategoryInvalidResource rather than silently handing back stale data.
type Arena[T any] struct {
	mu     sync.RWMutex
	slots  []slot[T]
	free   []uint32 // indices available for reuse
	kind   string   // used only for error context, e.g. "buffer", "component"
}

type slot[T any] struct {
	value    T
	occupied bool
	gen      uint32 // bumped on every Free to invalidate stale handles sharing an index
}

// New creates an empty arena. kind labels handles in error context, e.g.
// "buffer" or "component".
func New[T any](kind string) *Arena[T] {
	return &Arena[T]{kind: kind}
}

// pack/unpack encode a slot index and generation into a single Handle so a
// freed-and-reused slot can't be referenced by an old Handle value. The
// index is stored plus one, so no allocated slot ever packs to Invalid.
func pack(index, gen uint32) Handle {
	return Handle(uint64(gen)<<20 | uint64((index+1)&0xFFFFF))
}

func unpack(h Handle) (index, gen uint32) {
	v := uint32(h)
	return v&0xFFFFF - 1, v >> 20
}

// Alloc stores value and returns a new handle for it.
func (a *Arena[T]) Alloc(value T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].value = value
		a.slots[idx].occupied = true
		return pack(idx, a.slots[idx].gen)
	}

	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{value: value, occupied: true})
	return pack(idx, 0)
}

// Get returns the value stored at h.
func (a *Arena[T]) Get(h Handle) (T, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var zero T
	idx, gen := unpack(h)
	if h == Invalid || int(idx) >= len(a.slots) {
		return zero, errors.ResourceError(errors.NewStd("handle out of range"), a.kind, uint32(h))
	}
	s := &a.slots[idx]
	if !s.occupied || s.gen != gen {
		return zero, errors.ResourceError(errors.NewStd("handle not allocated"), a.kind, uint32(h))
	}
	return s.value, nil
}

// Set overwrites the value stored at h.
func (a *Arena[T]) Set(h Handle, value T) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, gen := unpack(h)
	if h == Invalid || int(idx) >= len(a.slots) {
		return errors.ResourceError(errors.NewStd("handle out of range"), a.kind, uint32(h))
	}
	s := &a.slots[idx]
	if !s.occupied || s.gen != gen {
		return errors.ResourceError(errors.NewStd("handle not allocated"), a.kind, uint32(h))
	}
	s.value = value
	return nil
}

// Free releases the slot at h so it can be reused by a later Alloc. Freeing
// an already-free or unknown handle is a Fatal error: it means the caller
// double-freed, which is exactly the invariant violation this design exists
// to make checkable.
func (a *Arena[T]) Free(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, gen := unpack(h)
	if h == Invalid || int(idx) >= len(a.slots) {
		return errors.FatalError(errors.NewStd("free of out-of-range handle"), "arena")
	}
	s := &a.slots[idx]
	if !s.occupied || s.gen != gen {
		return errors.FatalError(errors.NewStd("double free of handle"), "arena")
	}

	var zero T
	s.value = zero
	s.occupied = false
	s.gen++
	a.free = append(a.free, idx)
	return nil
}

// Len returns the number of live (allocated, unfreed) entries.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}

// Each calls fn for every live entry, in arbitrary slot order. fn must not
// call back into the arena.
func (a *Arena[T]) Each(fn func(h Handle, value T)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for idx := range a.slots {
		s := &a.slots[idx]
		if s.occupied {
			fn(pack(uint32(idx), s.gen), s.value)
		}
	}
}
