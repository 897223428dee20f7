// Package posn emulates §6.3's persisted state: a small shared-memory
// region of stream_posn entries updated once per period so a host can
// observe the current read/write pointer per pipeline, one slot per
// pipeline allocated at creation from a fixed-size pool.
package posn

import (
	"fmt"
	"sync"

	"github.com/audiograph/corefw/internal/errors"
)

// Entry is one stream_posn slot: the read and write pointers (in frames,
// modulo the owning buffer's size) a host polls once per period.
type Entry struct {
	PipelineID uint32
	ReadPtr    uint64
	WritePtr   uint64
	// Generation increments on every Update, so a host polling the mailbox
	// can detect a torn read against a concurrent writer without a lock.
	Generation uint64
}

// Pool is a fixed-size array of Entry slots, sized at construction by the
// capacity passed to NewPool (§6.3); NewPool allocates the pool eagerly since
// the firmware has no on-disk state to lazily restore from.
type Pool struct {
	mu      sync.Mutex
	entries []Entry
	free    []int
	owners  map[uint32]int
}

// NewPool creates a Pool with capacity slots.
func NewPool(capacity int) *Pool {
	free := make([]int, capacity)
	for i := range free {
		free[i] = capacity - 1 - i
	}
	return &Pool{
		entries: make([]Entry, capacity),
		free:    free,
		owners:  make(map[uint32]int),
	}
}

// Allocate reserves one slot for pipelineID, called once at pipeline
// creation (§6.3: "each pipeline owns exactly one slot allocated at
// creation").
func (p *Pool) Allocate(pipelineID uint32) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.owners[pipelineID]; ok {
		return 0, errors.New(fmt.Errorf("posn: pipeline %d already owns a slot", pipelineID)).
			Category(errors.CategoryInvalidState).
			Component("posn").
			Build()
	}
	if len(p.free) == 0 {
		return 0, errors.New(fmt.Errorf("posn: mailbox pool exhausted")).
			Category(errors.CategoryOutOfMemory).
			Component("posn").
			Build()
	}

	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.owners[pipelineID] = slot
	p.entries[slot] = Entry{PipelineID: pipelineID}
	return slot, nil
}

// Release returns pipelineID's slot to the free list on pipeline_free.
func (p *Pool) Release(pipelineID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.owners[pipelineID]
	if !ok {
		return errors.New(fmt.Errorf("posn: pipeline %d owns no slot", pipelineID)).
			Category(errors.CategoryInvalidResource).
			Component("posn").
			Build()
	}
	delete(p.owners, pipelineID)
	p.entries[slot] = Entry{}
	p.free = append(p.free, slot)
	return nil
}

// Update stamps pipelineID's slot with the current pointers, called once
// per schedule tick (§6.3).
func (p *Pool) Update(pipelineID uint32, readPtr, writePtr uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.owners[pipelineID]
	if !ok {
		return errors.New(fmt.Errorf("posn: pipeline %d owns no slot", pipelineID)).
			Category(errors.CategoryInvalidResource).
			Component("posn").
			Build()
	}
	e := &p.entries[slot]
	e.ReadPtr = readPtr
	e.WritePtr = writePtr
	e.Generation++
	return nil
}

// Read returns a snapshot of pipelineID's current entry, the host-facing
// observation §6.3 describes.
func (p *Pool) Read(pipelineID uint32) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.owners[pipelineID]
	if !ok {
		return Entry{}, errors.New(fmt.Errorf("posn: pipeline %d owns no slot", pipelineID)).
			Category(errors.CategoryInvalidResource).
			Component("posn").
			Build()
	}
	return p.entries[slot], nil
}

// Cap returns the pool's total slot count.
func (p *Pool) Cap() int {
	return len(p.entries)
}

// Available returns the count of unallocated slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
