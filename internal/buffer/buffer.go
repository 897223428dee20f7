// Package buffer implements the inter-component ring (§3.2/§4.1): a
// single-producer/single-consumer bounded byte ring with cache-line
// discipline, cross-core hand-off accounting, and the exact byte/frame
// bookkeeping the xrun path needs.
//
// "CPU core" here is a goroutine-affine worker context identified by an
// integer id (see internal/sched.Core), and "cache writeback/invalidate"
// is realized as explicit, counted operations on the header rather than
// literal cache instructions, since this runs on a general-purpose OS
// instead of bare metal.
package buffer

import (
	"fmt"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/audiograph/corefw/internal/arena"
	"github.com/audiograph/corefw/internal/errors"
	"github.com/audiograph/corefw/internal/streamfmt"
)

// Dir selects which slot a Connect call attaches to.
type Dir int

const (
	// CompToBuffer attaches the buffer as a sink (output) of a component.
	CompToBuffer Dir = iota
	// BufferToComp attaches the buffer as a source (input) of a component.
	BufferToComp
)

// XrunPolicy selects how xrun deficits accumulate toward xrun_limit_us.
// §9 Open Question 2 declines to pick one silently; both are offered.
type XrunPolicy int

const (
	// XrunCumulative sums deficits across periods without resetting until
	// the pipeline's xrun handler performs a recovery restart. This is the
	// spec's adopted default reading of §4.3.
	XrunCumulative XrunPolicy = iota
	// XrunPerPeriod resets the deficit accumulator before each recorded
	// xrun, so it holds only the most recent xrun's deficit, matching the
	// IPC4-style front-end the spec also observed.
	XrunPerPeriod
)

// defaultCacheLine is used only if CPU detection reports zero, which
// klauspost/cpuid/v2 treats as "unknown".
const defaultCacheLine = 64

// Buffer is a circular byte ring owned by exactly one pipeline at a time,
// connecting exactly one producer and one consumer component (§3.2).
type Buffer struct {
	mu sync.Mutex

	data []byte
	size int

	wPtr, rPtr int // both in [0, size)
	avail      int // bytes produced, not yet consumed

	stream streamfmt.Format

	producer, consumer arena.Handle
	producerSet, consumerSet bool

	// interCore is true when producer and consumer run on different core
	// ids; it switches Produce/Consume into the writeback/invalidate path.
	interCore            bool
	producerCore, consumerCore int

	// walking guards graph traversal against revisiting this buffer within
	// a single walk and against unbroken cycles (§4.3, §9).
	walking bool

	xrunPolicy    XrunPolicy
	xrunLimitUS   int64
	xrunDeficitUS int64

	// writebackCount/invalidateCount are the observable counters §8's
	// scenario 4 asserts "exactly one per period" against.
	writebackCount   uint64
	invalidateCount  uint64
}

// New allocates a ring of size bytes aligned to the detected cache line.
// Fails with CategoryOutOfMemory only in principle (Go allocation does not
// fail synchronously), kept for contract parity with the spec and for
// callers that want to treat a zero/negative size as a hard error.
func New(stream streamfmt.Format, size int) (*Buffer, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.New(fmt.Errorf("buffer size must be positive, got %d", size)).
			Category(errors.CategoryOutOfMemory).
			Component("buffer").
			Build()
	}

	line := cpuid.CPU.CacheLine
	if line <= 0 {
		line = defaultCacheLine
	}
	aligned := alignUp(size, line)

	return &Buffer{
		data:        make([]byte, aligned),
		size:        aligned,
		stream:      stream,
		xrunPolicy:  XrunCumulative,
		xrunLimitUS: 5000,
	}, nil
}

func alignUp(n, align int) int {
	if align <= 0 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// SetXrunPolicy overrides the default cumulative-deficit accounting.
func (b *Buffer) SetXrunPolicy(p XrunPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.xrunPolicy = p
}

// SetXrunLimitUS overrides the default xrun_limit_us budget.
func (b *Buffer) SetXrunLimitUS(us int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.xrunLimitUS = us
}

// Connect attaches compHandle to the buffer's producer or consumer slot,
// per dir. Fails with CategoryInvalidState ("AlreadyConnected" in spec
// vocabulary) if the slot is already occupied.
func (b *Buffer) Connect(dir Dir, compHandle arena.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch dir {
	case CompToBuffer:
		if b.producerSet {
			return errors.New(fmt.Errorf("buffer already has a producer")).
				Category(errors.CategoryInvalidState).
				Component("buffer").
				Build()
		}
		b.producer = compHandle
		b.producerSet = true
	case BufferToComp:
		if b.consumerSet {
			return errors.New(fmt.Errorf("buffer already has a consumer")).
				Category(errors.CategoryInvalidState).
				Component("buffer").
				Build()
		}
		b.consumer = compHandle
		b.consumerSet = true
	default:
		return errors.New(fmt.Errorf("unknown connect direction %d", dir)).
			Category(errors.CategoryInvalidArgument).
			Component("buffer").
			Build()
	}
	return nil
}

// Disconnect detaches whichever slot dir names, restoring the buffer to
// the state Connect found it in (§8 round-trip law).
func (b *Buffer) Disconnect(dir Dir) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch dir {
	case CompToBuffer:
		b.producer, b.producerSet = arena.Invalid, false
	case BufferToComp:
		b.consumer, b.consumerSet = arena.Invalid, false
	}
}

// SetCores records the owning core of each endpoint and derives interCore.
// A pipeline builder calls this once per buffer after both Connects.
func (b *Buffer) SetCores(producerCore, consumerCore int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.producerCore = producerCore
	b.consumerCore = consumerCore
	b.interCore = producerCore != consumerCore
}

// InterCore reports whether the producer and consumer run on different cores.
func (b *Buffer) InterCore() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interCore
}

// Stream returns the buffer's stream descriptor.
func (b *Buffer) Stream() streamfmt.Format {
	return b.stream
}

// Size returns the ring's total capacity in bytes.
func (b *Buffer) Size() int {
	return b.size
}

// Avail returns the number of bytes produced but not yet consumed.
func (b *Buffer) Avail() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.avail
}

// Free returns size - avail.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size - b.avail
}

// WritebackCount and InvalidateCount expose the discipline counters §8
// scenario 4 checks.
func (b *Buffer) WritebackCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writebackCount
}

func (b *Buffer) InvalidateCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.invalidateCount
}

// samplesWithoutWrap returns how many of n bytes can be written/read
// starting at ptr before hitting the ring's end.
func samplesWithoutWrap(ptr, n, size int) int {
	remaining := size - ptr
	if n < remaining {
		return n
	}
	return remaining
}

// wrapPointer advances ptr by n bytes, wrapping at size.
func wrapPointer(ptr, n, size int) int {
	return (ptr + n) % size
}

// Produce copies src into the ring at w_ptr and advances w_ptr/avail by
// len(src). If len(src) exceeds Free(), the call clamps to Free(), reports
// an Overrun via the xrun accumulator, and returns the number of bytes
// actually written alongside the xrun error so the caller can decide
// whether to treat it as fatal.
//
// When the buffer is inter_core, the written region is writeback-counted
// before avail (the shared header) is updated, so a downstream consumer
// on another core never observes avail ahead of the data it describes.
func (b *Buffer) Produce(src []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	free := b.size - b.avail
	n := len(src)
	var xrunErr error
	if n > free {
		xrunErr = b.recordXrun(overrunBytes(n - free))
		n = free
	}
	if n <= 0 {
		return 0, xrunErr
	}

	first := samplesWithoutWrap(b.wPtr, n, b.size)
	copy(b.data[b.wPtr:b.wPtr+first], src[:first])
	if first < n {
		copy(b.data[0:n-first], src[first:n])
	}

	if b.interCore {
		b.writebackCount++
	}

	b.wPtr = wrapPointer(b.wPtr, n, b.size)
	b.avail += n

	return n, xrunErr
}

// Consume copies up to len(dst) bytes from the ring at r_ptr into dst and
// advances r_ptr/avail by the amount actually copied. If len(dst) exceeds
// Avail(), the call clamps, reports an Underrun, and returns the number of
// bytes actually read alongside the xrun error.
//
// When the buffer is inter_core, the region about to be read is
// invalidate-counted before the bytes are copied out, so a stale locally
// cached view is never handed to the caller.
func (b *Buffer) Consume(dst []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(dst)
	var xrunErr error
	if n > b.avail {
		xrunErr = b.recordXrun(underrunBytes(n - b.avail))
		n = b.avail
	}
	if n <= 0 {
		return 0, xrunErr
	}

	// §9 Open Question 1: lmdk/include/coherent.h's coherent_acquire()
	// takes the spinlock first and invalidates second, with a FIXME on
	// that file admitting the ordering may be wrong for a real dcache
	// (a stale dirty line could still be written back over the object
	// after the invalidate believes it's clean). That hazard doesn't
	// apply here: this invalidate is a counter bump under the same
	// mutex that also updates avail/r_ptr, not a real cache operation
	// racing an independent writeback path, so there is no window for
	// the bug the FIXME describes. The lock-then-invalidate order is
	// kept deliberately, not replicated blindly.
	if b.interCore {
		b.invalidateCount++
	}

	first := samplesWithoutWrap(b.rPtr, n, b.size)
	copy(dst[:first], b.data[b.rPtr:b.rPtr+first])
	if first < n {
		copy(dst[first:n], b.data[0:n-first])
	}

	b.rPtr = wrapPointer(b.rPtr, n, b.size)
	b.avail -= n

	return n, xrunErr
}

// SetZero writes n zero bytes at w_ptr without advancing any cursor, used
// by a mixer's idle-period silence generation and by the trigger engine's
// pre-fill-on-START step (§4.5).
func (b *Buffer) SetZero(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.size {
		return errors.New(fmt.Errorf("zero-fill of %d bytes exceeds buffer size %d", n, b.size)).
			Category(errors.CategoryInvalidArgument).
			Component("buffer").
			Build()
	}

	first := samplesWithoutWrap(b.wPtr, n, b.size)
	clear(b.data[b.wPtr : b.wPtr+first])
	if first < n {
		clear(b.data[0 : n-first])
	}
	return nil
}

// AvailFrames returns min(src.avail, sink.free) in whole frames, the
// quantity the pipeline walker uses to size a Component's copy() budget.
func AvailFrames(src, sink *Buffer) int {
	src.mu.Lock()
	srcAvail := src.avail
	src.mu.Unlock()

	sink.mu.Lock()
	sinkFree := sink.size - sink.avail
	sink.mu.Unlock()

	n := srcAvail
	if sinkFree < n {
		n = sinkFree
	}
	fb := src.stream.FrameBytes()
	if fb == 0 {
		return 0
	}
	return n / fb
}

// TryEnterWalk sets the walking flag if it is not already set, returning
// false if it was — the signal a graph walker uses to avoid revisiting a
// buffer twice in one traversal, and to break an unbroken cycle (§4.3, §9).
func (b *Buffer) TryEnterWalk() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.walking {
		return false
	}
	b.walking = true
	return true
}

// ExitWalk clears the walking flag on the way out of the walker.
func (b *Buffer) ExitWalk() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.walking = false
}

// Producer and Consumer return the connected component handles and
// whether each slot is currently occupied.
func (b *Buffer) Producer() (arena.Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.producer, b.producerSet
}

func (b *Buffer) Consumer() (arena.Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumer, b.consumerSet
}
