package buffer

import (
	"fmt"

	"github.com/audiograph/corefw/internal/errors"
)

// overrunBytes and underrunBytes are named conversions so recordXrun's
// call sites read as "this many bytes of overrun/underrun" rather than a
// bare int, without introducing two near-identical functions.
type overrunBytes int
type underrunBytes int

// recordXrun folds a clamp's deficit into the accumulator per the
// configured XrunPolicy and returns the EnhancedError the caller should
// propagate. It does not decide whether the deficit breaches
// xrun_limit_us — that budget is in microseconds of accumulated deficit
// time, not bytes, and only the pipeline's xrun handler (which knows the
// period timing) can convert one to the other; recordXrun just keeps the
// byte-level bookkeeping that handler reads from.
func (b *Buffer) recordXrun(deficit any) error {
	var category errors.ErrorCategory
	var n int
	var kind string
	switch v := deficit.(type) {
	case overrunBytes:
		category = errors.CategoryOverrun
		n = int(v)
		kind = "overrun"
	case underrunBytes:
		category = errors.CategoryUnderrun
		n = int(v)
		kind = "underrun"
	default:
		panic("recordXrun: unsupported deficit type")
	}

	if b.xrunPolicy == XrunPerPeriod {
		b.xrunDeficitUS = 0
	}
	// Frame rate is not known to the buffer in byte terms alone without a
	// period duration; the deficit is tracked in bytes here and converted
	// by the pipeline's xrun handler, which has frames_per_sched and
	// period_us in scope.
	b.xrunDeficitUS += int64(n)

	return errors.New(fmt.Errorf("%s of %d bytes", kind, n)).
		Category(category).
		Component("buffer").
		Context("deficit_bytes", n).
		Build()
}

// XrunDeficit returns the accumulated deficit counter in the buffer's
// internal units (bytes, folded per XrunPolicy), and the configured budget.
func (b *Buffer) XrunDeficit() (deficit, limitUS int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.xrunDeficitUS, b.xrunLimitUS
}

// ResetXrunDeficit zeroes the accumulator, called by the pipeline's xrun
// handler after a STOP->PREPARE->START recovery cycle.
func (b *Buffer) ResetXrunDeficit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.xrunDeficitUS = 0
}
