package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"

	"github.com/audiograph/corefw/internal/arena"
	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/component"
	"github.com/audiograph/corefw/internal/errors"
)

// xrunOutcome classifies how CopyOnce's walk ended, so the caller (the
// scheduler's task handler, normally) knows whether to retain state or
// drive a recovery trigger.
type xrunOutcome int

const (
	outcomeOK xrunOutcome = iota
	outcomeXrunSkipped
	outcomeXrunRecovered
	outcomeFatal
)

func isEndpoint(v component.Variant) bool {
	return v == component.VariantHostEndpoint || v == component.VariantDAIEndpoint
}

func framesAvail(b *buffer.Buffer) int {
	fb := b.Stream().FrameBytes()
	if fb == 0 {
		return 0
	}
	return b.Avail() / fb
}

func framesFree(b *buffer.Buffer) int {
	fb := b.Stream().FrameBytes()
	if fb == 0 {
		return 0
	}
	return b.Free() / fb
}

// CopyOnce runs one DOWNSTREAM walk starting from the pipeline's scheduling
// Component, per §4.3's `copy()` algorithm. It returns the period's
// outcome so the caller can decide whether to retain state (xrun skipped),
// perform the STOP->PREPARE->START recovery (xrun budget exceeded), or
// propagate a fatal abort.
func (p *Pipeline) CopyOnce(ctx context.Context) (xrunOutcome, error) {
	p.mu.Lock()
	sched := p.schedComp
	framesPerSched := p.FramesPerSched
	p.mu.Unlock()

	var xrunDeficit int64
	var sawXrun bool

	err := p.graph.Walk(sched, Downstream, true,
		func(h arena.Handle, c *component.Component) error {
			copier, ok := c.Impl.(component.Copier)
			if !ok {
				return nil // absent Copier capability is a no-op success (§4.2)
			}

			frames := framesPerSched
			if !isEndpoint(c.Variant) {
				minAvail := math.MaxInt
				for _, bh := range c.SourceHandles() {
					buf, err := p.graph.Buffers.Get(bh)
					if err != nil {
						return err
					}
					if f := framesAvail(buf); f < minAvail {
						minAvail = f
					}
				}
				maxFree := math.MaxInt
				for _, bh := range c.SinkHandles() {
					buf, err := p.graph.Buffers.Get(bh)
					if err != nil {
						return err
					}
					if f := framesFree(buf); f < maxFree {
						maxFree = f
					}
				}
				if minAvail < frames {
					frames = minAvail
				}
				if maxFree < frames {
					frames = maxFree
				}
			}
			if frames < 0 {
				frames = 0
			}

			n, err := copier.Copy(ctx, frames)
			if err == nil {
				return nil
			}

			if stderrors.Is(err, component.ErrPathStop) {
				return ErrStopBranch
			}
			if errors.IsFatal(err) {
				return err
			}
			if errors.IsCategory(err, errors.CategoryUnderrun) || errors.IsCategory(err, errors.CategoryOverrun) {
				sawXrun = true
				xrunDeficit += int64(frames - n)
				return ErrStopBranch
			}
			return err
		},
		nil,
	)

	if err != nil {
		return outcomeFatal, err
	}
	if !sawXrun {
		return outcomeOK, nil
	}

	return p.handleXrun(ctx, xrunDeficit)
}

// handleXrun decides, per §4.3/§7, whether this period's xrun stays within
// xrun_limit_us (period skipped, state retained) or breaches it (atomic
// STOP->PREPARE->START recovery). Two independent signals can trip
// recovery: the pipeline's own count of periods that saw an xrun (reset
// only once a recovery runs), and any
// connected Buffer's own accumulated deficit (Open Question 2, §9) —
// Buffer.Produce/Consume already folds a clamp's deficit into that
// accumulator via recordXrun, governed by the Buffer's XrunPolicy, so this
// only needs to read it back rather than keep a second copy of the count.
// frameDeficit is this period's shortfall as computed by CopyOnce; the
// body does not read it, the Buffer-level signal being the one consulted.
func (p *Pipeline) handleXrun(ctx context.Context, frameDeficit int64) (xrunOutcome, error) {
	p.mu.Lock()
	p.Trigger.DelayPeriods++
	periodBudgetExceeded := int64(p.Trigger.DelayPeriods)*p.PeriodUS > p.XrunLimitUS
	p.mu.Unlock()

	bufferBudgetExceeded, err := p.anyBufferXrunBudgetExceeded()
	if err != nil {
		return outcomeFatal, err
	}

	if !periodBudgetExceeded && !bufferBudgetExceeded {
		return outcomeXrunSkipped, nil
	}

	if err := p.recover(ctx); err != nil {
		return outcomeFatal, err
	}

	p.mu.Lock()
	p.Trigger.DelayPeriods = 0
	p.mu.Unlock()
	if err := p.resetBufferXrunDeficits(); err != nil {
		return outcomeFatal, err
	}

	return outcomeXrunRecovered, nil
}

// anyBufferXrunBudgetExceeded reports whether any Buffer reachable from
// this pipeline's scheduling Component has accumulated more xrun deficit
// than its own xrun_limit_us (set via Buffer.SetXrunLimitUS). The Buffer
// keeps its deficit in bytes; it is converted to microseconds here through
// the buffer's frame size and this pipeline's period_us/frames_per_sched.
func (p *Pipeline) anyBufferXrunBudgetExceeded() (bool, error) {
	p.mu.Lock()
	periodUS, framesPerSched := p.PeriodUS, int64(p.FramesPerSched)
	p.mu.Unlock()

	exceeded := false
	err := p.graph.Walk(p.schedComp, Downstream, true, nil,
		func(h arena.Handle, b *buffer.Buffer) error {
			deficitBytes, limitUS := b.XrunDeficit()
			fb := int64(b.Stream().FrameBytes())
			if fb == 0 || framesPerSched == 0 {
				return nil
			}
			deficitUS := deficitBytes / fb * periodUS / framesPerSched
			if limitUS > 0 && deficitUS > limitUS {
				exceeded = true
			}
			return nil
		})
	return exceeded, err
}

// resetBufferXrunDeficits zeroes every connected Buffer's accumulator once
// a STOP->PREPARE->START recovery has run, so a breach doesn't immediately
// re-trigger on the next period.
func (p *Pipeline) resetBufferXrunDeficits() error {
	return p.graph.Walk(p.schedComp, Downstream, true, nil,
		func(h arena.Handle, b *buffer.Buffer) error {
			b.ResetXrunDeficit()
			return nil
		})
}

// recover drives every member Component through STOP->PREPARE->START, the
// atomic restart §4.3 mandates once the cumulative xrun deficit exceeds
// xrun_limit_us: the STOP command leaves each member in PREPARE, from which
// the START command returns it to ACTIVE.
func (p *Pipeline) recover(ctx context.Context) error {
	members := p.Members()
	for _, seq := range []component.Cmd{component.CmdStop, component.CmdStart} {
		for _, h := range members {
			c, err := p.graph.Components.Get(h)
			if err != nil {
				return err
			}
			if err := c.Trigger(seq); err != nil {
				return errors.New(fmt.Errorf("xrun recovery step %v failed on component %d: %w", seq, h, err)).
					Category(errors.CategoryFatal).
					Component("pipeline").
					Build()
			}
		}
	}
	return nil
}
