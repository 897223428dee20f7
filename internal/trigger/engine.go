// Package trigger implements the DMA-driven trigger and copy loop of
// §3/§4.5: the state machine that binds hardware DMA channels to the
// schedule, performs period-accurate sample transfer, and propagates
// start/stop/pause/reset commands through a pipeline's component graph.
package trigger

import (
	"context"
	"fmt"

	"github.com/audiograph/corefw/internal/arena"
	"github.com/audiograph/corefw/internal/component"
	"github.com/audiograph/corefw/internal/errors"
	"github.com/audiograph/corefw/internal/pipeline"
	"github.com/audiograph/corefw/internal/streamfmt"
)

// Engine propagates lifecycle commands across a pipeline's component
// graph (§4.5). It is not itself a scheduling domain; internal/sched owns
// arming/disarming the clock once the Engine has finished a START or STOP.
type Engine struct {
	graph *pipeline.Graph
}

// NewEngine binds an Engine to the shared component/buffer arena.
func NewEngine(graph *pipeline.Graph) *Engine {
	return &Engine{graph: graph}
}

// Trigger drives cmd across every Component in p, and — since pipelines
// sharing a scheduling Component are triggered together so their state
// transitions appear atomic to downstream observers (§4.5's linked
// pipeline aggregation) — across every pipeline in linked as well. linked
// may be nil for an unlinked pipeline. A Component shared by several
// pipelines in the group is triggered once.
func (e *Engine) Trigger(ctx context.Context, p *pipeline.Pipeline, cmd component.Cmd, linked []*pipeline.Pipeline) error {
	group := append([]*pipeline.Pipeline{p}, linked...)

	if cmd == component.CmdStart {
		for _, m := range group {
			if err := e.prefillIfPlayback(m); err != nil {
				return err
			}
		}
	}

	if cmd == component.CmdStop {
		for _, m := range group {
			if _, err := m.CopyOnce(ctx); err != nil {
				// A fatal CopyOnce during drain still must not block the
				// STOP walk below, which is the path that actually masks
				// the DMA channel; the error is discarded.
				_ = err
			}
		}
	}

	triggered := make(map[arena.Handle]bool)
	for _, m := range group {
		if err := e.walkAndTrigger(ctx, m, cmd, triggered); err != nil {
			return err
		}
	}

	return nil
}

// walkAndTrigger performs the stream-direction walk of §4.5: downstream
// from the pipeline's source, which is already oriented along the data
// flow direction (host->DAI for playback, DAI->host for capture) by
// construction of Source()/Sink() at pipeline_complete time. Components
// already in triggered are skipped, and each one triggered here is added.
func (e *Engine) walkAndTrigger(ctx context.Context, p *pipeline.Pipeline, cmd component.Cmd, triggered map[arena.Handle]bool) error {
	var aborted bool

	err := e.graph.Walk(p.Source(), pipeline.Downstream, true,
		func(h arena.Handle, c *component.Component) error {
			if triggered[h] {
				return nil
			}
			triggered[h] = true
			if trig, ok := c.Impl.(component.Triggerer); ok {
				switch trig.OnTrigger(ctx, cmd) {
				case component.ResultPathStop:
					return pipeline.ErrStopBranch
				case component.ResultFatal:
					aborted = true
					return errors.New(fmt.Errorf("component %d aborted trigger %v", h, cmd)).
						Category(errors.CategoryFatal).
						Component("trigger").
						HandleContext("component", uint32(h)).
						Build()
				}
			}
			if prep, ok := c.Impl.(component.Preparer); ok && cmd == component.CmdPrepare {
				if err := prep.Prepare(ctx); err != nil {
					return err
				}
			}
			return c.Trigger(cmd)
		},
		nil,
	)

	if aborted {
		return errors.New(fmt.Errorf("trigger %v aborted on pipeline %d: %w", cmd, p.ID, err)).
			Category(errors.CategoryFatal).
			Component("trigger").
			Build()
	}
	return err
}

// prefillIfPlayback writes one period of silence into the ingress Buffer
// (the source component's sink) before the scheduling domain is armed, so
// the first scheduled copy() has input available (§4.5).
func (e *Engine) prefillIfPlayback(p *pipeline.Pipeline) error {
	srcComp, err := e.graph.Components.Get(p.Source())
	if err != nil {
		return err
	}
	if srcComp.Direction != streamfmt.Playback {
		return nil
	}

	sinks := srcComp.SinkHandles()
	if len(sinks) == 0 {
		return nil
	}
	ingress, err := e.graph.Buffers.Get(sinks[0])
	if err != nil {
		return err
	}

	silenceBytes := p.FramesPerSched * ingress.Stream().FrameBytes()
	return ingress.SetZero(silenceBytes)
}
