// Package pipeline implements the weakly-connected subgraph of §3.4: a set
// of Components sharing a period, priority, and scheduling source, composed
// over the handle arenas described in §9's design note on cyclic
// Buffer/Component references.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/audiograph/corefw/internal/arena"
	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/component"
	"github.com/audiograph/corefw/internal/errors"
)

// Graph owns the arenas a set of pipelines share. All handle resolution
// goes through it, so Buffer and Component never import one another.
type Graph struct {
	Components *arena.Arena[*component.Component]
	Buffers    *arena.Arena[*buffer.Buffer]
}

// NewGraph creates an empty, shared arena pair.
func NewGraph() *Graph {
	return &Graph{
		Components: arena.New[*component.Component]("component"),
		Buffers:    arena.New[*buffer.Buffer]("buffer"),
	}
}

// TimeDomain is the clock source driving a pipeline's schedule (§3.5).
type TimeDomain int

const (
	TimerDomain TimeDomain = iota
	DMAAggregatedDomain
	DMAPerChannelDomain
)

// Status is the pipeline's coarse running state, observable by the host.
type Status int

const (
	StatusBuilding Status = iota
	StatusReady
	StatusRunning
	StatusStopped
)

// TriggerState is the pending-command substate §3.4 requires every
// pipeline to carry between Trigger engine walks.
type TriggerState struct {
	PendingCmd   component.Cmd
	DelayPeriods int
	Aborted      bool
}

// Pipeline is the weakly-connected subgraph of §3.4.
type Pipeline struct {
	mu sync.Mutex

	ID             uint32
	// TraceID is a process-lifetime-stable correlation id, independent of
	// ID: ID is the caller-chosen pipeline id and may be reused for a later
	// pipeline, so logs and status snapshots that must tell two such
	// pipelines apart key on this instead.
	TraceID        uuid.UUID
	Priority       int // 0 lowest .. 10 highest
	PeriodUS       int64
	FramesPerSched int
	Core           int
	TimeDomain     TimeDomain
	XrunLimitUS    int64
	Status         Status
	Trigger        TriggerState

	schedComp arena.Handle
	source    arena.Handle
	sink      arena.Handle
	members   map[arena.Handle]struct{}

	graph *Graph
}

// New allocates pipeline state per `pipeline_new` (§4.3): it assigns the
// scheduling component and initialises the trigger substate. The
// position-offset index §4.3 mentions for host status reporting is the
// pipeline's own ID, since this implementation hands the host an explicit
// handle rather than an implicit pool slot.
func New(graph *Graph, id uint32, priority int, schedComp arena.Handle, periodUS int64, framesPerSched int, core int, domain TimeDomain) (*Pipeline, error) {
	if priority < 0 || priority > 10 {
		return nil, errors.New(fmt.Errorf("priority %d out of range [0,10]", priority)).
			Category(errors.CategoryInvalidArgument).
			Component("pipeline").
			Build()
	}
	if _, err := graph.Components.Get(schedComp); err != nil {
		return nil, err
	}
	return &Pipeline{
		ID:             id,
		TraceID:        uuid.New(),
		Priority:       priority,
		PeriodUS:       periodUS,
		FramesPerSched: framesPerSched,
		Core:           core,
		TimeDomain:     domain,
		XrunLimitUS:    10000,
		Status:         StatusBuilding,
		schedComp:      schedComp,
		members:        map[arena.Handle]struct{}{schedComp: {}},
		graph:          graph,
	}, nil
}

// Connect attaches bufHandle to compHandle via the buffer's directional
// connect call and records compHandle as a pipeline member (§4.3).
func (p *Pipeline) Connect(compHandle arena.Handle, bufHandle arena.Handle, dir buffer.Dir) error {
	comp, err := p.graph.Components.Get(compHandle)
	if err != nil {
		return err
	}
	buf, err := p.graph.Buffers.Get(bufHandle)
	if err != nil {
		return err
	}
	if err := buf.Connect(dir, compHandle); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch dir {
	case buffer.CompToBuffer:
		if err := comp.AddSink(bufHandle); err != nil {
			buf.Disconnect(dir)
			return err
		}
	case buffer.BufferToComp:
		if err := comp.AddSource(bufHandle); err != nil {
			buf.Disconnect(dir)
			return err
		}
	}
	if binder, ok := comp.Impl.(component.BufferBinder); ok {
		binder.BindBuffers(comp, p.graph.Buffers)
	}
	p.members[compHandle] = struct{}{}
	return nil
}

// Complete finalises topology per §4.3: it walks from source downstream,
// asserts every visited Component is either READY (may remain) or
// uninitialised (must be marked ready), stamps each with the pipeline's
// ID, and records source and sink. Components carry no period or
// priority of their own, so neither is stamped.
func (p *Pipeline) Complete(source, sink arena.Handle) error {
	if _, err := p.graph.Components.Get(source); err != nil {
		return err
	}
	if _, err := p.graph.Components.Get(sink); err != nil {
		return err
	}

	err := p.graph.Walk(source, Downstream, false,
		func(h arena.Handle, c *component.Component) error {
			switch c.State() {
			case component.StateInit:
				c.MarkReady()
			case component.StateReady:
				// already initialised, left as-is
			default:
				return errors.New(fmt.Errorf("component %d not READY or uninitialised at pipeline_complete", h)).
					Category(errors.CategoryInvalidState).
					Component("pipeline").
					Build()
			}
			c.PipelineID = p.ID
			p.mu.Lock()
			p.members[h] = struct{}{}
			p.mu.Unlock()
			return nil
		},
		nil,
	)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.source = source
	p.sink = sink
	p.Status = StatusReady
	p.mu.Unlock()
	return nil
}

// SchedulingComponent, Source, and Sink return the pipeline's three
// distinguished members (§3.4).
func (p *Pipeline) SchedulingComponent() arena.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schedComp
}

func (p *Pipeline) Source() arena.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

func (p *Pipeline) Sink() arena.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

// Members returns a snapshot of every Component handle belonging to this
// pipeline, the set §8's invariant checks share a single pipeline_id.
func (p *Pipeline) Members() []arena.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]arena.Handle, 0, len(p.members))
	for h := range p.members {
		out = append(out, h)
	}
	return out
}

// LinkedWith reports whether other shares this pipeline's scheduling
// Component, the condition §4.3/§4.5 use to trigger pipelines together.
func (p *Pipeline) LinkedWith(other *Pipeline) bool {
	return p.SchedulingComponent() == other.SchedulingComponent()
}
