package pipeline

import (
	stderrors "errors"

	"github.com/audiograph/corefw/internal/arena"
	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/component"
)

// ErrStopBranch, returned by a ComponentVisitor, halts descent past that
// Component without aborting the rest of the walk — the PathStop behavior
// §4.3 specifies for copy().
var ErrStopBranch = stderrors.New("pipeline: stop branch")

// Direction selects which way a Walk follows the graph (§4.3).
type Direction int

const (
	// Downstream follows producer -> consumer edges, toward sinks.
	Downstream Direction = iota
	// Upstream follows consumer -> producer edges, toward sources.
	Upstream
)

// ComponentVisitor is called once per Component visited by a Walk. An
// error aborts the walk and is returned by Walk itself.
type ComponentVisitor func(h arena.Handle, c *component.Component) error

// BufferVisitor is called once per Buffer visited by a Walk, before its
// far-side Component. May be nil.
type BufferVisitor func(h arena.Handle, b *buffer.Buffer) error

// Walk performs a directed traversal from start, visiting each Buffer at
// most once (enforced by the buffer's walking flag, §3.2/§9) and calling
// visitComp/visitBuf in visitation order. skipIncomplete, when true, skips
// Components still in StateInit — used during streaming copy() so a
// half-built Component added after pipeline_complete is never touched, but
// left false during pipeline_complete itself so uninitialised members can
// be found and initialised (§4.3).
func (g *Graph) Walk(start arena.Handle, dir Direction, skipIncomplete bool, visitComp ComponentVisitor, visitBuf BufferVisitor) error {
	entered := make([]arena.Handle, 0, 8)
	defer func() {
		for _, h := range entered {
			if b, err := g.Buffers.Get(h); err == nil {
				b.ExitWalk()
			}
		}
	}()

	var walk func(h arena.Handle) error
	walk = func(h arena.Handle) error {
		comp, err := g.Components.Get(h)
		if err != nil {
			return err
		}
		if skipIncomplete && comp.State() == component.StateInit {
			return nil
		}
		if visitComp != nil {
			if err := visitComp(h, comp); err != nil {
				if err == ErrStopBranch {
					return nil
				}
				return err
			}
		}

		var edges []arena.Handle
		if dir == Downstream {
			edges = comp.SinkHandles()
		} else {
			edges = comp.SourceHandles()
		}

		for _, bh := range edges {
			buf, err := g.Buffers.Get(bh)
			if err != nil {
				return err
			}
			if !buf.TryEnterWalk() {
				continue
			}
			entered = append(entered, bh)

			if visitBuf != nil {
				if err := visitBuf(bh, buf); err != nil {
					return err
				}
			}

			var nextComp arena.Handle
			var ok bool
			if dir == Downstream {
				nextComp, ok = buf.Consumer()
			} else {
				nextComp, ok = buf.Producer()
			}
			if !ok {
				continue
			}
			if err := walk(nextComp); err != nil {
				return err
			}
		}
		return nil
	}

	return walk(start)
}
