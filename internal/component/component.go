// Package component implements the Component node of §3.3/§4.2: a
// polymorphic processing unit with a lifecycle state machine and a
// capability set expressed as narrow optional interfaces, detected by type
// assertion rather than a function-pointer table with nil checks (§9).
package component

import (
	"errors"
	"fmt"
	"sync"

	"github.com/audiograph/corefw/internal/arena"
	corefwerrors "github.com/audiograph/corefw/internal/errors"
	"github.com/audiograph/corefw/internal/logging"
	"github.com/audiograph/corefw/internal/streamfmt"
)

var log = logging.ForService("component")

// ErrPathStop is returned by a Copier to halt propagation on its branch
// only, per §4.3's walker contract; it is not itself a failure.
var ErrPathStop = errors.New("component: path stop")

// State is a node in the lifecycle automaton of §4.2.
type State int

const (
	StateInit State = iota
	StateReady
	StatePrepare
	StatePaused
	StateActive
	StateFree
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StatePrepare:
		return "PREPARE"
	case StatePaused:
		return "PAUSED"
	case StateActive:
		return "ACTIVE"
	case StateFree:
		return "FREE"
	default:
		return "UNKNOWN"
	}
}

// Cmd is a lifecycle command accepted by trigger().
type Cmd int

const (
	CmdPrepare Cmd = iota
	CmdStart
	CmdPause
	CmdRelease
	CmdStop
	CmdReset
	CmdFree
)

// String implements fmt.Stringer.
func (c Cmd) String() string {
	switch c {
	case CmdPrepare:
		return "PREPARE"
	case CmdStart:
		return "START"
	case CmdPause:
		return "PAUSE"
	case CmdRelease:
		return "RELEASE"
	case CmdStop:
		return "STOP"
	case CmdReset:
		return "RESET"
	case CmdFree:
		return "FREE"
	default:
		return "UNKNOWN"
	}
}

// TriggerResult is returned by a Component's Triggerer capability (OnTrigger).
type TriggerResult int

const (
	// ResultOK means propagation should continue normally.
	ResultOK TriggerResult = iota
	// ResultPathStop means propagation should halt on this branch only.
	ResultPathStop
	// ResultFatal means an invariant was violated; the caller must abort
	// and unwind to a safe state (§4.5 step 3).
	ResultFatal
)

// legalFrom maps each Cmd to the set of states it is legal from. RESET is
// legal from any state and FREE only from READY, handled specially in Trigger.
var legalFrom = map[Cmd][]State{
	CmdPrepare: {StateReady},
	CmdStart:   {StatePrepare, StatePaused},
	CmdPause:   {StateActive},
	CmdRelease: {StatePaused},
	CmdStop:    {StateActive, StatePaused},
}

var target = map[Cmd]State{
	CmdPrepare: StatePrepare,
	CmdStart:   StateActive,
	CmdPause:   StatePaused,
	CmdRelease: StateActive,
	CmdStop:    StatePrepare,
	CmdReset:   StateReady,
	CmdFree:    StateFree,
}

// Direction is meaningful for endpoint components (§3.3); intermediate
// components ignore it.
type Direction = streamfmt.Direction

// Variant identifies the concrete processing kind.
type Variant int

const (
	VariantHostEndpoint Variant = iota
	VariantDAIEndpoint
	VariantMixer
	VariantCopier
	VariantVolume
	VariantEQ
	VariantSRC
	VariantKeywordDetector
)

// Component is the uniform processing node of §3.3. The Impl field holds
// the polymorphic variant logic; Component itself only enforces the
// lifecycle FSM and the connected-buffer bookkeeping common to all variants.
type Component struct {
	mu sync.Mutex

	ID         uint32
	PipelineID uint32
	Core       int
	Direction  Direction
	Variant    Variant
	Shared     bool // true when referenced from multiple cores (§3.3)

	state State

	Sources []arena.Handle
	Sinks   []arena.Handle

	// Impl is the capability-bearing variant. Capabilities are detected
	// from it via type assertion (Preparer, Triggerer, Copier, ...).
	Impl any
}

// New creates a Component in the INIT state. PREPARE is only legal once
// the component has first reached READY, matching §4.2's automaton; New
// itself does not perform that transition.
func New(id, pipelineID uint32, core int, variant Variant, impl any) *Component {
	return &Component{
		ID:         id,
		PipelineID: pipelineID,
		Core:       core,
		Variant:    variant,
		Impl:       impl,
		state:      StateInit,
	}
}

// State returns the current lifecycle state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkReady transitions a freshly constructed Component out of INIT. This
// is not one of the trigger() commands in §4.2's table; it is the
// initialization step `complete()` performs on an uninitialised Component
// before the lifecycle automaton applies.
func (c *Component) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateInit {
		c.state = StateReady
	}
}

// Trigger drives the lifecycle automaton. Illegal transitions return
// CategoryInvalidState and leave the component's state unchanged, per §4.2.
func (c *Component) Trigger(cmd Cmd) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd {
	case CmdReset:
		c.state = StateReady
		return nil
	case CmdFree:
		if c.state != StateReady {
			return c.illegalTransition(cmd)
		}
		c.state = StateFree
		return nil
	}

	allowed, ok := legalFrom[cmd]
	if !ok {
		return corefwerrors.New(fmt.Errorf("unrecognized trigger command %v", cmd)).
			Category(corefwerrors.CategoryInvalidArgument).
			Component("component").
			Build()
	}
	if !contains(allowed, c.state) {
		return c.illegalTransition(cmd)
	}
	c.state = target[cmd]
	return nil
}

func (c *Component) illegalTransition(cmd Cmd) error {
	if log != nil {
		log.Warn("illegal lifecycle transition", "component_id", c.ID, "cmd", cmd.String(), "state", c.state.String())
	}
	return corefwerrors.New(fmt.Errorf("cmd %v illegal from state %v", cmd, c.state)).
		Category(corefwerrors.CategoryInvalidState).
		Component("component").
		Context("component_id", c.ID).
		Build()
}

func contains(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// AddSource appends a source (input) buffer handle. Per §3.3's invariant,
// the connected-buffer set may not change once state >= PREPARE.
func (c *Component) AddSource(h arena.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StatePrepare {
		return corefwerrors.New(fmt.Errorf("cannot connect buffers once prepared")).
			Category(corefwerrors.CategoryInvalidState).
			Component("component").
			Build()
	}
	c.Sources = append(c.Sources, h)
	return nil
}

// AddSink appends a sink (output) buffer handle, subject to the same
// prepare-time freeze as AddSource.
func (c *Component) AddSink(h arena.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StatePrepare {
		return corefwerrors.New(fmt.Errorf("cannot connect buffers once prepared")).
			Category(corefwerrors.CategoryInvalidState).
			Component("component").
			Build()
	}
	c.Sinks = append(c.Sinks, h)
	return nil
}

// SourceHandles and SinkHandles return a snapshot of the connected buffers.
func (c *Component) SourceHandles() []arena.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]arena.Handle, len(c.Sources))
	copy(out, c.Sources)
	return out
}

func (c *Component) SinkHandles() []arena.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]arena.Handle, len(c.Sinks))
	copy(out, c.Sinks)
	return out
}
