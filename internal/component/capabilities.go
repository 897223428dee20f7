package component

import (
	"context"

	"github.com/audiograph/corefw/internal/streamfmt"
)

// Capability interfaces a concrete variant may implement (§4.2). A variant
// implementing none of these is still a valid, if inert, Component: the
// pipeline walker treats an absent capability as a no-op success, except
// Copier, which is mandatory for any non-endpoint Component and for
// endpoints that drive scheduling.

// Parameterizer negotiates stream shape during PREPARE.
type Parameterizer interface {
	Params(stream streamfmt.Format) error
}

// Preparer performs one-shot allocation driven by a PREPARE trigger.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Triggerer reacts to a lifecycle command beyond the state change the FSM
// already performs — e.g. an endpoint arming its DMA channel.
type Triggerer interface {
	OnTrigger(ctx context.Context, cmd Cmd) TriggerResult
}

// Copier is the periodic work: consume from source buffers, produce to
// sink buffers, and report how many frames moved (or a negative value on
// a fatal error, per §4.2).
type Copier interface {
	Copy(ctx context.Context, frames int) (int, error)
}

// CmdHandler answers opaque get/set configuration requests (§6.1's
// set_data/get_data verbs, routed to the addressed component).
type CmdHandler interface {
	HandleCmd(get bool, paramID uint32, payload []byte) ([]byte, error)
}

// Resetter releases runtime memory acquired during PREPARE.
type Resetter interface {
	DoReset() error
}

// Freer releases any resource held across the component's entire lifetime,
// called once on the READY -> FREE transition.
type Freer interface {
	DoFree() error
}
