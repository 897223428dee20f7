// Package hostmsg implements the host message interface of §6.1: the
// abstract verb set a host collaborator drives the core with, carried here
// over an in-process lock-free queue rather than any particular wire
// encoding, which §6.1 explicitly leaves to the collaborator.
package hostmsg

import (
	"context"
	"fmt"
	"time"

	"code.hybscloud.com/lfq"

	"github.com/audiograph/corefw/internal/errors"
	"github.com/audiograph/corefw/internal/streamfmt"
)

// Verb identifies one of §6.1's abstract commands.
type Verb int

const (
	VerbPipelineNew Verb = iota
	VerbPipelineFree
	VerbCompNew
	VerbCompConnect
	VerbBufferNew
	VerbPipelineComplete
	VerbTrigger
	VerbSetData
	VerbGetData
	VerbDAIConfig
)

func (v Verb) String() string {
	switch v {
	case VerbPipelineNew:
		return "pipeline_new"
	case VerbPipelineFree:
		return "pipeline_free"
	case VerbCompNew:
		return "comp_new"
	case VerbCompConnect:
		return "comp_connect"
	case VerbBufferNew:
		return "buffer_new"
	case VerbPipelineComplete:
		return "pipeline_complete"
	case VerbTrigger:
		return "trigger"
	case VerbSetData:
		return "set_data"
	case VerbGetData:
		return "get_data"
	case VerbDAIConfig:
		return "dai_config"
	default:
		return "unknown"
	}
}

// Status is the reply status every verb yields (§6.1).
type Status int

const (
	StatusOK Status = iota
	StatusInvalidResource
	StatusInvalidState
	StatusOutOfMemory
	StatusBusy
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidResource:
		return "InvalidResource"
	case StatusInvalidState:
		return "InvalidState"
	case StatusOutOfMemory:
		return "OutOfMemory"
	case StatusBusy:
		return "Busy"
	case StatusTimeout:
		return "Timeout"
	default:
		return "unknown"
	}
}

// statusFromError maps an internal error's category to a host-visible
// Status (§7's categories feed §6.1's reply status).
func statusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.IsCategory(err, errors.CategoryInvalidResource):
		return StatusInvalidResource
	case errors.IsCategory(err, errors.CategoryInvalidState), errors.IsCategory(err, errors.CategoryInvalidArgument):
		return StatusInvalidState
	case errors.IsCategory(err, errors.CategoryOutOfMemory):
		return StatusOutOfMemory
	case errors.IsCategory(err, errors.CategoryBusy):
		return StatusBusy
	case errors.IsCategory(err, errors.CategoryTimeout):
		return StatusTimeout
	default:
		return StatusInvalidState
	}
}

// PipelineNewArgs etc. carry one verb's arguments (§6.1's table, typed).
type PipelineNewArgs struct {
	ID           uint32
	Priority     int
	SchedCompID  uint32
	Core         int
	PeriodUS     int64
	FramesPerSched int
}

type PipelineFreeArgs struct{ ID uint32 }

type CompNewArgs struct {
	Kind       string
	ID         uint32
	PipelineID uint32
	Core       int
	Stream     streamfmt.Format
}

type CompConnectArgs struct {
	SrcID  uint32
	SinkID uint32
}

type BufferNewArgs struct {
	ID     uint32
	Size   int
	Stream streamfmt.Format
}

type PipelineCompleteArgs struct {
	ID         uint32
	SrcCompID  uint32
	SinkCompID uint32
}

type TriggerArgs struct {
	PipelineID uint32
	Cmd        int
}

type DataArgs struct {
	CompID  uint32
	ParamID uint32
	Payload []byte
}

type DAIConfigArgs struct {
	DAIID      uint32
	ConfigBlob []byte
}

// Request is one host message, its Verb selecting which Args field is
// populated; Reply is filled in by the dispatcher and delivered back
// through the Request's own reply channel.
type Request struct {
	Verb Verb
	Args any
	// reply is allocated per-request so the dispatcher's response never
	// has to be matched back to a request by ID; it is answered directly.
	reply chan Reply
}

// Reply carries a verb's outcome (§6.1: "every verb yields a reply
// carrying a status and, for get_data, a payload").
type Reply struct {
	Status  Status
	Payload []byte
	Err     error
}

// newRequest allocates a Request with its private reply channel.
func newRequest(verb Verb, args any) *Request {
	return &Request{Verb: verb, Args: args, reply: make(chan Reply, 1)}
}

// Handler executes one verb against the core's live graph/scheduler state
// and returns the reply payload (nil except for get_data) plus an error,
// which Dispatcher turns into a Status via statusFromError.
type Handler func(ctx context.Context, verb Verb, args any) ([]byte, error)

// Dispatcher is the in-process transport for host messages: a
// single-producer single-consumer queue of *Request, matching §6.1's
// "stream of discrete commands" framing with one dedicated host-facing
// producer goroutine and one consumer (the core's own command thread).
//
// code.hybscloud.com/lfq's SPSC is built for exactly this shape: one
// writer enqueueing argument structs, one reader draining them in order,
// without the mutex a channel-of-channels would otherwise need per call.
type Dispatcher struct {
	queue   *lfq.SPSC[Request]
	handler Handler
}

// NewDispatcher creates a Dispatcher with the given queue depth and
// handler; handler is invoked once per request by Run, on the consumer's
// own goroutine.
func NewDispatcher(queueDepth int, handler Handler) *Dispatcher {
	return &Dispatcher{
		queue:   lfq.NewSPSC[Request](queueDepth),
		handler: handler,
	}
}

// Send enqueues a verb and blocks for its reply; it is the host-facing
// call each verb in §6.1's table maps to.
func (d *Dispatcher) Send(ctx context.Context, verb Verb, args any) Reply {
	req := newRequest(verb, args)
	if err := d.queue.Enqueue(req); err != nil {
		return Reply{Status: StatusBusy, Err: errors.New(fmt.Errorf("hostmsg: enqueue %s: %w", verb, err)).
			Category(errors.CategoryBusy).
			Component("hostmsg").
			Build()}
	}
	select {
	case reply := <-req.reply:
		return reply
	case <-ctx.Done():
		return Reply{Status: StatusTimeout, Err: ctx.Err()}
	}
}

// Run drains the queue on the calling goroutine until ctx is cancelled,
// dispatching each request to handler and answering its reply channel.
// This is the core's single command-consumer thread (§5's "lock discipline
// ... one writer, one reader" shape extended to the host interface).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := d.queue.Dequeue()
		if err != nil {
			if lfq.IsWouldBlock(err) {
				time.Sleep(10 * time.Microsecond)
				continue
			}
			return
		}

		payload, herr := d.handler(ctx, req.Verb, req.Args)
		req.reply <- Reply{Status: statusFromError(herr), Payload: payload, Err: herr}
	}
}
