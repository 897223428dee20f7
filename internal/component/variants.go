package component

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/smallnest/ringbuffer"

	"github.com/audiograph/corefw/internal/arena"
	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/errors"
	"github.com/audiograph/corefw/internal/streamfmt"
)

// DMAChannel is the narrow view an endpoint variant needs of §6.2's DMA
// gateway interface; internal/dma provides the concrete implementation so
// this package does not need to import it.
type DMAChannel interface {
	SetConfig(size int, cyclic bool) error
	Start() error
	Stop() error
	Pause() error
	Copy(buf []byte) (int, error)
}

// BufferGetter resolves a buffer handle to its Buffer. internal/pipeline's
// Graph.Buffers arena satisfies this without this package importing
// internal/pipeline, which already imports component and would cycle.
type BufferGetter interface {
	Get(h arena.Handle) (*buffer.Buffer, error)
}

// BufferBinder is implemented by variants whose Copy needs to reach the
// Buffer connected to its own Component, rather than have byte movement
// injected by the caller (the way PassThrough's CopyFunc does). Connect
// calls BindBuffers whenever it attaches a buffer to this component, so the
// variant's view of its Sources/Sinks stays current.
type BufferBinder interface {
	BindBuffers(self *Component, buffers BufferGetter)
}

// HostEndpoint owns a software ring to a host-memory DMA gateway; its
// Copy transfers one period between the DMA channel and the adjacent
// pipeline buffer, direction set at construction (§4.2 endpoint spec).
//
// The shadow ring staging the DMA-side bytes before they cross into the
// pipeline's Buffer is a smallnest/ringbuffer.RingBuffer, the same type
// the audiocore pool benchmark in the retrieval pack uses to stage bytes
// ahead of a sliding-window reader.
type HostEndpoint struct {
	Channel DMAChannel
	shadow  *ringbuffer.RingBuffer
	dir     streamfmt.Direction
	periodBytes int

	self    *Component
	buffers BufferGetter
}

// NewHostEndpoint creates a host endpoint with a shadow ring sized for four
// periods, to absorb the gap between a DMA-channel copy and the pipeline
// walker's own copy() call.
func NewHostEndpoint(channel DMAChannel, dir streamfmt.Direction, periodBytes int) *HostEndpoint {
	return &HostEndpoint{
		Channel:     channel,
		shadow:      ringbuffer.New(periodBytes * 4),
		dir:         dir,
		periodBytes: periodBytes,
	}
}

// Prepare programs the DMA channel for one-period cyclic transfers.
func (h *HostEndpoint) Prepare(ctx context.Context) error {
	if h.Channel == nil {
		return nil
	}
	if err := h.Channel.SetConfig(h.periodBytes, true); err != nil {
		return errors.New(fmt.Errorf("host endpoint prepare: %w", err)).
			Category(errors.CategoryInvalidState).
			Component("component").
			Build()
	}
	return nil
}

// OnTrigger arms or disarms the DMA channel to match the lifecycle command.
func (h *HostEndpoint) OnTrigger(ctx context.Context, cmd Cmd) TriggerResult {
	if h.Channel == nil {
		return ResultOK
	}
	var err error
	switch cmd {
	case CmdStart, CmdRelease:
		err = h.Channel.Start()
	case CmdPause:
		err = h.Channel.Pause()
	case CmdStop:
		err = h.Channel.Stop()
	}
	if err != nil {
		return ResultFatal
	}
	return ResultOK
}

// BindBuffers implements BufferBinder. pipeline.Connect calls this each
// time it attaches a buffer to the component wrapping h, so Copy can reach
// the adjacent Buffer through self.SinkHandles()/SourceHandles() instead of
// a byte count the caller has to interpret.
func (h *HostEndpoint) BindBuffers(self *Component, buffers BufferGetter) {
	h.self = self
	h.buffers = buffers
}

// Copy moves one period between the DMA channel and the shadow ring, then
// crosses the shadow ring into the adjacent pipeline Buffer: capture
// produces into every connected sink, playback consumes from every
// connected source. The shadow ring exists to absorb the gap between the
// DMA-channel transfer and that Buffer crossing, not to replace it.
func (h *HostEndpoint) Copy(ctx context.Context, frames int) (int, error) {
	if h.Channel == nil {
		return frames, nil
	}
	xfer := make([]byte, h.periodBytes)
	n, err := h.Channel.Copy(xfer)
	if err != nil {
		return -1, errors.New(fmt.Errorf("host endpoint copy: %w", err)).
			Category(errors.CategoryTimeout).
			Component("component").
			Build()
	}

	if h.dir == streamfmt.Capture {
		if _, err := h.shadow.Write(xfer[:n]); err != nil {
			return -1, err
		}
		staged := make([]byte, n)
		drained, err := h.shadow.Read(staged)
		if err != nil {
			return -1, err
		}
		staged = staged[:drained]
		if h.self == nil || h.buffers == nil {
			return drained, nil
		}
		produced := 0
		for _, bh := range h.self.SinkHandles() {
			sinkBuf, err := h.buffers.Get(bh)
			if err != nil {
				return -1, err
			}
			written, err := sinkBuf.Produce(staged)
			if err != nil {
				return written, err
			}
			produced = written
		}
		return produced, nil
	}

	if h.self != nil && h.buffers != nil {
		for _, bh := range h.self.SourceHandles() {
			srcBuf, err := h.buffers.Get(bh)
			if err != nil {
				return -1, err
			}
			pulled := make([]byte, n)
			got, err := srcBuf.Consume(pulled)
			if err != nil {
				return got, err
			}
			if _, err := h.shadow.Write(pulled[:got]); err != nil {
				return -1, err
			}
		}
	}
	_, _ = h.shadow.Read(xfer[:n])
	return n, nil
}

// DAIEndpoint binds to a hardware I/O interface; its Copy transfers to/from
// a hardware FIFO via a DMA channel whose IRQ may be the scheduling source
// for a DMA-driven pipeline (§4.2).
type DAIEndpoint struct {
	Channel     DMAChannel
	periodBytes int

	self    *Component
	buffers BufferGetter
}

// NewDAIEndpoint creates a DAI endpoint bound to channel.
func NewDAIEndpoint(channel DMAChannel, periodBytes int) *DAIEndpoint {
	return &DAIEndpoint{Channel: channel, periodBytes: periodBytes}
}

func (d *DAIEndpoint) Prepare(ctx context.Context) error {
	if d.Channel == nil {
		return nil
	}
	if err := d.Channel.SetConfig(d.periodBytes, true); err != nil {
		return errors.New(fmt.Errorf("dai endpoint prepare: %w", err)).
			Category(errors.CategoryInvalidState).
			Component("component").
			Build()
	}
	return nil
}

func (d *DAIEndpoint) OnTrigger(ctx context.Context, cmd Cmd) TriggerResult {
	if d.Channel == nil {
		return ResultOK
	}
	var err error
	switch cmd {
	case CmdStart, CmdRelease:
		err = d.Channel.Start()
	case CmdPause:
		err = d.Channel.Pause()
	case CmdStop:
		err = d.Channel.Stop()
	}
	if err != nil {
		return ResultFatal
	}
	return ResultOK
}

// BindBuffers implements BufferBinder, mirroring HostEndpoint.BindBuffers.
func (d *DAIEndpoint) BindBuffers(self *Component, buffers BufferGetter) {
	d.self = self
	d.buffers = buffers
}

// Copy drains every connected source Buffer into the hardware FIFO via the
// DMA channel. A DAI endpoint with no bound source (a test stub, or one
// not yet connected) still exercises the channel with an empty transfer.
func (d *DAIEndpoint) Copy(ctx context.Context, frames int) (int, error) {
	if d.Channel == nil {
		return frames, nil
	}
	xfer := make([]byte, d.periodBytes)
	consumed := 0
	if d.self != nil && d.buffers != nil {
		for _, bh := range d.self.SourceHandles() {
			srcBuf, err := d.buffers.Get(bh)
			if err != nil {
				return -1, err
			}
			got, err := srcBuf.Consume(xfer)
			if err != nil {
				return got, err
			}
			consumed = got
		}
	}
	n, err := d.Channel.Copy(xfer[:consumed])
	if err != nil {
		return -1, errors.New(fmt.Errorf("dai endpoint copy: %w", err)).
			Category(errors.CategoryTimeout).
			Component("component").
			Build()
	}
	return n, nil
}

// PassThrough is the simplest intermediate variant: its Copy is provided
// by the caller via CopyFunc so tests and loopback pipelines (§8 scenario
// 1) can exercise the walker without a real DSP kernel.
type PassThrough struct {
	CopyFunc func(ctx context.Context, frames int) (int, error)
}

func (p *PassThrough) Copy(ctx context.Context, frames int) (int, error) {
	if p.CopyFunc == nil {
		return frames, nil
	}
	return p.CopyFunc(ctx, frames)
}

// Mixer sums every connected source buffer sample-wise with saturation and
// produces the result to its sink (§8 scenario 3). Unlike the per-module
// DSP algorithms §1 treats as a black box, the sample-wise saturating sum
// is part of this spec's own contract, so Mixer implements it directly
// instead of delegating to an injected function; MixFunc remains for tests
// or a future real DSP kernel to override that default.
type Mixer struct {
	MixFunc func(ctx context.Context, frames int) (int, error)

	self    *Component
	buffers BufferGetter
}

// BindBuffers implements BufferBinder, mirroring HostEndpoint.BindBuffers.
func (m *Mixer) BindBuffers(self *Component, buffers BufferGetter) {
	m.self = self
	m.buffers = buffers
}

func (m *Mixer) Copy(ctx context.Context, frames int) (int, error) {
	if m.MixFunc != nil {
		return m.MixFunc(ctx, frames)
	}
	if m.self == nil || m.buffers == nil {
		return frames, nil
	}
	sources := m.self.SourceHandles()
	sinks := m.self.SinkHandles()
	if len(sources) == 0 || len(sinks) == 0 {
		return frames, nil
	}

	first, err := m.buffers.Get(sources[0])
	if err != nil {
		return -1, err
	}
	format := first.Stream()
	byteLen := format.BytesFromFrames(frames)

	ins := make([][]byte, len(sources))
	for i, sh := range sources {
		srcBuf, err := m.buffers.Get(sh)
		if err != nil {
			return -1, err
		}
		in := make([]byte, byteLen)
		n, err := srcBuf.Consume(in)
		if err != nil {
			return n, err
		}
		ins[i] = in[:n]
	}
	sum := mixSamples(format.Sample, ins)

	produced := 0
	for _, sh := range sinks {
		sinkBuf, err := m.buffers.Get(sh)
		if err != nil {
			return -1, err
		}
		written, err := sinkBuf.Produce(sum)
		if err != nil {
			return written, err
		}
		produced = written
	}
	return format.FramesFromBytes(produced), nil
}

// mixSamples accumulates every source's sample into a wider integer (or
// float) total before saturating once per sample, mirroring
// src/audio/mixer.c's mix_n_s16/mix_n_s32 in the retrieval pack's original
// C sources: those sum all N sources into an int32/int64 accumulator and
// saturate only at the end, rather than saturating after each pairwise
// add. Saturating pairwise can clip a sum that never actually exceeds the
// format's range once every source is added (e.g. 30000 + 30000 + -50000
// clips on the first partial sum, 60000, but not on the true total, 10000).
// Float32
// saturates at [-1, 1] instead of an integer range.
func mixSamples(format streamfmt.SampleFormat, ins [][]byte) []byte {
	width := format.ContainerBytes()
	if width == 0 || len(ins) == 0 {
		return nil
	}
	shortest := len(ins[0])
	for _, in := range ins[1:] {
		if len(in) < shortest {
			shortest = len(in)
		}
	}
	out := make([]byte, shortest)
	for off := 0; off+width <= shortest; off += width {
		switch format {
		case streamfmt.FormatS16LE:
			var acc int64
			for _, in := range ins {
				acc += int64(int16(binary.LittleEndian.Uint16(in[off : off+2])))
			}
			binary.LittleEndian.PutUint16(out[off:off+2], uint16(int16(saturate(acc, math.MinInt16, math.MaxInt16))))
		case streamfmt.FormatS32LE:
			var acc int64
			for _, in := range ins {
				acc += int64(int32(binary.LittleEndian.Uint32(in[off : off+4])))
			}
			binary.LittleEndian.PutUint32(out[off:off+4], uint32(int32(saturate(acc, math.MinInt32, math.MaxInt32))))
		case streamfmt.FormatS24In32LE:
			const max24, min24 = 1<<23 - 1, -(1 << 23)
			var acc int64
			for _, in := range ins {
				acc += int64(int32(binary.LittleEndian.Uint32(in[off : off+4])))
			}
			binary.LittleEndian.PutUint32(out[off:off+4], uint32(int32(saturate(acc, min24, max24))))
		case streamfmt.FormatFloat32LE:
			var acc float64
			for _, in := range ins {
				acc += float64(math.Float32frombits(binary.LittleEndian.Uint32(in[off : off+4])))
			}
			if acc > 1 {
				acc = 1
			} else if acc < -1 {
				acc = -1
			}
			binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(float32(acc)))
		}
	}
	return out
}

func saturate(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Volume, EQ, SRC, and KeywordDetector are named stubs for the remaining
// variants §3.3 lists; their actual sample processing is out of scope
// (§1 Non-goals: "per-module DSP algorithms"), so each only carries the
// Copier capability via an injected function, identical in shape to
// PassThrough, to keep the variant's identity distinct for routing and
// metrics purposes.
type Volume struct{ CopyFunc func(ctx context.Context, frames int) (int, error) }

func (v *Volume) Copy(ctx context.Context, frames int) (int, error) {
	if v.CopyFunc == nil {
		return frames, nil
	}
	return v.CopyFunc(ctx, frames)
}

type EQ struct{ CopyFunc func(ctx context.Context, frames int) (int, error) }

func (e *EQ) Copy(ctx context.Context, frames int) (int, error) {
	if e.CopyFunc == nil {
		return frames, nil
	}
	return e.CopyFunc(ctx, frames)
}

type SRC struct{ CopyFunc func(ctx context.Context, frames int) (int, error) }

func (s *SRC) Copy(ctx context.Context, frames int) (int, error) {
	if s.CopyFunc == nil {
		return frames, nil
	}
	return s.CopyFunc(ctx, frames)
}

type KeywordDetector struct{ CopyFunc func(ctx context.Context, frames int) (int, error) }

func (k *KeywordDetector) Copy(ctx context.Context, frames int) (int, error) {
	if k.CopyFunc == nil {
		return frames, nil
	}
	return k.CopyFunc(ctx, frames)
}
