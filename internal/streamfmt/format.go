// Package streamfmt describes the PCM stream shape that flows through a
// Buffer: sample format, channel count, rate, and frame geometry (§3.1).
package streamfmt

import (
	"fmt"

	"github.com/audiograph/corefw/internal/errors"
)

// SampleFormat identifies the container and encoding of one sample.
type SampleFormat int

const (
	// FormatS16LE is a signed 16-bit little-endian sample.
	FormatS16LE SampleFormat = iota
	// FormatS24In32LE is a signed 24-bit sample stored in a 32-bit little-endian container.
	FormatS24In32LE
	// FormatS32LE is a signed 32-bit little-endian sample.
	FormatS32LE
	// FormatFloat32LE is an IEEE-754 32-bit float, little-endian.
	FormatFloat32LE
)

// String implements fmt.Stringer.
func (f SampleFormat) String() string {
	switch f {
	case FormatS16LE:
		return "s16le"
	case FormatS24In32LE:
		return "s24in32le"
	case FormatS32LE:
		return "s32le"
	case FormatFloat32LE:
		return "float32le"
	default:
		return "unknown"
	}
}

// ContainerBytes is the number of bytes used to store one sample of f.
func (f SampleFormat) ContainerBytes() int {
	switch f {
	case FormatS16LE:
		return 2
	case FormatS24In32LE, FormatS32LE, FormatFloat32LE:
		return 4
	default:
		return 0
	}
}

// Interleaving describes how multichannel samples are laid out in memory.
type Interleaving int

const (
	Interleaved Interleaving = iota
	Planar
)

// Direction is the data-flow role of a stream endpoint.
type Direction int

const (
	Capture Direction = iota
	Playback
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Playback {
		return "playback"
	}
	return "capture"
}

// Format is the stream descriptor of §3.1.
type Format struct {
	Sample       SampleFormat
	Channels     int
	SampleRateHz int
	Interleaving Interleaving
	Direction    Direction
}

// FrameBytes returns channels × container bytes, the unit §3.1 defines a
// frame in.
func (f Format) FrameBytes() int {
	return f.Channels * f.Sample.ContainerBytes()
}

// Validate rejects formats that cannot describe a real PCM stream.
func (f Format) Validate() error {
	if f.Channels <= 0 {
		return errors.New(fmt.Errorf("channel count must be positive, got %d", f.Channels)).
			Category(errors.CategoryInvalidArgument).
			Component("streamfmt").
			Build()
	}
	if f.SampleRateHz <= 0 {
		return errors.New(fmt.Errorf("sample rate must be positive, got %d", f.SampleRateHz)).
			Category(errors.CategoryInvalidArgument).
			Component("streamfmt").
			Build()
	}
	if f.Sample.ContainerBytes() == 0 {
		return errors.New(fmt.Errorf("unrecognized sample format %v", f.Sample)).
			Category(errors.CategoryInvalidArgument).
			Component("streamfmt").
			Build()
	}
	return nil
}

// Compatible reports whether two formats can be connected by a single
// Buffer without a sample-rate-converting Component in between: same
// sample format, channel count, and rate. Direction is not compared since
// a Buffer's two endpoints face opposite directions by construction.
func Compatible(a, b Format) bool {
	return a.Sample == b.Sample && a.Channels == b.Channels && a.SampleRateHz == b.SampleRateHz
}

// FramesFromBytes converts a byte count to whole frames under f, truncating
// any partial trailing frame.
func (f Format) FramesFromBytes(n int) int {
	fb := f.FrameBytes()
	if fb == 0 {
		return 0
	}
	return n / fb
}

// BytesFromFrames converts a frame count to bytes under f.
func (f Format) BytesFromFrames(n int) int {
	return n * f.FrameBytes()
}
