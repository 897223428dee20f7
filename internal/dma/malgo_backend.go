//go:build malgo

package dma

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/audiograph/corefw/internal/errors"
)

// MalgoBackend drives a real audio device through gen2brain/malgo, the
// ecosystem's cgo-free-at-the-Go-layer wrapper over miniaudio. It is built
// only with -tags malgo, since it requires the platform audio libraries
// malgo links against; the default build uses an in-memory Backend so
// internal/dma's own tests need no hardware.
type MalgoBackend struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	mu     sync.Mutex
	buf    []byte
	drained atomic.Bool
}

// NewMalgoBackend opens a playback device (playback true) or a capture
// device (playback false) at the given format, routing
// device callbacks into an internal staging buffer Transfer drains or
// fills.
func NewMalgoBackend(sampleRate uint32, channels uint32, playback bool) (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, errors.New(fmt.Errorf("malgo init context: %w", err)).
			Category(errors.CategoryFatal).
			Component("dma").
			Build()
	}

	deviceType := malgo.Capture
	if playback {
		deviceType = malgo.Playback
	}

	cfg := malgo.DefaultDeviceConfig(deviceType)
	cfg.SampleRate = sampleRate
	cfg.Playback.Channels = channels
	cfg.Capture.Channels = channels
	cfg.Playback.Format = malgo.FormatS16
	cfg.Capture.Format = malgo.FormatS16

	b := &MalgoBackend{ctx: ctx}
	b.drained.Store(true)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, in []byte, frameCount uint32) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if playback {
				n := copy(out, b.buf)
				b.buf = b.buf[n:]
			} else {
				b.buf = append(b.buf, in...)
			}
			b.drained.Store(len(b.buf) == 0)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		ctx.Uninit()
		return nil, errors.New(fmt.Errorf("malgo init device: %w", err)).
			Category(errors.CategoryFatal).
			Component("dma").
			Build()
	}
	b.device = device

	if err := device.Start(); err != nil {
		return nil, errors.New(fmt.Errorf("malgo start device: %w", err)).
			Category(errors.CategoryFatal).
			Component("dma").
			Build()
	}

	return b, nil
}

func (b *MalgoBackend) Transfer(buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, buf...)
	b.drained.Store(false)
	return len(buf), nil
}

func (b *MalgoBackend) Drained() bool {
	return b.drained.Load()
}

func (b *MalgoBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = nil
	b.drained.Store(true)
}

// Close stops the device and releases the context; callers should defer
// this after a successful NewMalgoBackend.
func (b *MalgoBackend) Close() {
	if b.device != nil {
		b.device.Stop()
		b.device.Uninit()
	}
	if b.ctx != nil {
		b.ctx.Uninit()
	}
}
