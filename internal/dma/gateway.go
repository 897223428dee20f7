// Package dma implements the abstract DMA gateway of §6.2 that Host and
// DAI endpoint components bind to: set_config/start/stop/pause/release/
// copy/status/irq, with the bounded stop-and-drain discipline §4.5
// requires (500 ms, reset on timeout).
package dma

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiograph/corefw/internal/errors"
)

// IRQOp selects the operation irq() performs (§6.2).
type IRQOp int

const (
	IRQStatusGet IRQOp = iota
	IRQClear
	IRQMask
	IRQUnmask
)

// Status is the channel's run state, returned by status() and polled by
// Stop's drain loop.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopping
	StatusStopped
)

// stopTimeout is the bounded wait §4.5 specifies for draining a channel on
// STOP: "500 ms of the default clock".
const stopTimeout = 500 * time.Millisecond

// Backend is the platform-specific transfer engine a Channel drives; the
// malgo-backed implementation in malgo_backend.go is one concrete Backend,
// and tests use an in-memory one.
type Backend interface {
	// Transfer moves up to len(buf) bytes in the configured direction,
	// returning the number of bytes actually moved; no conversion to
	// frames is made.
	Transfer(buf []byte) (int, error)
	// Drained reports whether the backend has no in-flight transfer left.
	Drained() bool
	// Reset forces the backend back to idle after a stop timeout.
	Reset()
}

// Channel is the abstract DMA channel of §6.2, shared by internal/component's
// Host and DAI endpoint variants through the component.DMAChannel interface.
type Channel struct {
	mu      sync.Mutex
	backend Backend

	size      int
	cyclic    bool
	status    atomic.Int32
	irqMasked atomic.Bool
}

// NewChannel binds a Channel to backend, the concrete transfer engine.
func NewChannel(backend Backend) *Channel {
	c := &Channel{backend: backend}
	c.status.Store(int32(StatusIdle))
	return c
}

// SetConfig programs transfer size and cyclic mode (§6.2's set_config,
// narrowed to the fields a component.DMAChannel caller supplies; source/
// destination addresses are the backend's concern in this simulation,
// since there is no real physical address space to program).
func (c *Channel) SetConfig(size int, cyclic bool) error {
	if size <= 0 {
		return errors.New(fmt.Errorf("dma channel config size must be positive, got %d", size)).
			Category(errors.CategoryInvalidArgument).
			Component("dma").
			Build()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = size
	c.cyclic = cyclic
	return nil
}

// Start enables the channel and unmasks its IRQ (§4.5). The unmask is
// unconditional: the Channel has no notion of which scheduling domain
// drives it.
func (c *Channel) Start() error {
	c.status.Store(int32(StatusRunning))
	c.irqMasked.Store(false)
	return nil
}

// Pause suspends transfers without resetting configuration.
func (c *Channel) Pause() error {
	c.status.Store(int32(StatusIdle))
	return nil
}

// Stop masks the channel's IRQ, then polls Drained() with a bounded
// timeout; on timeout it resets the backend and returns CategoryTimeout
// (§4.5: "stopped and drained (polled) with a bounded timeout... on
// timeout the channel is reset").
func (c *Channel) Stop() error {
	return c.StopContext(context.Background())
}

// StopContext is Stop with an explicit context, so a caller can shorten
// the bound for tests without waiting the full 500 ms.
func (c *Channel) StopContext(ctx context.Context) error {
	c.status.Store(int32(StatusStopping))
	c.irqMasked.Store(true)

	deadline := time.Now().Add(stopTimeout)
	for {
		if c.backend == nil || c.backend.Drained() {
			c.status.Store(int32(StatusStopped))
			return nil
		}
		if time.Now().After(deadline) {
			if c.backend != nil {
				c.backend.Reset()
			}
			c.status.Store(int32(StatusIdle))
			return errors.New(fmt.Errorf("dma channel stop: drain exceeded %s", stopTimeout)).
				Category(errors.CategoryTimeout).
				Component("dma").
				Build()
		}
		select {
		case <-ctx.Done():
			if c.backend != nil {
				c.backend.Reset()
			}
			c.status.Store(int32(StatusIdle))
			return errors.New(fmt.Errorf("dma channel stop: %w", ctx.Err())).
				Category(errors.CategoryTimeout).
				Component("dma").
				Build()
		case <-time.After(time.Millisecond):
		}
	}
}

// Release re-arms a paused channel without reprogramming configuration.
func (c *Channel) Release() error {
	c.status.Store(int32(StatusRunning))
	return nil
}

// Copy transfers up to len(buf) bytes via the backend, the operation
// Host/DAI endpoint variants call once per period.
func (c *Channel) Copy(buf []byte) (int, error) {
	if c.backend == nil {
		return len(buf), nil
	}
	n, err := c.backend.Transfer(buf)
	if err != nil {
		return n, errors.New(fmt.Errorf("dma transfer: %w", err)).
			Category(errors.CategoryUnderrun).
			Component("dma").
			Build()
	}
	return n, nil
}

// StatusValue returns the channel's current run state.
func (c *Channel) StatusValue() Status {
	return Status(c.status.Load())
}

// IRQ performs the requested IRQ operation (§6.2).
func (c *Channel) IRQ(op IRQOp) bool {
	switch op {
	case IRQStatusGet:
		return !c.irqMasked.Load()
	case IRQClear:
		return true
	case IRQMask:
		c.irqMasked.Store(true)
		return true
	case IRQUnmask:
		c.irqMasked.Store(false)
		return true
	default:
		return false
	}
}
