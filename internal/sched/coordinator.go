package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/audiograph/corefw/internal/errors"
)

// Coordinator owns one Scheduler per core and forwards a request to the
// owning core when the caller's core differs (§4.4's cross-core scheduling:
// "the request is forwarded to that core via a message, and the caller
// blocks on a reply that carries the callee's status"). Each core's
// Scheduler is only ever touched from that core's own goroutine; a
// forwarded call executes on the owning core's workQueue instead of
// calling the Scheduler's methods directly.
type Coordinator struct {
	mu         sync.RWMutex
	schedulers map[int]*Scheduler
	workQueues map[int]chan func()
}

// NewCoordinator creates an empty multi-core coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		schedulers: make(map[int]*Scheduler),
		workQueues: make(map[int]chan func()),
	}
}

// AddCore registers core's Scheduler and starts its forwarding work queue.
// The caller is responsible for driving sched's own Tick loop; AddCore
// only wires up the channel forwarded cross-core calls arrive on.
func (c *Coordinator) AddCore(core int, sched *Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedulers[core] = sched
	c.workQueues[core] = make(chan func(), 64)
}

// DrainOnce executes every pending forwarded call queued for core,
// without blocking. A real per-core run loop calls this once per
// iteration, interleaved with Scheduler.Tick, since both must run only
// from that core's own thread of control.
func (c *Coordinator) DrainOnce(core int) {
	c.mu.RLock()
	q := c.workQueues[core]
	c.mu.RUnlock()
	if q == nil {
		return
	}
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

// Register registers task on its own Core, forwarding the request if the
// caller runs on a different core than task.Core.
func (c *Coordinator) Register(ctx context.Context, callerCore int, task *Task) error {
	return c.forward(ctx, callerCore, task.Core, func() error {
		sched, err := c.schedulerFor(task.Core)
		if err != nil {
			return err
		}
		return sched.Register(task)
	})
}

// Cancel flips task to CANCEL, forwarding if necessary. Per §4.4, cancel
// itself does not wait for the owning core to actually remove the task.
func (c *Coordinator) Cancel(ctx context.Context, callerCore int, task *Task) error {
	return c.forward(ctx, callerCore, task.Core, func() error {
		sched, err := c.schedulerFor(task.Core)
		if err != nil {
			return err
		}
		sched.Cancel(task)
		return nil
	})
}

// Free forwards a synchronous free() to task's owning core and blocks
// until the reply carrying the callee's status arrives.
func (c *Coordinator) Free(ctx context.Context, callerCore int, task *Task) error {
	return c.forward(ctx, callerCore, task.Core, func() error {
		sched, err := c.schedulerFor(task.Core)
		if err != nil {
			return err
		}
		return sched.Free(ctx, task)
	})
}

func (c *Coordinator) schedulerFor(core int) (*Scheduler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sched, ok := c.schedulers[core]
	if !ok {
		return nil, errors.New(fmt.Errorf("no scheduler registered for core %d", core)).
			Category(errors.CategoryInvalidResource).
			Component("scheduler").
			Build()
	}
	return sched, nil
}

// forward runs fn directly if callerCore == targetCore, otherwise queues
// it onto targetCore's work queue and blocks on a reply channel carrying
// fn's result, modeling the forwarded-message-and-reply pattern of §4.4.
func (c *Coordinator) forward(ctx context.Context, callerCore, targetCore int, fn func() error) error {
	if callerCore == targetCore {
		return fn()
	}

	c.mu.RLock()
	q := c.workQueues[targetCore]
	c.mu.RUnlock()
	if q == nil {
		return errors.New(fmt.Errorf("no work queue registered for core %d", targetCore)).
			Category(errors.CategoryInvalidResource).
			Component("scheduler").
			Build()
	}

	reply := make(chan error, 1)
	select {
	case q <- func() { reply <- fn() }:
	case <-ctx.Done():
		return errors.New(fmt.Errorf("forward to core %d: %w", targetCore, ctx.Err())).
			Category(errors.CategoryTimeout).
			Component("scheduler").
			Build()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return errors.New(fmt.Errorf("forward to core %d: reply wait: %w", targetCore, ctx.Err())).
			Category(errors.CategoryTimeout).
			Component("scheduler").
			Build()
	}
}
