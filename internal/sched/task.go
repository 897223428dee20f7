package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/audiograph/corefw/internal/errors"
	"github.com/audiograph/corefw/internal/pipeline"
)

// State is a Task's position in the state machine §3.5 lists.
type State int

const (
	StateInit State = iota
	StateQueued
	StateRunning
	StateReschedule
	StateCompleted
	StateCancel
	StateFree
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateQueued:
		return "QUEUED"
	case StateRunning:
		return "RUNNING"
	case StateReschedule:
		return "RESCHEDULE"
	case StateCompleted:
		return "COMPLETED"
	case StateCancel:
		return "CANCEL"
	case StateFree:
		return "FREE"
	default:
		return "UNKNOWN"
	}
}

// Task wraps a Pipeline's periodic work (§3.5). Its Handler is invoked by
// the owning Scheduler on every tick where NextTick has elapsed; the
// default Handler (set by NewTask) runs one CopyOnce and reschedules
// unless the Pipeline has been stopped.
type Task struct {
	mu sync.Mutex

	Pipeline *pipeline.Pipeline
	Priority int
	PeriodUS int64
	Core     int
	Handler  func(ctx context.Context, t *Task) State

	state    State
	nextTick int64
	domain   *Domain

	// freeSem is held for the duration of run() so free() can acquire it
	// to know the task is no longer inside Handler, bounded by
	// 100*period_us per §4.4/§5.
	freeSem *semaphore.Weighted
}

// NewTask wraps p with the default CopyOnce-driven handler.
func NewTask(p *pipeline.Pipeline, priority int, periodUS int64, core int) *Task {
	t := &Task{
		Pipeline: p,
		Priority: priority,
		PeriodUS: periodUS,
		Core:     core,
		state:    StateInit,
		freeSem:  semaphore.NewWeighted(1),
	}
	t.Handler = defaultHandler
	return t
}

// defaultHandler runs one period of the wrapped Pipeline and decides
// whether the task should be rescheduled or considered complete.
func defaultHandler(ctx context.Context, t *Task) State {
	p := t.Pipeline
	if p.Status == pipeline.StatusStopped {
		return StateCompleted
	}
	if _, err := p.CopyOnce(ctx); err != nil {
		return StateCompleted
	}
	return StateReschedule
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// NextTick returns the domain-relative timestamp this task is next due.
func (t *Task) NextTick() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextTick
}

// run executes the task's Handler to completion, holding freeSem for the
// duration so a concurrent free() call can detect "currently executing"
// and wait for it to finish (§4.4 cancellation/timeouts).
func (t *Task) run(ctx context.Context) State {
	if !t.freeSem.TryAcquire(1) {
		// Should not happen under the single-threaded-per-core scheduling
		// model (§5); defensive fallback treats contention as still-running.
		return StateRunning
	}
	defer t.freeSem.Release(1)

	t.mu.Lock()
	t.state = StateRunning
	t.mu.Unlock()

	result := t.Handler(ctx, t)

	t.mu.Lock()
	t.state = result
	t.mu.Unlock()

	return result
}

// waitIdle blocks until the task is not currently inside run(), bounded by
// 100*period_us (§4.4's free() timeout). Returns CategoryTimeout if the
// task never yields the semaphore in time.
func (t *Task) waitIdle(ctx context.Context) error {
	bound := 100 * time.Duration(t.PeriodUS) * time.Microsecond
	waitCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	if err := t.freeSem.Acquire(waitCtx, 1); err != nil {
		return errors.New(fmt.Errorf("task free: wait for in-flight copy exceeded %s", bound)).
			Category(errors.CategoryTimeout).
			Component("scheduler").
			Build()
	}
	t.freeSem.Release(1)
	return nil
}
