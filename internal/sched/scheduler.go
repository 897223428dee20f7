package sched

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/audiograph/corefw/internal/errors"
)

// Scheduler is one per-core, per-domain dispatcher (§4.4): single-threaded,
// cooperative, strict priority order with FIFO tie-breaking. Concurrent
// Schedulers for different cores/domains run independently; the only
// shared state between them is forwarded through Coordinator's
// Register/Cancel/Free, never through a shared lock.
type Scheduler struct {
	mu     sync.Mutex
	Core   int
	Domain *Domain

	tasks []*taskEntry
	seq   int // monotonic insertion counter, the FIFO tie-break key
}

type taskEntry struct {
	task *Task
	seq  int
}

// NewScheduler creates a Scheduler bound to one core and one domain.
func NewScheduler(core int, domain *Domain) *Scheduler {
	return &Scheduler{Core: core, Domain: domain}
}

// Register arms the domain if this is its first task, inserts task into
// the priority-ordered list, and sets its next tick to the domain's
// current time plus its period (§4.4 register steps 1-3); no common tick
// shared across tasks is tracked. Cross-core registration is forwarded by
// the caller via Coordinator.Register, not by this method, matching §4.4's
// "the request is forwarded to that core via a message" design.
func (s *Scheduler) Register(task *Task) error {
	if task.Core != s.Core {
		return errors.New(fmt.Errorf("task core %d does not match scheduler core %d", task.Core, s.Core)).
			Category(errors.CategoryInvalidArgument).
			Component("scheduler").
			Build()
	}

	s.mu.Lock()
	first := len(s.tasks) == 0
	s.mu.Unlock()
	if first {
		if err := s.Domain.addClient(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.tasks = append(s.tasks, &taskEntry{task: task, seq: s.seq})
	sort.SliceStable(s.tasks, func(i, j int) bool {
		return s.tasks[i].task.Priority > s.tasks[j].task.Priority
	})

	task.mu.Lock()
	task.state = StateQueued
	task.nextTick = s.Domain.Now() + task.PeriodUS
	task.domain = s.Domain
	task.mu.Unlock()

	return nil
}

// Unregister removes task from this scheduler's list and disarms the
// domain if no tasks remain on this core (§4.4 unregister).
func (s *Scheduler) Unregister(task *Task) error {
	s.mu.Lock()
	for i, e := range s.tasks {
		if e.task == task {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	remaining := len(s.tasks)
	s.mu.Unlock()

	if remaining == 0 {
		return s.Domain.removeClient()
	}
	return nil
}

// Cancel sets task to CANCEL under lock; the owning scheduler removes it
// on its next Tick (§4.4). Safe to call from any core.
func (s *Scheduler) Cancel(task *Task) {
	task.mu.Lock()
	task.state = StateCancel
	task.mu.Unlock()
}

// Free is synchronous: if task is currently executing, it blocks the
// caller until the in-flight invocation completes, bounded by
// 100*period_us, then unregisters the task and marks it FREE (§4.4).
func (s *Scheduler) Free(ctx context.Context, task *Task) error {
	if err := task.waitIdle(ctx); err != nil {
		return err
	}
	if err := s.Unregister(task); err != nil {
		return err
	}
	task.mu.Lock()
	task.state = StateFree
	task.mu.Unlock()
	return nil
}

// Tick runs one iteration of the handler described in §4.4:
//  1. capture last_tick and clear the domain's pending flag (here, simply
//     reading Domain.Now());
//  2. walk the task list, snapshot tasks whose next_tick has elapsed;
//  3. execute each to completion in priority/FIFO order;
//  4. requeue RESCHEDULE tasks, drop COMPLETED/CANCEL ones (Free
//     unregisters its own task);
//  5. re-arm is implicit: the domain stays armed as long as tasks remain.
func (s *Scheduler) Tick(ctx context.Context) error {
	lastTick := s.Domain.Now()

	s.mu.Lock()
	due := make([]*taskEntry, 0, len(s.tasks))
	keep := s.tasks[:0:0]
	for _, e := range s.tasks {
		if e.task.State() == StateCancel {
			continue
		}
		keep = append(keep, e)
		if e.task.NextTick() <= lastTick {
			due = append(due, e)
		}
	}
	s.tasks = keep
	s.mu.Unlock()

	for _, e := range due {
		result := e.task.run(ctx)

		e.task.mu.Lock()
		switch result {
		case StateReschedule:
			if s.Domain.Kind == TimerDomain {
				e.task.nextTick += e.task.PeriodUS
			} else {
				e.task.nextTick = lastTick + e.task.PeriodUS
			}
		}
		e.task.mu.Unlock()

		if result == StateCompleted || result == StateCancel {
			e.task.mu.Lock()
			e.task.state = result
			e.task.mu.Unlock()
			if err := s.Unregister(e.task); err != nil {
				return err
			}
		}
	}

	return nil
}

// Tasks returns a snapshot of this scheduler's current task list, in
// priority/FIFO order.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.tasks))
	for i, e := range s.tasks {
		out[i] = e.task
	}
	return out
}
