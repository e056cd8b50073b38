package conio

import (
	"context"
	"fmt"
	"runtime/trace"
	"strings"
	"sync/atomic"

	"github.com/webriots/coro"
)

const (
	taskTraceTaskType   = "conio-task"
	taskTraceRegionType = "conio-region"
	taskTraceCategory   = "conio"
)

// EventSource describes what will resume a task that is about to
// park: the source is subscribed after the task has fully suspended,
// wiring up readiness, timeout, and cancellation delivery.
type EventSource interface {
	// Subscribe is called by the scheduler with the suspended task.
	// It must not block; it either leaves the task parked for an
	// external wakeup or hands it straight back to the scheduler.
	Subscribe(t *Task)
}

// Task is a coroutine-like unit of work. A task suspends at explicit
// yield points and is resumed by its Scheduler, never concurrently
// with itself.
type Task struct {
	ctx     context.Context
	sched   *Scheduler
	suspend func() struct{}
	resume  func(struct{}) (struct{}, bool)
	cancel  func()
	source  EventSource
	slot    cancelSlot
	done    bool
}

// cancelSlot is the per-task cancellation storage: a canceled flag
// plus a non-owning back-reference to the registration the task is
// currently parked on. Both fields are written by the cancel side
// concurrently with the task side, so both are atomics.
type cancelSlot struct {
	canceled atomic.Bool
	reg      atomic.Pointer[Registration]
}

func (s *cancelSlot) isCanceled() bool {
	return s.canceled.Load()
}

func (s *cancelSlot) setRegistration(r *Registration) {
	s.reg.Store(r)
}

func (s *cancelSlot) clearRegistration() {
	s.reg.Store(nil)
}

// fire is the privileged cancellation trigger: it wakes whatever the
// slot currently points at so the parked task can observe the
// canceled flag. Only scheduler machinery may call it.
func (s *cancelSlot) fire() {
	if r := s.reg.Load(); r != nil {
		r.Schedule()
	}
}

func newTask(ctx context.Context, fn func(context.Context, *Task), sched *Scheduler) *Task {
	task := &Task{sched: sched}
	task.ctx = withTaskContext(ctx, task)

	resume, cancel := coro.New(
		func(_ func(struct{}) struct{}, suspend func() struct{}) (z struct{}) {
			region := trace.StartRegion(task.ctx, taskTraceRegionType)
			defer region.End()

			task.suspend = suspend

			fn(task.ctx, task)
			return
		},
	)

	task.resume = resume
	task.cancel = cancel
	return task
}

// Go spawns a child task. The child starts running immediately, up to
// its first suspension point, before Go returns.
func (t *Task) Go(fn func(context.Context, *Task)) {
	t.goctx(t.ctx, fn)
}

func (t *Task) goctx(ctx context.Context, fn func(context.Context, *Task)) {
	task := newTask(ctx, fn, t.sched)
	task.Log("GO")
	t.sched.tasks++
	t.sched.runTask(task)
}

// Yield parks the task until the event source resumes it. The source
// is subscribed only after the coroutine has fully suspended, so the
// task handle stored in a registration always refers to a suspended
// task that is safe to reschedule from another goroutine.
func (t *Task) Yield(src EventSource) {
	t.Log("YIELD")
	t.source = src
	t.suspend()
}

// Context returns the task's context.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Canceled reports whether a cancellation request has been delivered
// to this task. Cancellation is cooperative: the flag is only acted
// upon at the task's own check points.
func (t *Task) Canceled() bool {
	return t.slot.isCanceled()
}

// Group returns a new error group bound to this task.
func (t *Task) Group() ErrGroup {
	return newErrGroup(t)
}

// Do executes fn under the scheduler's single-flight group,
// deduplicating concurrent calls that share a key.
func (t *Task) Do(key any, fn func() (any, error)) (any, error, bool) {
	t.Logf("DO %v", key)
	return t.sched.single.do(t, key, fn)
}

func (t *Task) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%p ", t)
		sb.WriteString(msg)
		trace.Log(t.ctx, taskTraceCategory, sb.String())
	}
}

func (t *Task) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%p ", t)
		fmt.Fprintf(&sb, format, args...)
		trace.Log(t.ctx, taskTraceCategory, sb.String())
	}
}
