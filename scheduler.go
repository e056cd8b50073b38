package conio

import (
	"context"
	"runtime/trace"
	"sync"

	"github.com/gammazero/deque"
)

// Scheduler runs tasks to completion over a run queue. All coroutine
// resumption happens on the goroutine that called Resume; the
// event-delivery side hands tasks back through Schedule, which is
// safe from any goroutine.
type Scheduler struct {
	selector Selector
	runq     deque.Deque[*Task]
	single   *singleFlight
	tasks    int

	mu    sync.Mutex
	wakeq []*Task
	wakec chan struct{}
}

// New creates a Scheduler bound to the given selector.
func New(sel Selector) *Scheduler {
	return &Scheduler{
		selector: sel,
		single:   newSingleFlight(),
		wakec:    make(chan struct{}, 1),
	}
}

// Selector returns the selector the scheduler registers sockets with.
func (s *Scheduler) Selector() Selector {
	return s.selector
}

// Resumable represents a root function ready to be run under a
// Scheduler.
type Resumable struct {
	fn    func(context.Context, *Task)
	sched *Scheduler
}

// Run wraps fn as the root task of a program.
func (s *Scheduler) Run(fn func(context.Context, *Task)) *Resumable {
	return &Resumable{fn: fn, sched: s}
}

// Resume starts the root task and drives the scheduler until every
// task has finished.
func (r *Resumable) Resume(ctx context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.sched.loop(rctx, r.fn)
}

// Schedule makes a parked task runnable again. It never blocks and
// may be called from any goroutine, including event-delivery threads.
func (s *Scheduler) Schedule(t *Task) {
	s.mu.Lock()
	s.wakeq = append(s.wakeq, t)
	s.mu.Unlock()

	select {
	case s.wakec <- struct{}{}:
	default:
	}
}

// Cancel delivers a cancellation request to the task. The request is
// cooperative: the task observes it at its own check points. If the
// task is parked on a registration, it is woken so the check happens
// promptly. Safe to call from any goroutine.
func (s *Scheduler) Cancel(t *Task) {
	t.slot.canceled.Store(true)
	t.slot.fire()
}

func (s *Scheduler) loop(ctx context.Context, fn func(context.Context, *Task)) {
	var tracer *trace.Task
	ctx, tracer = trace.NewTask(ctx, taskTraceTaskType)
	defer tracer.End()

	t := newTask(ctx, fn, s)
	defer t.cancel()

	trace.Log(ctx, taskTraceCategory, "LOOP")

	s.tasks++
	s.runTask(t)

	for s.tasks > 0 {
		s.drainWakes()

		if s.runq.Len() == 0 {
			trace.Logf(ctx, taskTraceCategory, "LOOP WAIT TASKS %v", s.tasks)
			<-s.wakec
			s.drainWakes()
			continue
		}

		s.runTask(s.runq.PopFront())
	}

	trace.Log(ctx, taskTraceCategory, "LOOP DONE")
}

// drainWakes moves tasks handed back by other goroutines onto the run
// queue.
func (s *Scheduler) drainWakes() {
	s.mu.Lock()
	wakes := s.wakeq
	s.wakeq = nil
	s.mu.Unlock()

	for _, t := range wakes {
		s.runq.PushBack(t)
	}
}

// runTask resumes a task until its next suspension point. If the task
// suspended with an event source, the source is subscribed here, once
// the coroutine is fully parked and its handle is safe to hand to
// another thread.
func (s *Scheduler) runTask(t *Task) {
	if t.done {
		return
	}

	t.Log("RUN")

	if _, ok := t.resume(struct{}{}); !ok {
		t.done = true
		s.tasks--
		return
	}

	if src := t.source; src != nil {
		t.source = nil
		src.Subscribe(t)
	}
}
