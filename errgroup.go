package conio

import "context"

// ErrGroup manages a group of tasks and collects the first error that
// occurs. Useful for fanning out many connection attempts and failing
// fast on the first one that breaks.
type ErrGroup interface {
	// Go starts a new task with the group's context.
	Go(func(context.Context, *Task) error)
	// GoWithContext starts a new task with the specified context.
	GoWithContext(context.Context, func(context.Context, *Task) error)
	// Wait suspends until all tasks have completed and returns the
	// first error encountered.
	Wait(*Task) error
}

type errGroup struct {
	task   *Task
	ctx    context.Context
	cancel func(error)
	wg     WaitGroup
	err    error
}

func newErrGroup(task *Task) *errGroup {
	ctx, cancel := context.WithCancelCause(task.ctx)
	return &errGroup{task: task, ctx: ctx, cancel: cancel}
}

func (g *errGroup) Go(f func(context.Context, *Task) error) {
	g.goctx(g.ctx, f)
}

func (g *errGroup) GoWithContext(ctx context.Context, f func(context.Context, *Task) error) {
	if task := MustTaskFromContext(ctx); task != g.task {
		panic("conio: ctx task does not match errgroup task")
	}
	g.goctx(ctx, f)
}

func (g *errGroup) goctx(ctx context.Context, f func(context.Context, *Task) error) {
	g.wg.Add(1)
	g.task.goctx(ctx, func(ctx context.Context, task *Task) {
		defer g.wg.Done()
		if err := f(ctx, task); err != nil && g.err == nil {
			g.err = err
			g.cancel(g.err)
		}
	})
}

func (g *errGroup) Wait(task *Task) error {
	g.wg.Wait(task)
	g.cancel(g.err)
	return g.err
}
