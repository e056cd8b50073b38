package conio

import (
	"sync/atomic"
	"time"
)

// Selector is the external readiness multiplexer (epoll, kqueue, or
// an equivalent). Implementations deliver events by calling
// Registration.SetReadable when the descriptor becomes ready and
// Registration.SetTimeout when an armed timer expires. The polling
// loop itself is outside the scope of this package.
type Selector interface {
	// Register adds the descriptor to the selector's interest set
	// and returns the shared registration record. The descriptor
	// must already be in non-blocking mode.
	Register(fd int) (*Registration, error)

	// AddIOTimer arms a timer for the registration. When it expires
	// the selector marks the registration timed out and reschedules
	// the waiting task.
	AddIOTimer(reg *Registration, d time.Duration)

	// Deregister removes the descriptor from the interest set. It is
	// called exactly once, from the owning side's teardown, after
	// the registration's delay-drop guard has drained.
	Deregister(reg *Registration)
}

// Registration is the per-descriptor record shared between the owning
// task and the event-delivery thread for the descriptor's lifetime.
// After Register returns, the delivery thread may touch the ready
// flag and the waiter slot at any time, so both are atomics and the
// struct must not be copied or moved.
type Registration struct {
	noCopy noCopy

	fd  int
	sel Selector

	// ready records that an I/O event arrived since the flag was
	// last cleared. Written by the delivery thread, cleared by the
	// consuming task.
	ready atomic.Bool

	// timedOut records that an armed I/O timer expired. Consumed by
	// the task on its next loop iteration.
	timedOut atomic.Bool

	// waiter holds the task currently parked on this descriptor, at
	// most one at a time. Exchanged atomically by both sides.
	waiter atomic.Pointer[Task]
}

// NewRegistration builds the record a Selector implementation returns
// from Register.
func NewRegistration(sel Selector, fd int) *Registration {
	return &Registration{fd: fd, sel: sel}
}

// FD returns the registered descriptor.
func (r *Registration) FD() int { return r.fd }

// SetReadable is the delivery-side entry point: it flips the ready
// flag and hands any parked task back to its scheduler. Safe to call
// from any goroutine.
func (r *Registration) SetReadable() {
	r.ready.Store(true)
	r.Schedule()
}

// SetTimeout marks the armed timer expired and hands any parked task
// back to its scheduler. Safe to call from any goroutine.
func (r *Registration) SetTimeout() {
	r.timedOut.Store(true)
	r.Schedule()
}

// Schedule takes the parked task out of the waiter slot, if any, and
// makes it runnable. The swap guarantees a task is resumed at most
// once per suspend cycle no matter how many events race in.
func (r *Registration) Schedule() {
	if t := r.waiter.Swap(nil); t != nil {
		t.sched.Schedule(t)
	}
}

// setWaiter installs the task as the registration's waiter, replacing
// any prior occupant. The protocol allows at most one waiter at a
// time; the caller owns that invariant.
func (r *Registration) setWaiter(t *Task) {
	r.waiter.Swap(t)
}

// clearReady clears the readiness flag before re-issuing the syscall.
func (r *Registration) clearReady() {
	r.ready.Store(false)
}

// takeReady atomically consumes the readiness flag, reporting whether
// an event arrived since it was last cleared.
func (r *Registration) takeReady() bool {
	return r.ready.Swap(false)
}

// readyPeek reads the readiness flag without consuming it.
func (r *Registration) readyPeek() bool {
	return r.ready.Load()
}

// takeTimeout atomically consumes the timeout flag.
func (r *Registration) takeTimeout() bool {
	return r.timedOut.Swap(false)
}

// teardown removes the registration from the selector.
func (r *Registration) teardown() {
	r.sel.Deregister(r)
}
