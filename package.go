// Package conio provides non-blocking socket connections driven by
// cooperative coroutine tasks. Many concurrent connection attempts are
// multiplexed over a readiness-based selector without blocking an
// operating-system thread: a task that starts a connect suspends while
// the handshake is pending and is resumed exactly once by a readiness
// event, a timeout, or a cancellation request.
//
// Key components:
//
//   - Task: a coroutine-like unit of work. Tasks suspend at explicit
//     yield points and are resumed by the Scheduler.
//
//   - Scheduler: runs tasks over a run queue and accepts wakeups from
//     the event-delivery side. Coroutine resumption always happens on
//     the scheduler goroutine; delivery threads only mark
//     registrations ready and hand parked tasks back.
//
//   - Selector: the interface to the external readiness multiplexer.
//     The package defines the registration record and the delivery
//     helpers; the polling loop itself lives outside.
//
//   - Registration: per-descriptor state shared between the owning
//     task and the event-delivery thread. All cross-thread fields are
//     atomics.
//
//   - UnixConnect: the non-blocking connect state machine. Finish
//     drives the connect syscall through its completion protocol and
//     returns a UnixStream carrying the live registration forward.
//
//   - Synchronization primitives: Mutex, WaitGroup, ErrGroup, and
//     single-flight deduplication for coordinating tasks.
package conio
