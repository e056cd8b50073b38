//go:build unix

package conio

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// UnixStream is a connected non-blocking unix-domain stream socket.
// It carries the registration established for the connect forward, so
// reads and writes park on the same record instead of re-registering
// the descriptor.
type UnixStream struct {
	sched   *Scheduler
	reg     *Registration
	fd      int
	canDrop DelayDrop
	closed  bool
}

// FD returns the underlying descriptor.
func (s *UnixStream) FD() int { return s.fd }

// Registration returns the stream's registration record.
func (s *UnixStream) Registration() *Registration { return s.reg }

// Read reads from the stream, suspending the task until the
// descriptor is readable. It follows the same clear, retry, re-check
// protocol as the connect loop.
func (s *UnixStream) Read(task *Task, p []byte) (int, error) {
	defer task.slot.clearRegistration()

	for {
		s.canDrop.Settle()

		if task.Canceled() {
			return 0, ErrCanceled
		}

		s.reg.clearReady()

		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil:
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case err == unix.EINTR:
			continue
		case err != unix.EAGAIN:
			return 0, os.NewSyscallError("read", err)
		}

		if s.reg.takeReady() {
			continue
		}

		s.canDrop.Reset()
		task.Yield(s)
	}
}

// Write writes p to the stream, suspending the task whenever the
// socket buffer is full, until the whole slice is written or a fatal
// error occurs.
func (s *UnixStream) Write(task *Task, p []byte) (int, error) {
	defer task.slot.clearRegistration()

	var nn int
	for {
		s.canDrop.Settle()

		if task.Canceled() {
			return nn, ErrCanceled
		}

		s.reg.clearReady()

		n, err := unix.Write(s.fd, p[nn:])
		if n > 0 {
			nn += n
		}
		switch {
		case err == nil && nn == len(p):
			return nn, nil
		case err == nil || err == unix.EINTR:
			continue
		case err != unix.EAGAIN:
			return nn, os.NewSyscallError("write", err)
		}

		if s.reg.takeReady() {
			continue
		}

		s.canDrop.Reset()
		task.Yield(s)
	}
}

// Subscribe implements EventSource for stream reads and writes. Same
// wiring as the connect subscribe, minus the timer: stream I/O waits
// until readiness or cancellation.
func (s *UnixStream) Subscribe(task *Task) {
	g := s.canDrop.Delay()
	defer g.Release()

	s.reg.setWaiter(task)

	if s.reg.readyPeek() {
		s.reg.Schedule()
		return
	}

	task.slot.setRegistration(s.reg)
	if task.slot.isCanceled() {
		task.slot.fire()
	}
}

// Close deregisters the descriptor and closes it. It waits for the
// delay-drop guard to drain first, so an in-flight delivery never
// touches a dead registration.
func (s *UnixStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.canDrop.Drop()
	s.reg.teardown()
	return os.NewSyscallError("close", closeFunc(s.fd))
}
