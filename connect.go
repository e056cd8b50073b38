//go:build unix

package conio

import (
	"os"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"golang.org/x/sys/unix"
)

// ConnectTimeout is armed for every suspension of a pending connect.
// A task parked longer than this is woken and Finish reports
// ErrDialTimeout.
const ConnectTimeout = 10 * time.Second

type connectState uint8

const (
	stateUnattempted connectState = iota
	stateInProgress
	stateConnected
)

// UnixConnect drives a unix-domain stream connect through the
// non-blocking completion protocol. The object owns the socket until
// Finish consumes it: on success ownership moves into the returned
// UnixStream together with the live registration, on failure the
// socket is closed and the registration removed.
type UnixConnect struct {
	sched   *Scheduler
	reg     *Registration
	fd      int
	raddr   *unix.SockaddrUnix
	canDrop DelayDrop
	state   connectState
}

// NewUnixConnect creates a non-blocking stream socket, registers it
// with the scheduler's selector, and wraps both. No connect attempt
// is made yet.
func NewUnixConnect(sched *Scheduler, path string) (*UnixConnect, error) {
	fd, err := sysSocket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, E.Cause(err, "dial ", path)
	}

	reg, err := sched.Selector().Register(fd)
	if err != nil {
		closeFunc(fd)
		return nil, E.Cause(err, "register ", path)
	}

	return &UnixConnect{
		sched: sched,
		reg:   reg,
		fd:    fd,
		raddr: &unix.SockaddrUnix{Name: path},
	}, nil
}

// DialUnix connects to the unix-domain socket at path. The task
// suspends while the handshake is pending; it never blocks an OS
// thread.
func DialUnix(task *Task, path string) (*UnixStream, error) {
	c, err := NewUnixConnect(task.sched, path)
	if err != nil {
		return nil, err
	}
	return c.Finish(task)
}

// Attempt issues the connect syscall once. It reports true if the
// connection completed synchronously, false if the OS accepted the
// request and will finish it asynchronously. Any other outcome is a
// fatal error for this attempt.
func (c *UnixConnect) Attempt() (bool, error) {
	switch err := connectFunc(c.fd, c.raddr); err {
	case nil:
		c.state = stateConnected
		return true, nil
	case unix.EINPROGRESS:
		c.state = stateInProgress
		return false, nil
	default:
		return false, os.NewSyscallError("connect", err)
	}
}

// Finish runs the completion loop and consumes c. Each iteration
// first observes a pending cancellation, then clears the readiness
// flag, re-issues the connect, and re-checks the flag before parking:
// if an event landed between the clear and the re-check, the loop
// retries immediately instead of suspending, so a wakeup can never be
// missed. EALREADY and EINPROGRESS keep the wait going, EISCONN is a
// success detected via retry, everything else is fatal.
func (c *UnixConnect) Finish(task *Task) (*UnixStream, error) {
	if c.state == stateUnattempted {
		if _, err := c.Attempt(); err != nil {
			c.teardown(task)
			return nil, err
		}
	}

	if c.state == stateConnected {
		return c.intoStream(task)
	}

	for {
		c.canDrop.Settle()

		if task.Canceled() {
			c.teardown(task)
			return nil, ErrCanceled
		}

		c.reg.clearReady()

		switch err := connectFunc(c.fd, c.raddr); err {
		case nil, unix.EISCONN:
			c.state = stateConnected
			return c.intoStream(task)
		case unix.EINPROGRESS, unix.EALREADY:
		default:
			c.teardown(task)
			return nil, os.NewSyscallError("connect", err)
		}

		if c.reg.takeReady() {
			continue
		}

		// The timer verdict comes after the reconnect and the
		// readiness re-check, so a late success or a racing event
		// beats an expired timer.
		if c.reg.takeTimeout() {
			c.teardown(task)
			return nil, ErrDialTimeout
		}

		c.canDrop.Reset()
		task.Yield(c)
	}
}

// Subscribe implements EventSource. It is invoked by the scheduler
// once the task is fully suspended, and wires up the three ways the
// task can be resumed: readiness, the connect timer, and
// cancellation. It never blocks.
func (c *UnixConnect) Subscribe(task *Task) {
	g := c.canDrop.Delay()
	defer g.Release()

	cancel := &task.slot

	c.sched.Selector().AddIOTimer(c.reg, ConnectTimeout)
	c.reg.setWaiter(task)

	// An event may have landed between the caller's last check and
	// the waiter install; hand the task straight back instead of
	// leaving it parked.
	if c.reg.readyPeek() {
		c.reg.Schedule()
		return
	}

	cancel.setRegistration(c.reg)
	// A cancel that raced ahead of the back-reference installation
	// must not be lost; re-check and trigger it now.
	if cancel.isCanceled() {
		cancel.fire()
	}
}

// intoStream hands the connected socket and its registration to the
// public stream type. Pure ownership transfer, no syscalls.
func (c *UnixConnect) intoStream(task *Task) (*UnixStream, error) {
	task.slot.clearRegistration()
	c.reg.takeTimeout()
	return &UnixStream{sched: c.sched, reg: c.reg, fd: c.fd}, nil
}

// teardown releases the socket after a failed attempt. It waits for
// the delay-drop guard to drain before deregistering, so the
// event-delivery side cannot touch a dead registration.
func (c *UnixConnect) teardown(task *Task) {
	task.slot.clearRegistration()
	c.canDrop.Drop()
	c.reg.teardown()
	closeFunc(c.fd)
}
