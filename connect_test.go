//go:build unix

package conio

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeSelector records registrations and timer arms, and lets a test
// script how delivery behaves.
type fakeSelector struct {
	mu      sync.Mutex
	onTimer func(reg *Registration)
	timers  int
	regs    int
	deregs  int
}

func (s *fakeSelector) Register(fd int) (*Registration, error) {
	s.mu.Lock()
	s.regs++
	s.mu.Unlock()
	return NewRegistration(s, fd), nil
}

func (s *fakeSelector) AddIOTimer(reg *Registration, d time.Duration) {
	s.mu.Lock()
	s.timers++
	fn := s.onTimer
	s.mu.Unlock()
	if fn != nil {
		fn(reg)
	}
}

func (s *fakeSelector) Deregister(reg *Registration) {
	s.mu.Lock()
	s.deregs++
	s.mu.Unlock()
}

func (s *fakeSelector) timerArms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers
}

func (s *fakeSelector) deregistrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deregs
}

// connectScript replaces the connect syscall with a canned errno
// sequence. The last entry repeats. The optional hook runs inside
// each call, which is exactly the window between the loop's flag
// clear and its re-check.
type connectScript struct {
	mu    sync.Mutex
	seq   []error
	calls int
	hook  func(call int)
}

func (c *connectScript) connect(fd int, sa unix.Sockaddr) error {
	c.mu.Lock()
	call := c.calls
	c.calls++
	i := call
	if i >= len(c.seq) {
		i = len(c.seq) - 1
	}
	err := c.seq[i]
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

func (c *connectScript) install(t *testing.T) {
	t.Helper()
	prev := connectFunc
	connectFunc = c.connect
	t.Cleanup(func() { connectFunc = prev })
}

func dialOnce(t *testing.T, sel Selector, fn func(task *Task, c *UnixConnect)) {
	t.Helper()
	sched := New(sel)
	sched.Run(func(_ context.Context, task *Task) {
		c, err := NewUnixConnect(sched, "/tmp/conio-test.sock")
		require.NoError(t, err)
		fn(task, c)
	}).Resume(context.Background())
}

func TestFinishSynchronous(t *testing.T) {
	script := &connectScript{seq: []error{nil}}
	script.install(t)

	sel := new(fakeSelector)
	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		stream, err := c.Finish(task)
		require.NoError(t, err)
		require.NotNil(t, stream)
		require.NoError(t, stream.Close())
	})

	// Synchronous completion must not suspend: no timer was armed.
	require.Equal(t, 0, sel.timerArms())
	require.Equal(t, 1, sel.deregistrations())
}

func TestAttemptThenFinish(t *testing.T) {
	script := &connectScript{seq: []error{nil}}
	script.install(t)

	sel := new(fakeSelector)
	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		done, err := c.Attempt()
		require.NoError(t, err)
		require.True(t, done)

		stream, err := c.Finish(task)
		require.NoError(t, err)
		require.NoError(t, stream.Close())
	})

	require.Equal(t, 0, sel.timerArms())
}

func TestFinishAfterReadiness(t *testing.T) {
	script := &connectScript{seq: []error{unix.EINPROGRESS, unix.EISCONN}}
	script.install(t)

	sel := new(fakeSelector)
	sel.onTimer = func(reg *Registration) {
		go reg.SetReadable()
	}

	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		stream, err := c.Finish(task)
		require.NoError(t, err)
		require.NoError(t, stream.Close())
	})

	// Exactly one suspend/resume cycle.
	require.Equal(t, 1, sel.timerArms())
}

func TestFinishAlreadyInProgressRetries(t *testing.T) {
	script := &connectScript{seq: []error{
		unix.EINPROGRESS, unix.EALREADY, unix.EISCONN,
	}}
	script.install(t)

	sel := new(fakeSelector)
	sel.onTimer = func(reg *Registration) {
		go reg.SetReadable()
	}

	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		stream, err := c.Finish(task)
		require.NoError(t, err)
		require.NoError(t, stream.Close())
	})

	require.Equal(t, 2, sel.timerArms())
}

func TestFinishFatalError(t *testing.T) {
	script := &connectScript{seq: []error{unix.ECONNREFUSED}}
	script.install(t)

	sel := new(fakeSelector)
	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		_, err := c.Finish(task)
		var sysErr *os.SyscallError
		require.ErrorAs(t, err, &sysErr)
		require.ErrorIs(t, err, unix.ECONNREFUSED)
	})

	require.Equal(t, 0, sel.timerArms())
	require.Equal(t, 1, sel.deregistrations())
}

func TestFinishFatalOnRetry(t *testing.T) {
	script := &connectScript{seq: []error{unix.EINPROGRESS, unix.ECONNREFUSED}}
	script.install(t)

	sel := new(fakeSelector)
	sel.onTimer = func(reg *Registration) {
		go reg.SetReadable()
	}

	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		_, err := c.Finish(task)
		require.ErrorIs(t, err, unix.ECONNREFUSED)
	})

	require.Equal(t, 1, sel.deregistrations())
}

func TestFinishTimeout(t *testing.T) {
	script := &connectScript{seq: []error{unix.EINPROGRESS}}
	script.install(t)

	sel := new(fakeSelector)
	sel.onTimer = func(reg *Registration) {
		time.AfterFunc(time.Millisecond, reg.SetTimeout)
	}

	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		_, err := c.Finish(task)
		require.ErrorIs(t, err, ErrDialTimeout)
		require.True(t, E.IsTimeout(err))
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	require.Equal(t, 1, sel.deregistrations())
}

func TestFinishTimeoutLateSuccess(t *testing.T) {
	// The timer fired, but readiness and a successful retry landed
	// with the same wakeup: the retry verdict wins over the timer.
	script := &connectScript{seq: []error{unix.EINPROGRESS, unix.EISCONN}}
	script.install(t)

	sel := new(fakeSelector)
	sel.onTimer = func(reg *Registration) {
		go func() {
			reg.timedOut.Store(true)
			reg.SetReadable()
		}()
	}

	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		stream, err := c.Finish(task)
		require.NoError(t, err)
		require.NoError(t, stream.Close())
	})
}

func TestFinishCanceled(t *testing.T) {
	script := &connectScript{seq: []error{unix.EINPROGRESS}}
	script.install(t)

	sel := new(fakeSelector)
	sched := New(sel)

	sched.Run(func(_ context.Context, task *Task) {
		sel.mu.Lock()
		sel.onTimer = func(*Registration) {
			time.AfterFunc(time.Millisecond, func() { sched.Cancel(task) })
		}
		sel.mu.Unlock()

		c, err := NewUnixConnect(sched, "/tmp/conio-test.sock")
		require.NoError(t, err)

		_, err = c.Finish(task)
		require.ErrorIs(t, err, ErrCanceled)
		require.ErrorIs(t, err, context.Canceled)
	}).Resume(context.Background())

	require.Equal(t, 1, sel.deregistrations())
}

func TestMissedWakeupRace(t *testing.T) {
	// Readiness lands strictly between the loop's flag clear and its
	// re-check swap. The loop must retry immediately, never suspend.
	var reg *Registration
	script := &connectScript{seq: []error{
		unix.EINPROGRESS, unix.EINPROGRESS, unix.EISCONN,
	}}
	script.hook = func(call int) {
		if call == 1 {
			reg.ready.Store(true)
		}
	}
	script.install(t)

	sel := new(fakeSelector)
	dialOnce(t, sel, func(task *Task, c *UnixConnect) {
		reg = c.reg
		stream, err := c.Finish(task)
		require.NoError(t, err)
		require.NoError(t, stream.Close())
	})

	require.Equal(t, 0, sel.timerArms())
}

func TestCancelBeforeSubscribe(t *testing.T) {
	// The cancel request lands after the loop decided to park but
	// before Subscribe installed the back-reference. The subscribe
	// re-check must still observe it.
	script := &connectScript{seq: []error{unix.EINPROGRESS}}
	script.install(t)

	sel := new(fakeSelector)
	sched := New(sel)

	sched.Run(func(_ context.Context, task *Task) {
		script.mu.Lock()
		script.hook = func(call int) {
			if call == 1 {
				task.slot.canceled.Store(true)
			}
		}
		script.mu.Unlock()

		c, err := NewUnixConnect(sched, "/tmp/conio-test.sock")
		require.NoError(t, err)

		_, err = c.Finish(task)
		require.ErrorIs(t, err, ErrCanceled)
	}).Resume(context.Background())

	// The task parked once and was woken by the cancel re-check.
	require.Equal(t, 1, sel.timerArms())
	require.Equal(t, 1, sel.deregistrations())
}

func TestRegisterFailure(t *testing.T) {
	sel := &failingSelector{err: errors.New("selector full")}
	sched := New(sel)

	sched.Run(func(_ context.Context, task *Task) {
		_, err := NewUnixConnect(sched, "/tmp/conio-test.sock")
		require.Error(t, err)
		require.ErrorContains(t, err, "selector full")
	}).Resume(context.Background())
}

type failingSelector struct {
	err error
}

func (s *failingSelector) Register(fd int) (*Registration, error) { return nil, s.err }

func (s *failingSelector) AddIOTimer(*Registration, time.Duration) {}

func (s *failingSelector) Deregister(*Registration) {}
