package conio

import "context"

// ErrDialTimeout is returned by Finish when the connect timer expires
// before the handshake completes. It reports Timeout() true so
// callers and exceptions.IsTimeout classify it as a timeout.
var ErrDialTimeout error = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

func (*timeoutError) Is(err error) bool {
	return err == context.DeadlineExceeded
}

// ErrCanceled is returned when a parked operation observes a
// cancellation request. It matches context.Canceled under errors.Is,
// keeping it distinct from plain I/O errors.
var ErrCanceled error = canceledError{}

type canceledError struct{}

func (canceledError) Error() string { return "operation was canceled" }

func (canceledError) Is(err error) bool { return err == context.Canceled }
