//go:build unix

package conio

import (
	"os"

	"golang.org/x/sys/unix"
)

// Syscall hooks, swappable by tests.
var (
	socketFunc  = unix.Socket
	connectFunc = unix.Connect
	closeFunc   = unix.Close
)

// sysSocket creates a stream socket and switches it to non-blocking
// mode. The mode switch happens before the descriptor is handed to
// the selector: registering a still-blocking socket would race a
// wakeup against the caller observing the flag.
func sysSocket(family, sotype, proto int) (int, error) {
	fd, err := socketFunc(family, sotype, proto)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		closeFunc(fd)
		return -1, os.NewSyscallError("setnonblock", err)
	}
	return fd, nil
}
