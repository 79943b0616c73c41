package pty

import (
	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
)

// forwardSignal forwards a received signal to the bootstrapped child,
// standing in for the reference implementation's external sig_forward
// collaborator. SIGCHLD is never forwarded: it is the pump's own
// termination signal, reaped by the caller's Wait.
func forwardSignal(childPID int, signo uint32) error {
	if signo == uint32(unix.SIGCHLD) {
		return nil
	}
	if err := unix.Kill(childPID, unix.Signal(signo)); err != nil && err != unix.ESRCH {
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty signal: forward to child")
	}
	return nil
}
