package pty

import (
	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
)

// SyncWinsize copies the caller's stdin window size onto the PTY master.
func (b *Broker) SyncWinsize() error {
	ws, err := unix.IoctlGetWinsize(unix.Stdin, unix.TIOCGWINSZ)
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty winsize: read stdin size")
	}
	if err := unix.IoctlSetWinsize(b.termFD, unix.TIOCSWINSZ, ws); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty winsize: write master size")
	}
	return nil
}

// handleSignal implements tty_handle_sig: SIGWINCH on a tty stdin is
// handled locally by copying the window size; every other signal is left
// for the caller to forward. The return value reports whether the signal
// was fully handled here.
func (b *Broker) handleSignal(signo uint32) bool {
	if signo != uint32(unix.SIGWINCH) {
		return false
	}
	if !b.stdinIsTTY {
		return false
	}
	if err := b.SyncWinsize(); err != nil {
		warnf("syncing window size: %v", err)
	}
	return true
}
