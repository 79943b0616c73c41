package pty

import (
	"net"

	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
	"bst-go/fdpass"
)

// SetupChild implements tty_child: it opens a fresh PTY pair via
// /dev/ptmx, sends the master fd to the parent over conn, then makes the
// slave the calling process's controlling terminal and stdio.
//
// It uses TIOCGPTPEER to obtain the slave fd rather than opening
// /dev/pts/<n> by path, since the latter can cross a mount-namespace
// boundary the child has already entered.
func SetupChild(conn *net.UnixConn) error {
	masterFD, err := unix.Open("/dev/ptmx", unix.O_RDWR, 0)
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty child: open ptmx")
	}
	defer unix.Close(masterFD)

	if err := unix.IoctlSetInt(masterFD, unix.TIOCSPTLCK, 0); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty child: TIOCSPTLCK")
	}

	slaveFD, err := unix.IoctlRetInt(masterFD, unix.TIOCGPTPEER)
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty child: TIOCGPTPEER")
	}

	if err := fdpass.Send(conn, masterFD); err != nil {
		unix.Close(slaveFD)
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty child: send master fd")
	}

	if _, err := unix.Setsid(); err != nil && err != unix.EPERM {
		unix.Close(slaveFD)
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty child: setsid")
	}

	if err := unix.IoctlSetInt(slaveFD, unix.TIOCSCTTY, 0); err != nil {
		unix.Close(slaveFD)
		return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty child: TIOCSCTTY")
	}

	for _, fd := range []int{unix.Stdin, unix.Stdout, unix.Stderr} {
		if err := unix.Dup2(slaveFD, fd); err != nil {
			return bsterrors.Wrap(err, bsterrors.ErrConsole, "pty child: dup2")
		}
	}
	if slaveFD > unix.Stderr {
		unix.Close(slaveFD)
	}
	return nil
}
