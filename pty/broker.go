// Package pty implements the PTY broker: the parent-side full-duplex byte
// and signal pump that presents the bootstrapped child with its own
// controlling terminal while the caller keeps their real one.
//
// Bytes are moved with splice(2) through two pipe trampolines (splice
// requires a pipe on at least one side); window-size changes and other
// signals are forwarded to the child.
package pty

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"bst-go/bsterrors"
	"bst-go/fdpass"
)

const spliceChunk = 1024

// Broker owns the parent-side PTY plumbing for one bootstrapped child. The
// zero value is not usable; construct with Setup.
type Broker struct {
	termFD int

	sigFD int

	inpipe  [2]int
	outpipe [2]int

	origState    *term.State
	stdinIsTTY   bool
	stdinOpen    bool
	termReadable bool
	outpipeOpen  bool
}

// Setup performs tty_parent_setup: it puts the caller's stdin into raw
// mode (preserving output postprocessing), receives the PTY master fd from
// the child over conn, creates the signal fd and pipe trampolines, and
// sets the initial window size.
func Setup(conn *net.UnixConn) (*Broker, error) {
	b := &Broker{stdinOpen: true, termReadable: true, outpipeOpen: true}

	if term.IsTerminal(unix.Stdin) {
		b.stdinIsTTY = true

		orig, err := unix.IoctlGetTermios(unix.Stdin, unix.TCGETS)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: tcgetattr stdin")
		}

		// term.GetState/Restore own the snapshot-and-restore lifecycle;
		// makeRaw applies the actual raw-mode flags by hand so Oflag can
		// be spliced back in afterward, which cfmakeraw's all-or-nothing
		// semantics don't allow.
		state, err := term.GetState(unix.Stdin)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: snapshot stdin state")
		}
		b.origState = state

		raw := *orig
		makeRaw(&raw)
		raw.Oflag = orig.Oflag
		if err := unix.IoctlSetTermios(unix.Stdin, unix.TCSETS, &raw); err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: set raw mode")
		}
	} else {
		b.stdinIsTTY = false
	}

	termFD, err := fdpass.Recv(conn)
	if err != nil {
		b.restoreStdin()
		return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: recv master fd")
	}
	b.termFD = termFD

	termAttr, err := unix.IoctlGetTermios(termFD, unix.TCGETS)
	if err != nil {
		b.Close()
		return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: tcgetattr master")
	}
	termAttr.Oflag &^= unix.OPOST
	if err := unix.IoctlSetTermios(termFD, unix.TCSETS, termAttr); err != nil {
		b.Close()
		return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: tcsetattr master")
	}

	var mask unix.Sigset_t
	for i := range mask.Val {
		mask.Val[i] = ^uint64(0)
	}
	if err := unix.Sigprocmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		b.Close()
		return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: sigprocmask")
	}
	sigFD, err := unix.Signalfd(-1, &mask, 0)
	if err != nil {
		b.Close()
		return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: signalfd")
	}
	b.sigFD = sigFD

	if err := unix.Pipe2(b.inpipe[:], unix.O_CLOEXEC); err != nil {
		b.Close()
		return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: pipe(inpipe)")
	}
	if err := unix.Pipe2(b.outpipe[:], unix.O_CLOEXEC); err != nil {
		b.Close()
		return nil, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty setup: pipe(outpipe)")
	}

	if flags, err := unix.FcntlInt(unix.Stdout, unix.F_GETFL, 0); err == nil {
		unix.FcntlInt(unix.Stdout, unix.F_SETFL, flags&^unix.O_APPEND)
	}

	if b.stdinIsTTY {
		if err := b.SyncWinsize(); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// makeRaw applies cfmakeraw-equivalent flag changes in place.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

func (b *Broker) restoreStdin() {
	if b.stdinIsTTY && b.origState != nil {
		term.Restore(unix.Stdin, b.origState)
	}
}

// Close releases the broker's file descriptors and restores the caller's
// stdin termios if it was modified.
func (b *Broker) Close() error {
	if b.termFD > 0 {
		unix.Close(b.termFD)
	}
	if b.sigFD > 0 {
		unix.Close(b.sigFD)
	}
	closePipe(b.inpipe)
	closePipe(b.outpipe)
	b.restoreStdin()
	return nil
}

func closePipe(p [2]int) {
	if p[0] > 0 {
		unix.Close(p[0])
	}
	if p[1] > 0 {
		unix.Close(p[1])
	}
}

func spliceN(srcFD, dstFD int) (int, error) {
	n, err := unix.Splice(srcFD, nil, dstFD, nil, spliceChunk, 0)
	return int(n), err
}

func writeByte(fd int, b byte) error {
	_, err := unix.Write(fd, []byte{b})
	return err
}

// warnf prints a warning the same way the reference implementation's
// warn() does: a single descriptive line on stderr, not fatal to the pump.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
