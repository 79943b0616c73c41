package pty

import (
	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
)

// Pump runs one iteration of the splice pump (tty_parent_select). It
// returns true when the child process has exited (SIGCHLD observed) and
// the caller should stop pumping.
//
// Each iteration polls twice: first a blocking poll on the readable fds,
// then a zero-timeout poll on the writable fds to gate which splices are
// safe to attempt this round.
func (b *Broker) Pump(childPID int) (bool, error) {
	rfds := b.readPollFDs()
	n, err := unix.Poll(rfds, -1)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, bsterrors.Wrap(err, bsterrors.ErrConsole, "pty pump: poll read")
	}
	if n == 0 {
		return false, nil
	}

	wfds := b.writePollFDs()
	wn, err := unix.Poll(wfds, 0)
	if err != nil || wn <= 0 {
		return false, nil
	}

	const (
		stdin = iota
		term
		sig
		inpipeR
		outpipeR
	)
	const (
		stdout = iota
		termW
		inpipeW
		outpipeW
	)

	if b.stdinOpen && rfds[stdin].Revents&unix.POLLIN != 0 && wfds[inpipeW].Revents&unix.POLLOUT != 0 {
		nread, serr := spliceN(unix.Stdin, b.inpipe[1])
		if nread <= 0 {
			if serr != nil {
				warnf("reading from stdin: %v", serr)
			}
			b.stdinOpen = false
			unix.Close(b.inpipe[1])
			b.inpipe[1] = -1
		}
		return false, nil
	}

	if b.inpipe[0] > 0 && rfds[inpipeR].Revents&unix.POLLIN != 0 && wfds[termW].Revents&unix.POLLOUT != 0 {
		nread, serr := spliceN(b.inpipe[0], b.termFD)
		if nread <= 0 {
			if serr != nil {
				warnf("reading from inpipe: %v", serr)
			}
			unix.Close(b.inpipe[0])
			b.inpipe[0] = -1
			if err := writeByte(b.termFD, 0x04); err != nil {
				warnf("writing EOT to terminal: %v", err)
			}
		}
	}

	if b.termReadable && rfds[term].Revents&unix.POLLIN != 0 && wfds[outpipeW].Revents&unix.POLLOUT != 0 {
		nread, serr := spliceN(b.termFD, b.outpipe[1])
		if nread <= 0 {
			if serr != nil && serr != unix.EIO {
				warnf("reading from terminal: %v", serr)
			}
			b.termReadable = false
			unix.Close(b.outpipe[1])
			b.outpipe[1] = -1
		}
		return false, nil
	}

	if b.outpipeOpen && rfds[outpipeR].Revents&unix.POLLIN != 0 && wfds[stdout].Revents&unix.POLLOUT != 0 {
		nread, serr := spliceN(b.outpipe[0], unix.Stdout)
		if nread <= 0 {
			if serr != nil {
				warnf("reading from outpipe: %v", serr)
			}
			b.outpipeOpen = false
		}
	}

	exited := false
	if rfds[sig].Revents&unix.POLLIN != 0 {
		sigInfo, err := readSignalfdSiginfo(b.sigFD)
		if err == nil {
			if !b.handleSignal(sigInfo.Signo) {
				if err := forwardSignal(childPID, sigInfo.Signo); err != nil {
					warnf("forwarding signal: %v", err)
				}
			}
			exited = sigInfo.Signo == uint32(unix.SIGCHLD)
		}
	}

	return exited, nil
}

func (b *Broker) readPollFDs() []unix.PollFd {
	stdinFD := int32(unix.Stdin)
	if !b.stdinOpen {
		stdinFD = -1
	}
	inpipeR := int32(b.inpipe[0])
	if b.inpipe[0] <= 0 {
		inpipeR = -1
	}
	outpipeR := int32(b.outpipe[0])
	return []unix.PollFd{
		{Fd: stdinFD, Events: unix.POLLIN},
		{Fd: int32(b.termFD), Events: unix.POLLIN},
		{Fd: int32(b.sigFD), Events: unix.POLLIN},
		{Fd: inpipeR, Events: unix.POLLIN},
		{Fd: outpipeR, Events: unix.POLLIN},
	}
}

func (b *Broker) writePollFDs() []unix.PollFd {
	inpipeW := int32(b.inpipe[1])
	if b.inpipe[1] <= 0 {
		inpipeW = -1
	}
	outpipeW := int32(b.outpipe[1])
	if b.outpipe[1] <= 0 {
		outpipeW = -1
	}
	return []unix.PollFd{
		{Fd: int32(unix.Stdout), Events: unix.POLLOUT},
		{Fd: int32(b.termFD), Events: unix.POLLOUT},
		{Fd: inpipeW, Events: unix.POLLOUT},
		{Fd: outpipeW, Events: unix.POLLOUT},
	}
}

// signalfdInfo mirrors the fields of struct signalfd_siginfo this package
// actually consumes.
type signalfdInfo struct {
	Signo uint32
	Code  int32
}

func readSignalfdSiginfo(fd int) (signalfdInfo, error) {
	var buf [128]byte // sizeof(struct signalfd_siginfo)
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return signalfdInfo{}, err
	}
	if n != len(buf) {
		return signalfdInfo{}, bsterrors.New(bsterrors.ErrConsole, "pty pump", "short read on signalfd")
	}
	return signalfdInfo{
		Signo: nativeUint32(buf[0:4]),
		Code:  int32(nativeUint32(buf[8:12])),
	}, nil
}

func nativeUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
