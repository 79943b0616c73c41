// Package fdpass passes open file descriptors across AF_UNIX sockets using
// SCM_RIGHTS control messages.
//
// It is the plumbing underneath the outer helper's cgroup-directory handoff
// and the PTY broker's master-fd handoff: both need to move a live fd
// between processes that do not otherwise share an fd table.
package fdpass

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
)

// dummyByte is the single payload byte every message carries. SCM_RIGHTS
// requires at least one byte of regular data to ride along with the control
// message; recipients use a short/zero read as the "peer died" signal, so
// the payload itself carries no information.
var dummyByte = []byte{0}

// Send passes fd to the peer on conn. fd remains open and owned by the
// caller; the kernel duplicates it into the receiver's fd table.
func Send(conn *net.UnixConn, fd int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrInternal, "fdpass send: syscall conn")
	}

	rights := unix.UnixRights(fd)
	var sendErr error
	if err := raw.Control(func(s uintptr) {
		sendErr = unix.Sendmsg(int(s), dummyByte, rights, nil, 0)
	}); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrInternal, "fdpass send: control")
	}
	if sendErr != nil {
		return bsterrors.Wrap(sendErr, bsterrors.ErrInternal, "fdpass send: sendmsg")
	}
	return nil
}

// Recv receives a single fd from the peer on conn. The returned fd is owned
// by the caller and must be closed (or wrapped in an *os.File, which will
// close it on Close).
func Recv(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, bsterrors.Wrap(err, bsterrors.ErrInternal, "fdpass recv: syscall conn")
	}

	oob := make([]byte, unix.CmsgSpace(4))
	var (
		n, oobn int
		recvErr error
	)
	if err := raw.Read(func(s uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(s), dummyByte, oob, 0)
		return recvErr != unix.EAGAIN
	}); err != nil {
		return -1, bsterrors.Wrap(err, bsterrors.ErrInternal, "fdpass recv: control")
	}
	if recvErr != nil {
		return -1, bsterrors.Wrap(recvErr, bsterrors.ErrPeerDied, "fdpass recv: recvmsg")
	}
	if n == 0 {
		return -1, bsterrors.WrapWithDetail(nil, bsterrors.ErrPeerDied, "fdpass recv", "short read, peer died")
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, bsterrors.Wrap(err, bsterrors.ErrInternal, "fdpass recv: parse control message")
	}
	if len(cmsgs) == 0 {
		return -1, bsterrors.New(bsterrors.ErrInternal, "fdpass recv", "no control message received")
	}

	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, bsterrors.Wrap(err, bsterrors.ErrInternal, "fdpass recv: parse unix rights")
	}
	if len(fds) != 1 {
		return -1, bsterrors.New(bsterrors.ErrInternal, "fdpass recv", fmt.Sprintf("expected 1 fd, got %d", len(fds)))
	}

	return fds[0], nil
}

// SocketPair creates a connected pair of AF_UNIX SOCK_STREAM sockets
// suitable for fd passing, wrapped as *net.UnixConn. Both ends are
// close-on-exec.
func SocketPair() (*net.UnixConn, *net.UnixConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, bsterrors.Wrap(err, bsterrors.ErrInternal, "fdpass socketpair")
	}

	a, err := fdToUnixConn(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := fdToUnixConn(fds[1])
	if err != nil {
		a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

func fdToUnixConn(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "socketpair")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrInternal, "fdpass socketpair: fileconn")
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, bsterrors.New(bsterrors.ErrInternal, "fdpass socketpair", "not a unix connection")
	}
	return uc, nil
}
