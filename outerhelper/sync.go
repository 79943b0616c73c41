package outerhelper

import (
	"encoding/binary"

	"bst-go/bsterrors"
	"bst-go/fdpass"
)

// PID returns the helper process's pid.
func (h *Helper) PID() int {
	return h.pid
}

// SendCgroupFD passes the open cgroup-v2 directory fd to the helper. Must
// be called before SendPID when the helper was spawned with
// Config.CgroupEnabled.
func (h *Helper) SendCgroupFD(fd int) error {
	return fdpass.Send(h.conn, fd)
}

// SendPID unblocks the helper's wait for the bootstrapped child's pid,
// letting it proceed to burn id maps, persist namespaces, and create NICs
// on the child's behalf.
func (h *Helper) SendPID(pid int) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], uint32(pid))
	if _, err := h.conn.Write(buf[:]); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrInternal, "outerhelper: send child pid")
	}
	return nil
}

// Sync blocks until the helper acknowledges completion. A short read
// (the helper died before finishing) is reported as ErrHelperDied; callers
// should treat this as fatal.
func (h *Helper) Sync() error {
	var buf [1]byte
	n, err := h.conn.Read(buf[:])
	if err != nil || n != 1 {
		return bsterrors.ErrHelperDied
	}
	return nil
}

// Close closes the parent's end of the control socket.
func (h *Helper) Close() error {
	return h.conn.Close()
}
