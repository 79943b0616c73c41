// Package capscope provides scoped acquisition of Linux capabilities for a
// bracketed privileged operation.
//
// The outer helper needs a small set of capabilities (SETUID/SETGID to burn
// id maps, NET_ADMIN to create NICs, SYS_ADMIN/SYS_PTRACE to bind-mount
// namespace files) only for the duration of a single syscall sequence. Scope
// guarantees the effective set is restored on every exit path, including
// panics, rather than relying on a paired make_capable/reset_capabilities
// call at each site.
package capscope

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
)

// Capability identifies a single Linux capability bit, numbered as in
// linux/capability.h.
type Capability uint

const (
	CAP_DAC_OVERRIDE Capability = 1
	CAP_SETGID       Capability = 6
	CAP_SETUID       Capability = 7
	CAP_NET_ADMIN    Capability = 12
	CAP_SYS_CHROOT   Capability = 18
	CAP_SYS_PTRACE   Capability = 19
	CAP_SYS_ADMIN    Capability = 21
)

const capabilityVersion3 = 0x20080522

type capHeader struct {
	version uint32
	pid     int32
}

type capData struct {
	effective   uint32
	permitted   uint32
	inheritable uint32
}

// Scope represents a bracketed acquisition of one or more effective
// capabilities, raised from the process's permitted set. Release restores
// the capability set that was in effect before Acquire.
type Scope struct {
	saved    [2]capData
	released bool
}

// Acquire raises each of caps in the effective set (they must already be
// present in the permitted set; typically via file capabilities or an
// inherited ambient set) and returns a Scope whose Release call restores
// the prior effective set.
//
// Callers must defer scope.Release() immediately; Acquire never leaves the
// process in a half-raised state on error.
func Acquire(caps ...Capability) (*Scope, error) {
	cur, err := getCapData()
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrCapability, "capscope acquire: capget")
	}

	scope := &Scope{saved: cur}

	next := cur
	for _, c := range caps {
		idx, bit := capIndex(c)
		next[idx].effective |= bit
	}

	if err := setCapData(next); err != nil {
		return nil, bsterrors.WrapWithDetail(err, bsterrors.ErrCapability, "capscope acquire: capset",
			fmt.Sprintf("caps=%v", caps))
	}

	return scope, nil
}

// Release restores the effective capability set captured at Acquire time.
// It is safe to call multiple times; subsequent calls are no-ops.
func (s *Scope) Release() error {
	if s == nil || s.released {
		return nil
	}
	s.released = true
	if err := setCapData(s.saved); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrCapability, "capscope release: capset")
	}
	return nil
}

func capIndex(c Capability) (int, uint32) {
	idx := int(c) / 32
	bit := uint32(1) << (uint(c) % 32)
	return idx, bit
}

func getCapData() ([2]capData, error) {
	var data [2]capData
	header := capHeader{version: capabilityVersion3, pid: 0}
	_, _, errno := unix.Syscall(unix.SYS_CAPGET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data[0])),
		0)
	if errno != 0 {
		return data, errno
	}
	return data, nil
}

func setCapData(data [2]capData) error {
	header := capHeader{version: capabilityVersion3, pid: 0}
	_, _, errno := unix.Syscall(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data[0])),
		0)
	if errno != 0 {
		return errno
	}
	return nil
}
