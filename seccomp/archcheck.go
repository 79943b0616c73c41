// Package seccomp builds the BPF architecture-check prologue every
// installed filter program is prefixed with. It does not attempt a
// general-purpose syscall-rule compiler; the caller supplies the rest of
// the program and Prologue gives them the boilerplate that kills any
// process running under the wrong architecture or the x32 ABI before a
// single syscall-number comparison runs.
package seccomp

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
)

// BPF opcode and seccomp-data-offset constants, mirrored from
// linux/filter.h and linux/seccomp.h.
const (
	bpfLD  = 0x00
	bpfJMP = 0x05
	bpfRET = 0x06
	bpfW   = 0x00
	bpfABS = 0x20
	bpfJEQ = 0x10
	bpfJGE = 0x30
	bpfK   = 0x00

	offsetNR   = 0
	offsetArch = 4
)

// AuditArchX86_64 is the audit arch value for the native x86-64 ABI; it
// is the only architecture bst runs its own namespace bootstrap under.
const AuditArchX86_64 = 0xc000003e

// x32SyscallBit is set in the syscall number for calls made under the
// x32 ABI; all such calls are rejected rather than individually vetted.
const x32SyscallBit = 0x40000000

const (
	// SeccompModeFilter is the second argument to prctl(PR_SET_SECCOMP).
	SeccompModeFilter = 2
	// RetKillProcess terminates the whole process on a blocked syscall.
	RetKillProcess = 0x80000000
	// RetAllow permits the syscall to proceed.
	RetAllow = 0x7fff0000
)

// Filter is a single BPF instruction, laid out to match struct
// sock_filter for use with prctl(PR_SET_SECCOMP).
type Filter struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

func stmt(code uint16, k uint32) Filter {
	return Filter{Code: code, K: k}
}

func jump(code uint16, k uint32, jt, jf uint8) Filter {
	return Filter{Code: code, Jt: jt, Jf: jf, K: k}
}

// Prologue returns the architecture-and-ABI check every filter program
// must begin with: load the arch field, kill unless it equals
// AuditArchX86_64, load the syscall number, kill if the x32 ABI bit is
// set. On return the accumulator holds the syscall number, ready for the
// caller's own comparisons.
func Prologue() []Filter {
	return []Filter{
		stmt(bpfLD|bpfW|bpfABS, offsetArch),
		jump(bpfJMP|bpfJEQ|bpfK, AuditArchX86_64, 0, 2),
		stmt(bpfLD|bpfW|bpfABS, offsetNR),
		jump(bpfJMP|bpfJGE|bpfK, x32SyscallBit, 0, 1),
		stmt(bpfRET|bpfK, RetKillProcess),
	}
}

// Program assembles the architecture prologue followed by the caller's
// own instructions and a final default action.
func Program(rules []Filter, defaultAction uint32) []Filter {
	prog := Prologue()
	prog = append(prog, rules...)
	prog = append(prog, stmt(bpfRET|bpfK, defaultAction))
	return prog
}

type sockFprog struct {
	Len    uint16
	Filter *Filter
}

// Install loads the given program via prctl(PR_SET_SECCOMP,
// SECCOMP_MODE_FILTER, ...). The caller is responsible for having
// already set PR_SET_NO_NEW_PRIVS, since the kernel refuses to install
// an unprivileged filter otherwise.
func Install(prog []Filter) error {
	if len(prog) == 0 {
		return bsterrors.New(bsterrors.ErrInvalidConfig, "seccomp install", "empty program")
	}
	if len(prog) > 0xffff {
		return bsterrors.New(bsterrors.ErrInvalidConfig, "seccomp install", fmt.Sprintf("program too large: %d instructions", len(prog)))
	}

	fprog := sockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, SeccompModeFilter, uintptr(unsafe.Pointer(&fprog)), 0, 0); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrPermission, "seccomp install: prctl(PR_SET_SECCOMP)")
	}
	return nil
}
