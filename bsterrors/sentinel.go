// Package bsterrors provides predefined sentinel errors for common
// bootstrap failure cases.
package bsterrors

// Identity-map errors.
var (
	// ErrDesiredUnmapped indicates a desired id range is not covered by
	// any sub-id range allocated to the invoking user.
	ErrDesiredUnmapped = &BootError{
		Kind:   ErrIDMap,
		Detail: "desired range not covered by allocated sub-ids",
	}

	// ErrIDMapOverflow indicates the id map buffer would overflow.
	ErrIDMapOverflow = &BootError{
		Kind:   ErrIDMap,
		Detail: "id map exceeds buffer size",
	}

	// ErrIDMapOverlap indicates two ranges overlap in the sort-key
	// coordinate after normalization.
	ErrIDMapOverlap = &BootError{
		Kind:   ErrIDMap,
		Detail: "id map ranges overlap",
	}

	// ErrTooManyMappings indicates more than MaxUserMappings ranges were
	// supplied.
	ErrTooManyMappings = &BootError{
		Kind:   ErrInvalidConfig,
		Detail: "too many id mappings",
	}
)

// Outer-helper / privilege errors.
var (
	// ErrHelperDied indicates the outer helper exited before
	// acknowledging completion (a short read on the sync socket).
	ErrHelperDied = &BootError{
		Kind:   ErrPeerDied,
		Detail: "outer helper died before completing setup",
	}

	// ErrCapabilityAcquire indicates a transient capability could not be
	// raised for a privileged syscall window.
	ErrCapabilityAcquire = &BootError{
		Kind:   ErrCapability,
		Detail: "failed to acquire capability",
	}

	// ErrPrivateMount indicates a bind-mount failed with EINVAL, which
	// usually means the destination is not on a shared/private mount
	// that permits bind mounts.
	ErrPrivateMount = &BootError{
		Kind:   ErrNamespace,
		Detail: "bind-mount failed (is the destination on a private mount?)",
	}
)

// Cgroup errors.
var (
	// ErrCgroupFdRequired indicates cgroup_enabled was set without a
	// directory fd to receive.
	ErrCgroupFdRequired = &BootError{
		Kind:   ErrCgroup,
		Detail: "cgroup enabled but no directory fd was provided",
	}
)

// Console/PTY errors.
var (
	// ErrNoMasterFD indicates the PTY master fd was never received from
	// the child over the control socket.
	ErrNoMasterFD = &BootError{
		Kind:   ErrConsole,
		Detail: "pty master fd not received",
	}
)
