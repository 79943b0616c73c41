// Package outerhelper implements the outer helper: a privileged sibling
// process that performs setup operations the bootstrapped child cannot
// perform on itself once it has entered its own user namespace — writing
// uid_map/gid_map, creating virtual network interfaces inside the child's
// network namespace, and bind-mounting namespace files to persistence
// paths.
//
// The helper is spawned as a sibling (not a descendant of the eventual
// child) so it keeps the host's capabilities after the child unshares its
// user namespace. It exits as soon as setup completes; it is not a
// long-lived supervisor.
package outerhelper

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
	"bst-go/capscope"
	"bst-go/cgroupwatcher"
	"bst-go/fdpass"
	"bst-go/idmap"
	"bst-go/logging"
	"bst-go/netif"
)

// NamespaceKind enumerates the Linux namespace kinds the helper knows how
// to persist.
type NamespaceKind string

const (
	NSCgroup NamespaceKind = "cgroup"
	NSIPC    NamespaceKind = "ipc"
	NSMount  NamespaceKind = "mnt"
	NSNet    NamespaceKind = "net"
	NSPID    NamespaceKind = "pid"
	NSTime   NamespaceKind = "time"
	NSUser   NamespaceKind = "user"
	NSUTS    NamespaceKind = "uts"
)

// Config is the immutable record the parent hands the helper at spawn
// time.
type Config struct {
	UnshareUser bool
	UnshareNet  bool

	UIDDesired idmap.Map
	GIDDesired idmap.Map

	NICs []netif.Option

	// Persist maps namespace kind to the filesystem path it should be
	// bind-mounted onto; a kind absent from the map is not persisted.
	Persist map[NamespaceKind]string

	CgroupEnabled bool
	// CgroupDirFile is the open cgroup-v2 directory the sub-cgroup lives
	// under; required when CgroupEnabled is true.
	CgroupDirFile *os.File
}

// Helper is the parent's handle on a spawned outer helper.
type Helper struct {
	pid  int
	conn *net.UnixConn
}

// Spawn forks a new outer helper process and returns the parent's handle
// on it. The caller must eventually call SendPID, Sync, and Close in that
// order.
func Spawn(cfg Config) (*Helper, error) {
	if cfg.CgroupEnabled && cfg.CgroupDirFile == nil {
		return nil, bsterrors.ErrCgroupFdRequired
	}

	parentConn, childConn, err := fdpass.SocketPair()
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrInternal, "outerhelper spawn: socketpair")
	}

	rootPID := os.Getpid()

	pid, _, errno := unix.RawSyscall(unix.SYS_FORK, 0, 0, 0)
	if int(pid) == -1 {
		parentConn.Close()
		childConn.Close()
		return nil, bsterrors.Wrap(errno, bsterrors.ErrInternal, "outerhelper spawn: fork")
	}

	if pid != 0 {
		childConn.Close()
		return &Helper{pid: int(pid), conn: parentConn}, nil
	}

	parentConn.Close()
	runHelper(cfg, childConn, rootPID)
	os.Exit(0)
	panic("unreachable")
}

// runHelper is the helper-side body. It never returns; it calls os.Exit
// itself so the caller need not worry about unwinding stack state shared
// with the parent's copy-on-write memory.
func runHelper(cfg Config, conn *net.UnixConn, rootPID int) {
	log := logging.WithComponent(logging.Default(), "outerhelper")

	if cfg.CgroupEnabled {
		cgroupFD, err := fdpass.Recv(conn)
		if err != nil {
			log.Error("recv cgroup fd failed", "error", err)
			os.Exit(1)
		}
		spawnCgroupWatcher(cgroupFD, rootPID, log)
	}

	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		log.Error("prctl PR_SET_PDEATHSIG failed", "error", err)
		os.Exit(1)
	}

	var empty unix.Sigset_t
	if err := unix.Sigprocmask(unix.SIG_SETMASK, &empty, nil); err != nil {
		log.Error("sigprocmask failed", "error", err)
		os.Exit(1)
	}

	childPID, err := recvChildPID(conn)
	if err != nil {
		// A short read typically means the parent died (e.g. Ctrl-C).
		// Not worth a noisy error.
		os.Exit(1)
	}

	if cfg.UnshareUser {
		if err := burnIDMaps(childPID, cfg.UIDDesired, cfg.GIDDesired); err != nil {
			log.Error("burn id maps failed", "error", err)
			os.Exit(1)
		}
	}

	if err := persistNamespaces(childPID, cfg.Persist); err != nil {
		log.Error("persist namespaces failed", "error", err)
		os.Exit(1)
	}

	if cfg.UnshareNet {
		if err := createNICs(childPID, cfg.NICs); err != nil {
			log.Error("create nics failed", "error", err)
			os.Exit(1)
		}
	}

	if err := sendAck(conn); err != nil {
		log.Error("send ack failed", "error", err)
		os.Exit(1)
	}

	os.Exit(0)
}

func spawnCgroupWatcher(cgroupFD int, rootPID int, log interface{ Error(string, ...any) }) {
	pid, _, errno := unix.RawSyscall(unix.SYS_FORK, 0, 0, 0)
	if int(pid) == -1 {
		log.Error("cgroup cleanup fork failed", "error", errno)
		return
	}
	if pid != 0 {
		// This process is intentionally left to leak: the bst root
		// process must have exited (and been removed from
		// cgroup.procs) before the hierarchy can be torn down.
		return
	}

	if _, err := unix.Setsid(); err != nil {
		os.Exit(1)
	}

	subCgroup := fmt.Sprintf("bst.%d", rootPID)
	dirFD, err := unix.Openat(cgroupFD, subCgroup, unix.O_DIRECTORY, 0)
	if err != nil {
		os.Exit(1)
	}

	dirFile := os.NewFile(uintptr(dirFD), subCgroup)
	if err := cgroupwatcher.Watch(dirFile); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func recvChildPID(conn *net.UnixConn) (int, error) {
	var buf [4]byte
	n, err := conn.Read(buf[:])
	if err != nil {
		return 0, bsterrors.Wrap(err, bsterrors.ErrPeerDied, "outerhelper: read child pid")
	}
	if n != 4 {
		return 0, bsterrors.New(bsterrors.ErrPeerDied, "outerhelper: read child pid", "short read, parent died")
	}
	return int(binary.NativeEndian.Uint32(buf[:])), nil
}

func sendAck(conn *net.UnixConn) error {
	_, err := conn.Write([]byte{1})
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrInternal, "outerhelper: write ack")
	}
	return nil
}

func burnIDMaps(childPID int, uidDesired, gidDesired idmap.Map) error {
	procPath := fmt.Sprintf("/proc/%d", childPID)
	procFD, err := unix.Open(procPath, unix.O_DIRECTORY|unix.O_PATH, 0)
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrIDMap, "outerhelper: open "+procPath)
	}
	defer unix.Close(procFD)

	uid := os.Getuid()
	gid := os.Getgid()

	curUIDMap, err := idmap.LoadProcMap("/proc/self/uid_map")
	if err != nil {
		return err
	}
	subUIDs, err := idmap.LoadSubIDs("/etc/subuid", currentUsername(uid), uint32(uid))
	if err != nil {
		return err
	}
	uidMapText, err := idmap.Make(curUIDMap, subUIDs, uidDesired, uint32(uid))
	if err != nil {
		return err
	}

	curGIDMap, err := idmap.LoadProcMap("/proc/self/gid_map")
	if err != nil {
		return err
	}
	subGIDs, err := idmap.LoadSubIDs("/etc/subgid", currentUsername(uid), uint32(gid))
	if err != nil {
		return err
	}
	gidMapText, err := idmap.Make(curGIDMap, subGIDs, gidDesired, uint32(gid))
	if err != nil {
		return err
	}

	scope, err := capscope.Acquire(capscope.CAP_SETUID, capscope.CAP_SETGID, capscope.CAP_DAC_OVERRIDE)
	if err != nil {
		return err
	}
	defer scope.Release()

	// uid_map is burned strictly before gid_map. The two writes run back
	// to back; /proc/<pid>/setgroups is not written here, and the kernel
	// refuses a non-root gid_map unless it has already been denied.
	if err := burn(procFD, "uid_map", uidMapText); err != nil {
		return err
	}
	if err := burn(procFD, "gid_map", gidMapText); err != nil {
		return err
	}
	return nil
}

// burn opens path relative to dirFD and writes data in exactly one write()
// syscall, matching the write-once semantics of /proc/<pid>/[ug]id_map.
func burn(dirFD int, path, data string) error {
	fd, err := unix.Openat(dirFD, path, unix.O_WRONLY, 0)
	if err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrIDMap, "burn "+path+": open")
	}
	defer unix.Close(fd)

	if _, err := unix.Write(fd, []byte(data)); err != nil {
		return bsterrors.Wrap(err, bsterrors.ErrIDMap, "burn "+path+": write")
	}
	return nil
}

func persistNamespaces(childPID int, persist map[NamespaceKind]string) error {
	if len(persist) == 0 {
		return nil
	}

	scope, err := capscope.Acquire(capscope.CAP_SYS_ADMIN, capscope.CAP_SYS_PTRACE)
	if err != nil {
		return err
	}
	defer scope.Release()

	for kind, target := range persist {
		procPath := fmt.Sprintf("/proc/%d/ns/%s", childPID, kind)

		if err := unix.Mknod(target, unix.S_IFREG, 0); err != nil && err != unix.EEXIST {
			return bsterrors.Wrap(err, bsterrors.ErrNamespace, "create persist target "+target)
		}

		err := unix.Mount(procPath, target, "", unix.MS_BIND, "")
		if err == nil {
			continue
		}

		unix.Unlink(target)
		switch err {
		case unix.ENOENT:
			// Kernel lacks this namespace kind; silently skip.
		case unix.EINVAL:
			return bsterrors.WrapWithDetail(err, bsterrors.ErrNamespace, "bind-mount "+procPath+" to "+target,
				"is the destination on a private mount?")
		default:
			return bsterrors.Wrap(err, bsterrors.ErrNamespace, "bind-mount "+procPath+" to "+target)
		}
	}
	return nil
}

func createNICs(childPID int, nics []netif.Option) error {
	if len(nics) == 0 {
		return nil
	}

	scope, err := capscope.Acquire(capscope.CAP_NET_ADMIN)
	if err != nil {
		return err
	}
	defer scope.Release()

	for _, opt := range nics {
		opt.NetnsPID = childPID
		if err := netif.Create(opt); err != nil {
			return err
		}
	}
	return nil
}

// currentUsername returns the invoking user's login name, best effort: it
// resolves uid via os/user first (works under sudo without -E, systemd
// units, and the re-exec'd __child path, none of which reliably carry
// $USER) and falls back to the environment only if that lookup fails.
// LoadSubIDs also matches /etc/sub[ug]id entries keyed by numeric id, so a
// miss here is not fatal.
func currentUsername(uid int) string {
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
