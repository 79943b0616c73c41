// Package bootstrap wires the outer helper, identity-map projector, PTY
// broker, and (optionally) the cgroup lifetime watcher into the single
// end-to-end flow a bst invocation runs: fork a child into fresh
// namespaces, have the outer helper finish privileged setup on the
// child's behalf, broker its controlling terminal, and wait for it to
// exit.
//
// Entering namespaces, mounting the child's own filesystem, and seccomp
// program generation are the child's own responsibility (re-exec of this
// same binary under a hidden subcommand) and are out of scope for this
// package; bootstrap.Run only owns the parent-side orchestration.
package bootstrap

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"bst-go/bsterrors"
	"bst-go/fdpass"
	"bst-go/idmap"
	"bst-go/logging"
	"bst-go/netif"
	"bst-go/outerhelper"
	"bst-go/pty"
)

// Config describes one bootstrap invocation.
type Config struct {
	// Argv is the command to run inside the new namespaces; Argv[0] is
	// resolved on PATH.
	Argv []string
	Env  []string
	Dir  string

	UnshareUser bool
	UnshareNet  bool

	UIDDesired idmap.Map
	GIDDesired idmap.Map

	NICs []netif.Option

	Persist map[outerhelper.NamespaceKind]string

	CgroupEnabled bool
	CgroupDirFile *os.File

	Hostname string
}

// Result reports the outcome of a completed bootstrap.
type Result struct {
	ChildPID   int
	ExitCode   int
	ExitSignal int
}

// Run executes the full bootstrap: spawn the outer helper, re-exec this
// binary into the child entry point with fresh namespaces, broker its
// PTY, and wait for it to exit.
func Run(cfg Config) (*Result, error) {
	log := logging.WithComponent(logging.Default(), "bootstrap")

	if err := validatePersist(cfg.Persist); err != nil {
		return nil, err
	}

	helper, err := outerhelper.Spawn(outerhelper.Config{
		UnshareUser:   cfg.UnshareUser,
		UnshareNet:    cfg.UnshareNet,
		UIDDesired:    cfg.UIDDesired,
		GIDDesired:    cfg.GIDDesired,
		NICs:          cfg.NICs,
		Persist:       cfg.Persist,
		CgroupEnabled: cfg.CgroupEnabled,
		CgroupDirFile: cfg.CgroupDirFile,
	})
	if err != nil {
		return nil, err
	}
	defer helper.Close()

	if cfg.CgroupEnabled {
		if err := helper.SendCgroupFD(int(cfg.CgroupDirFile.Fd())); err != nil {
			return nil, err
		}
	}

	ptyParentConn, ptyChildConn, err := fdpass.SocketPair()
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrInternal, "bootstrap: pty socketpair")
	}
	defer ptyParentConn.Close()

	childFile, err := ptyChildConn.File()
	if err != nil {
		ptyChildConn.Close()
		return nil, bsterrors.Wrap(err, bsterrors.ErrInternal, "bootstrap: pty child sock to file")
	}
	ptyChildConn.Close()
	defer childFile.Close()

	child, err := startChild(cfg, childFile)
	if err != nil {
		return nil, err
	}

	// Ordering guarantee: the child must not setgroups/setuid/setgid
	// until the helper acknowledges completion, which only happens
	// after it has burned the id maps. Sending the pid unblocks the
	// helper's own wait; Sync blocks us until it is done.
	if err := helper.SendPID(child.Process.Pid); err != nil {
		return nil, err
	}
	if err := helper.Sync(); err != nil {
		killChild(child)
		return nil, err
	}

	broker, err := pty.Setup(ptyParentConn)
	if err != nil {
		killChild(child)
		return nil, err
	}
	defer broker.Close()

	for {
		exited, err := broker.Pump(child.Process.Pid)
		if err != nil {
			log.Warn("pty pump error", "error", err)
		}
		if exited {
			break
		}
	}

	state, err := child.Process.Wait()
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrInternal, "bootstrap: wait child")
	}

	result := &Result{ChildPID: child.Process.Pid}
	if ws, ok := state.Sys().(unix.WaitStatus); ok {
		if ws.Signaled() {
			result.ExitSignal = int(ws.Signal())
		} else {
			result.ExitCode = ws.ExitStatus()
		}
	}
	return result, nil
}

// startChild re-execs this binary into the hidden child entry point,
// passing the PTY control socket as an inherited fd. The child entry
// point (out of scope for this package) performs unshare(2), PTY setup via
// pty.SetupChild, and eventually execve(2)s cfg.Argv.
func startChild(cfg Config, ptySock *os.File) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrInternal, "bootstrap: resolve self")
	}

	args := []string{"__child", "--hostname", cfg.Hostname}
	if cfg.UnshareUser {
		args = append(args, "--unshare-user")
	}
	if cfg.UnshareNet {
		args = append(args, "--unshare-net")
	}
	args = append(args, "--")
	args = append(args, cfg.Argv...)
	cmd := exec.Command(self, args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{ptySock}
	cmd.SysProcAttr = &unix.SysProcAttr{
		Pdeathsig: unix.SIGKILL,
	}

	if err := cmd.Start(); err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrInternal, "bootstrap: start child")
	}
	return cmd, nil
}

func killChild(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}
}

// validatePersist rejects unknown namespace kinds up front rather than
// discovering the typo only when the helper reports ENOENT.
func validatePersist(persist map[outerhelper.NamespaceKind]string) error {
	known := map[outerhelper.NamespaceKind]bool{
		outerhelper.NSCgroup: true, outerhelper.NSIPC: true, outerhelper.NSMount: true,
		outerhelper.NSNet: true, outerhelper.NSPID: true, outerhelper.NSTime: true,
		outerhelper.NSUser: true, outerhelper.NSUTS: true,
	}
	for kind := range persist {
		if !known[kind] {
			return bsterrors.New(bsterrors.ErrInvalidConfig, "bootstrap: validate persist", fmt.Sprintf("unknown namespace kind %q", kind))
		}
	}
	return nil
}
