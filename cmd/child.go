package cmd

import (
	"fmt"
	"net"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/spf13/cobra"

	"bst-go/pty"
)

var (
	childHostname    string
	childUnshareUser bool
	childUnshareNet  bool
)

// childCmd is not part of the public CLI surface: bootstrap.Run re-execs
// this binary under it, passing the pty control socket as fd 3. Users
// invoke "bst run", never "bst __child" directly.
var childCmd = &cobra.Command{
	Use:                "__child",
	Hidden:             true,
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: false,
	RunE:               runChild,
}

func init() {
	rootCmd.AddCommand(childCmd)

	childCmd.Flags().StringVar(&childHostname, "hostname", "", "hostname to set inside the uts namespace")
	childCmd.Flags().BoolVar(&childUnshareUser, "unshare-user", false, "unshare the user namespace")
	childCmd.Flags().BoolVar(&childUnshareNet, "unshare-net", false, "unshare the network namespace")
}

// runChild is the namespaced child's own entry point: unshare the
// requested namespaces, hand its PTY master to the parent, then exec the
// target command. Entering namespaces and the eventual mount/seccomp
// setup inside them is this process's own business, not the outer
// helper's; only identity-map projection, NIC creation, and namespace
// persistence are done from outside.
func runChild(cmd *cobra.Command, args []string) error {
	flags := unix.CLONE_NEWPID | unix.CLONE_NEWNS | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS | unix.CLONE_NEWCGROUP
	if childUnshareUser {
		flags |= unix.CLONE_NEWUSER
	}
	if childUnshareNet {
		flags |= unix.CLONE_NEWNET
	}
	if err := unix.Unshare(flags); err != nil {
		return fmt.Errorf("unshare: %w", err)
	}

	if childHostname != "" {
		if err := unix.Sethostname([]byte(childHostname)); err != nil {
			return fmt.Errorf("sethostname: %w", err)
		}
	}

	ptyFile := os.NewFile(3, "pty-control-sock")
	conn, err := net.FileConn(ptyFile)
	if err != nil {
		return fmt.Errorf("pty control socket: %w", err)
	}
	ptyFile.Close()
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("pty control fd is not a unix socket")
	}

	if err := pty.SetupChild(unixConn); err != nil {
		return fmt.Errorf("pty setup: %w", err)
	}
	unixConn.Close()

	// The outer helper burns uid_map/gid_map directly via this process's
	// /proc entry; this process never needs to call setgroups/setuid
	// itself for that to take effect, since it simply continues to run
	// as whatever id it already has, now reinterpreted through the new
	// mapping once the user namespace is active.

	target, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(target, args, os.Environ())
}
