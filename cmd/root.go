// Package cmd implements the bst command-line interface.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information, set at build time via -ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

var (
	globalHostname  string
	globalLog       string
	globalLogFormat string
	globalDebug     bool
)

var rootCmd = &cobra.Command{
	Use:   "bst",
	Short: "Bootstrap a process into fresh Linux namespaces",
	Long: `bst bootstraps a command into a fresh set of Linux namespaces:
mount, pid, ipc, uts, and cgroup, plus user and net on request, with identity-map
projection, NIC creation, and namespace persistence handled by a
privileged sibling process rather than the namespaced child itself.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Context returns a context that cancels on SIGINT/SIGTERM, for commands
// that need to unwind cleanly rather than leaving the helper or child
// orphaned.
func Context() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalHostname, "hostname", "", "hostname to set inside the uts namespace")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "log output format: text or json")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}
