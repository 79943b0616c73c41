package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bst-go/bootstrap"
	"bst-go/config"
	"bst-go/idmap"
	"bst-go/netif"
)

var (
	runUnshareUser bool
	runUnshareNet  bool
	runUIDMap      []string
	runGIDMap      []string
	runNICs        []string
	runPersist     []string
	runCgroup      bool
	runCgroupPath  string
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Bootstrap and run a command in fresh namespaces",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runUnshareUser, "unshare-user", false, "unshare the user namespace and project identity maps")
	runCmd.Flags().BoolVar(&runUnshareNet, "unshare-net", false, "unshare the network namespace")
	runCmd.Flags().StringArrayVar(&runUIDMap, "uid-map", nil, "desired uid mapping inner:outer:length (repeatable)")
	runCmd.Flags().StringArrayVar(&runGIDMap, "gid-map", nil, "desired gid mapping inner:outer:length (repeatable)")
	runCmd.Flags().StringArrayVar(&runNICs, "nic", nil, "network interface to create kind:name[:peer] (repeatable)")
	runCmd.Flags().StringArrayVar(&runPersist, "persist", nil, "bind-mount a namespace to a path kind=path (repeatable)")
	runCmd.Flags().BoolVar(&runCgroup, "cgroup", false, "watch the existing sub-cgroup bst.<pid> under --cgroup-path and remove it once unpopulated (bst does not create it)")
	runCmd.Flags().StringVar(&runCgroupPath, "cgroup-path", "", "cgroup-v2 directory that holds the bst.<pid> sub-cgroup")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.Argv = args
	cfg.Dir, _ = os.Getwd()
	cfg.Hostname = globalHostname
	cfg.UnshareUser = runUnshareUser
	cfg.UnshareNet = runUnshareNet
	cfg.UIDMap = runUIDMap
	cfg.GIDMap = runGIDMap
	cfg.CgroupEnabled = runCgroup
	cfg.CgroupPath = runCgroupPath
	cfg.LogFormat = globalLogFormat
	if globalDebug {
		cfg.LogLevel = "debug"
	}
	if globalLog != "" {
		cfg.LogOutput = globalLog
	}

	for _, spec := range runNICs {
		nic, err := config.ParseNIC(spec)
		if err != nil {
			return err
		}
		cfg.NICs = append(cfg.NICs, nic)
	}

	persist, err := config.ParsePersist(runPersist)
	if err != nil {
		return err
	}
	cfg.Persist = persist

	if _, err := cfg.Logger(); err != nil {
		return err
	}

	uidDesired, err := config.ParseIDMap(cfg.UIDMap)
	if err != nil {
		return fmt.Errorf("uid map: %w", err)
	}
	gidDesired, err := config.ParseIDMap(cfg.GIDMap)
	if err != nil {
		return fmt.Errorf("gid map: %w", err)
	}

	bootCfg, cleanup, err := resolveBootstrapConfig(cfg, uidDesired, gidDesired)
	if err != nil {
		return err
	}

	result, err := bootstrap.Run(bootCfg)
	cleanup()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if result.ExitSignal != 0 {
		os.Exit(128 + result.ExitSignal)
	}
	os.Exit(result.ExitCode)
	return nil
}

// resolveBootstrapConfig opens whatever host resources the bootstrap
// config needs an open fd for (currently just the cgroup directory) and
// returns a cleanup func the caller must run once bootstrap.Run returns.
func resolveBootstrapConfig(cfg config.Config, uidDesired, gidDesired idmap.Map) (bootstrap.Config, func(), error) {
	nics := make([]netif.Option, 0, len(cfg.NICs))
	for _, n := range cfg.NICs {
		nics = append(nics, netif.Option{Kind: n.Kind, Name: n.Name, Peer: n.Peer})
	}

	bootCfg := bootstrap.Config{
		Argv:        cfg.Argv,
		Env:         cfg.Env,
		Dir:         cfg.Dir,
		Hostname:    cfg.Hostname,
		UnshareUser: cfg.UnshareUser,
		UnshareNet:  cfg.UnshareNet,
		UIDDesired:  uidDesired,
		GIDDesired:  gidDesired,
		NICs:        nics,
		Persist:     cfg.Persist,
	}

	cleanup := func() {}
	if cfg.CgroupEnabled {
		f, err := os.Open(cfg.CgroupPath)
		if err != nil {
			return bootstrap.Config{}, cleanup, fmt.Errorf("open cgroup path: %w", err)
		}
		bootCfg.CgroupEnabled = true
		bootCfg.CgroupDirFile = f
		cleanup = func() { f.Close() }
	}

	return bootCfg, cleanup, nil
}
