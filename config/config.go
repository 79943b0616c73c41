// Package config assembles the ambient bootstrap configuration: the
// command to run, the namespaces to unshare, the identity maps to
// project, the NICs to create, and where (if anywhere) each namespace
// should be bind-mounted for later reentry. It is the translation layer
// between CLI flags/environment and bootstrap.Config.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"bst-go/bsterrors"
	"bst-go/idmap"
	"bst-go/logging"
	"bst-go/netif"
	"bst-go/outerhelper"
)

// Config is the fully-resolved set of options one bst invocation runs
// with, independent of how they were gathered (flags, environment, or
// programmatic construction in tests).
type Config struct {
	Argv []string
	Env  []string
	Dir  string

	Hostname string

	UnshareUser bool
	UnshareNet  bool

	UIDMap []string
	GIDMap []string

	NICs []NICOption

	Persist map[outerhelper.NamespaceKind]string

	CgroupEnabled bool
	CgroupPath    string

	LogLevel  string
	LogFormat string
	LogOutput string
}

// NICOption is the flag-level representation of a requested network
// interface, parsed into a netif.Option once the child pid is known.
type NICOption struct {
	Kind netif.Kind
	Name string
	Peer string
}

// Default returns a Config with the same defaults the reference
// implementation assumes when a flag is omitted: no namespace unsharing,
// no cgroup, text logging at info level to stderr.
func Default() Config {
	return Config{
		Env:       os.Environ(),
		LogLevel:  "info",
		LogFormat: "text",
		LogOutput: "stderr",
	}
}

// Logger builds the slog.Logger this config describes and installs it as
// the package default, mirroring the teacher's setupLogging.
func (c Config) Logger() (*slog.Logger, error) {
	level := logging.ParseLevel(c.LogLevel)

	out := os.Stderr
	if c.LogOutput != "" && c.LogOutput != "stderr" {
		f, err := os.OpenFile(c.LogOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrInvalidConfig, "config: open log output")
		}
		out = f
	}

	logger := logging.NewLogger(logging.Config{
		Level:  level,
		Format: c.LogFormat,
		Output: out,
	})
	logging.SetDefault(logger)
	return logger, nil
}

// ParseIDMap parses a repeated --uid-map/--gid-map flag value of the
// form "inner:outer:length" into an idmap.Map.
func ParseIDMap(specs []string) (idmap.Map, error) {
	m := make(idmap.Map, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			return nil, bsterrors.New(bsterrors.ErrInvalidConfig, "config: parse id map", fmt.Sprintf("malformed mapping %q, want inner:outer:length", spec))
		}
		inner, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrInvalidConfig, "config: parse id map inner")
		}
		outer, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrInvalidConfig, "config: parse id map outer")
		}
		length, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrInvalidConfig, "config: parse id map length")
		}
		m = append(m, idmap.Range{Inner: uint32(inner), Outer: uint32(outer), Length: uint32(length)})
	}
	return m, nil
}

// ParseNIC parses a repeated --nic flag value of the form
// "kind:name[:peer]".
func ParseNIC(spec string) (NICOption, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 {
		return NICOption{}, bsterrors.New(bsterrors.ErrInvalidConfig, "config: parse nic", fmt.Sprintf("malformed nic option %q, want kind:name[:peer]", spec))
	}

	var kind netif.Kind
	switch parts[0] {
	case "veth":
		kind = netif.KindVeth
	case "loopback":
		kind = netif.KindLoopback
	case "macvlan":
		kind = netif.KindMacvlan
	default:
		return NICOption{}, bsterrors.New(bsterrors.ErrInvalidConfig, "config: parse nic", fmt.Sprintf("unknown nic kind %q", parts[0]))
	}

	opt := NICOption{Kind: kind, Name: parts[1]}
	if len(parts) == 3 {
		opt.Peer = parts[2]
	}
	if kind == netif.KindVeth && opt.Peer == "" {
		return NICOption{}, bsterrors.New(bsterrors.ErrInvalidConfig, "config: parse nic", "veth requires a peer name")
	}
	return opt, nil
}

// ParsePersist parses a repeated --persist flag value of the form
// "kind=path".
func ParsePersist(specs []string) (map[outerhelper.NamespaceKind]string, error) {
	out := make(map[outerhelper.NamespaceKind]string, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 {
			return nil, bsterrors.New(bsterrors.ErrInvalidConfig, "config: parse persist", fmt.Sprintf("malformed persist option %q, want kind=path", spec))
		}
		out[outerhelper.NamespaceKind(parts[0])] = parts[1]
	}
	return out, nil
}
