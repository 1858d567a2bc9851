package config

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rpcfire",
		Short:         "RPC load generation and latency measurement",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Targets
	flags.StringSliceP("server", "s", nil, "Server address HOST:PORT (repeatable)")
	flags.StringP("protocol", "p", "echo", "Client protocol (echo, redis, memcache, jsonrpc)")

	// Load shape
	flags.IntP("threads", "t", 1, "Number of worker threads")
	flags.IntP("connections", "c", 1, "Connections per server, per thread")
	flags.Int("queue-depth", 10000, "Work queue capacity")

	// Run length
	flags.IntP("duration", "d", 60, "Seconds per stats window")
	flags.IntP("windows", "w", 5, "Number of windows in the run")

	// Socket tuning
	flags.Bool("tcp-nodelay", false, "Enable TCP_NODELAY on every connection")
	flags.Bool("ipv4", false, "Force IPv4 only")
	flags.Bool("ipv6", false, "Force IPv6 only")
	flags.Duration("connect-timeout", time.Second, "Per-connection dial timeout")
	flags.Bool("reconnect", false, "Replace failed connections during the run")

	// Output
	flags.String("listen", "", "Serve run statistics over HTTP at HOST:PORT")
	flags.String("trace", "", "Write per-window histogram data to file")
	flags.String("waterfall", "", "Render latency waterfall PNG to file")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.StringSlice("threshold", nil, "Pass/fail assertion, e.g. 'req_duration:p99 < 5' (repeatable)")

	flags.String("config", "", "Path to TOML or YAML configuration file")
	flags.CountP("verbose", "v", "Increase log verbosity (stacking)")
	flags.Bool("version", false, "Show version and exit")
}
