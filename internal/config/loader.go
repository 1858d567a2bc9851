package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader merges configuration files and command-line arguments into a Config.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help.
var ErrHelpRequested = errors.New("help requested")

// ErrVersionRequested is returned when the user requests --version.
var ErrVersionRequested = errors.New("version requested")

// NewLoader creates a configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses args and the optional config file into a Config. Flags win
// over file settings. Help and version requests surface as their sentinel
// errors so the caller can exit cleanly before a run starts.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			_ = cmd.Usage()
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			_ = cmd.Usage()
			return nil, ErrHelpRequested
		}
	}
	if wantsVersion, err := flagSet.GetBool("version"); err == nil && wantsVersion {
		return nil, ErrVersionRequested
	}

	cfg := &Config{
		Threads:        1,
		Connections:    1,
		WindowSeconds:  60,
		Windows:        5,
		Protocol:       "echo",
		QueueDepth:     10000,
		ConnectTimeout: time.Second,
	}

	configPath, _ := flagSet.GetString("config")
	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := cfgViper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
		cfg.ConfigFile = configPath
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFlagOverrides copies every explicitly set flag over the file values.
func applyFlagOverrides(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	override := func(name string, apply func() error) {
		if err != nil || !flags.Changed(name) {
			return
		}
		err = apply()
	}

	override("server", func() error {
		servers, gerr := flags.GetStringSlice("server")
		cfg.Servers = servers
		return gerr
	})
	override("protocol", func() error {
		proto, gerr := flags.GetString("protocol")
		cfg.Protocol = proto
		return gerr
	})
	override("threads", func() error {
		threads, gerr := flags.GetInt("threads")
		cfg.Threads = threads
		return gerr
	})
	override("connections", func() error {
		conns, gerr := flags.GetInt("connections")
		cfg.Connections = conns
		return gerr
	})
	override("queue-depth", func() error {
		depth, gerr := flags.GetInt("queue-depth")
		cfg.QueueDepth = depth
		return gerr
	})
	override("duration", func() error {
		seconds, gerr := flags.GetInt("duration")
		cfg.WindowSeconds = seconds
		return gerr
	})
	override("windows", func() error {
		windows, gerr := flags.GetInt("windows")
		cfg.Windows = windows
		return gerr
	})
	override("tcp-nodelay", func() error {
		nodelay, gerr := flags.GetBool("tcp-nodelay")
		cfg.TCPNoDelay = nodelay
		return gerr
	})
	override("ipv4", func() error {
		v4, gerr := flags.GetBool("ipv4")
		cfg.IPv4Only = v4
		return gerr
	})
	override("ipv6", func() error {
		v6, gerr := flags.GetBool("ipv6")
		cfg.IPv6Only = v6
		return gerr
	})
	override("connect-timeout", func() error {
		timeout, gerr := flags.GetDuration("connect-timeout")
		cfg.ConnectTimeout = timeout
		return gerr
	})
	override("reconnect", func() error {
		reconnect, gerr := flags.GetBool("reconnect")
		cfg.Reconnect = reconnect
		return gerr
	})
	override("listen", func() error {
		listen, gerr := flags.GetString("listen")
		cfg.Listen = listen
		return gerr
	})
	override("trace", func() error {
		trace, gerr := flags.GetString("trace")
		cfg.Trace = trace
		return gerr
	})
	override("waterfall", func() error {
		waterfall, gerr := flags.GetString("waterfall")
		cfg.Waterfall = waterfall
		return gerr
	})
	override("dashboard", func() error {
		dashboard, gerr := flags.GetBool("dashboard")
		cfg.Dashboard = dashboard
		return gerr
	})
	override("threshold", func() error {
		thresholds, gerr := flags.GetStringSlice("threshold")
		cfg.Thresholds = thresholds
		return gerr
	})

	if verbosity, gerr := flags.GetCount("verbose"); gerr == nil {
		cfg.Verbosity = verbosity
	}

	return err
}
