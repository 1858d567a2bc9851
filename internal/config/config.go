package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full configuration surface of a run, merged from the TOML
// or YAML config file and command-line flags.
type Config struct {
	Servers []string `mapstructure:"servers"`
	// Threads is the number of worker event loops.
	Threads int `mapstructure:"threads"`
	// Connections is opened per server, per worker.
	Connections int `mapstructure:"connections"`
	// WindowSeconds is the wall-clock length of one stats window.
	WindowSeconds int `mapstructure:"duration"`
	// Windows is how many windows run before termination.
	Windows  int    `mapstructure:"windows"`
	Protocol string `mapstructure:"protocol"`

	TCPNoDelay bool `mapstructure:"tcp-nodelay"`
	IPv4Only   bool `mapstructure:"ipv4"`
	IPv6Only   bool `mapstructure:"ipv6"`

	// QueueDepth bounds the shared work queue.
	QueueDepth     int           `mapstructure:"queue-depth"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	Reconnect      bool          `mapstructure:"reconnect"`

	// Listen, when set, serves run statistics over HTTP at this address.
	Listen string `mapstructure:"listen"`
	// Trace is the path for the per-window histogram dump artifact.
	Trace string `mapstructure:"trace"`
	// Waterfall is the path for the rendered latency heatmap PNG.
	Waterfall string `mapstructure:"waterfall"`
	Dashboard bool   `mapstructure:"dashboard"`

	// Thresholds are pass/fail assertions checked against the finished
	// run, e.g. "req_duration:p99 < 5".
	Thresholds []string `mapstructure:"thresholds"`

	Verbosity int `mapstructure:"-"`

	Workloads []WorkloadConfig `mapstructure:"workload"`
	Tracing   TracingConfig    `mapstructure:"tracing"`

	ConfigFile string `mapstructure:"-"`
}

// WorkloadConfig declares one background generator.
type WorkloadConfig struct {
	Name      string `mapstructure:"name"`
	Command   string `mapstructure:"command"`
	Rate      int    `mapstructure:"rate"`
	KeySize   int    `mapstructure:"key-size"`
	ValueSize int    `mapstructure:"value-size"`
	Weight    int    `mapstructure:"weight"`
}

// TracingConfig configures optional OTLP span export for the run lifecycle.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Enabled reports whether an exporter endpoint was configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// WindowDuration converts the configured seconds into a Duration.
func (c Config) WindowDuration() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ValidationError aggregates every issue found in one pass.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

// Issues returns the individual problems.
func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate reports every configuration-fatal condition. All of them are
// detected before any network activity.
func (c Config) Validate() error {
	var issues []string

	if len(c.Servers) == 0 {
		issues = append(issues, "at least one server is required")
	}
	for _, server := range c.Servers {
		if strings.TrimSpace(server) == "" {
			issues = append(issues, "server address must not be empty")
			break
		}
	}
	if c.IPv4Only && c.IPv6Only {
		issues = append(issues, "use only one of --ipv4 or --ipv6")
	}
	if strings.TrimSpace(c.Protocol) == "" {
		issues = append(issues, "protocol is required")
	}
	if c.Threads < 1 {
		issues = append(issues, "threads must be >= 1")
	}
	if c.Connections < 1 {
		issues = append(issues, "connections must be >= 1")
	}
	if c.WindowSeconds < 1 {
		issues = append(issues, "duration must be >= 1 second")
	}
	if c.Windows < 1 {
		issues = append(issues, "windows must be >= 1")
	}
	if c.QueueDepth < 1 {
		issues = append(issues, "queue-depth must be >= 1")
	}
	if c.ConnectTimeout < 0 {
		issues = append(issues, "connect-timeout must be >= 0")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}
	for _, w := range c.Workloads {
		if strings.TrimSpace(w.Command) == "" {
			issues = append(issues, fmt.Sprintf("workload %q: command is required", w.Name))
		}
		if w.Rate < 0 {
			issues = append(issues, fmt.Sprintf("workload %q: rate must be >= 0", w.Name))
		}
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
