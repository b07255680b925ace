package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/INLOpen/mimir/core"
)

// ClientConfig configures a plotting session.
type ClientConfig struct {
	Host          string `yaml:"host"`
	SubscribePort int    `yaml:"subscribe_port"`
	RequestPort   int    `yaml:"request_port"`
	// Persistent asks the server for a snapshot before following the feed.
	Persistent bool     `yaml:"persistent"`
	XKey       string   `yaml:"x_key"`
	YKeys      []string `yaml:"y_keys"`
	Transport  string   `yaml:"transport"` // "zmq" or "grpc"
	// SnapshotTimeout of "0" or "" waits for the snapshot without a limit.
	SnapshotTimeout string      `yaml:"snapshot_timeout"`
	ConnectTimeout  string      `yaml:"connect_timeout"`
	FilterSnapshot  bool        `yaml:"filter_snapshot"`
	DebugOrdering   bool        `yaml:"debug_ordering"`
	TrackDropped    bool        `yaml:"track_dropped"`
	NoColor         bool        `yaml:"no_color"`
	Hooks           HooksConfig `yaml:"hooks"`
}

// HooksConfig selects the listeners registered for a plotting session.
type HooksConfig struct {
	AlertDropped bool            `yaml:"alert_dropped"`
	DropMetrics  bool            `yaml:"drop_metrics"`
	Outliers     []OutlierConfig `yaml:"outliers"`
}

// OutlierConfig flags values of Key outside [Min, Max].
type OutlierConfig struct {
	Key string  `yaml:"key"`
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// PublisherConfig configures the publishing side.
type PublisherConfig struct {
	Transport     string `yaml:"transport"` // "zmq" or "grpc"
	BindHost      string `yaml:"bind_host"`
	SubscribePort int    `yaml:"subscribe_port"`
	RequestPort   int    `yaml:"request_port"`
	// MaxLen bounds the snapshot history: 0 keeps everything, -1 disables
	// snapshots.
	MaxLen           int        `yaml:"max_len"`
	SubscriberBuffer int        `yaml:"subscriber_buffer"`
	Echo             bool       `yaml:"echo"`
	Filter           string     `yaml:"filter"`
	File             FileConfig `yaml:"file"`
}

// FileConfig configures the optional JSON-lines log file.
type FileConfig struct {
	Path        string `yaml:"path"`
	Compression string `yaml:"compression"` // none, gzip, zstd, snappy, lz4
	Buffered    bool   `yaml:"buffered"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
	// SystemMetricsInterval is how often host CPU, memory and disk usage are
	// sampled into /metrics. Empty disables the sampler.
	SystemMetricsInterval string `yaml:"system_metrics_interval"`
	// DiskPath is the filesystem whose usage is reported.
	DiskPath string `yaml:"disk_path"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Publisher PublisherConfig `yaml:"publisher"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Debug     DebugConfig     `yaml:"debug"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Host:            "localhost",
			SubscribePort:   5557,
			RequestPort:     5556,
			Persistent:      true,
			Transport:       "zmq",
			SnapshotTimeout: "",
			ConnectTimeout:  "5s",
		},
		Publisher: PublisherConfig{
			Transport:     "zmq",
			BindHost:      "*",
			SubscribePort: 5557,
			RequestPort:   5556,
			MaxLen:        0,
			File: FileConfig{
				Compression: "gzip",
				Buffered:    true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "mimir.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:               false,
			ListenAddress:         "127.0.0.1:6060",
			PProfEnabled:          true,
			MetricsEnabled:        true,
			MonitorUIEnabled:      true,
			SystemMetricsInterval: "5s",
			DiskPath:              ".",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

func validPort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return &core.ValidationError{Field: field, Value: fmt.Sprint(port), Message: "must be between 1 and 65535"}
	}
	return nil
}

func validTransport(field, transport string) error {
	switch transport {
	case "zmq", "grpc":
		return nil
	}
	return &core.ValidationError{Field: field, Value: transport, Message: `must be "zmq" or "grpc"`}
}

// Validate checks the client section. The gRPC transport serves both roles on
// subscribe_port, so request_port is only checked for zmq.
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return &core.ValidationError{Field: "host", Value: c.Host, Message: "must not be empty"}
	}
	if err := validTransport("transport", c.Transport); err != nil {
		return err
	}
	if err := validPort("subscribe_port", c.SubscribePort); err != nil {
		return err
	}
	if c.Transport == "zmq" && c.Persistent {
		if err := validPort("request_port", c.RequestPort); err != nil {
			return err
		}
	}
	if c.XKey == "" {
		return &core.ValidationError{Field: "x_key", Value: c.XKey, Message: "must not be empty"}
	}
	if len(c.YKeys) == 0 {
		return &core.ValidationError{Field: "y_keys", Value: "", Message: "at least one key is required"}
	}
	for i, o := range c.Hooks.Outliers {
		field := fmt.Sprintf("hooks.outliers[%d]", i)
		if o.Key == "" {
			return &core.ValidationError{Field: field + ".key", Value: o.Key, Message: "must not be empty"}
		}
		if o.Min > o.Max {
			return &core.ValidationError{Field: field, Value: fmt.Sprintf("%g > %g", o.Min, o.Max), Message: "min must not exceed max"}
		}
	}
	return nil
}

// Validate checks the publisher section.
func (p *PublisherConfig) Validate() error {
	if err := validTransport("publisher.transport", p.Transport); err != nil {
		return err
	}
	if err := validPort("publisher.subscribe_port", p.SubscribePort); err != nil {
		return err
	}
	if p.Transport == "zmq" && p.MaxLen >= 0 {
		if err := validPort("publisher.request_port", p.RequestPort); err != nil {
			return err
		}
	}
	if p.File.Path != "" {
		if _, err := core.ParseCompressionType(p.File.Compression); err != nil {
			return err
		}
	}
	return nil
}
