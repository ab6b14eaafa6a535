package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "./localagent.yaml"

// envPrefix namespaces every environment override.
const envPrefix = "LOCALAGENT_"

// Config is the top-level application configuration.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Tools      ToolsConfig      `yaml:"tools"`
	Store      StoreConfig      `yaml:"store"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// EventBusConfig holds event bus settings.
type EventBusConfig struct {
	HistorySize int `yaml:"history_size"`
}

// SupervisorConfig holds monitoring loop settings.
type SupervisorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	MetricWindow int           `yaml:"metric_window"`
	AlertWindow  int           `yaml:"alert_window"`
}

// ToolsConfig holds settings for the built-in tools.
type ToolsConfig struct {
	DataDir  string         `yaml:"data_dir"`
	Code     CodeConfig     `yaml:"code"`
	Network  NetworkConfig  `yaml:"network"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
}

// CodeConfig configures the code runner.
type CodeConfig struct {
	Interpreter    []string      `yaml:"interpreter"` // argv prefix; code is appended as the last argument
	Timeout        time.Duration `yaml:"timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// NetworkConfig configures the network tool.
type NetworkConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // per host; 0 disables limiting
	Burst             int           `yaml:"burst"`
	BlockPrivate      bool          `yaml:"block_private"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the per-host circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before opening; 0 disables
	OpenTimeout time.Duration `yaml:"open_timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// AnalyzerConfig configures the data analyzer.
type AnalyzerConfig struct {
	MovingAverageWindow int `yaml:"moving_average_window"`
	MaxResults          int `yaml:"max_results"`
}

// StoreConfig holds task store settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SchedulerConfig holds cron/scheduler settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string         `yaml:"name"`
	Schedule string         `yaml:"schedule"` // cron expression or duration string
	Action   string         `yaml:"action"`
	TaskType string         `yaml:"task_type,omitempty"` // for submit_task
	Content  string         `yaml:"content,omitempty"`   // for submit_task
	Metadata map[string]any `yaml:"metadata,omitempty"`  // for submit_task
	OneShot  bool           `yaml:"one_shot,omitempty"`
}

// defaultDataDir returns the tool working directory under $HOME/.localagent/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".localagent", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		EventBus: EventBusConfig{
			HistorySize: 1000,
		},
		Supervisor: SupervisorConfig{
			PollInterval: 300 * time.Second,
			StaleAfter:   300 * time.Second,
			ErrorBackoff: 5 * time.Second,
			MetricWindow: 100,
			AlertWindow:  1000,
		},
		Tools: ToolsConfig{
			DataDir: dataDir,
			Code: CodeConfig{
				Interpreter:    []string{"python3", "-c"},
				Timeout:        30 * time.Second,
				MaxOutputBytes: 1 << 20,
			},
			Network: NetworkConfig{
				Timeout:           30 * time.Second,
				UserAgent:         "LocalAgent/1.0",
				MaxBodyBytes:      5 << 20,
				RequestsPerSecond: 5,
				Burst:             10,
				BlockPrivate:      false,
				Breaker: BreakerConfig{
					MaxFailures: 5,
					OpenTimeout: 30 * time.Second,
					Interval:    60 * time.Second,
				},
			},
			Analyzer: AnalyzerConfig{
				MovingAverageWindow: 7,
				MaxResults:          100,
			},
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    filepath.Join(dataDir, "tasks.db"),
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
	}
}

// Load reads a YAML config file and applies env var overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps LOCALAGENT_* env vars to config fields.
// Unparseable numeric or duration values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := env("LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := env("LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := env("LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := env("TRACER_ENABLED"); v != "" {
		cfg.Tracer.Enabled = v == "true"
	}
	if v := env("TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if n, ok := envInt("EVENT_BUS_HISTORY_SIZE"); ok {
		cfg.EventBus.HistorySize = n
	}
	if d, ok := envDuration("SUPERVISOR_POLL_INTERVAL"); ok {
		cfg.Supervisor.PollInterval = d
	}
	if d, ok := envDuration("SUPERVISOR_STALE_AFTER"); ok {
		cfg.Supervisor.StaleAfter = d
	}
	if v := env("TOOLS_DATA_DIR"); v != "" {
		cfg.Tools.DataDir = v
	}
	if v := env("TOOLS_CODE_INTERPRETER"); v != "" {
		cfg.Tools.Code.Interpreter = strings.Fields(v)
	}
	if d, ok := envDuration("TOOLS_CODE_TIMEOUT"); ok {
		cfg.Tools.Code.Timeout = d
	}
	if d, ok := envDuration("TOOLS_NETWORK_TIMEOUT"); ok {
		cfg.Tools.Network.Timeout = d
	}
	if v := env("TOOLS_NETWORK_BLOCK_PRIVATE"); v != "" {
		cfg.Tools.Network.BlockPrivate = v == "true"
	}
	if v := env("STORE_ENABLED"); v != "" {
		cfg.Store.Enabled = v == "true"
	}
	if v := env("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := env("SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = v == "true"
	}
}

func env(key string) string {
	return os.Getenv(envPrefix + key)
}

func envInt(key string) (int, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// validatePermissions checks the config file is not group/world writable.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
