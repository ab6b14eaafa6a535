package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateEventBus(cfg, ve)
	validateSupervisor(cfg, ve)
	validateTools(cfg, ve)
	validateStore(cfg, ve)
	validateScheduler(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is invalid (valid: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is invalid (valid: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (valid: stdout, noop)", cfg.Tracer.Exporter)
	}
}

func validateEventBus(cfg *Config, ve *ValidationError) {
	if cfg.EventBus.HistorySize <= 0 {
		ve.Add("event_bus.history_size must be positive, got %d", cfg.EventBus.HistorySize)
	}
}

func validateSupervisor(cfg *Config, ve *ValidationError) {
	s := cfg.Supervisor
	if s.PollInterval <= 0 {
		ve.Add("supervisor.poll_interval must be positive")
	}
	if s.StaleAfter <= 0 {
		ve.Add("supervisor.stale_after must be positive")
	}
	if s.ErrorBackoff < 0 {
		ve.Add("supervisor.error_backoff must not be negative")
	}
	if s.MetricWindow <= 0 {
		ve.Add("supervisor.metric_window must be positive, got %d", s.MetricWindow)
	}
	if s.AlertWindow <= 0 {
		ve.Add("supervisor.alert_window must be positive, got %d", s.AlertWindow)
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	t := cfg.Tools
	if t.DataDir == "" {
		ve.Add("tools.data_dir is required")
	}
	if len(t.Code.Interpreter) == 0 {
		ve.Add("tools.code.interpreter is required")
	}
	if t.Code.Timeout <= 0 {
		ve.Add("tools.code.timeout must be positive")
	}
	if t.Code.MaxOutputBytes <= 0 {
		ve.Add("tools.code.max_output_bytes must be positive")
	}
	if t.Network.Timeout <= 0 {
		ve.Add("tools.network.timeout must be positive")
	}
	if t.Network.MaxBodyBytes <= 0 {
		ve.Add("tools.network.max_body_bytes must be positive")
	}
	if t.Network.RequestsPerSecond < 0 {
		ve.Add("tools.network.requests_per_second must not be negative")
	}
	if t.Network.RequestsPerSecond > 0 && t.Network.Burst <= 0 {
		ve.Add("tools.network.burst must be positive when rate limiting is enabled")
	}
	if t.Network.Breaker.MaxFailures > 0 && t.Network.Breaker.OpenTimeout <= 0 {
		ve.Add("tools.network.breaker.open_timeout must be positive when the breaker is enabled")
	}
	if t.Analyzer.MovingAverageWindow <= 0 {
		ve.Add("tools.analyzer.moving_average_window must be positive")
	}
	if t.Analyzer.MaxResults <= 0 {
		ve.Add("tools.analyzer.max_results must be positive")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Enabled && cfg.Store.Path == "" {
		ve.Add("store.path is required when the store is enabled")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		switch t.Action {
		case "":
			ve.Add("scheduler.tasks[%d].action is required", i)
		case "submit_task":
			if t.TaskType == "" {
				ve.Add("scheduler.tasks[%d].task_type is required for submit_task", i)
			}
		case "supervisor_report", "event_history_clear":
		default:
			ve.Add("scheduler.tasks[%d].action %q is unknown", i, t.Action)
		}
	}
}
