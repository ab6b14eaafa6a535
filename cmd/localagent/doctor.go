package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"localagent/internal/adapter/store"
	"localagent/internal/infra/config"
	"localagent/internal/infra/logger"
	"localagent/internal/security"
	"localagent/internal/usecase/scheduling"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"` // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on the local setup",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDoctor(cmd.OutOrStdout())
	},
}

// runDoctor executes all health checks and reports results.
func runDoctor(w io.Writer) error {
	// Some checks work without a config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Data directory", Fn: checkDataDir},
		{Name: "Code interpreter", Fn: checkInterpreter},
		{Name: "Task store", Fn: checkTaskStore},
		{Name: "Scheduled tasks", Fn: checkScheduledTasks},
		{Name: "Disk space", Fn: checkDiskSpace},
	}

	results := make([]CheckResult, 0, len(checks))
	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	if jsonOut {
		if err := printJSON(w, results); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, "localagent doctor")
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w)
		for _, r := range results {
			fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(r.Status), r.Name, r.Message)
			if r.Fix != "" {
				fmt.Fprintf(w, "      Fix: %s\n", r.Fix)
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("-", 50))
		fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	}

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return color.GreenString("[PASS]")
	case StatusWarn:
		return color.YellowString("[WARN]")
	case StatusFail:
		return color.RedString("[FAIL]")
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file parses. A
// missing file is only a warning since defaults apply.
func checkConfigFile(path string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check %s syntax and values", path),
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", path),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", path),
		}
	}
}

// checkDataDir verifies the tool sandbox root can be created and written.
func checkDataDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, config not loaded"}
	}
	sb, err := security.EnsureSandbox(cfg.Tools.DataDir)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot create data directory: %v", err),
			Fix:     "Set tools.data_dir to a writable location",
		}
	}
	probe, err := os.CreateTemp(sb.Root(), ".doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory not writable: %v", err),
			Fix:     "Fix permissions on " + sb.Root(),
		}
	}
	probe.Close()
	os.Remove(probe.Name())
	return CheckResult{Status: StatusPass, Message: "writable: " + sb.Root()}
}

// checkInterpreter verifies the code runner's interpreter is on PATH.
func checkInterpreter(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, config not loaded"}
	}
	interp := cfg.Tools.Code.Interpreter
	if len(interp) == 0 {
		interp = []string{"python3"}
	}
	path, err := exec.LookPath(interp[0])
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not found, code_runner tasks will fail", interp[0]),
			Fix:     "Install it or set tools.code.interpreter",
		}
	}
	return CheckResult{Status: StatusPass, Message: "found " + path}
}

// checkTaskStore opens the configured SQLite store when enabled.
func checkTaskStore(cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Store.Enabled {
		return CheckResult{Status: StatusPass, Message: "task store disabled"}
	}
	s, err := store.NewSQLiteTaskStore(cfg.Store.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check store.path or disable the store",
		}
	}
	defer s.Close()
	recs, err := s.List(context.Background(), 0)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (%d tasks)", cfg.Store.Path, len(recs))}
}

// checkScheduledTasks registers every configured task on a scratch
// scheduler, which validates names, actions and schedules.
func checkScheduledTasks(cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Scheduler.Enabled {
		return CheckResult{Status: StatusPass, Message: "scheduler disabled"}
	}
	s := scheduling.NewScheduler(logger.Discard())
	noop := func(context.Context, scheduling.ScheduledTask) error { return nil }
	s.RegisterAction(scheduling.ActionSupervisorReport, noop)
	s.RegisterAction(scheduling.ActionEventHistoryClear, noop)
	s.RegisterAction(scheduling.ActionSubmitTask, noop)

	var bad []string
	for _, task := range scheduling.TasksFromConfig(cfg.Scheduler.Tasks) {
		if err := s.AddTask(task); err != nil {
			bad = append(bad, err.Error())
		}
	}
	if len(bad) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: strings.Join(bad, "; "),
			Fix:     "Fix scheduler.tasks entries",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d task(s) valid", len(cfg.Scheduler.Tasks))}
}

// checkDiskSpace checks available disk space in the data directory.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.Tools.DataDir != "" {
		dataDir = cfg.Tools.DataDir
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}
	return parseDF(string(out))
}

// parseDF interprets `df -h` output for a single filesystem.
func parseDF(out string) CheckResult {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}

	available := fields[3]
	usePercent := fields[4]
	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)

	switch {
	case pct >= 95:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move tools.data_dir to another partition",
		}
	case pct >= 85:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}
