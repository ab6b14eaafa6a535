package config

import (
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateLogger(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "loud"
	cfg.Logger.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `logger.level "loud" is invalid`)
	assertContains(t, err.Error(), `logger.format "xml" is invalid`)
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "tracer.exporter")

	cfg.Tracer.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled tracer should not be validated: %v", err)
	}
}

func TestValidateSupervisor(t *testing.T) {
	cfg := Defaults()
	cfg.Supervisor.PollInterval = 0
	cfg.Supervisor.StaleAfter = 0
	cfg.Supervisor.MetricWindow = 0
	cfg.Supervisor.AlertWindow = -1
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 4 {
		t.Errorf("errors = %d, want 4: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateTools(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.DataDir = ""
	cfg.Tools.Code.Interpreter = nil
	cfg.Tools.Network.RequestsPerSecond = 2
	cfg.Tools.Network.Burst = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "tools.data_dir is required")
	assertContains(t, err.Error(), "tools.code.interpreter is required")
	assertContains(t, err.Error(), "tools.network.burst must be positive")
}

func TestValidateStore(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Enabled = true
	cfg.Store.Path = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "store.path is required")
}

func TestValidateScheduler(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{
		{},
		{Name: "x", Schedule: "1h", Action: "reboot"},
		{Name: "y", Schedule: "1h", Action: "submit_task"},
		{Name: "ok", Schedule: "1h", Action: "supervisor_report"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "scheduler.tasks[0].name is required")
	assertContains(t, err.Error(), "scheduler.tasks[0].action is required")
	assertContains(t, err.Error(), `scheduler.tasks[1].action "reboot" is unknown`)
	assertContains(t, err.Error(), "scheduler.tasks[2].task_type is required")
	if strings.Contains(err.Error(), "tasks[3]") {
		t.Errorf("valid task reported: %v", err)
	}
}

func TestValidateSchedulerDisabledSkipsTasks(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{{}}
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled scheduler should not be validated: %v", err)
	}
}

func TestValidationErrorFormatting(t *testing.T) {
	ve := &ValidationError{}
	if ve.HasErrors() {
		t.Fatal("empty ValidationError should have no errors")
	}
	ve.Add("a %d", 1)
	ve.Add("b")
	want := "config validation failed:\n  - a 1\n  - b"
	if ve.Error() != want {
		t.Errorf("got %q, want %q", ve.Error(), want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
