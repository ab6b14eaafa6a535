package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"localagent/internal/domain"
	"localagent/internal/usecase/eventbus"
	"localagent/internal/usecase/multiagent"
)

// Dispatcher routes a task to a registered agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, req multiagent.DispatchRequest) (*domain.TaskResult, error)
}

// TaskSubmitter accepts new work. The Controller satisfies it.
type TaskSubmitter interface {
	ProcessTask(ctx context.Context, task domain.Task) (*domain.TaskResult, error)
}

// HistoryClearer drops retained events.
type HistoryClearer interface {
	ClearHistory()
}

// SupervisorReport is the payload of a supervisor.report event.
type SupervisorReport struct {
	Task     string                          `json:"task"`
	Analysis map[string]domain.AgentAnalysis `json:"analysis"`
	Alerts   domain.AlertReport              `json:"alerts"`
}

const schedulerSource = "scheduler"

// SupervisorReportAction asks the supervisor for its analysis and recent
// alerts, then logs and publishes the combined report.
func SupervisorReportAction(d Dispatcher, supervisorID string, bus domain.EventBus, logger *slog.Logger) ActionFunc {
	return func(ctx context.Context, task ScheduledTask) error {
		analysis, err := ask[map[string]domain.AgentAnalysis](ctx, d, supervisorID, domain.SupervisorAnalyze)
		if err != nil {
			return err
		}
		alerts, err := ask[domain.AlertReport](ctx, d, supervisorID, domain.SupervisorAlert)
		if err != nil {
			return err
		}

		report := SupervisorReport{Task: task.Name, Analysis: analysis, Alerts: alerts}
		logger.Info("supervisor report",
			"task", task.Name,
			"agents", len(analysis),
			"alerts_total", alerts.Total,
		)
		eventbus.PublishJSON(ctx, bus, logger, domain.EventSupervisorReport, schedulerSource, report)
		return nil
	}
}

func ask[T any](ctx context.Context, d Dispatcher, supervisorID, op string) (T, error) {
	var zero T
	res, err := d.Dispatch(ctx, multiagent.DispatchRequest{
		From:    schedulerSource,
		AgentID: supervisorID,
		Task:    domain.Task{Type: op},
	})
	if err != nil {
		return zero, err
	}
	if res.Status != domain.TaskCompleted {
		return zero, fmt.Errorf("supervisor %s: %s", op, res.Error)
	}
	out, ok := res.Result.(T)
	if !ok {
		return zero, fmt.Errorf("supervisor %s: unexpected result %T", op, res.Result)
	}
	return out, nil
}

// EventHistoryClearAction drops the bus history.
func EventHistoryClearAction(h HistoryClearer, logger *slog.Logger) ActionFunc {
	return func(_ context.Context, task ScheduledTask) error {
		h.ClearHistory()
		logger.Debug("event history cleared", "task", task.Name)
		return nil
	}
}

// SubmitTaskAction submits the task's configured work item. An in-band
// error result is reported as a failed run.
func SubmitTaskAction(s TaskSubmitter, logger *slog.Logger) ActionFunc {
	return func(ctx context.Context, task ScheduledTask) error {
		work := task.Task
		work.Metadata = maps.Clone(task.Task.Metadata)
		res, err := s.ProcessTask(ctx, work)
		if err != nil {
			return fmt.Errorf("submit %q: %w", task.Name, err)
		}
		if res.Status == domain.TaskError {
			return fmt.Errorf("submit %q: task %s failed: %s", task.Name, res.TaskID, res.Error)
		}
		logger.Info("scheduled task submitted", "task", task.Name, "task_id", res.TaskID, "status", string(res.Status))
		return nil
	}
}
