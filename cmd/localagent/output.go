package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"localagent/internal/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(status domain.TaskStatus) *color.Color {
	switch status {
	case domain.TaskCompleted:
		return color.New(color.FgGreen, color.Bold)
	case domain.TaskError, domain.TaskTimeout:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}

// printResult renders a task result for a terminal.
func printResult(w io.Writer, res *domain.TaskResult) error {
	fmt.Fprintf(w, "%s task %s\n", statusColor(res.Status).Sprint(string(res.Status)), res.TaskID)
	if res.Error != "" {
		fmt.Fprintf(w, "  error: %s (%s)\n", res.Error, res.Code)
	}

	inner, ok := res.Result.(*domain.TaskResult)
	if !ok || inner == nil {
		return nil
	}
	report, ok := inner.Result.(domain.ExecutionReport)
	if !ok {
		if inner.Error != "" {
			fmt.Fprintf(w, "  executor: %s (%s)\n", inner.Error, inner.Code)
		}
		return nil
	}
	for _, o := range report.Results {
		fmt.Fprintf(w, "  %s %-15s %s\n", statusColor(o.Status).Sprint("●"), o.ToolID, o.Duration.Round(time.Microsecond))
		if o.Error != "" {
			fmt.Fprintf(w, "      %s\n", color.RedString(o.Error))
			continue
		}
		out, err := json.MarshalIndent(o.Output, "      ", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "      %s\n", out)
	}
	if report.Warnings != nil {
		fmt.Fprintf(w, "  %s %s\n", color.YellowString("warning:"), report.Warnings.Message)
	}
	return nil
}
