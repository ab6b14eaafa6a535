package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"localagent/internal/domain"
)

var (
	submitType     string
	submitContent  string
	submitMetadata string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Run a single task and print its result",
	Example: `  localagent submit --type file_operation --content "hello" \
      --metadata '{"operation":"write","file_path":"notes/hello.txt"}'
  localagent submit --type network_request --metadata '{"url":"https://example.com"}' --json`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitType, "type", "t", "", "task type")
	submitCmd.Flags().StringVarP(&submitContent, "content", "c", "", "task content")
	submitCmd.Flags().StringVarP(&submitMetadata, "metadata", "m", "", "task metadata as a JSON object")
	_ = submitCmd.MarkFlagRequired("type")
}

// parseTask builds a task from the submit flags.
func parseTask(taskType, content, metadata string) (domain.Task, error) {
	task := domain.Task{Type: taskType, Content: content}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &task.Metadata); err != nil {
			return domain.Task{}, domain.NewSubSystemError("cli", "submit", domain.ErrInvalidInput,
				fmt.Sprintf("metadata must be a JSON object: %v", err))
		}
	}
	return task, nil
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	task, err := parseTask(submitType, submitContent, submitMetadata)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg, log, release, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer release()

	rt, err := initRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			log.Error("runtime cleanup error", "error", err)
		}
	}()

	res, err := rt.Controller.ProcessTask(ctx, task)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), res)
	}
	return printResult(cmd.OutOrStdout(), res)
}
