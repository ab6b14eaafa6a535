package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"localagent/internal/domain"
)

// maxTaskLine bounds a single JSON-lines task.
const maxTaskLine = 4 << 20

var serveNoStdin bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent system",
	Long: `Start the controller, executor and supervisor, plus the scheduler when enabled.

Tasks are read from stdin as JSON lines and each result is written to stdout
as one JSON line. The process exits at EOF or on SIGINT/SIGTERM. With
--no-stdin it ignores stdin and runs until signalled.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoStdin, "no-stdin", false, "do not read tasks from stdin; run until signalled")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	if rt.Scheduler != nil {
		if err := rt.Scheduler.Start(ctx); err != nil {
			return err
		}
		log.Info("scheduler started", "tasks", len(rt.Scheduler.Entries()))
	}

	log.Info("localagent serving", "agents", rt.Registry.List())
	if serveNoStdin {
		<-ctx.Done()
		return nil
	}
	return serveLoop(ctx, rt.Controller, os.Stdin, cmd.OutOrStdout(), log)
}

// TaskSubmitter accepts new work.
type TaskSubmitter interface {
	ProcessTask(ctx context.Context, task domain.Task) (*domain.TaskResult, error)
}

// serveLoop reads JSON-lines tasks from in until EOF or ctx is done and
// writes one JSON result line per task to out. Malformed lines produce an
// in-band error line and do not stop the loop.
func serveLoop(ctx context.Context, s TaskSubmitter, in io.Reader, out io.Writer, log *slog.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxTaskLine)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := enc.Encode(handleLine(ctx, s, line, log)); err != nil {
				return err
			}
		}
	}
}

func handleLine(ctx context.Context, s TaskSubmitter, line string, log *slog.Logger) *domain.TaskResult {
	var task domain.Task
	if err := json.Unmarshal([]byte(line), &task); err != nil {
		return domain.ErrorResult("", domain.NewSubSystemError("cli", "serve", domain.ErrInvalidInput, "malformed task: "+err.Error()), time.Now())
	}
	if task.Type == "" {
		return domain.ErrorResult("", domain.NewSubSystemError("cli", "serve", domain.ErrInvalidInput, "task type is required"), time.Now())
	}

	res, err := s.ProcessTask(ctx, task)
	if err != nil {
		log.Error("task submission failed", "task_type", task.Type, "error", err)
		return domain.ErrorResult("", err, time.Now())
	}
	return res
}
