package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
)

// CodeRunnerID is the tool id of the code runner.
const CodeRunnerID = domain.ToolCodeRunner

// CodeRunner runs source code through an external interpreter.
// Execution is raced against a timer; on timeout the caller gets ErrTimeout
// immediately and the process is killed in the background.
type CodeRunner struct {
	interpreter []string
	timeout     time.Duration
	maxOutput   int
	workDir     string
	logger      *slog.Logger

	mu      sync.Mutex
	running map[*os.Process]struct{}
}

// NewCodeRunner creates a code runner working in workDir.
func NewCodeRunner(cfg config.CodeConfig, workDir string, logger *slog.Logger) *CodeRunner {
	interp := cfg.Interpreter
	if len(interp) == 0 {
		interp = []string{"python3", "-c"}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CodeRunner{
		interpreter: interp,
		timeout:     timeout,
		maxOutput:   cfg.MaxOutputBytes,
		workDir:     workDir,
		logger:      logger,
		running:     make(map[*os.Process]struct{}),
	}
}

func (c *CodeRunner) ID() string       { return CodeRunnerID }
func (c *CodeRunner) Name() string     { return "Code Runner" }
func (c *CodeRunner) Category() string { return domain.ToolCategoryCode }
func (c *CodeRunner) Description() string {
	return "Execute source code with a configured interpreter and capture its output"
}

const codeRunSchema = `{
	"type": "object",
	"properties": {
		"code": {"type": "string", "minLength": 1, "description": "Source code to execute"},
		"timeout": {"type": "number", "exclusiveMinimum": 0, "description": "Timeout in seconds"}
	},
	"required": ["code"]
}`

type codeRunParams struct {
	Code    string  `json:"code"`
	Timeout float64 `json:"timeout,omitempty"`
}

// CodeRunResult is the outcome of one execution.
type CodeRunResult struct {
	Status    string `json:"status"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (c *CodeRunner) Operations() map[string]domain.Operation {
	return map[string]domain.Operation{
		"run": Op("Execute code and return stdout, stderr and exit code", codeRunSchema, c.run),
	}
}

func (c *CodeRunner) run(ctx context.Context, p codeRunParams) (any, error) {
	timeout := c.timeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout * float64(time.Second))
	}

	argv := append(append([]string(nil), c.interpreter...), p.Code)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = c.workDir
	stdout := newRingBuffer(c.maxOutput)
	stderr := newRingBuffer(c.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, domain.NewSubSystemError("code", "CodeRunner.run", domain.ErrToolFailure,
			fmt.Sprintf("start %s: %v", argv[0], err))
	}
	c.track(cmd.Process)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
		c.untrack(cmd.Process)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		res := CodeRunResult{
			Status:    string(domain.TaskCompleted),
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			Truncated: stdout.Truncated() || stderr.Truncated(),
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, domain.NewSubSystemError("code", "CodeRunner.run", domain.ErrToolFailure, err.Error())
			}
			res.Status = string(domain.TaskError)
			res.ExitCode = exitErr.ExitCode()
		}
		return res, nil
	case <-timer.C:
		c.abandon(cmd.Process)
		return nil, domain.NewSubSystemError("code", "CodeRunner.run", domain.ErrTimeout,
			fmt.Sprintf("code execution timed out after %s", timeout))
	case <-ctx.Done():
		c.abandon(cmd.Process)
		return nil, domain.NewSubSystemError("code", "CodeRunner.run", domain.ErrTimeout, ctx.Err().Error())
	}
}

// abandon kills a process the caller no longer waits for. The Wait
// goroutine reaps it.
func (c *CodeRunner) abandon(p *os.Process) {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Warn("kill timed out process failed", "pid", p.Pid, "error", err)
	}
}

func (c *CodeRunner) track(p *os.Process) {
	c.mu.Lock()
	c.running[p] = struct{}{}
	c.mu.Unlock()
}

func (c *CodeRunner) untrack(p *os.Process) {
	c.mu.Lock()
	delete(c.running, p)
	c.mu.Unlock()
}

// Cleanup kills processes that are still running.
func (c *CodeRunner) Cleanup(_ context.Context) error {
	c.mu.Lock()
	procs := make([]*os.Process, 0, len(c.running))
	for p := range c.running {
		procs = append(procs, p)
	}
	c.mu.Unlock()

	for _, p := range procs {
		c.abandon(p)
	}
	return nil
}
