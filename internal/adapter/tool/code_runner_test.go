package tool

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
	"localagent/internal/infra/logger"
)

func newShellRunner(t *testing.T, timeout time.Duration) *CodeRunner {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewCodeRunner(config.CodeConfig{
		Interpreter:    []string{"sh", "-c"},
		Timeout:        timeout,
		MaxOutputBytes: 1024,
	}, t.TempDir(), logger.Discard())
}

func runCode(t *testing.T, r *CodeRunner, params map[string]any) (any, error) {
	t.Helper()
	m := NewManager(nil, logger.Discard())
	require.NoError(t, m.Register(r))
	return m.Execute(context.Background(), CodeRunnerID, "run", params)
}

func TestCodeRunnerCapturesOutput(t *testing.T) {
	r := newShellRunner(t, 5*time.Second)

	out, err := runCode(t, r, map[string]any{"code": "echo hello; echo oops 1>&2"})
	require.NoError(t, err)
	res := out.(CodeRunResult)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestCodeRunnerNonZeroExit(t *testing.T) {
	r := newShellRunner(t, 5*time.Second)

	out, err := runCode(t, r, map[string]any{"code": "exit 3"})
	require.NoError(t, err)
	res := out.(CodeRunResult)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, 3, res.ExitCode)
}

func TestCodeRunnerTimeoutDoesNotWait(t *testing.T) {
	r := newShellRunner(t, 5*time.Second)

	start := time.Now()
	_, err := runCode(t, r, map[string]any{"code": "sleep 10", "timeout": 0.1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, errors.Is(err, domain.ErrTimeout))
	assert.Equal(t, domain.CodeCodeTimeout, domain.ErrorCodeOf(err))
	assert.NoError(t, r.Cleanup(context.Background()))
}

func TestCodeRunnerTruncatesOutput(t *testing.T) {
	r := newShellRunner(t, 5*time.Second)

	out, err := runCode(t, r, map[string]any{"code": "i=0; while [ $i -lt 500 ]; do echo 0123456789; i=$((i+1)); done"})
	require.NoError(t, err)
	res := out.(CodeRunResult)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Stdout, 1024)
}

func TestCodeRunnerRejectsEmptyCode(t *testing.T) {
	r := newShellRunner(t, time.Second)
	_, err := runCode(t, r, map[string]any{"code": ""})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestCodeRunnerMissingInterpreter(t *testing.T) {
	r := NewCodeRunner(config.CodeConfig{Interpreter: []string{"/nonexistent/interp"}}, t.TempDir(), logger.Discard())
	_, err := runCode(t, r, map[string]any{"code": "1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrToolFailure))
}
