package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"localagent/internal/domain"
	"localagent/internal/infra/logger"
	"localagent/internal/infra/tracer"
)

func opFunc(fn domain.OperationFunc) compiledOp {
	return compiledOp{name: "op", run: fn}
}

func TestInvoke_Success(t *testing.T) {
	out, err := invoke(context.Background(), logger.Discard(), "t", opFunc(
		func(_ context.Context, p map[string]any) (any, error) { return p["x"], nil },
	), map[string]any{"x": "y"})
	require.NoError(t, err)
	assert.Equal(t, "y", out)
}

func TestInvoke_RecoversPanic(t *testing.T) {
	_, err := invoke(context.Background(), logger.Discard(), "t", opFunc(
		func(context.Context, map[string]any) (any, error) { panic("kaboom") },
	), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrToolFailure))
	assert.Contains(t, err.Error(), "kaboom")
}

func TestInvoke_WrapsUnknownErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := invoke(context.Background(), logger.Discard(), "t", opFunc(
		func(context.Context, map[string]any) (any, error) { return nil, boom },
	), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrToolFailure))
	assert.True(t, errors.Is(err, boom), "original chain is kept")
	assert.Equal(t, domain.CodeToolFailure, domain.ErrorCodeOf(err))
}

func TestInvoke_KeepsKnownErrors(t *testing.T) {
	known := domain.NewSubSystemError("file", "read", domain.ErrNotFound, "a.txt")
	_, err := invoke(context.Background(), logger.Discard(), "t", opFunc(
		func(context.Context, map[string]any) (any, error) { return nil, known },
	), nil)
	assert.Same(t, known, err)
	assert.Equal(t, domain.CodeFileNotFound, domain.ErrorCodeOf(err))
}

func TestNormalizeToolError_Deadline(t *testing.T) {
	err := normalizeToolError(fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.True(t, errors.Is(err, domain.ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestInvoke_RecordsSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := tracer.Install(exp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
	})

	_, _ = invoke(context.Background(), logger.Discard(), "calc", opFunc(
		func(context.Context, map[string]any) (any, error) { return nil, errors.New("nope") },
	), nil)

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.calc.op", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}
