package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"

	"localagent/internal/domain"
	"localagent/internal/infra/tracer"
)

// compiledOp is an operation whose schema was compiled at registration.
type compiledOp struct {
	name   string
	schema *jsonschema.Schema
	run    domain.OperationFunc
}

// invoke is the standard operation pipeline:
// start span -> validate params -> run handler (panics recovered) -> normalize error.
func invoke(
	ctx context.Context,
	logger *slog.Logger,
	toolID string,
	op compiledOp,
	params map[string]any,
) (result any, err error) {
	spanName := "tool." + toolID + "." + op.name
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(
			tracer.StringAttr("tool.id", toolID),
			tracer.StringAttr("tool.operation", op.name),
		),
	)
	defer func() { tracer.End(span, err) }()

	validated, err := validateParams(toolID, op.name, op.schema, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err = runRecovered(ctx, op.run, validated)
	if err != nil {
		err = normalizeToolError(err)
		logger.Warn(spanName+" failed",
			"error", err,
			"code", string(domain.ErrorCodeOf(err)),
			"retryable", classifyToolError(err),
			"duration", time.Since(start),
		)
		return nil, err
	}
	return result, nil
}

func runRecovered(ctx context.Context, fn domain.OperationFunc, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrToolFailure, r)
		}
	}()
	return fn(ctx, params)
}

// normalizeToolError maps context deadlines to ErrTimeout and tags errors
// that carry no known sentinel as ErrToolFailure, keeping the original chain.
func normalizeToolError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if domain.ErrorCodeOf(err) == domain.CodeUnknown {
		return fmt.Errorf("%w: %w", domain.ErrToolFailure, err)
	}
	return err
}
