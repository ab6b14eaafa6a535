package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/trace"

	"localagent/internal/domain"
	"localagent/internal/infra/tracer"
)

// Handler runs one operation against typed params.
type Handler[P any] func(ctx context.Context, p P) (any, error)

// ActionMap maps action names to their handlers for a multi-mode operation.
type ActionMap[P any] map[string]Handler[P]

// Op builds a domain.Operation whose params are decoded into P before h runs.
// schema is the JSON Schema for the params object; empty means unchecked.
func Op[P any](description, schema string, h Handler[P]) domain.Operation {
	var raw json.RawMessage
	if schema != "" {
		raw = json.RawMessage(schema)
	}
	return domain.Operation{
		Description: description,
		Schema:      raw,
		Run: func(ctx context.Context, params map[string]any) (any, error) {
			p, err := decodeParams[P](params)
			if err != nil {
				return nil, err
			}
			return h(ctx, p)
		},
	}
}

// decodeParams converts a params map into P via JSON.
func decodeParams[P any](params map[string]any) (P, error) {
	var p P
	data, err := json.Marshal(params)
	if err != nil {
		return p, domain.NewDomainError("decodeParams", domain.ErrInvalidInput, err.Error())
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, domain.NewDomainError("decodeParams", domain.ErrInvalidInput, fmt.Sprintf("invalid params: %v", err))
	}
	return p, nil
}

// Dispatch creates a Handler that routes by an action name extracted from
// the params. Unknown actions fail with ErrInvalidInput listing the valid ones.
//
// Usage:
//
//	Op("analyze", analyzeSchema, Dispatch(func(p analyzeParams) string { return p.Type }, ActionMap[analyzeParams]{
//	    "basic":       t.basic,
//	    "correlation": t.correlation,
//	}))
func Dispatch[P any](getAction func(P) string, actions ActionMap[P]) Handler[P] {
	// Pre-compute sorted action names for deterministic BadAction messages.
	validActions := make([]string, 0, len(actions))
	for name := range actions {
		validActions = append(validActions, name)
	}
	sort.Strings(validActions)

	return func(ctx context.Context, p P) (any, error) {
		action := getAction(p)
		trace.SpanFromContext(ctx).SetAttributes(tracer.StringAttr("tool.action", action))

		handler, ok := actions[action]
		if !ok {
			return nil, BadAction(action, validActions...)
		}
		return handler(ctx, p)
	}
}

// BadAction returns an error for an unknown action with a hint listing valid actions.
func BadAction(got string, valid ...string) error {
	return domain.NewDomainError("Dispatch", domain.ErrInvalidInput,
		fmt.Sprintf("unknown action %q (want: %s)", got, joinComma(valid)))
}

func joinComma(ss []string) string {
	switch len(ss) {
	case 0:
		return ""
	case 1:
		return ss[0]
	}
	out := ss[0]
	for _, s := range ss[1:] {
		out += ", " + s
	}
	return out
}
