package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localagent/internal/domain"
)

type testParams struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

func TestOp_DecodesParams(t *testing.T) {
	op := Op("echo", "", func(_ context.Context, p testParams) (any, error) {
		return p.Action + ":" + p.Value, nil
	})
	assert.Nil(t, op.Schema)

	out, err := op.Run(context.Background(), map[string]any{"action": "say", "value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "say:hi", out)
}

func TestOp_DecodeErrorIsInvalidInput(t *testing.T) {
	op := Op("echo", "", func(_ context.Context, p testParams) (any, error) { return nil, nil })
	_, err := op.Run(context.Background(), map[string]any{"value": 42})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestDispatch_RoutesToCorrectHandler(t *testing.T) {
	handler := Dispatch(
		func(p testParams) string { return p.Action },
		ActionMap[testParams]{
			"create": func(_ context.Context, p testParams) (any, error) {
				return "created:" + p.Value, nil
			},
			"delete": func(_ context.Context, p testParams) (any, error) {
				return "deleted:" + p.Value, nil
			},
		},
	)

	result, err := handler(context.Background(), testParams{Action: "create", Value: "foo"})
	require.NoError(t, err)
	assert.Equal(t, "created:foo", result)

	result, err = handler(context.Background(), testParams{Action: "delete", Value: "bar"})
	require.NoError(t, err)
	assert.Equal(t, "deleted:bar", result)
}

func TestDispatch_UnknownActionReturnsBadAction(t *testing.T) {
	handler := Dispatch(
		func(p testParams) string { return p.Action },
		ActionMap[testParams]{
			"zebra":  func(_ context.Context, _ testParams) (any, error) { return nil, nil },
			"alpha":  func(_ context.Context, _ testParams) (any, error) { return nil, nil },
			"middle": func(_ context.Context, _ testParams) (any, error) { return nil, nil },
		},
	)

	_, err := handler(context.Background(), testParams{Action: "bad"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Contains(t, err.Error(), `unknown action "bad"`)

	msg := err.Error()
	assert.Greater(t, strings.Index(msg, "middle"), strings.Index(msg, "alpha"))
	assert.Greater(t, strings.Index(msg, "zebra"), strings.Index(msg, "middle"))
}

func TestDispatch_HandlerErrorPropagated(t *testing.T) {
	handler := Dispatch(
		func(p testParams) string { return p.Action },
		ActionMap[testParams]{
			"fail": func(_ context.Context, _ testParams) (any, error) {
				return nil, assert.AnError
			},
		},
	)

	_, err := handler(context.Background(), testParams{Action: "fail"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestJoinComma(t *testing.T) {
	assert.Equal(t, "", joinComma(nil))
	assert.Equal(t, "a", joinComma([]string{"a"}))
	assert.Equal(t, "a, b, c", joinComma([]string{"a", "b", "c"}))
}
