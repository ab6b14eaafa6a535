package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"localagent/internal/domain"
)

func TestClassifyToolError_Nil(t *testing.T) {
	assert.False(t, classifyToolError(nil))
}

func TestClassifyToolError_RetryableSentinels(t *testing.T) {
	for _, err := range []error{
		domain.ErrTimeout,
		domain.ErrUnavailable,
		domain.ErrCircuitOpen,
		domain.ErrRateLimit,
		fmt.Errorf("network request: %w", domain.ErrTimeout),
		domain.NewSubSystemError("code", "codeRunner.run", domain.ErrTimeout, "30s"),
	} {
		assert.True(t, classifyToolError(err), "%v should be retryable", err)
	}
}

func TestClassifyToolError_PermanentSentinels(t *testing.T) {
	for _, err := range []error{
		domain.ErrToolNotFound,
		domain.ErrOperationNotFound,
		domain.ErrPathOutsideSandbox,
		domain.ErrSSRFBlocked,
		domain.ErrNotFound,
		domain.ErrDuplicate,
		domain.ErrInvalidInput,
		domain.ErrToolFailure,
	} {
		assert.False(t, classifyToolError(err), "%v should be permanent", err)
	}
}

func TestClassifyToolError_StringPatterns(t *testing.T) {
	assert.True(t, classifyToolError(errors.New("dial tcp 1.2.3.4:443: connection refused")))
	assert.True(t, classifyToolError(errors.New("read: Connection Reset by peer")))
	assert.True(t, classifyToolError(errors.New("lookup api.example: no such host")))
	assert.True(t, classifyToolError(context.DeadlineExceeded))
	assert.True(t, classifyToolError(errors.New("HTTP 429 Too Many Requests")))
	assert.False(t, classifyToolError(errors.New("permission denied")))
}

func TestClassifyToolError_InvalidInputWinsOverPattern(t *testing.T) {
	err := domain.NewDomainError("Manager.Execute", domain.ErrInvalidInput, "timeout must be positive")
	assert.False(t, classifyToolError(err))
}
