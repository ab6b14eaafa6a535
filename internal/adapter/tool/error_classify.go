package tool

import (
	"errors"
	"strings"

	"localagent/internal/domain"
)

// retryableSentinels lists domain errors that indicate transient failures
// worth retrying.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrUnavailable,
	domain.ErrRateLimit,
}

// retryablePatterns are substrings in error messages that indicate transient failures.
// Checked case-insensitively.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"too many requests",
}

// classifyToolError returns true if the error is transient and the tool call
// may succeed on retry. Returns false for nil, permanent, or unknown errors.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}

	// Validation and sandbox failures never succeed on retry, whatever the message says.
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrPathOutsideSandbox) ||
		errors.Is(err, domain.ErrSSRFBlocked) {
		return false
	}

	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}
