package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrUnavailable  = fmt.Errorf("unavailable")
)

// Sentinel errors for the orchestration core.
var (
	ErrInitialization     = fmt.Errorf("agent initialization failed")
	ErrNotInitialized     = fmt.Errorf("agent not initialized")
	ErrAgentNotFound      = fmt.Errorf("agent %w", ErrNotFound)
	ErrToolNotFound       = fmt.Errorf("tool %w", ErrNotFound)
	ErrOperationNotFound  = fmt.Errorf("operation %w", ErrNotFound)
	ErrToolFailure        = fmt.Errorf("tool execution failed")
	ErrUnsupportedTask    = fmt.Errorf("unsupported task type: %w", ErrInvalidInput)
	ErrNoResults          = fmt.Errorf("no results produced")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrSSRFBlocked        = fmt.Errorf("request to private/reserved IP blocked")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrStore              = fmt.Errorf("task store operation failed")
	ErrCircuitOpen        = fmt.Errorf("circuit open: %w", ErrUnavailable)
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Manager.Execute")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "tool", "agent"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// ErrorCode is a machine-parseable error category carried in results and events.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeInitialization     ErrorCode = "INITIALIZATION_FAILURE"
	CodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	CodeAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeOperationNotFound  ErrorCode = "OPERATION_NOT_FOUND"
	CodeToolFailure        ErrorCode = "TOOL_EXECUTION_FAILURE"
	CodeUnsupportedTask    ErrorCode = "UNSUPPORTED_TASK"
	CodeNoResults          ErrorCode = "NO_RESULTS"
	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeSSRFBlocked        ErrorCode = "SSRF_BLOCKED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeStore              ErrorCode = "STORE"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeCodeTimeout    ErrorCode = "CODE_TIMEOUT"
	CodeNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	CodeFileNotFound   ErrorCode = "FILE_NOT_FOUND"

	// Category error codes: fallback codes when no specific code matches.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeDuplicate    ErrorCode = "DUPLICATE"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeLimitReached ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput ErrorCode = "VALIDATION_FAILURE"
	CodeUnavailable  ErrorCode = "UNAVAILABLE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrDuplicate:    CodeDuplicate,
	ErrTimeout:      CodeTimeout,
	ErrLimitReached: CodeLimitReached,
	ErrInvalidInput: CodeInvalidInput,
	ErrUnavailable:  CodeUnavailable,

	ErrInitialization:     CodeInitialization,
	ErrNotInitialized:     CodeNotInitialized,
	ErrAgentNotFound:      CodeAgentNotFound,
	ErrToolNotFound:       CodeToolNotFound,
	ErrOperationNotFound:  CodeOperationNotFound,
	ErrToolFailure:        CodeToolFailure,
	ErrUnsupportedTask:    CodeUnsupportedTask,
	ErrNoResults:          CodeNoResults,
	ErrPathOutsideSandbox: CodePathOutsideSandbox,
	ErrSSRFBlocked:        CodeSSRFBlocked,
	ErrConfigLoad:         CodeConfigLoad,
	ErrStore:              CodeStore,
	ErrCircuitOpen:        CodeCircuitOpen,
	ErrRateLimit:          CodeRateLimit,
}

// specificSentinels are checked before category sentinels when walking an
// error chain, so that ErrToolNotFound wins over the ErrNotFound it wraps.
var specificSentinels = []error{
	ErrInitialization, ErrNotInitialized, ErrAgentNotFound, ErrToolNotFound,
	ErrOperationNotFound, ErrToolFailure, ErrUnsupportedTask, ErrNoResults,
	ErrPathOutsideSandbox, ErrSSRFBlocked, ErrConfigLoad, ErrStore,
	ErrCircuitOpen, ErrRateLimit,
}

var categorySentinels = []error{
	ErrNotFound, ErrDuplicate, ErrTimeout, ErrLimitReached, ErrInvalidInput, ErrUnavailable,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrTimeout: {
		"code":    CodeCodeTimeout,
		"network": CodeNetworkTimeout,
	},
	ErrNotFound: {
		"file":  CodeFileNotFound,
		"agent": CodeAgentNotFound,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range specificSentinels {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for _, sentinel := range categorySentinels {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
