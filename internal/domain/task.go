package domain

import (
	"maps"
	"slices"
	"time"
)

// Well-known task types understood by the controller and executor.
const (
	TaskCodeAnalysis   = "code_analysis"
	TaskFileOperation  = "file_operation"
	TaskDataProcessing = "data_processing"
	TaskNetworkRequest = "network_request"
)

// Task is a unit of work submitted to the controller.
type Task struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of t with its own metadata map.
func (t Task) Clone() Task {
	out := t
	if t.Metadata != nil {
		out.Metadata = maps.Clone(t.Metadata)
	}
	return out
}

// MetaString returns metadata[key] when it is a string.
func (t Task) MetaString(key string) string {
	if v, ok := t.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// TaskStatus is the status of a task record or result.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskError      TaskStatus = "error"
	TaskTimeout    TaskStatus = "timeout"
)

// TaskResult is the well-formed result returned by every ProcessTask call.
type TaskResult struct {
	TaskID    string     `json:"task_id,omitempty"`
	Status    TaskStatus `json:"status"`
	Result    any        `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Code      ErrorCode  `json:"code,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorResult builds an error-status result from err.
func ErrorResult(taskID string, err error, now time.Time) *TaskResult {
	return &TaskResult{
		TaskID:    taskID,
		Status:    TaskError,
		Error:     err.Error(),
		Code:      ErrorCodeOf(err),
		Timestamp: now,
	}
}

// PlanStep is one informational step of a controller plan.
type PlanStep struct {
	Action string `json:"action"`
	Tool   string `json:"tool"`
}

// Plan is the diagnostic execution plan the controller derives from a task type.
type Plan struct {
	TaskID string     `json:"task_id"`
	Type   string     `json:"type"`
	Steps  []PlanStep `json:"steps"`
}

// TaskRecord is the controller's bookkeeping entry for one submitted task.
type TaskRecord struct {
	ID        string     `json:"id"`
	Task      Task       `json:"task"`
	Status    TaskStatus `json:"status"`
	Plan      *Plan      `json:"plan,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Result    any        `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Clone returns a copy of r whose task metadata and plan are not shared.
// Result is shared; results are treated as immutable once stored.
func (r TaskRecord) Clone() TaskRecord {
	out := r
	out.Task = r.Task.Clone()
	if r.Plan != nil {
		p := *r.Plan
		p.Steps = slices.Clone(r.Plan.Steps)
		out.Plan = &p
	}
	return out
}

// Summary returns the polling view of the record.
func (r TaskRecord) Summary() TaskSummary {
	return TaskSummary{
		TaskID:    r.ID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		Result:    r.Result,
	}
}

// TaskSummary is the read-only view exposed for status polling.
type TaskSummary struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	Result    any        `json:"result,omitempty"`
}

// ToolOutcome is one entry of an executor batch.
type ToolOutcome struct {
	ToolID   string        `json:"tool_id"`
	Name     string        `json:"name"`
	Status   TaskStatus    `json:"status"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     ErrorCode     `json:"code,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Warnings summarises non-fatal tool failures in a batch.
type Warnings struct {
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// ExecutionReport is the executor's result payload.
type ExecutionReport struct {
	Results   []ToolOutcome `json:"results"`
	Warnings  *Warnings     `json:"warnings,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
