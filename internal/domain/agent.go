package domain

import (
	"context"
	"maps"
	"time"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentUninitialized AgentStatus = "uninitialized"
	AgentInitialized   AgentStatus = "initialized"
	AgentReady         AgentStatus = "ready"
	AgentProcessing    AgentStatus = "processing"
	AgentCompleted     AgentStatus = "completed"
	AgentError         AgentStatus = "error"
	AgentShutdown      AgentStatus = "shutdown"
)

// Valid reports whether s is one of the fixed lifecycle states.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentUninitialized, AgentInitialized, AgentReady, AgentProcessing,
		AgentCompleted, AgentError, AgentShutdown:
		return true
	}
	return false
}

// AgentState is the observable state of an agent.
type AgentState struct {
	AgentID     string         `json:"agent_id"`
	Status      AgentStatus    `json:"status"`
	CurrentTask *Task          `json:"current_task,omitempty"`
	LastUpdate  time.Time      `json:"last_update"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TaskCount   int            `json:"task_count"`
}

// Clone returns a copy of the state whose maps and task pointer are not
// shared with the receiver.
func (s AgentState) Clone() AgentState {
	out := s
	if s.CurrentTask != nil {
		t := s.CurrentTask.Clone()
		out.CurrentTask = &t
	}
	if s.Metadata != nil {
		out.Metadata = maps.Clone(s.Metadata)
	}
	return out
}

// Agent is the lifecycle contract every agent kind implements.
//
// ProcessTask reports operational failures in-band through TaskResult.Status.
// A non-nil error is returned only for contract violations such as calling
// ProcessTask on an agent that was never initialized.
type Agent interface {
	ID() string
	Initialize(ctx context.Context) error
	ProcessTask(ctx context.Context, task Task) (*TaskResult, error)
	Cleanup(ctx context.Context) error
	State() AgentState
}

// AgentDirectory is the read side of the agent registry.
type AgentDirectory interface {
	Get(id string) (Agent, error)
	List() []string
}
