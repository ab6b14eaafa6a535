package multiagent

import (
	"context"
	"fmt"
	"log/slog"

	"localagent/internal/domain"
)

// DispatchRequest addresses a task to a registered agent.
type DispatchRequest struct {
	From    string      `json:"from,omitempty"`
	AgentID string      `json:"agent_id"`
	Task    domain.Task `json:"task"`
}

// Broker routes tasks to agents through the Registry so callers never hold
// direct references to another agent.
type Broker struct {
	registry *Registry
	logger   *slog.Logger
}

// NewBroker creates a Broker over the given registry.
func NewBroker(registry *Registry, logger *slog.Logger) *Broker {
	return &Broker{registry: registry, logger: logger}
}

// Dispatch looks up the target agent and runs the task on it.
// A registry miss returns ErrAgentNotFound; an agent that returns neither a
// result nor an error yields ErrNoResults.
func (b *Broker) Dispatch(ctx context.Context, req DispatchRequest) (*domain.TaskResult, error) {
	agent, err := b.registry.Get(req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("broker: target agent %q: %w", req.AgentID, err)
	}

	b.logger.Debug("dispatching task",
		"from", req.From,
		"to", req.AgentID,
		"task_type", req.Task.Type,
	)

	res, err := agent.ProcessTask(ctx, req.Task)
	if err != nil {
		return nil, fmt.Errorf("broker: agent %q: %w", req.AgentID, err)
	}
	if res == nil {
		return nil, domain.NewSubSystemError("agent", "Broker.Dispatch", domain.ErrNoResults,
			fmt.Sprintf("agent %q returned a nil result", req.AgentID))
	}
	return res, nil
}
