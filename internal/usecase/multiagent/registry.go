package multiagent

import (
	"log/slog"
	"sort"
	"sync"

	"localagent/internal/domain"
)

// Registry holds live agents by id and provides lookup. It performs no
// lifecycle calls; callers clean agents up before unregistering them.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]domain.Agent
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]domain.Agent),
		logger: logger,
	}
}

// Register adds an agent. An existing entry with the same id is replaced.
func (r *Registry) Register(agent domain.Agent) {
	id := agent.ID()

	r.mu.Lock()
	_, replaced := r.agents[id]
	r.agents[id] = agent
	r.mu.Unlock()

	r.logger.Info("agent registered", "agent_id", id, "replaced", replaced)
}

// Unregister removes an agent and reports whether it was present.
func (r *Registry) Unregister(agentID string) bool {
	r.mu.Lock()
	_, ok := r.agents[agentID]
	delete(r.agents, agentID)
	r.mu.Unlock()

	if ok {
		r.logger.Info("agent unregistered", "agent_id", agentID)
	}
	return ok
}

// Get returns the agent for the given id, or ErrAgentNotFound.
func (r *Registry) Get(agentID string) (domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return nil, domain.NewSubSystemError("agent", "Registry.Get", domain.ErrAgentNotFound, agentID)
	}
	return agent, nil
}

// List returns registered agent ids sorted ascending.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// States returns a state snapshot for every registered agent, sorted by id.
// Agents are read outside the registry lock.
func (r *Registry) States() []domain.AgentState {
	r.mu.RLock()
	agents := make([]domain.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	states := make([]domain.AgentState, 0, len(agents))
	for _, a := range agents {
		states = append(states, a.State())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].AgentID < states[j].AgentID
	})
	return states
}
