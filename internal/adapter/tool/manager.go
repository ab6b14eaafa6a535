package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"localagent/internal/domain"
	"localagent/internal/usecase/eventbus"
)

type entry struct {
	tool domain.Tool
	desc domain.ToolDescriptor
	ops  map[string]compiledOp
}

// Manager holds tool instances by id and invokes their operations.
type Manager struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	bus    domain.EventBus
	logger *slog.Logger
}

var _ domain.ToolInvoker = (*Manager)(nil)

// NewManager creates an empty tool manager. bus may be nil.
func NewManager(bus domain.EventBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tools:  make(map[string]*entry),
		bus:    bus,
		logger: logger,
	}
}

// Register adds a tool. Its operation table is read once and every schema
// is compiled, so unknown or malformed operations fail here and not at call time.
func (m *Manager) Register(t domain.Tool) error {
	id := t.ID()
	if id == "" {
		return domain.NewDomainError("Manager.Register", domain.ErrInvalidInput, "empty tool id")
	}

	table := t.Operations()
	if len(table) == 0 {
		return domain.NewDomainError("Manager.Register", domain.ErrInvalidInput,
			fmt.Sprintf("tool %q exposes no operations", id))
	}

	ops := make(map[string]compiledOp, len(table))
	names := make([]string, 0, len(table))
	for name, op := range table {
		if op.Run == nil {
			return domain.NewDomainError("Manager.Register", domain.ErrInvalidInput,
				fmt.Sprintf("tool %q operation %q has no handler", id, name))
		}
		schema, err := compileSchema(id, name, op.Schema)
		if err != nil {
			return domain.NewDomainError("Manager.Register", domain.ErrInvalidInput, err.Error())
		}
		ops[name] = compiledOp{name: name, schema: schema, run: op.Run}
		names = append(names, name)
	}
	sort.Strings(names)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tools[id]; exists {
		return domain.NewDomainError("Manager.Register", domain.ErrDuplicate,
			fmt.Sprintf("tool %q already registered", id))
	}
	m.tools[id] = &entry{
		tool: t,
		ops:  ops,
		desc: domain.ToolDescriptor{
			ID:          id,
			Name:        t.Name(),
			Description: t.Description(),
			Category:    t.Category(),
			Operations:  names,
		},
	}
	m.logger.Debug("tool registered", "tool_id", id, "operations", names)
	return nil
}

// Execute looks up toolID and runs the named operation with params.
func (m *Manager) Execute(ctx context.Context, toolID, operation string, params map[string]any) (any, error) {
	m.mu.RLock()
	e, ok := m.tools[toolID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.NewSubSystemError("tool", "Manager.Execute", domain.ErrToolNotFound, toolID)
	}
	op, ok := e.ops[operation]
	if !ok {
		return nil, domain.NewSubSystemError("tool", "Manager.Execute", domain.ErrOperationNotFound,
			fmt.Sprintf("%s.%s", toolID, operation))
	}

	m.publish(ctx, domain.EventToolStarted, toolEvent{ToolID: toolID, Operation: operation})

	start := time.Now()
	result, err := invoke(ctx, m.logger, toolID, op, params)
	elapsed := time.Since(start)

	if err != nil {
		m.publish(ctx, domain.EventToolFailed, toolEvent{
			ToolID:     toolID,
			Operation:  operation,
			DurationMs: elapsed.Milliseconds(),
			Error:      err.Error(),
			Code:       domain.ErrorCodeOf(err),
			Retryable:  classifyToolError(err),
		})
		return nil, err
	}

	m.publish(ctx, domain.EventToolCompleted, toolEvent{
		ToolID:     toolID,
		Operation:  operation,
		DurationMs: elapsed.Milliseconds(),
	})
	return result, nil
}

// Descriptor returns the descriptor for toolID.
func (m *Manager) Descriptor(toolID string) (domain.ToolDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.tools[toolID]
	if !ok {
		return domain.ToolDescriptor{}, domain.NewSubSystemError("tool", "Manager.Descriptor", domain.ErrToolNotFound, toolID)
	}
	return e.desc, nil
}

// List returns all registered tool descriptors sorted by id.
func (m *Manager) List() []domain.ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ToolDescriptor, 0, len(m.tools))
	for _, e := range m.tools {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cleanup invokes the cleanup hook of every tool that has one.
// A failing hook does not stop the others; all failures are joined.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tools))
	for id := range m.tools {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		m.mu.RLock()
		e, ok := m.tools[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		c, ok := e.tool.(domain.Cleaner)
		if !ok {
			continue
		}
		if err := cleanupOne(ctx, c); err != nil {
			m.logger.Warn("tool cleanup failed", "tool_id", id, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func cleanupOne(ctx context.Context, c domain.Cleaner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: cleanup panic: %v", domain.ErrToolFailure, r)
		}
	}()
	return c.Cleanup(ctx)
}

type toolEvent struct {
	ToolID     string           `json:"tool_id"`
	Operation  string           `json:"operation"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Error      string           `json:"error,omitempty"`
	Code       domain.ErrorCode `json:"code,omitempty"`
	Retryable  bool             `json:"retryable,omitempty"`
}

func (m *Manager) publish(ctx context.Context, t domain.EventType, payload toolEvent) {
	eventbus.PublishJSON(ctx, m.bus, m.logger, t, "tool."+payload.ToolID, payload)
}
