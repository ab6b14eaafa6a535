package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"localagent/internal/domain"
	"localagent/internal/infra/logger"
	"localagent/internal/usecase/eventbus"
)

// Agent kinds, also used as id prefixes.
const (
	KindController = "controller"
	KindExecutor   = "executor"
	KindSupervisor = "supervisor"
)

// NewAgentID returns "<kind>_<8 hex chars>".
func NewAgentID(kind string) string {
	return kind + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Base holds the state and error path shared by every agent kind.
// Concrete agents embed it and call UpdateState for every transition.
type Base struct {
	id     string
	kind   string
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state domain.AgentState
}

func newBase(kind string, bus domain.EventBus, base *slog.Logger, now func() time.Time) *Base {
	if base == nil {
		base = logger.Discard()
	}
	if now == nil {
		now = time.Now
	}
	id := NewAgentID(kind)
	return &Base{
		id:     id,
		kind:   kind,
		bus:    bus,
		logger: logger.ForAgent(base, kind, id),
		now:    now,
		state: domain.AgentState{
			AgentID:    id,
			Status:     domain.AgentUninitialized,
			LastUpdate: now(),
			Metadata:   map[string]any{},
		},
	}
}

// ID returns the agent id assigned at construction.
func (b *Base) ID() string { return b.id }

// Kind returns the agent kind.
func (b *Base) Kind() string { return b.kind }

// State returns a copy of the current state.
func (b *Base) State() domain.AgentState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Clone()
}

// Status returns the current lifecycle status.
func (b *Base) Status() domain.AgentStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Status
}

// UpdateState sets the status and merges metadata into the existing map.
// LastUpdate never moves backwards.
func (b *Base) UpdateState(status domain.AgentStatus, metadata map[string]any) error {
	if !status.Valid() {
		return domain.NewSubSystemError("agent", "Base.UpdateState", domain.ErrInvalidInput,
			fmt.Sprintf("unknown status %q", status))
	}

	b.mu.Lock()
	now := b.now()
	if now.Before(b.state.LastUpdate) {
		now = b.state.LastUpdate
	}
	prev := b.state.Status
	b.state.Status = status
	b.state.LastUpdate = now
	if b.state.Metadata == nil {
		b.state.Metadata = make(map[string]any, len(metadata))
	}
	maps.Copy(b.state.Metadata, metadata)
	b.mu.Unlock()

	if prev != status {
		b.logger.Debug("agent state changed", "from", string(prev), "to", string(status))
	}
	return nil
}

// touch merges metadata and refreshes LastUpdate without changing status.
func (b *Base) touch(metadata map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now := b.now(); now.After(b.state.LastUpdate) {
		b.state.LastUpdate = now
	}
	if b.state.Metadata == nil {
		b.state.Metadata = make(map[string]any, len(metadata))
	}
	maps.Copy(b.state.Metadata, metadata)
}

// HandleError is the single failure path: it logs err, moves the agent to
// error with the reason in metadata and publishes agent.error.
func (b *Base) HandleError(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	code := domain.ErrorCodeOf(err)
	b.logger.Error(op+" failed", "error", err, "code", string(code))

	_ = b.UpdateState(domain.AgentError, map[string]any{
		"error":      err.Error(),
		"error_code": string(code),
	})
	b.publish(ctx, domain.EventAgentError, map[string]any{
		"agent_id": b.id,
		"op":       op,
		"error":    err.Error(),
		"code":     string(code),
	})
}

func (b *Base) setCurrentTask(t *domain.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t == nil {
		b.state.CurrentTask = nil
		return
	}
	c := t.Clone()
	b.state.CurrentTask = &c
}

func (b *Base) setTaskCount(n int) {
	b.mu.Lock()
	b.state.TaskCount = n
	b.mu.Unlock()
}

// recoverPanic must be deferred directly. It turns a panic into an error,
// routes it through HandleError and stores it in *errp.
func (b *Base) recoverPanic(ctx context.Context, op string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("%s: panic: %v", op, r)
	b.logger.Error("panic recovered", "op", op, "panic", r, "stack", string(debug.Stack()))
	b.HandleError(ctx, op, err)
	if errp != nil {
		*errp = err
	}
}

func (b *Base) publish(ctx context.Context, t domain.EventType, payload any) {
	eventbus.PublishJSON(ctx, b.bus, b.logger, t, b.id, payload)
}
