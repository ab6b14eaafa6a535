package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"localagent/internal/adapter/tool"
	"localagent/internal/domain"
	"localagent/internal/infra/logger"
	"localagent/internal/usecase/eventbus"
	"localagent/internal/usecase/multiagent"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeTool answers every operation the executor may call and records calls.
type fakeTool struct {
	id         string
	fail       error
	cleanupErr error

	mu      sync.Mutex
	calls   []string
	params  []map[string]any
	cleaned int
}

func (f *fakeTool) ID() string          { return f.id }
func (f *fakeTool) Name() string        { return "Fake " + f.id }
func (f *fakeTool) Description() string { return "fake" }
func (f *fakeTool) Category() string    { return domain.ToolCategoryAnalysis }

func (f *fakeTool) Operations() map[string]domain.Operation {
	ops := make(map[string]domain.Operation)
	for _, name := range []string{"run", "read", "write", "delete", "list", "request", "analyze"} {
		op := name
		ops[op] = domain.Operation{Run: func(_ context.Context, params map[string]any) (any, error) {
			f.mu.Lock()
			f.calls = append(f.calls, op)
			f.params = append(f.params, params)
			f.mu.Unlock()
			if f.fail != nil {
				return nil, f.fail
			}
			return map[string]any{"tool": f.id, "op": op}, nil
		}}
	}
	return ops
}

func (f *fakeTool) Cleanup(context.Context) error {
	f.mu.Lock()
	f.cleaned++
	f.mu.Unlock()
	return f.cleanupErr
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeTools returns one fake per built-in tool id, keyed by id.
func fakeTools() map[string]*fakeTool {
	return map[string]*fakeTool{
		domain.ToolCodeRunner:    {id: domain.ToolCodeRunner},
		domain.ToolFileProcessor: {id: domain.ToolFileProcessor},
		domain.ToolNetwork:       {id: domain.ToolNetwork},
		domain.ToolDataAnalyzer:  {id: domain.ToolDataAnalyzer},
	}
}

func asTools(fakes map[string]*fakeTool) []domain.Tool {
	out := make([]domain.Tool, 0, len(fakes))
	for _, id := range []string{domain.ToolCodeRunner, domain.ToolFileProcessor, domain.ToolNetwork, domain.ToolDataAnalyzer} {
		if f, ok := fakes[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

func newTestExecutor(t *testing.T, fakes map[string]*fakeTool) *Executor {
	t.Helper()
	ex := NewExecutor(ExecutorDeps{
		Tools:    tool.NewManager(nil, logger.Discard()),
		Builtins: asTools(fakes),
		Logger:   logger.Discard(),
	})
	require.NoError(t, ex.Initialize(context.Background()))
	t.Cleanup(func() { _ = ex.Cleanup(context.Background()) })
	return ex
}

// fakeAgent is an agent whose state tests set directly.
type fakeAgent struct {
	id string

	mu    sync.Mutex
	state domain.AgentState
}

func newFakeAgent(id string, status domain.AgentStatus, last time.Time) *fakeAgent {
	return &fakeAgent{id: id, state: domain.AgentState{AgentID: id, Status: status, LastUpdate: last}}
}

func (a *fakeAgent) ID() string                       { return a.id }
func (a *fakeAgent) Initialize(context.Context) error { return nil }
func (a *fakeAgent) Cleanup(context.Context) error    { return nil }

func (a *fakeAgent) ProcessTask(_ context.Context, task domain.Task) (*domain.TaskResult, error) {
	return &domain.TaskResult{TaskID: task.ID, Status: domain.TaskCompleted}, nil
}

func (a *fakeAgent) State() domain.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

func (a *fakeAgent) set(fn func(*domain.AgentState)) {
	a.mu.Lock()
	fn(&a.state)
	a.mu.Unlock()
}

// memStore records every Save call.
type memStore struct {
	mu    sync.Mutex
	saves []domain.TaskRecord
	err   error
}

func (s *memStore) Save(_ context.Context, rec *domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, *rec)
	return s.err
}

func (s *memStore) Get(_ context.Context, id string) (*domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saves) - 1; i >= 0; i-- {
		if s.saves[i].ID == id {
			rec := s.saves[i]
			return &rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) List(context.Context, int) ([]domain.TaskRecord, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) Close() error { return nil }

// statuses returns the distinct consecutive statuses saved for id.
func (s *memStore) statuses(id string) []domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TaskStatus
	for _, rec := range s.saves {
		if rec.ID != id {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != rec.Status {
			out = append(out, rec.Status)
		}
	}
	return out
}

type controllerFixture struct {
	ctrl     *Controller
	bus      *eventbus.Bus
	registry *multiagent.Registry
	store    *memStore
	fakes    map[string]*fakeTool
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	log := logger.Discard()
	bus := eventbus.New(log, eventbus.Options{HistorySize: 1000})
	t.Cleanup(bus.Close)

	f := &controllerFixture{
		bus:      bus,
		registry: multiagent.NewRegistry(log),
		store:    &memStore{},
		fakes:    fakeTools(),
	}
	f.ctrl = NewController(ControllerDeps{
		Registry: f.registry,
		Bus:      bus,
		Store:    f.store,
		Logger:   log,
		Tools:    tool.NewManager(bus, log),
		Builtins: asTools(f.fakes),
	})
	require.NoError(t, f.ctrl.Initialize(context.Background()))
	t.Cleanup(func() { _ = f.ctrl.Cleanup(context.Background()) })
	return f
}

func (f *controllerFixture) eventTypes(prefix string) []domain.EventType {
	var out []domain.EventType
	for _, e := range f.bus.History(domain.HistoryQuery{}) {
		if strings.HasPrefix(string(e.Type), prefix) {
			out = append(out, e.Type)
		}
	}
	return out
}
