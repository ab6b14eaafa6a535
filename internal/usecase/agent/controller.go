package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
	"localagent/internal/infra/logger"
	"localagent/internal/infra/tracer"
	"localagent/internal/usecase/multiagent"
)

// defaultMaxTasks bounds the in-memory task table.
const defaultMaxTasks = 10000

// planSteps is the diagnostic plan per task type. It mirrors toolsByTaskType
// in executor.go; keep the two in step.
var planSteps = map[string][]domain.PlanStep{
	domain.TaskCodeAnalysis: {
		{Action: "analyze_code", Tool: domain.ToolCodeRunner},
		{Action: "generate_report", Tool: domain.ToolDataAnalyzer},
	},
	domain.TaskFileOperation: {
		{Action: "process_file", Tool: domain.ToolFileProcessor},
	},
	domain.TaskDataProcessing: {
		{Action: "analyze_data", Tool: domain.ToolDataAnalyzer},
		{Action: "process_results", Tool: domain.ToolFileProcessor},
	},
}

var generalPlan = []domain.PlanStep{{Action: "general_processing", Tool: domain.ToolCodeRunner}}

// ControllerDeps wires a Controller and the sub-agents it creates.
type ControllerDeps struct {
	Registry   *multiagent.Registry
	Bus        domain.EventBus
	Store      domain.TaskStore // optional durable mirror
	Logger     *slog.Logger
	Now        func() time.Time
	Tools      ToolSet
	Builtins   []domain.Tool
	Supervisor config.SupervisorConfig
	MaxTasks   int
}

// Controller owns one Executor and one Supervisor, tracks every submitted
// task and is the single entry point for work.
type Controller struct {
	*Base
	deps     ControllerDeps
	registry *multiagent.Registry
	store    domain.TaskStore
	maxTasks int

	mu          sync.Mutex
	initialized bool
	closed      bool
	executor    *Executor
	supervisor  *Supervisor
	tasks       map[string]*domain.TaskRecord
	order       []string
	submitted   int
}

var _ domain.Agent = (*Controller)(nil)

// NewController creates an uninitialized Controller.
func NewController(deps ControllerDeps) *Controller {
	if deps.Registry == nil {
		log := deps.Logger
		if log == nil {
			log = logger.Discard()
		}
		deps.Registry = multiagent.NewRegistry(log)
	}
	maxTasks := deps.MaxTasks
	if maxTasks <= 0 {
		maxTasks = defaultMaxTasks
	}
	return &Controller{
		Base:     newBase(KindController, deps.Bus, deps.Logger, deps.Now),
		deps:     deps,
		registry: deps.Registry,
		store:    deps.Store,
		maxTasks: maxTasks,
		tasks:    make(map[string]*domain.TaskRecord),
	}
}

// Initialize creates and initializes the Executor and Supervisor, then
// registers both. Any sub-agent failure fails the controller.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	_ = c.UpdateState(domain.AgentInitialized, nil)

	ex := NewExecutor(ExecutorDeps{
		Tools:    c.deps.Tools,
		Builtins: c.deps.Builtins,
		Bus:      c.deps.Bus,
		Logger:   c.deps.Logger,
		Now:      c.deps.Now,
	})
	if err := ex.Initialize(ctx); err != nil {
		err = fmt.Errorf("executor: %w", err)
		c.HandleError(ctx, "Controller.Initialize", err)
		return err
	}

	sup := NewSupervisor(SupervisorDeps{
		Directory: c.registry,
		Config:    c.deps.Supervisor,
		Bus:       c.deps.Bus,
		Logger:    c.deps.Logger,
		Now:       c.deps.Now,
	})
	if err := sup.Initialize(ctx); err != nil {
		_ = ex.Cleanup(ctx)
		err = fmt.Errorf("supervisor: %w", err)
		c.HandleError(ctx, "Controller.Initialize", err)
		return err
	}

	c.registry.Register(ex)
	c.registry.Register(sup)
	c.executor, c.supervisor = ex, sup
	c.initialized = true
	c.closed = false

	_ = c.UpdateState(domain.AgentReady, map[string]any{
		"executor":   ex.ID(),
		"supervisor": sup.ID(),
	})
	c.publish(ctx, domain.EventAgentInitialized, map[string]any{
		"agent_id":   c.ID(),
		"kind":       KindController,
		"executor":   ex.ID(),
		"supervisor": sup.ID(),
	})
	c.logger.Info("controller initialized", "executor", ex.ID(), "supervisor", sup.ID())
	return nil
}

// ExecutorID returns the owned executor's id, or "" before Initialize.
func (c *Controller) ExecutorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.executor == nil {
		return ""
	}
	return c.executor.ID()
}

// SupervisorID returns the owned supervisor's id, or "" before Initialize.
func (c *Controller) SupervisorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervisor == nil {
		return ""
	}
	return c.supervisor.ID()
}

// Plan returns the informational execution plan for a task.
func (c *Controller) Plan(task domain.Task) domain.Plan {
	steps, ok := planSteps[task.Type]
	if !ok {
		steps = generalPlan
	}
	return domain.Plan{
		TaskID: task.ID,
		Type:   task.Type,
		Steps:  append([]domain.PlanStep(nil), steps...),
	}
}

// ProcessTask mints a task id, runs the task through the Executor, asks the
// Supervisor for a monitor pass and records the outcome. Failures come back
// in-band; only calling it before Initialize returns an error.
func (c *Controller) ProcessTask(ctx context.Context, task domain.Task) (*domain.TaskResult, error) {
	c.mu.Lock()
	ex, sup := c.executor, c.supervisor
	ready := c.initialized
	c.mu.Unlock()
	if !ready {
		return nil, domain.NewSubSystemError("agent", "Controller.ProcessTask", domain.ErrNotInitialized, c.ID())
	}

	task = task.Clone()
	task.ID = ulid.Make().String()

	ctx, span := tracer.StartSpan(ctx, "controller.process_task",
		trace.WithAttributes(
			tracer.StringAttr("task.id", task.ID),
			tracer.StringAttr("task.type", task.Type),
		),
	)

	now := c.now()
	c.insert(ctx, &domain.TaskRecord{
		ID:        task.ID,
		Task:      task,
		Status:    domain.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	c.publish(ctx, domain.EventTaskCreated, map[string]any{"task_id": task.ID, "type": task.Type})

	res, err := c.run(ctx, ex, sup, task)
	tracer.End(span, err)
	c.setCurrentTask(nil)

	if err != nil {
		c.HandleError(ctx, "Controller.ProcessTask", err)
		c.update(ctx, task.ID, func(r *domain.TaskRecord) {
			r.Status = domain.TaskError
			r.Error = err.Error()
		})
		c.publish(ctx, domain.EventTaskFailed, map[string]any{
			"task_id": task.ID,
			"error":   err.Error(),
			"code":    string(domain.ErrorCodeOf(err)),
		})
		return domain.ErrorResult(task.ID, err, c.now()), nil
	}

	// The Executor's result is kept verbatim; an in-band error there still
	// completes the task.
	c.update(ctx, task.ID, func(r *domain.TaskRecord) {
		r.Status = domain.TaskCompleted
		r.Result = res
	})
	_ = c.UpdateState(domain.AgentCompleted, map[string]any{"task_id": task.ID})
	c.publish(ctx, domain.EventTaskCompleted, map[string]any{
		"task_id":       task.ID,
		"type":          task.Type,
		"result_status": string(res.Status),
	})
	c.logger.Info("task finished", "task_id", task.ID, "task_type", task.Type,
		"status", string(domain.TaskCompleted), "result_status", string(res.Status))

	return &domain.TaskResult{
		TaskID:    task.ID,
		Status:    domain.TaskCompleted,
		Result:    res,
		Timestamp: c.now(),
	}, nil
}

// run holds every step that may fail after the record exists.
func (c *Controller) run(ctx context.Context, ex *Executor, sup *Supervisor, task domain.Task) (res *domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic recovered", "task_id", task.ID, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("Controller.ProcessTask: panic: %v", r)
		}
	}()

	c.setCurrentTask(&task)
	_ = c.UpdateState(domain.AgentProcessing, map[string]any{"task_id": task.ID})

	plan := c.Plan(task)
	c.update(ctx, task.ID, func(r *domain.TaskRecord) {
		r.Status = domain.TaskProcessing
		r.Plan = &plan
	})
	c.publish(ctx, domain.EventTaskStarted, map[string]any{"task_id": task.ID, "plan": plan})

	res, err = ex.ProcessTask(ctx, task)
	if err != nil {
		return nil, err
	}
	c.update(ctx, task.ID, func(r *domain.TaskRecord) { r.Result = res })

	mon, merr := sup.ProcessTask(ctx, domain.Task{
		ID:   task.ID,
		Type: domain.SupervisorMonitor,
		Metadata: map[string]any{
			"target":  ex.ID(),
			"task_id": task.ID,
		},
	})
	switch {
	case merr != nil:
		c.logger.Warn("monitor request failed", "task_id", task.ID, "error", merr)
	case mon.Status != domain.TaskCompleted:
		c.logger.Warn("monitor request failed", "task_id", task.ID, "error", mon.Error)
	}
	return res, nil
}

func (c *Controller) insert(ctx context.Context, rec *domain.TaskRecord) {
	c.mu.Lock()
	c.tasks[rec.ID] = rec
	c.order = append(c.order, rec.ID)
	for len(c.order) > c.maxTasks {
		delete(c.tasks, c.order[0])
		c.order = c.order[1:]
	}
	c.submitted++
	n := c.submitted
	snapshot := *rec
	c.mu.Unlock()

	c.setTaskCount(n)
	c.persist(ctx, &snapshot)
}

func (c *Controller) update(ctx context.Context, id string, fn func(*domain.TaskRecord)) {
	c.mu.Lock()
	rec, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	fn(rec)
	rec.UpdatedAt = c.now()
	snapshot := *rec
	c.mu.Unlock()

	c.persist(ctx, &snapshot)
}

// persist writes through to the store. Store failures never fail a task.
func (c *Controller) persist(ctx context.Context, rec *domain.TaskRecord) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, rec); err != nil {
		c.logger.Warn("task store write failed", "task_id", rec.ID, "status", string(rec.Status), "error", err)
	}
}

// Task returns a copy of one task record.
func (c *Controller) Task(id string) (domain.TaskRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.tasks[id]
	if !ok {
		return domain.TaskRecord{}, domain.NewSubSystemError("task", "Controller.Task", domain.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Tasks returns a summary of every tracked task in submission order.
func (c *Controller) Tasks() []domain.TaskSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.TaskSummary, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tasks[id].Summary())
	}
	return out
}

// Cleanup tears down the Executor then the Supervisor, unregistering each,
// and clears the task table. Calling it again is a no-op.
func (c *Controller) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.initialized = false
	ex, sup := c.executor, c.supervisor
	c.mu.Unlock()

	if ex != nil {
		if err := ex.Cleanup(ctx); err != nil {
			c.logger.Warn("executor cleanup failed", "error", err)
		}
		c.registry.Unregister(ex.ID())
	}
	if sup != nil {
		if err := sup.Cleanup(ctx); err != nil {
			c.logger.Warn("supervisor cleanup failed", "error", err)
		}
		c.registry.Unregister(sup.ID())
	}

	c.mu.Lock()
	clear(c.tasks)
	c.order = nil
	c.mu.Unlock()

	_ = c.UpdateState(domain.AgentShutdown, nil)
	c.publish(ctx, domain.EventAgentStopped, map[string]any{"agent_id": c.ID(), "kind": KindController})
	c.logger.Info("controller stopped")
	return nil
}
