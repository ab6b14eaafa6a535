package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"localagent/internal/domain"
)

// ToolSet is the tool manager surface the Executor drives.
type ToolSet interface {
	domain.ToolInvoker
	Register(t domain.Tool) error
	Cleanup(ctx context.Context) error
}

// ExecutorDeps wires an Executor.
type ExecutorDeps struct {
	Tools    ToolSet
	Builtins []domain.Tool // registered into Tools during Initialize
	Bus      domain.EventBus
	Logger   *slog.Logger
	Now      func() time.Time
}

// executorResultWindow bounds the per-task results kept for lookup.
const executorResultWindow = 1000

// toolsByTaskType is the fixed selection table for known task types.
// It mirrors planSteps in controller.go; keep the two in step.
var toolsByTaskType = map[string][]string{
	domain.TaskCodeAnalysis:   {domain.ToolCodeRunner, domain.ToolDataAnalyzer},
	domain.TaskFileOperation:  {domain.ToolFileProcessor},
	domain.TaskDataProcessing: {domain.ToolDataAnalyzer, domain.ToolFileProcessor},
	domain.TaskNetworkRequest: {domain.ToolNetwork},
}

// keywordRules drive selection for task types outside the table.
var keywordRules = []struct {
	keywords []string
	toolID   string
}{
	{[]string{"code", "python"}, domain.ToolCodeRunner},
	{[]string{"file", "data"}, domain.ToolFileProcessor},
	{[]string{"http", "api"}, domain.ToolNetwork},
	{[]string{"analyze", "statistics"}, domain.ToolDataAnalyzer},
}

// partialFailureMessage heads the warnings block of a degraded batch.
const partialFailureMessage = "Some tools failed to execute"

// SelectTools returns the tool ids a task runs against: the table entry for
// known types, otherwise every tool whose keywords occur in the content.
func SelectTools(task domain.Task) []string {
	if ids, ok := toolsByTaskType[task.Type]; ok {
		return append([]string(nil), ids...)
	}

	content := strings.ToLower(task.Content)
	var ids []string
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(content, kw) {
				ids = append(ids, rule.toolID)
				break
			}
		}
	}
	return ids
}

// Executor runs the selected tools for a task sequentially. A failing tool
// degrades the batch to a warning; only an empty batch is an error.
type Executor struct {
	*Base
	tools    ToolSet
	builtins []domain.Tool

	mu          sync.Mutex
	initialized bool
	closed      bool
	names       map[string]string
	results     map[string]*domain.TaskResult
	order       []string
	processed   int
}

var _ domain.Agent = (*Executor)(nil)

// NewExecutor creates an uninitialized Executor.
func NewExecutor(deps ExecutorDeps) *Executor {
	return &Executor{
		Base:     newBase(KindExecutor, deps.Bus, deps.Logger, deps.Now),
		tools:    deps.Tools,
		builtins: deps.Builtins,
		names:    make(map[string]string),
		results:  make(map[string]*domain.TaskResult),
	}
}

// Initialize registers the built-in tools. A registration failure leaves the
// executor in error state and returns ErrInitialization.
func (e *Executor) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	_ = e.UpdateState(domain.AgentInitialized, nil)

	if e.tools == nil {
		err := domain.NewSubSystemError("agent", "Executor.Initialize", domain.ErrInitialization, "no tool set")
		e.HandleError(ctx, "Executor.Initialize", err)
		return err
	}

	present := make(map[string]bool)
	for _, d := range e.tools.List() {
		present[d.ID] = true
	}
	for _, t := range e.builtins {
		if present[t.ID()] {
			continue
		}
		if err := e.tools.Register(t); err != nil {
			err = domain.NewSubSystemError("agent", "Executor.Initialize", domain.ErrInitialization,
				fmt.Sprintf("register tool %q: %v", t.ID(), err))
			e.HandleError(ctx, "Executor.Initialize", err)
			return err
		}
	}

	ids := make([]string, 0, len(e.builtins))
	for _, d := range e.tools.List() {
		e.names[d.ID] = d.Name
		ids = append(ids, d.ID)
	}
	e.initialized = true
	e.closed = false

	_ = e.UpdateState(domain.AgentReady, map[string]any{"tools": ids})
	e.publish(ctx, domain.EventAgentInitialized, map[string]any{"agent_id": e.ID(), "kind": KindExecutor, "tools": ids})
	e.logger.Info("executor initialized", "tools", ids)
	return nil
}

// ProcessTask selects, runs and validates the tools for task. Calling it
// before Initialize is a contract violation and returns ErrNotInitialized.
func (e *Executor) ProcessTask(ctx context.Context, task domain.Task) (res *domain.TaskResult, err error) {
	e.mu.Lock()
	ready := e.initialized
	e.mu.Unlock()
	if !ready {
		return nil, domain.NewSubSystemError("agent", "Executor.ProcessTask", domain.ErrNotInitialized, e.ID())
	}

	defer func() {
		if err != nil {
			res, err = domain.ErrorResult(task.ID, err, e.now()), nil
		}
	}()
	defer e.recoverPanic(ctx, "Executor.ProcessTask", &err)

	e.setCurrentTask(&task)
	_ = e.UpdateState(domain.AgentProcessing, map[string]any{"task_id": task.ID})

	selected := SelectTools(task)
	e.logger.Debug("tools selected", "task_id", task.ID, "task_type", task.Type, "tools", selected)

	outcomes := e.execute(ctx, task, selected)
	res = e.validate(task.ID, outcomes)
	e.remember(task.ID, res)

	e.setCurrentTask(nil)
	if res.Status == domain.TaskError {
		e.logger.Warn("task produced no results", "task_id", task.ID, "task_type", task.Type)
	}
	_ = e.UpdateState(domain.AgentCompleted, map[string]any{"task_id": task.ID, "last_status": string(res.Status)})
	return res, nil
}

// execute invokes each tool in order. Failures are captured per tool.
func (e *Executor) execute(ctx context.Context, task domain.Task, toolIDs []string) []domain.ToolOutcome {
	outcomes := make([]domain.ToolOutcome, 0, len(toolIDs))
	for _, id := range toolIDs {
		op, params := invocationFor(id, task)
		start := time.Now()
		out, err := e.tools.Execute(ctx, id, op, params)

		o := domain.ToolOutcome{
			ToolID:   id,
			Name:     e.toolName(id),
			Status:   domain.TaskCompleted,
			Output:   out,
			Duration: time.Since(start),
		}
		if err != nil {
			o.Status = domain.TaskError
			if errors.Is(err, domain.ErrTimeout) {
				o.Status = domain.TaskTimeout
			}
			o.Output = nil
			o.Error = err.Error()
			o.Code = domain.ErrorCodeOf(err)
			e.logger.Warn("tool failed", "task_id", task.ID, "tool_id", id, "operation", op, "error", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// validate turns a batch into the task result.
func (e *Executor) validate(taskID string, outcomes []domain.ToolOutcome) *domain.TaskResult {
	now := e.now()
	if len(outcomes) == 0 {
		return domain.ErrorResult(taskID, domain.ErrNoResults, now)
	}

	report := domain.ExecutionReport{Results: outcomes, Timestamp: now}
	var details []string
	for _, o := range outcomes {
		if o.Status != domain.TaskCompleted {
			details = append(details, o.ToolID+": "+o.Error)
		}
	}
	if len(details) > 0 {
		report.Warnings = &domain.Warnings{Message: partialFailureMessage, Details: details}
	}
	return &domain.TaskResult{
		TaskID:    taskID,
		Status:    domain.TaskCompleted,
		Result:    report,
		Timestamp: now,
	}
}

func (e *Executor) remember(taskID string, res *domain.TaskResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed++
	if taskID != "" {
		if _, ok := e.results[taskID]; !ok {
			e.order = append(e.order, taskID)
		}
		e.results[taskID] = res
		for len(e.order) > executorResultWindow {
			delete(e.results, e.order[0])
			e.order = e.order[1:]
		}
	}
	e.setTaskCount(e.processed)
}

// Result returns the stored result for a task id.
func (e *Executor) Result(taskID string) (*domain.TaskResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.results[taskID]
	return res, ok
}

func (e *Executor) toolName(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.names[id]; ok {
		return n
	}
	return id
}

// Cleanup releases every tool. Per-tool failures are logged by the tool set
// and never block the others. Calling it twice is a no-op.
func (e *Executor) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.initialized = false
	clear(e.results)
	e.order = nil
	e.mu.Unlock()

	if e.tools != nil {
		if err := e.tools.Cleanup(ctx); err != nil {
			e.logger.Warn("tool cleanup incomplete", "error", err)
		}
	}
	_ = e.UpdateState(domain.AgentShutdown, nil)
	e.publish(ctx, domain.EventAgentStopped, map[string]any{"agent_id": e.ID(), "kind": KindExecutor})
	e.logger.Info("executor stopped")
	return nil
}

// invocationFor maps a task onto the operation and params of one tool.
func invocationFor(toolID string, task domain.Task) (string, map[string]any) {
	md := task.Metadata
	params := map[string]any{}

	switch toolID {
	case domain.ToolCodeRunner:
		params["code"] = task.Content
		copyMeta(params, md, "timeout")
		return "run", params

	case domain.ToolFileProcessor:
		op := task.MetaString("operation")
		if op == "" {
			op = "read"
		}
		params["path"] = task.MetaString("file_path")
		if payload, ok := md["payload"]; ok {
			params["content"] = payload
		} else {
			params["content"] = task.Content
		}
		copyMeta(params, md, "format")
		return op, params

	case domain.ToolNetwork:
		method := task.MetaString("method")
		if method == "" {
			method = "GET"
		}
		params["method"] = method
		params["url"] = task.MetaString("url")
		copyMeta(params, md, "headers", "body", "query", "timeout")
		return "request", params

	case domain.ToolDataAnalyzer:
		params["data"] = md["data"]
		analysisType := task.MetaString("analysis_type")
		if analysisType == "" {
			analysisType = "basic"
		}
		params["analysis_type"] = analysisType
		return "analyze", params
	}

	return "run", params
}

func copyMeta(dst, md map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := md[k]; ok && v != nil {
			dst[k] = v
		}
	}
}
