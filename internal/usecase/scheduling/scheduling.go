package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionSupervisorReport  ScheduledAction = "supervisor_report"
	ActionEventHistoryClear ScheduledAction = "event_history_clear"
	ActionSubmitTask        ScheduledAction = "submit_task"
)

// jobTimeout bounds a single run of any scheduled action.
const jobTimeout = 5 * time.Minute

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	Action   ScheduledAction
	Task     domain.Task // for submit_task
	OneShot  bool
}

// ActionFunc runs one firing of a scheduled task.
type ActionFunc func(ctx context.Context, task ScheduledTask) error

// EntryInfo describes a scheduled task and its next firing.
type EntryInfo struct {
	Name    string    `json:"name"`
	Action  string    `json:"action"`
	NextRun time.Time `json:"next_run"`
}

// Scheduler runs tasks on a recurring schedule using cron expressions or durations.
type Scheduler struct {
	cron    *cron.Cron
	actions map[ScheduledAction]ActionFunc
	entries map[string]cron.EntryID // task name → entry
	tasks   map[string]ScheduledTask
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[ScheduledAction]ActionFunc),
		entries: make(map[string]cron.EntryID),
		tasks:   make(map[string]ScheduledTask),
		logger:  logger,
	}
}

// TasksFromConfig converts configured entries into scheduled tasks.
func TasksFromConfig(cfgs []config.ScheduledTaskConfig) []ScheduledTask {
	out := make([]ScheduledTask, 0, len(cfgs))
	for _, tc := range cfgs {
		out = append(out, ScheduledTask{
			Name:     tc.Name,
			Schedule: tc.Schedule,
			Action:   ScheduledAction(tc.Action),
			Task:     domain.Task{Type: tc.TaskType, Content: tc.Content, Metadata: tc.Metadata},
			OneShot:  tc.OneShot,
		})
	}
	return out
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. The schedule can be a cron expression or a duration string.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.Name == "" {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrInvalidInput, "task name is required")
	}
	if _, exists := s.entries[task.Name]; exists {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrDuplicate, task.Name)
	}
	fn, ok := s.actions[task.Action]
	if !ok {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("unknown action %q for task %q", task.Action, task.Name))
	}
	if task.Action == ActionSubmitTask && task.Task.Type == "" {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("task %q: submit_task needs a task type", task.Name))
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return domain.NewSubSystemError("scheduler", "Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("invalid schedule %q for task %q: %v", task.Schedule, task.Name, err))
	}

	logger := s.logger.With("task", task.Name, "action", string(task.Action))
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		// Read context under lock
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil || ctx.Err() != nil {
			logger.Debug("scheduler stopped, skipping task")
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		if err := s.run(taskCtx, fn, task); err != nil {
			logger.Warn("scheduled task failed", "error", err,
				"retryable", domain.IsRetryableError(err), "duration", time.Since(start))
		} else {
			logger.Info("scheduled task completed", "duration", time.Since(start))
		}

		if task.OneShot {
			s.remove(task.Name)
		}
	}))

	s.entries[task.Name] = entryID
	s.tasks[task.Name] = task
	logger.Info("task added to scheduler", "schedule", task.Schedule)
	return nil
}

// run invokes fn, converting a panic into an error so one bad action
// cannot take down the cron goroutine.
func (s *Scheduler) run(ctx context.Context, fn ActionFunc, task ScheduledTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled action panic: %v", r)
		}
	}()
	return fn(ctx, task)
}

// RemoveTask removes a scheduled task by name.
func (s *Scheduler) RemoveTask(name string) error {
	if !s.remove(name) {
		return domain.NewSubSystemError("scheduler", "Scheduler.RemoveTask", domain.ErrNotFound, name)
	}
	s.logger.Info("task removed from scheduler", "task", name)
	return nil
}

func (s *Scheduler) remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(entryID)
	delete(s.entries, name)
	delete(s.tasks, name)
	return true
}

// Entries lists scheduled tasks sorted by name. NextRun is zero until the
// scheduler is started.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for name, id := range s.entries {
		out = append(out, EntryInfo{
			Name:    name,
			Action:  string(s.tasks[name].Action),
			NextRun: s.cron.Entry(id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()

	// Wait outside the lock: a finishing one-shot job removes its entry.
	<-s.cron.Stop().Done()
	return nil
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
