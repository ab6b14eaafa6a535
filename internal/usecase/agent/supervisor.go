package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
)

// recentAlerts is how many alerts the alert operation returns.
const recentAlerts = 10

// SupervisorDeps wires a Supervisor.
type SupervisorDeps struct {
	Directory domain.AgentDirectory
	Config    config.SupervisorConfig
	Bus       domain.EventBus
	Logger    *slog.Logger
	Now       func() time.Time
}

// Supervisor polls every registered agent, keeps a rolling metric window per
// agent and raises alerts for agents in error or gone quiet.
type Supervisor struct {
	*Base
	dir domain.AgentDirectory
	cfg config.SupervisorConfig

	mu         sync.Mutex
	snapshots  map[string]domain.Snapshot
	metrics    map[string][]domain.Metric
	alerts     []domain.Alert
	alertTotal int
	cycles     int
	processed  int

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ domain.Agent = (*Supervisor)(nil)

// NewSupervisor creates an uninitialized Supervisor. Zero config values
// fall back to the defaults.
func NewSupervisor(deps SupervisorDeps) *Supervisor {
	cfg := deps.Config
	def := config.Defaults().Supervisor
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if cfg.MetricWindow <= 0 {
		cfg.MetricWindow = def.MetricWindow
	}
	if cfg.AlertWindow <= 0 {
		cfg.AlertWindow = def.AlertWindow
	}
	return &Supervisor{
		Base:      newBase(KindSupervisor, deps.Bus, deps.Logger, deps.Now),
		dir:       deps.Directory,
		cfg:       cfg,
		snapshots: make(map[string]domain.Snapshot),
		metrics:   make(map[string][]domain.Metric),
	}
}

// Initialize starts the monitoring loop and reports ready at once; the first
// cycle runs on the loop without delay. The loop outlives ctx; only Cleanup
// stops it.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return nil
	}
	if s.dir == nil {
		err := domain.NewSubSystemError("agent", "Supervisor.Initialize", domain.ErrInitialization, "no agent directory")
		s.HandleError(ctx, "Supervisor.Initialize", err)
		return err
	}
	_ = s.UpdateState(domain.AgentInitialized, nil)
	_ = s.UpdateState(domain.AgentReady, map[string]any{"poll_interval": s.cfg.PollInterval.String()})

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	s.publish(ctx, domain.EventAgentInitialized, map[string]any{"agent_id": s.ID(), "kind": KindSupervisor})
	s.logger.Info("supervisor initialized", "poll_interval", s.cfg.PollInterval, "stale_after", s.cfg.StaleAfter)
	return nil
}

func (s *Supervisor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	s.publish(ctx, domain.EventAgentStarted, map[string]any{"agent_id": s.ID(), "kind": KindSupervisor})

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := s.cfg.PollInterval
		if err := s.safeCycle(ctx); err != nil {
			s.logger.Warn("monitoring cycle failed", "error", err, "backoff", s.cfg.ErrorBackoff)
			wait = s.cfg.ErrorBackoff
		}
		timer.Reset(wait)
	}
}

func (s *Supervisor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitoring cycle panic: %v", r)
		}
	}()
	return s.RunCycle(ctx)
}

// RunCycle performs one snapshot, metric and alert pass.
func (s *Supervisor) RunCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()

	states := make(map[string]domain.AgentState)
	for _, id := range s.dir.List() {
		a, err := s.dir.Get(id)
		if err != nil {
			// unregistered between List and Get
			continue
		}
		states[id] = a.State()
	}

	var raised []domain.Alert

	s.mu.Lock()
	s.cycles++
	s.snapshots = make(map[string]domain.Snapshot, len(states))
	for id, st := range states {
		s.snapshots[id] = domain.Snapshot{Status: st.Status, LastUpdate: st.LastUpdate}

		window := append(s.metrics[id], domain.Metric{
			Timestamp:  now,
			Status:     st.Status,
			TaskCount:  st.TaskCount,
			LastUpdate: st.LastUpdate,
		})
		if over := len(window) - s.cfg.MetricWindow; over > 0 {
			window = append([]domain.Metric(nil), window[over:]...)
		}
		s.metrics[id] = window

		if st.Status == domain.AgentError {
			raised = append(raised, domain.Alert{
				Timestamp: now,
				AgentID:   id,
				Level:     domain.AlertError,
				Message:   fmt.Sprintf("Agent %s is in error state", id),
			})
		}
		if idle := now.Sub(st.LastUpdate); idle > s.cfg.StaleAfter {
			raised = append(raised, domain.Alert{
				Timestamp: now,
				AgentID:   id,
				Level:     domain.AlertWarning,
				Message:   fmt.Sprintf("Agent %s has not updated for %s", id, idle.Truncate(time.Second)),
			})
		}
	}
	for id := range s.metrics {
		if _, ok := states[id]; !ok {
			delete(s.metrics, id)
		}
	}
	s.alerts = append(s.alerts, raised...)
	s.alertTotal += len(raised)
	if over := len(s.alerts) - s.cfg.AlertWindow; over > 0 {
		s.alerts = append([]domain.Alert(nil), s.alerts[over:]...)
	}
	cycles := s.cycles
	s.mu.Unlock()

	for _, a := range raised {
		if a.Level == domain.AlertError {
			s.logger.Error("agent alert", "target", a.AgentID, "message", a.Message)
			s.publish(ctx, domain.EventAgentError, a)
			continue
		}
		s.logger.Warn("agent alert", "target", a.AgentID, "message", a.Message)
	}
	s.touch(map[string]any{"cycles": cycles})
	s.logger.Debug("monitoring cycle done", "cycle", cycles, "agents", len(states), "alerts", len(raised))
	return nil
}

// ProcessTask answers monitor, analyze and alert requests. Other task types
// produce an error result.
func (s *Supervisor) ProcessTask(ctx context.Context, task domain.Task) (res *domain.TaskResult, err error) {
	s.loopMu.Lock()
	running := s.cancel != nil
	s.loopMu.Unlock()
	if !running {
		return nil, domain.NewSubSystemError("agent", "Supervisor.ProcessTask", domain.ErrNotInitialized, s.ID())
	}

	defer func() {
		if err != nil {
			res, err = domain.ErrorResult(task.ID, err, s.now()), nil
		}
	}()
	defer s.recoverPanic(ctx, "Supervisor.ProcessTask", &err)

	now := s.now()
	var out any
	switch task.Type {
	case domain.SupervisorMonitor:
		out = domain.MonitorReport{Agents: s.Snapshots(), Timestamp: now}
	case domain.SupervisorAnalyze:
		out = s.Analyze()
	case domain.SupervisorAlert:
		out = s.AlertReport()
	default:
		return domain.ErrorResult(task.ID,
			domain.NewSubSystemError("agent", "Supervisor.ProcessTask", domain.ErrUnsupportedTask, task.Type), now), nil
	}

	s.mu.Lock()
	s.processed++
	n := s.processed
	s.mu.Unlock()
	s.setTaskCount(n)

	return &domain.TaskResult{
		TaskID:    task.ID,
		Status:    domain.TaskCompleted,
		Result:    out,
		Timestamp: now,
	}, nil
}

// Snapshots returns the latest per-agent snapshot.
func (s *Supervisor) Snapshots() map[string]domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.snapshots)
}

// Metrics returns a copy of the metric window for one agent.
func (s *Supervisor) Metrics(agentID string) []domain.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Metric(nil), s.metrics[agentID]...)
}

// Analyze summarises the metric window of every observed agent.
func (s *Supervisor) Analyze() map[string]domain.AgentAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.AgentAnalysis, len(s.metrics))
	for id, window := range s.metrics {
		if len(window) == 0 {
			continue
		}
		total := 0
		for _, m := range window {
			total += m.TaskCount
		}
		out[id] = domain.AgentAnalysis{
			TotalTasks:    total,
			CurrentStatus: window[len(window)-1].Status,
			Trend:         ClassifyTrend(window),
		}
	}
	return out
}

// AlertReport returns the most recent alerts and the total ever raised.
func (s *Supervisor) AlertReport() domain.AlertReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(len(s.alerts)-recentAlerts, 0)
	return domain.AlertReport{
		Alerts: append([]domain.Alert{}, s.alerts[start:]...),
		Total:  s.alertTotal,
	}
}

// Alerts returns every retained alert, oldest first.
func (s *Supervisor) Alerts() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Alert(nil), s.alerts...)
}

// ClassifyTrend compares the task counts of the two most recent metrics.
func ClassifyTrend(window []domain.Metric) domain.Trend {
	if len(window) < 2 {
		return domain.TrendStable
	}
	prev, last := window[len(window)-2].TaskCount, window[len(window)-1].TaskCount
	switch {
	case last > prev:
		return domain.TrendIncreasing
	case last < prev:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

// Cleanup stops the loop, waits for it to exit and drops all collected data.
func (s *Supervisor) Cleanup(ctx context.Context) error {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()

	if cancel == nil {
		if s.Status() != domain.AgentShutdown {
			_ = s.UpdateState(domain.AgentShutdown, nil)
		}
		return nil
	}
	cancel()
	<-done

	s.mu.Lock()
	clear(s.snapshots)
	clear(s.metrics)
	s.alerts = nil
	s.alertTotal = 0
	s.mu.Unlock()

	_ = s.UpdateState(domain.AgentShutdown, nil)
	s.publish(ctx, domain.EventAgentStopped, map[string]any{"agent_id": s.ID(), "kind": KindSupervisor})
	s.logger.Info("supervisor stopped")
	return nil
}
