package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"localagent/internal/adapter/store"
	"localagent/internal/adapter/tool"
	"localagent/internal/domain"
	"localagent/internal/infra/config"
	"localagent/internal/security"
	"localagent/internal/usecase/agent"
	"localagent/internal/usecase/eventbus"
	"localagent/internal/usecase/multiagent"
	"localagent/internal/usecase/scheduling"
)

// Runtime holds every long-lived component of a running node.
type Runtime struct {
	Config     *config.Config
	Log        *slog.Logger
	Bus        *eventbus.Bus
	Registry   *multiagent.Registry
	Broker     *multiagent.Broker
	Tools      *tool.Manager
	Store      *store.SQLiteTaskStore
	Controller *agent.Controller
	Scheduler  *scheduling.Scheduler
}

// buildTools constructs the four built-in tools from cfg.
func buildTools(cfg *config.Config, log *slog.Logger) ([]domain.Tool, error) {
	sandbox, err := security.EnsureSandbox(cfg.Tools.DataDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	var netOpts []tool.NetworkOption
	if cfg.Tools.Network.BlockPrivate {
		netOpts = append(netOpts, tool.WithURLGuard(security.NewURLGuard(nil)))
	}

	return []domain.Tool{
		tool.NewCodeRunner(cfg.Tools.Code, sandbox.Root(), log),
		tool.NewFileProcessor(sandbox, log),
		tool.NewNetworkTool(cfg.Tools.Network, log, netOpts...),
		tool.NewDataAnalyzer(cfg.Tools.Analyzer),
	}, nil
}

// initRuntime wires and initializes the agent system. On error every
// component built so far is released.
func initRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			rt.Close(context.WithoutCancel(ctx))
		}
	}()

	// 1. Event bus
	rt.Bus = eventbus.New(log, eventbus.Options{HistorySize: cfg.EventBus.HistorySize})

	// 2. Registry + broker
	rt.Registry = multiagent.NewRegistry(log)
	rt.Broker = multiagent.NewBroker(rt.Registry, log)

	// 3. Tools
	builtins, err := buildTools(cfg, log)
	if err != nil {
		return nil, err
	}
	rt.Tools = tool.NewManager(rt.Bus, log)

	// 4. Task store (optional)
	var taskStore domain.TaskStore
	if cfg.Store.Enabled {
		rt.Store, err = store.NewSQLiteTaskStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("task store: %w", err)
		}
		taskStore = rt.Store
		log.Info("task store enabled", "path", cfg.Store.Path)
	}

	// 5. Controller (creates executor + supervisor)
	rt.Controller = agent.NewController(agent.ControllerDeps{
		Registry:   rt.Registry,
		Bus:        rt.Bus,
		Store:      taskStore,
		Logger:     log,
		Tools:      rt.Tools,
		Builtins:   builtins,
		Supervisor: cfg.Supervisor,
	})
	if err := rt.Controller.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	rt.Registry.Register(rt.Controller)

	// 6. Scheduler (if enabled)
	if cfg.Scheduler.Enabled {
		rt.Scheduler, err = initScheduler(cfg, rt)
		if err != nil {
			return nil, err
		}
	}

	eventbus.PublishJSON(ctx, rt.Bus, log, domain.EventSystemStarted, "system", map[string]any{
		"agents": rt.Registry.List(),
	})
	return rt, nil
}

func initScheduler(cfg *config.Config, rt *Runtime) (*scheduling.Scheduler, error) {
	s := scheduling.NewScheduler(rt.Log)
	s.RegisterAction(scheduling.ActionSupervisorReport,
		scheduling.SupervisorReportAction(rt.Broker, rt.Controller.SupervisorID(), rt.Bus, rt.Log))
	s.RegisterAction(scheduling.ActionEventHistoryClear,
		scheduling.EventHistoryClearAction(rt.Bus, rt.Log))
	s.RegisterAction(scheduling.ActionSubmitTask,
		scheduling.SubmitTaskAction(rt.Controller, rt.Log))

	for _, task := range scheduling.TasksFromConfig(cfg.Scheduler.Tasks) {
		if err := s.AddTask(task); err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}
	return s, nil
}

// Close stops components in reverse dependency order. It is safe on a
// partially built runtime.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Scheduler != nil {
		if err := rt.Scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if rt.Bus != nil {
		eventbus.PublishJSON(ctx, rt.Bus, rt.Log, domain.EventSystemStopped, "system", nil)
	}
	if rt.Controller != nil {
		rt.Registry.Unregister(rt.Controller.ID())
		if err := rt.Controller.Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("controller: %w", err))
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("task store: %w", err))
		}
	}
	if rt.Bus != nil {
		rt.Bus.Close()
	}
	return errors.Join(errs...)
}
