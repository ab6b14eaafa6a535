package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"localagent/internal/infra/config"
	"localagent/internal/infra/logger"
	"localagent/internal/infra/tracer"
)

var (
	cfgPath string
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "localagent",
	Short: "Local multi-agent task orchestrator",
	Long: `localagent assigns tasks to a controller agent, which plans them and runs
the built-in tools through an executor while a supervisor watches agent health.

Tasks are JSON objects: {"type": "file_operation", "content": "...", "metadata": {...}}.
Known types: code_analysis, file_operation, data_processing, network_request.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "machine-readable JSON output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigPath() string {
	if p := os.Getenv("LOCALAGENT_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}

// bootstrap loads config and builds the logger and tracer. The returned
// function releases both.
func bootstrap(ctx context.Context) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, nil, nil, fmt.Errorf("tracer: %w", err)
	}

	return cfg, log, func() {
		if err := tracerShutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
		logCloser()
	}, nil
}
