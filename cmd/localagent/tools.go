package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"localagent/internal/adapter/tool"
	"localagent/internal/infra/config"
	"localagent/internal/infra/logger"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the built-in tools and their operations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		log := logger.Discard()

		builtins, err := buildTools(cfg, log)
		if err != nil {
			return err
		}
		m := tool.NewManager(nil, log)
		defer m.Cleanup(cmd.Context())
		for _, t := range builtins {
			if err := m.Register(t); err != nil {
				return err
			}
		}

		descs := m.List()
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), descs)
		}
		bold := color.New(color.Bold).SprintFunc()
		for _, d := range descs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s [%s]\n", bold(d.ID), d.Name, d.Category)
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", d.Description)
			fmt.Fprintf(cmd.OutOrStdout(), "    operations: %s\n", strings.Join(d.Operations, ", "))
		}
		return nil
	},
}
