package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOut {
			printJSON(cmd.OutOrStdout(), map[string]string{"version": version, "go": runtime.Version()})
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "localagent version %s (%s)\n", version, runtime.Version())
	},
}
