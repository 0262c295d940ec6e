// Package main provides the entry point for the watchdog CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ckcm0210/watchdog-monitoring/cmd/watchdog/commands"
	"github.com/ckcm0210/watchdog-monitoring/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Watchdog - spreadsheet change monitoring",
		Long: `Watchdog monitors shared spreadsheet files for cell-level changes.

Commands:
  watch     Watch directories and record every cell change
  seed      Build initial baselines for existing workbooks
  migrate   Re-encode stored baselines with a different codec`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewWatchCommand())
	rootCmd.AddCommand(commands.NewSeedCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "watchdog %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
