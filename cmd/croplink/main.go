package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/croplink/am"
	"github.com/teranos/croplink/cmd/croplink/commands"
	"github.com/teranos/croplink/display"
	"github.com/teranos/croplink/logger"
)

var rootCmd = &cobra.Command{
	Use:   "croplink",
	Short: "croplink - agricultural data ingestion pipeline",
	Long: `croplink - multi-tenant ingestion of agricultural data.

Blobs landing in storage and scheduled pulls from third-party APIs are
admitted as ingestion jobs, processed into canonical documents, linked to
farmers, factories, grading models and regions, and stored once per
distinct content.

Available commands:
  serve      - Run intake, workers, scheduler and the admin API
  am         - Show and validate configuration
  db         - Database maintenance
  jobs       - Inspect ingestion jobs
  deadletter - Inspect and replay dead-lettered jobs
  sources    - List loaded source configs
  version    - Show version information

Examples:
  croplink serve -v               # Run the pipeline
  croplink jobs ls --status queued
  croplink deadletter replay 5d0c...`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'am show' prints config to stdout; keep it free of log lines
		if cmd.Name() == "show" && cmd.Parent() != nil && cmd.Parent().Name() == "am" {
			return nil
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		if cmd.Name() == "serve" && verbosity == 0 {
			verbosity = logger.VerbosityInfo
		}

		jsonLogs := false
		if cfg, err := am.Load(); err == nil {
			jsonLogs = cfg.Server.JSONLogs
			if cfg.Server.LogTheme != "" {
				logger.SetTheme(cfg.Server.LogTheme)
			}
		}

		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool(display.JSONFlag, false, "Output JSON instead of tables")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.DeadLetterCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SourcesCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
