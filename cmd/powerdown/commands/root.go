package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	envFile    string
	verbose    bool
	jsonOutput bool
	logLevel   string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "powerdown",
		Short: "powerdown - orderly cluster VM shutdown",
		Long: `powerdown shuts down every guest VM on a Nutanix cluster while keeping
its infrastructure VMs running.

A run:
  - classifies infrastructure VMs (management plane, file services, policy)
  - stops managed applications and waits for them to report stopped
  - sends graceful shutdowns to the remaining guest VMs until none are on
  - forces power-off when the attempt budget runs out

Exit status is 0 when every guest VM shut down, 1 on error and 2 when the
attempt budget ran out with guest VMs still on.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(log.Logger.GetLevel())
			}
			if verbose {
				log.Logger = log.Logger.Level(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.yaml, .yml or .cue)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with credentials (default .env when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newInventoryCommand())
	rootCmd.AddCommand(newExclusionsCommand())
	rootCmd.AddCommand(newAppsCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
