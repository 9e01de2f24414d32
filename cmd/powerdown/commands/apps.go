package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/powerdown/pkg/config"
	"github.com/openfroyo/powerdown/pkg/engine"
)

func newAppsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage cluster applications",
		Long:  "Inspect and stop applications managed by the cluster's self-service platform.",
	}

	cmd.AddCommand(newAppsStopCommand())

	return cmd
}

func newAppsStopCommand() *cobra.Command {
	var (
		noWait     bool
		actionName string
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop every managed application",
		Long: `Run the stop action of every managed application and, unless --no-wait
is given, poll each one until it reports stopped. Applications without a
stop action are skipped. VMs are not touched.`,
		Example: `  powerdown apps stop --config powerdown.yaml
  powerdown apps stop --config powerdown.yaml --action action_shutdown --no-wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				if noWait {
					c.Apps.WaitForStopped = false
				}
				if actionName != "" {
					c.Apps.StopActionName = actionName
				}
			})
			if err != nil {
				return err
			}

			tel, err := newTelemetry(cfg)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			client, err := newPrismClient(cfg, tel)
			if err != nil {
				return err
			}

			opts := engineOptions(cfg)
			apps, err := engine.NewAppStopDriver(client, opts.Apps, tel).StopAll(cmd.Context())
			if apps != nil {
				if printErr := printApps(apps); printErr != nil {
					log.Warn().Err(printErr).Msg("Failed to print applications")
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for applications to report stopped")
	cmd.Flags().StringVar(&actionName, "action", "", "name of the stop action (default from config)")

	return cmd
}
