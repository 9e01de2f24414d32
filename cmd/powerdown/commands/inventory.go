package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/powerdown/pkg/engine"
)

func newInventoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Show cluster hosts and VMs",
		Long: `Query the cluster and print its hosts with their hypervisor, controller VM
and IPMI addresses, followed by every VM with its power state and IPs.
Nothing is changed on the cluster.`,
		Example: `  powerdown inventory --config powerdown.yaml
  powerdown inventory --config powerdown.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
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

			inv, err := engine.CollectInventory(cmd.Context(), client)
			if err != nil {
				return err
			}
			return printInventory(inv)
		},
	}
}
