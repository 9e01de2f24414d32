package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/powerdown/pkg/engine"
)

func newExclusionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exclusions",
		Short: "List the VMs a run would keep running",
		Long: `Classify the cluster's VMs and list the infrastructure VMs that a run
would never shut down, with the reason each one was excluded:

  management-plane  the Prism Central VM this cluster is registered to
  file-service      a file server VM
  policy            named by a protection policy`,
		Example: `  powerdown exclusions --config powerdown.yaml`,
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

			pol, _, err := newPolicy(cfg, tel)
			if err != nil {
				return err
			}

			opts := engineOptions(cfg)
			set, err := engine.NewClassifier(client, pol, opts.Classifier, tel).Classify(cmd.Context())
			if err != nil {
				return err
			}
			return printExclusions(set)
		},
	}
}
