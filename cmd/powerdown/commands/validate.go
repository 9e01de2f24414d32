package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/powerdown/pkg/config"
	"github.com/openfroyo/powerdown/pkg/engine"
	"github.com/openfroyo/powerdown/pkg/policy"
	"github.com/openfroyo/powerdown/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var (
		showConfig  bool
		checkRemote bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and protection policies",
		Long: `Load configuration from every source and validate it without contacting
the cluster.

This command checks:
  - YAML or CUE syntax and schema conformance
  - Field constraints (ports, durations, modes)
  - Protection policies compile (OPA/rego)

With --check-remote and remote.mode=ssh it also connects to the controller
VM and runs a no-op command.`,
		Example: `  # Validate a config file
  powerdown validate --config powerdown.cue

  # Show the effective configuration with secrets masked
  powerdown validate --config powerdown.yaml --show

  # Also verify the controller VM is reachable over SSH
  powerdown validate --config powerdown.yaml --check-remote`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var policies []policy.Policy
			if cfg.Policy.Enabled {
				tel := &telemetry.Telemetry{Logger: telemetry.NopLogger()}
				_, eng, err := newPolicy(cfg, tel)
				if err != nil {
					return err
				}
				policies = eng.Policies()
			}

			var remoteStatus map[string]any
			if checkRemote {
				remoteStatus, err = checkRemoteChannel(cmd.Context(), cfg)
				if err != nil {
					return err
				}
			}

			log.Info().
				Str("config", configPath).
				Int("policies", len(policies)).
				Msg("Configuration is valid")

			if jsonOutput {
				out := map[string]any{
					"valid":    true,
					"config":   cfg.Redacted(),
					"policies": policySummaries(policies),
				}
				if remoteStatus != nil {
					out["remote"] = remoteStatus
				}
				return printJSON(out)
			}

			if showConfig {
				out, err := yaml.Marshal(cfg.Redacted())
				if err != nil {
					return fmt.Errorf("failed to render configuration: %w", err)
				}
				fmt.Fprint(stdout, string(out))
			}

			if len(policies) > 0 {
				fmt.Fprintln(stdout, "\nProtection policies:")
				for _, p := range policySummaries(policies) {
					fmt.Fprintf(stdout, "  - %s (%s)\n", p["name"], p["source"])
				}
			}

			if remoteStatus != nil {
				if remoteStatus["checked"] == true {
					fmt.Fprintf(stdout, "\nRemote host %s@%s:%d is reachable\n",
						remoteStatus["user"], remoteStatus["host"], remoteStatus["port"])
				} else {
					fmt.Fprintf(stdout, "\nRemote check skipped in %s mode\n", remoteStatus["mode"])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showConfig, "show", false, "print the effective configuration")
	cmd.Flags().BoolVar(&checkRemote, "check-remote", false, "connect to the controller VM when remote.mode is ssh")

	return cmd
}

// checkRemoteChannel connects to the controller VM and runs a no-op command.
// Dry-run mode has no remote host and is reported as unchecked.
func checkRemoteChannel(ctx context.Context, cfg *config.Config) (map[string]any, error) {
	status := map[string]any{"mode": cfg.Remote.Mode, "checked": false}
	if cfg.Remote.Mode != config.RemoteModeSSH {
		return status, nil
	}

	ch, err := newSSHChannel(cfg, log.Logger)
	if err != nil {
		return nil, err
	}
	defer closeChannel(ch)

	info, err := ch.Check(ctx)
	if err != nil {
		return nil, engine.NewRunError(engine.Classify(err, engine.ErrorClassTransport), "", "remote host check failed", err)
	}

	log.Info().
		Str("host", info.Host).
		Str("user", info.User).
		Msg("Remote host is reachable")

	status["checked"] = true
	status["host"] = info.Host
	status["port"] = info.Port
	status["user"] = info.User
	status["connected_at"] = info.ConnectedAt
	return status, nil
}

// policySummaries drops the Rego source for display.
func policySummaries(policies []policy.Policy) []map[string]string {
	out := make([]map[string]string, 0, len(policies))
	for _, p := range policies {
		out = append(out, map[string]string{
			"name":        p.Name,
			"source":      p.Source,
			"description": p.Description,
		})
	}
	return out
}
