package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/powerdown/pkg/config"
	"github.com/openfroyo/powerdown/pkg/engine"
	"github.com/openfroyo/powerdown/pkg/remote"
	"github.com/openfroyo/powerdown/pkg/telemetry"
)

// shutdownTimeout bounds telemetry flushing after a run.
const shutdownTimeout = 10 * time.Second

func newRunCommand() *cobra.Command {
	var (
		dryRun      bool
		skipApps    bool
		maxAttempts int
		noForceOff  bool
		reportPath  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Shut down all guest VMs",
		Long: `Run a full shutdown: classify infrastructure VMs, stop managed
applications, then send graceful shutdowns to every remaining powered-on
guest VM until none are left or the attempt budget is spent.

With --dry-run no command reaches the cluster; the commands that would have
been sent are logged and listed in the report.`,
		Example: `  # Preview a shutdown
  powerdown run --config powerdown.yaml --dry-run

  # Shut down, giving guests three attempts before forcing power-off
  powerdown run --config powerdown.yaml --max-attempts 3

  # Write a machine-readable report
  powerdown run --config powerdown.yaml --report /var/log/powerdown.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				if dryRun {
					c.Remote.Mode = config.RemoteModeDryRun
				}
				if skipApps {
					c.Apps.Enabled = false
				}
				if cmd.Flags().Changed("max-attempts") {
					c.Shutdown.MaxAttempts = maxAttempts
				}
				if noForceOff {
					c.Shutdown.ForceOff = false
				}
				if reportPath != "" {
					c.Report.Path = reportPath
				}
			})
			if err != nil {
				return err
			}
			return runShutdown(cmd.Context(), cfg)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log commands instead of sending them")
	cmd.Flags().BoolVar(&skipApps, "skip-apps", false, "do not stop managed applications")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", engine.DefaultMaxAttempts, "graceful shutdown attempts before escalating")
	cmd.Flags().BoolVar(&noForceOff, "no-force-off", false, "do not force power-off on escalation")
	cmd.Flags().StringVar(&reportPath, "report", "", "write the run report to this file")

	return cmd
}

func runShutdown(ctx context.Context, cfg *config.Config) error {
	tel, err := newTelemetry(cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(tel)

	client, err := newPrismClient(cfg, tel)
	if err != nil {
		return err
	}

	ch, err := newChannel(cfg, tel)
	if err != nil {
		return err
	}
	defer closeChannel(ch)

	pol, _, err := newPolicy(cfg, tel)
	if err != nil {
		return err
	}

	log.Info().
		Str("cluster", cfg.Cluster.Address).
		Str("mode", cfg.Remote.Mode).
		Int("max_attempts", cfg.Shutdown.MaxAttempts).
		Msg("Starting shutdown run")

	orch := engine.NewOrchestrator(client, ch, pol, engineOptions(cfg), tel)
	report, runErr := orch.Run(ctx)

	reportErr := publishReport(ctx, cfg, ch, report)
	if err := tel.Metrics.WriteTextfile(cfg.Telemetry.MetricsTextfile); err != nil {
		log.Warn().Err(err).Str("path", cfg.Telemetry.MetricsTextfile).Msg("Failed to write metrics textfile")
	}

	if report != nil {
		if err := printReport(report); err != nil {
			return err
		}
	}

	switch {
	case runErr != nil:
		return runErr
	case reportErr != nil:
		return reportErr
	case report.Escalated():
		return fmt.Errorf("%w (%s): %d guest VM(s) still on: %s",
			engine.ErrEscalated, escalationNote(cfg, report), len(report.Remaining), strings.Join(report.Remaining, ", "))
	}
	return nil
}

// escalationNote says what escalation did to the remaining guest VMs.
func escalationNote(cfg *config.Config, report *engine.Report) string {
	switch {
	case !cfg.Shutdown.ForceOff:
		return "forced power-off disabled"
	case report.DryRun:
		return "dry run, power-off not sent"
	default:
		return "power-off sent"
	}
}

// publishReport writes the report locally and uploads it to the cluster
// when configured.
func publishReport(ctx context.Context, cfg *config.Config, ch remote.Channel, report *engine.Report) error {
	if report == nil {
		return nil
	}

	if cfg.Report.Path != "" {
		if err := report.Write(cfg.Report.Path, cfg.Report.Format); err != nil {
			log.Error().Err(err).Str("path", cfg.Report.Path).Msg("Failed to write report")
			return engine.NewRunError(engine.ErrorClassConfig, engine.PhaseReport, "failed to write report", err)
		}
		log.Info().Str("path", cfg.Report.Path).Msg("Report written")
	}

	if cfg.Report.RemotePath != "" {
		up, ok := ch.(remote.Uploader)
		if !ok {
			log.Warn().Str("mode", cfg.Remote.Mode).Msg("Remote channel cannot upload reports, skipping")
			return nil
		}
		if err := report.Upload(ctx, up, cfg.Report.RemotePath, cfg.Report.Format); err != nil {
			log.Error().Err(err).Str("path", cfg.Report.RemotePath).Msg("Failed to upload report")
			return engine.NewRunError(engine.ErrorClassTransport, engine.PhaseReport, "failed to upload report", err)
		}
		log.Info().Str("path", cfg.Report.RemotePath).Msg("Report uploaded")
	}
	return nil
}

func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}
