package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/powerdown/pkg/config"
	"github.com/openfroyo/powerdown/pkg/engine"
	"github.com/openfroyo/powerdown/pkg/policy"
	"github.com/openfroyo/powerdown/pkg/prism"
	"github.com/openfroyo/powerdown/pkg/remote"
	"github.com/openfroyo/powerdown/pkg/telemetry"
	"github.com/openfroyo/powerdown/pkg/transports/ssh"
)

// loadConfig reads configuration from every source, applies global flag
// overrides and lets the caller apply its own before validating.
func loadConfig(overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadUnvalidated(config.LoadOptions{
		Path:    configPath,
		EnvFile: envFile,
	})
	if err != nil {
		return nil, engine.NewRunError(engine.ErrorClassConfig, "", "failed to load configuration", err)
	}

	if logLevel != "" {
		cfg.Telemetry.LogLevel = strings.ToLower(logLevel)
	} else if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.LogFormat = "json"
	}
	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, engine.NewRunError(engine.ErrorClassConfig, "", "invalid configuration", err)
	}
	return cfg, nil
}

// newTelemetry builds the run's telemetry from configuration.
func newTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = buildVersion
	tcfg.Logging.Level = cfg.Telemetry.LogLevel
	tcfg.Logging.Format = cfg.Telemetry.LogFormat
	tcfg.Tracing.Exporter = cfg.Telemetry.TraceExporter
	tcfg.Tracing.Endpoint = cfg.Telemetry.TraceEndpoint
	tcfg.Tracing.Writer = os.Stderr
	tcfg.Metrics.TextfilePath = cfg.Telemetry.MetricsTextfile

	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, engine.NewRunError(engine.ErrorClassConfig, "", "failed to initialize telemetry", err)
	}
	return tel, nil
}

// newPrismClient creates the cluster API client, recording every request
// in the run's metrics.
func newPrismClient(cfg *config.Config, tel *telemetry.Telemetry) (*prism.Client, error) {
	client, err := prism.NewClient(prism.Config{
		Address:   cfg.Cluster.Address,
		Port:      cfg.Cluster.Port,
		Username:  cfg.Cluster.Username,
		Password:  cfg.Cluster.Password,
		VerifyTLS: cfg.Cluster.VerifyTLS,
		Timeout:   cfg.Cluster.Timeout.Std(),
	},
		prism.WithRecorder(tel.Metrics),
		prism.WithLogger(tel.Logger.NewComponentLogger("prism").Zerolog()),
	)
	if err != nil {
		return nil, engine.NewRunError(engine.ErrorClassConfig, "", "failed to create cluster client", err)
	}
	return client, nil
}

// newChannel creates the remote command channel selected by remote.mode.
func newChannel(cfg *config.Config, tel *telemetry.Telemetry) (remote.Channel, error) {
	logger := tel.Logger.NewComponentLogger("remote").Zerolog()

	switch cfg.Remote.Mode {
	case config.RemoteModeDryRun:
		return remote.NewDryRunChannel(logger), nil

	case config.RemoteModeSSH:
		ch, err := newSSHChannel(cfg, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil

	default:
		return nil, engine.NewRunError(engine.ErrorClassConfig, "",
			fmt.Sprintf("unknown remote mode %q", cfg.Remote.Mode), nil)
	}
}

// newSSHChannel creates the SSH command channel to the controller VM.
func newSSHChannel(cfg *config.Config, logger zerolog.Logger) (*remote.SSHChannel, error) {
	sshCfg := ssh.DefaultConfig(cfg.Remote.Host, cfg.Remote.User)
	sshCfg.Port = cfg.Remote.Port
	sshCfg.Password = cfg.Remote.Password
	if cfg.Remote.PrivateKeyPath != "" {
		sshCfg.AuthMethod = ssh.AuthMethodKey
		sshCfg.PrivateKeyPath = cfg.Remote.PrivateKeyPath
	}
	if cfg.Remote.KnownHostsPath != "" {
		sshCfg.KnownHostsPath = cfg.Remote.KnownHostsPath
	}
	sshCfg.StrictHostKeyChecking = cfg.Remote.StrictHostKeyChecking
	if d := cfg.Remote.CommandTimeout.Std(); d > 0 {
		sshCfg.CommandTimeout = d
	}

	client, err := ssh.NewSSHClient(sshCfg)
	if err != nil {
		return nil, engine.NewRunError(engine.ErrorClassConfig, "", "invalid SSH configuration", err)
	}
	return remote.NewSSHChannel(client, logger), nil
}

// newPolicy prepares the protection policy, or returns nil when disabled.
func newPolicy(cfg *config.Config, tel *telemetry.Telemetry) (engine.ProtectionPolicy, *policy.Engine, error) {
	if !cfg.Policy.Enabled {
		return nil, nil, nil
	}
	eng, err := policy.NewEngine(tel.Logger.Zerolog(), policy.Options{
		Package: cfg.Policy.Package,
		Builtin: cfg.Policy.Builtin,
		Paths:   cfg.Policy.Paths,
	})
	if err != nil {
		return nil, nil, engine.NewRunError(engine.ErrorClassConfig, engine.PhaseClassify, "failed to load protection policies", err)
	}
	return eng, eng, nil
}

// engineOptions maps configuration onto run options.
func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		DryRun:   cfg.Remote.Mode == config.RemoteModeDryRun,
		SkipApps: !cfg.Apps.Enabled,
		Apps: engine.AppStopOptions{
			ActionName:     cfg.Apps.StopActionName,
			WaitForStopped: cfg.Apps.WaitForStopped,
			MaxPolls:       cfg.Apps.MaxPolls,
			PollInterval:   cfg.Apps.PollInterval.Std(),
			FailOnTimeout:  cfg.Apps.FailOnTimeout,
		},
		Classifier: engine.ClassifierOptions{
			FirstNICOnly: cfg.Classifier.FirstNICOnly,
		},
		Convergence: engine.ConvergenceOptions{
			MaxAttempts: cfg.Shutdown.MaxAttempts,
			ForceOff:    cfg.Shutdown.ForceOff,
			Backoff: engine.BackoffOptions{
				Initial: cfg.Shutdown.PollInterval.Std(),
				Max:     cfg.Shutdown.MaxPollInterval.Std(),
				Factor:  cfg.Shutdown.BackoffFactor,
				Jitter:  cfg.Shutdown.Jitter,
			},
		},
	}
}

// closeChannel releases ch, logging failures.
func closeChannel(ch remote.Channel) {
	if err := ch.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close remote channel")
	}
}
