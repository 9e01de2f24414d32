package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete powerdown configuration.
type Config struct {
	// Cluster is the Prism endpoint and its credentials.
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// Remote selects how power-control commands reach the cluster.
	Remote RemoteConfig `json:"remote" yaml:"remote"`

	// Shutdown tunes the convergence loop.
	Shutdown ShutdownConfig `json:"shutdown" yaml:"shutdown"`

	// Apps tunes the application stop driver.
	Apps AppsConfig `json:"apps" yaml:"apps"`

	// Classifier tunes infrastructure VM detection.
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`

	// Policy configures Rego protection rules.
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	// Telemetry configures logging, tracing and metrics output.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Report configures where the run report is written.
	Report ReportConfig `json:"report" yaml:"report"`
}

// ClusterConfig identifies the cluster management API.
type ClusterConfig struct {
	// Address is the cluster virtual IP or hostname.
	Address string `json:"address" yaml:"address" validate:"required,hostname_rfc1123|ip"`

	// Port is the Prism port.
	Port int `json:"port" yaml:"port" validate:"min=1,max=65535"`

	// Username is the Prism user.
	Username string `json:"username" yaml:"username" validate:"required"`

	// Password is the Prism password. It may come from the environment or
	// the OS keyring instead of the file.
	Password string `json:"password,omitempty" yaml:"password,omitempty" validate:"required"`

	// VerifyTLS enables certificate verification. Prism ships self-signed
	// certificates, so it is off by default.
	VerifyTLS bool `json:"verify_tls" yaml:"verify_tls"`

	// Timeout bounds a single API request.
	Timeout Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
}

// Remote channel modes.
const (
	RemoteModeSSH    = "ssh"
	RemoteModeDryRun = "dry-run"
)

// RemoteConfig configures the remote command channel.
type RemoteConfig struct {
	// Mode is "ssh" or "dry-run".
	Mode string `json:"mode" yaml:"mode" validate:"oneof=ssh dry-run"`

	// Host defaults to the cluster address.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	Port int `json:"port" yaml:"port" validate:"min=1,max=65535"`

	// User defaults to the CVM user "nutanix".
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// Password defaults to the cluster password when no key is set.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	PrivateKeyPath        string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`
	KnownHostsPath        string `json:"known_hosts_path,omitempty" yaml:"known_hosts_path,omitempty"`
	StrictHostKeyChecking bool   `json:"strict_host_key_checking" yaml:"strict_host_key_checking"`

	// CommandTimeout bounds one acli invocation.
	CommandTimeout Duration `json:"command_timeout" yaml:"command_timeout" validate:"gte=0"`
}

// ShutdownConfig tunes the convergence loop.
type ShutdownConfig struct {
	// MaxAttempts is the number of shutdown commands sent before escalating.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" validate:"gte=0"`

	// ForceOff sends a power-off command on escalation.
	ForceOff bool `json:"force_off" yaml:"force_off"`

	// PollInterval is the first wait between sampling rounds.
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval" validate:"gte=0"`

	// MaxPollInterval caps the backoff.
	MaxPollInterval Duration `json:"max_poll_interval" yaml:"max_poll_interval" validate:"gte=0"`

	// BackoffFactor multiplies the interval after each round.
	BackoffFactor float64 `json:"backoff_factor" yaml:"backoff_factor" validate:"gte=1"`

	// Jitter adds up to this fraction of the interval at random.
	Jitter float64 `json:"jitter" yaml:"jitter" validate:"gte=0,lte=1"`
}

// AppsConfig tunes the application stop driver.
type AppsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// StopActionName is the action looked up on each application.
	StopActionName string `json:"stop_action_name" yaml:"stop_action_name" validate:"required"`

	// WaitForStopped polls each application until it reports "stopped".
	WaitForStopped bool `json:"wait_for_stopped" yaml:"wait_for_stopped"`

	MaxPolls     int      `json:"max_polls" yaml:"max_polls" validate:"gte=1"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval" validate:"gte=0"`

	// FailOnTimeout makes an application that never stops abort the run.
	FailOnTimeout bool `json:"fail_on_timeout" yaml:"fail_on_timeout"`
}

// ClassifierConfig tunes infrastructure VM detection.
type ClassifierConfig struct {
	// FirstNICOnly matches the management IP against the first NIC only.
	FirstNICOnly bool `json:"first_nic_only" yaml:"first_nic_only"`
}

// PolicyConfig configures the Rego protection policy.
type PolicyConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin loads the bundled rule that protects CVMs by name.
	Builtin bool `json:"builtin" yaml:"builtin"`

	// Package is the Rego package whose "protected" set is queried.
	Package string `json:"package" yaml:"package" validate:"required"`

	// Paths lists .rego files or directories.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// TelemetryConfig configures logging, tracing and metrics output.
type TelemetryConfig struct {
	LogLevel        string `json:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat       string `json:"log_format" yaml:"log_format" validate:"oneof=console json"`
	TraceExporter   string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	TraceEndpoint   string `json:"trace_endpoint,omitempty" yaml:"trace_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
	MetricsTextfile string `json:"metrics_textfile,omitempty" yaml:"metrics_textfile,omitempty"`
}

// ReportConfig configures the run report.
type ReportConfig struct {
	// Path is a local file; empty disables the local report.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// RemotePath uploads the report to the cluster over SFTP. Only used in
	// ssh mode.
	RemotePath string `json:"remote_path,omitempty" yaml:"remote_path,omitempty"`

	Format string `json:"format" yaml:"format" validate:"oneof=json yaml"`
}

// DefaultConfig returns the configuration every source is layered onto.
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Port:    9440,
			Timeout: Duration(30 * time.Second),
		},
		Remote: RemoteConfig{
			Mode:           RemoteModeDryRun,
			Port:           22,
			CommandTimeout: Duration(10 * time.Minute),
		},
		Shutdown: ShutdownConfig{
			MaxAttempts:     5,
			ForceOff:        true,
			PollInterval:    Duration(30 * time.Second),
			MaxPollInterval: Duration(2 * time.Minute),
			BackoffFactor:   1.5,
			Jitter:          0.1,
		},
		Apps: AppsConfig{
			Enabled:        true,
			StopActionName: "action_stop",
			WaitForStopped: true,
			MaxPolls:       30,
			PollInterval:   Duration(10 * time.Second),
		},
		Policy: PolicyConfig{
			Enabled: true,
			Builtin: true,
			Package: "powerdown.protection",
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			LogFormat:     "console",
			TraceExporter: "none",
		},
		Report: ReportConfig{
			Format: "json",
		},
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Policy.Paths = append([]string(nil), c.Policy.Paths...)
	if out.Cluster.Password != "" {
		out.Cluster.Password = redactedValue
	}
	if out.Remote.Password != "" {
		out.Remote.Password = redactedValue
	}
	return &out
}

const redactedValue = "********"

// Duration is a time.Duration that reads and writes Go duration strings
// ("30s", "2m") in YAML, JSON and CUE.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	// File is the source file path, when known.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the dotted setting path (e.g. "cluster.port").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
