package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Cluster.Address = "10.0.0.41"
	cfg.Cluster.Username = "admin"
	cfg.Cluster.Password = "secret"
	cfg.ApplyDefaults()
	return cfg
}

func paths(err error) []string {
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, len(verrs))
	for i, e := range verrs {
		out[i] = e.Path
	}
	return out
}

func TestDefaultConfigNeedsCluster(t *testing.T) {
	err := DefaultConfig().Validate()
	require.Error(t, err)

	got := paths(err)
	assert.Contains(t, got, "cluster.address")
	assert.Contains(t, got, "cluster.username")
	assert.Contains(t, got, "cluster.password")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Config)
		wantPath string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "hostname address", modify: func(c *Config) { c.Cluster.Address = "prism.example.com" }},
		{name: "bad address", modify: func(c *Config) { c.Cluster.Address = "not a host" }, wantPath: "cluster.address"},
		{name: "port out of range", modify: func(c *Config) { c.Cluster.Port = 70000 }, wantPath: "cluster.port"},
		{name: "unknown mode", modify: func(c *Config) { c.Remote.Mode = "telnet" }, wantPath: "remote.mode"},
		{
			name: "ssh without credentials",
			modify: func(c *Config) {
				c.Remote.Mode = RemoteModeSSH
				c.Remote.Password = ""
			},
			wantPath: "remote",
		},
		{
			name: "ssh with key",
			modify: func(c *Config) {
				c.Remote.Mode = RemoteModeSSH
				c.Remote.Password = ""
				c.Remote.PrivateKeyPath = "/root/.ssh/id_ed25519"
			},
		},
		{
			name:     "strict host keys without known_hosts",
			modify:   func(c *Config) { c.Remote.StrictHostKeyChecking = true },
			wantPath: "remote.known_hosts_path",
		},
		{name: "negative attempts", modify: func(c *Config) { c.Shutdown.MaxAttempts = -1 }, wantPath: "shutdown.max_attempts"},
		{name: "zero attempts", modify: func(c *Config) { c.Shutdown.MaxAttempts = 0 }},
		{name: "backoff factor below one", modify: func(c *Config) { c.Shutdown.BackoffFactor = 0.5 }, wantPath: "shutdown.backoff_factor"},
		{name: "jitter above one", modify: func(c *Config) { c.Shutdown.Jitter = 2 }, wantPath: "shutdown.jitter"},
		{
			name:     "max interval below interval",
			modify:   func(c *Config) { c.Shutdown.MaxPollInterval = Duration(time.Second) },
			wantPath: "shutdown.max_poll_interval",
		},
		{name: "no stop action", modify: func(c *Config) { c.Apps.StopActionName = "" }, wantPath: "apps.stop_action_name"},
		{name: "zero polls", modify: func(c *Config) { c.Apps.MaxPolls = 0 }, wantPath: "apps.max_polls"},
		{name: "bad log level", modify: func(c *Config) { c.Telemetry.LogLevel = "loud" }, wantPath: "telemetry.log_level"},
		{
			name:     "otlp without endpoint",
			modify:   func(c *Config) { c.Telemetry.TraceExporter = "otlp" },
			wantPath: "telemetry.trace_endpoint",
		},
		{name: "bad report format", modify: func(c *Config) { c.Report.Format = "xml" }, wantPath: "report.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantPath == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, paths(err), tt.wantPath)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationErrors{
		{Path: "cluster.port", Message: "must be at most 65535"},
		{File: "powerdown.cue", Line: 3, Column: 9, Path: "remote.mode", Message: "conflicting values"},
	}
	assert.Equal(t,
		"invalid configuration: cluster.port: must be at most 65535; powerdown.cue:3:9: remote.mode: conflicting values",
		err.Error())
}

func TestApplyDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cluster.Address = "10.0.0.41"
	cfg.Cluster.Password = "secret"
	cfg.ApplyDefaults()

	assert.Equal(t, "10.0.0.41", cfg.Remote.Host)
	assert.Equal(t, "secret", cfg.Remote.Password)

	keyed := DefaultConfig()
	keyed.Cluster.Password = "secret"
	keyed.Remote.PrivateKeyPath = "/key"
	keyed.ApplyDefaults()
	assert.Empty(t, keyed.Remote.Password)
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.Paths = []string{"a.rego"}

	red := cfg.Redacted()
	assert.Equal(t, redactedValue, red.Cluster.Password)
	assert.Equal(t, redactedValue, red.Remote.Password)
	assert.Equal(t, "secret", cfg.Cluster.Password)

	red.Policy.Paths[0] = "b.rego"
	assert.Equal(t, "a.rego", cfg.Policy.Paths[0])
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("30")))
}

func TestDurationYAML(t *testing.T) {
	var doc struct {
		Interval Duration `yaml:"interval"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("interval: 45s\n"), &doc))
	assert.Equal(t, 45*time.Second, doc.Interval.Std())
}
