package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// KeyringService is the OS keyring service under which cluster passwords are
// stored, keyed by "username@address".
const KeyringService = "powerdown"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POWERDOWN_"

// DefaultEnvFile is read when LoadOptions.EnvFile is empty and it exists.
const DefaultEnvFile = ".env"

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// Path is a .yaml, .yml or .cue file. Empty means defaults only.
	Path string

	// EnvFile is a dotenv file layered under the real environment.
	EnvFile string

	// LookupEnv replaces os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// DisableKeyring skips the OS keyring lookup.
	DisableKeyring bool
}

// Load builds a configuration from defaults, the config file, the dotenv
// file, the environment and the OS keyring, in that order, and validates it.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := LoadUnvalidated(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without the final validation, for callers that
// apply command-line overrides first.
func LoadUnvalidated(opts LoadOptions) (*Config, error) {
	cfg := DefaultConfig()

	if opts.Path != "" {
		if err := loadFile(opts.Path, cfg); err != nil {
			return nil, err
		}
	}

	lookup, err := envLookup(opts)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if cfg.Cluster.Password == "" && !opts.DisableKeyring {
		cfg.Cluster.passwordFromKeyring()
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills settings derived from other settings. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Remote.Host == "" {
		c.Remote.Host = c.Cluster.Address
	}
	if c.Remote.Password == "" && c.Remote.PrivateKeyPath == "" {
		c.Remote.Password = c.Cluster.Password
	}
}

func loadFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return NewCUEParser().ParseFile(path, cfg)
	case ".yaml", ".yml":
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config file type %q (want .yaml, .yml or .cue)", filepath.Ext(path))
	}
}

// envLookup returns a lookup that prefers the real environment and falls
// back to the dotenv file.
func envLookup(opts LoadOptions) (func(string) (string, bool), error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	envFile := opts.EnvFile
	if envFile == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return lookup, nil
		}
		envFile = DefaultEnvFile
	}

	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
	}

	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"CLUSTER_ADDRESS", func(c *Config, v string) error { c.Cluster.Address = v; return nil }},
	{"CLUSTER_PORT", func(c *Config, v string) error { return setInt(&c.Cluster.Port, v) }},
	{"CLUSTER_USERNAME", func(c *Config, v string) error { c.Cluster.Username = v; return nil }},
	{"CLUSTER_PASSWORD", func(c *Config, v string) error { c.Cluster.Password = v; return nil }},
	{"CLUSTER_VERIFY_TLS", func(c *Config, v string) error { return setBool(&c.Cluster.VerifyTLS, v) }},
	{"REMOTE_MODE", func(c *Config, v string) error { c.Remote.Mode = v; return nil }},
	{"REMOTE_HOST", func(c *Config, v string) error { c.Remote.Host = v; return nil }},
	{"REMOTE_USER", func(c *Config, v string) error { c.Remote.User = v; return nil }},
	{"REMOTE_PASSWORD", func(c *Config, v string) error { c.Remote.Password = v; return nil }},
	{"REMOTE_KEY", func(c *Config, v string) error { c.Remote.PrivateKeyPath = v; return nil }},
	{"MAX_ATTEMPTS", func(c *Config, v string) error { return setInt(&c.Shutdown.MaxAttempts, v) }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Telemetry.LogLevel = strings.ToLower(v); return nil }},
	{"METRICS_TEXTFILE", func(c *Config, v string) error { c.Telemetry.MetricsTextfile = v; return nil }},
	{"REPORT_PATH", func(c *Config, v string) error { c.Report.Path = v; return nil }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		value, ok := lookup(EnvPrefix + b.name)
		if !ok || value == "" {
			continue
		}
		if err := b.apply(cfg, value); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
		}
	}
	return errors.Join(errs...)
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, value string) error {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("not a boolean: %q", value)
	}
	*dst = b
	return nil
}

// KeyringUser is the keyring account name for a cluster login.
func KeyringUser(username, address string) string {
	return username + "@" + address
}

// passwordFromKeyring fills Password from the OS keyring. A missing entry or
// an unavailable keyring leaves it empty for validation to report.
func (c *ClusterConfig) passwordFromKeyring() {
	if c.Username == "" || c.Address == "" {
		return
	}
	if secret, err := keyring.Get(KeyringService, KeyringUser(c.Username, c.Address)); err == nil {
		c.Password = secret
	}
}

// StorePassword saves a cluster password in the OS keyring.
func StorePassword(username, address, password string) error {
	if err := keyring.Set(KeyringService, KeyringUser(username, address), password); err != nil {
		return fmt.Errorf("storing password in keyring: %w", err)
	}
	return nil
}
