package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// configSchema is the CUE definition every .cue config file is unified with.
// Definitions are closed, so unknown keys are rejected with a position.
const configSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Port: int & >0 & <65536

#Config: {
	cluster?: {
		address?:    string
		port?:       #Port
		username?:   string
		password?:   string
		verify_tls?: bool
		timeout?:    #Duration
	}
	remote?: {
		mode?:                     "ssh" | "dry-run"
		host?:                     string
		port?:                     #Port
		user?:                     string
		password?:                 string
		private_key_path?:         string
		known_hosts_path?:         string
		strict_host_key_checking?: bool
		command_timeout?:          #Duration
	}
	shutdown?: {
		max_attempts?:      int & >=0
		force_off?:         bool
		poll_interval?:     #Duration
		max_poll_interval?: #Duration
		backoff_factor?:    number & >=1
		jitter?:            number & >=0 & <=1
	}
	apps?: {
		enabled?:          bool
		stop_action_name?: string & !=""
		wait_for_stopped?: bool
		max_polls?:        int & >=1
		poll_interval?:    #Duration
		fail_on_timeout?:  bool
	}
	classifier?: {
		first_nic_only?: bool
	}
	policy?: {
		enabled?: bool
		builtin?: bool
		package?: string & =~"^[a-z_][a-z0-9_]*(\\.[a-z_][a-z0-9_]*)*$"
		paths?: [...string]
	}
	telemetry?: {
		log_level?:        "trace" | "debug" | "info" | "warn" | "error"
		log_format?:       "console" | "json"
		trace_exporter?:   "none" | "stdout" | "otlp"
		trace_endpoint?:   string
		metrics_textfile?: string
	}
	report?: {
		path?:        string
		remote_path?: string
		format?:      "json" | "yaml"
	}
}
`

// compileSchema compiles #Config in ctx. Values from different cue.Contexts
// cannot be unified, so each parser compiles its own copy.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	root := ctx.CompileString(configSchema, cue.Filename("powerdown-schema.cue"))
	if err := root.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return root.LookupPath(cue.ParsePath("#Config")), nil
}
