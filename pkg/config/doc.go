// Package config loads and validates powerdown configuration.
//
// Sources are layered in order, later ones winning:
//
//  1. DefaultConfig
//  2. a .yaml/.yml file (gopkg.in/yaml.v3, unknown keys rejected) or a .cue
//     file unified with the #Config schema
//  3. the environment (POWERDOWN_*), falling back to a .env file
//  4. the OS keyring for the cluster password, when still empty
//
// Command-line flags are applied by the caller on top of LoadUnvalidated,
// followed by Config.Validate.
//
// A minimal YAML file:
//
//	cluster:
//	  address: 10.0.0.41
//	  username: admin
//	remote:
//	  mode: ssh
//	shutdown:
//	  max_attempts: 5
//	  poll_interval: 30s
//
// The same in CUE:
//
//	cluster: {
//	    address:  "10.0.0.41"
//	    username: "admin"
//	}
//	remote: mode: "ssh"
//
// Passwords can be kept out of files with POWERDOWN_CLUSTER_PASSWORD or the
// keyring entry written by StorePassword (service "powerdown", account
// "username@address"). Remote SSH credentials default to the cluster's.
package config
