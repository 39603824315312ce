// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix WASPTENANT_)
//  3. Config file (config.yaml in . or /etc/wasptenant/)
//  4. Compiled defaults
package config

// Viper keys for host-mode configuration.
const (
	keyDebug          = "host.debug"
	keyStateDir       = "host.state_dir"
	keyIdleThreshold  = "host.idle_threshold"
	keyStagger        = "host.stagger"
	keyWatchBackoff   = "host.watch_backoff"
	keyMetricsAddress = "host.metrics_address"
	keyTenantsFile    = "host.tenants_file"
)
