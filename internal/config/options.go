package config

import (
	"strings"
	"time"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// HostOptions defines every configuration entry the host binary
// accepts. Each entry is registered as a viper default and a CLI flag.
var HostOptions = []Option{
	{Key: keyDebug, Flag: toFlag(keyDebug), Default: false, Description: "Enable debug logging"},
	{Key: keyStateDir, Flag: toFlag(keyStateDir), Default: "/tmp/wasm-state/", Description: "Directory for swapped-out tenant snapshots"},
	{Key: keyIdleThreshold, Flag: toFlag(keyIdleThreshold), Default: 300 * time.Second, Description: "Idle duration before a tenant is swapped out"},
	{Key: keyStagger, Flag: toFlag(keyStagger), Default: 125 * time.Millisecond, Description: "Pause between successive tenant cold-starts"},
	{Key: keyWatchBackoff, Flag: toFlag(keyWatchBackoff), Default: time.Second, Description: "Pause before restarting a closed Kubernetes watch"},
	{Key: keyMetricsAddress, Flag: toFlag(keyMetricsAddress), Default: ":9090", Description: "Listen address for the /metrics endpoint"},
	{Key: keyTenantsFile, Flag: toFlag(keyTenantsFile), Default: "tenants.yaml", Description: "Path to the multi-document tenant config YAML stream"},
}

// toFlag converts a viper key like "host.idle_threshold" into a CLI
// flag like "idle-threshold" by lower-casing, replacing dots and
// underscores with hyphens, and stripping the "host-" prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "host-")
	return flag
}
