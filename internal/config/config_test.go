package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaultsApplyWithoutAnyFlagsOrEnv(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if c.Debug() {
		t.Error("Debug should default to false")
	}
	if got, want := c.StateDir(), "/tmp/wasm-state/"; got != want {
		t.Errorf("StateDir = %q, want %q", got, want)
	}
	if got, want := c.IdleThreshold(), 300*time.Second; got != want {
		t.Errorf("IdleThreshold = %v, want %v", got, want)
	}
	if got, want := c.Stagger(), 125*time.Millisecond; got != want {
		t.Errorf("Stagger = %v, want %v", got, want)
	}
	if got, want := c.MetricsAddress(), ":9090"; got != want {
		t.Errorf("MetricsAddress = %q, want %q", got, want)
	}
	if got, want := c.TenantsFile(), "tenants.yaml"; got != want {
		t.Errorf("TenantsFile = %q, want %q", got, want)
	}
}

func TestBindFlagsOverridesDefault(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := c.BindFlags(fs, HostOptions); err != nil {
		t.Fatalf("BindFlags failed: %v", err)
	}

	if err := fs.Parse([]string{"--idle-threshold=45s", "--debug"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got, want := c.IdleThreshold(), 45*time.Second; got != want {
		t.Errorf("IdleThreshold = %v, want %v", got, want)
	}
	if !c.Debug() {
		t.Error("expected Debug to be true after --debug")
	}
}

func TestToFlagStripsHostPrefixAndReplacesSeparators(t *testing.T) {
	cases := map[string]string{
		"host.idle_threshold":  "idle-threshold",
		"host.state_dir":       "state-dir",
		"host.metrics_address": "metrics-address",
	}
	for key, want := range cases {
		if got := toFlag(key); got != want {
			t.Errorf("toFlag(%q) = %q, want %q", key, got, want)
		}
	}
}
