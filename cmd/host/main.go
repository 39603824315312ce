// Command host runs the per-tenant Wasm sandbox execution manager: it
// cold-starts every configured tenant against a single Kubernetes
// cluster, dispatches watch events to each tenant's reconcile entry
// point, and swaps idle tenants out to disk.
//
// Dependencies are wired by hand in runHost() rather than generated, the
// same tradeoff the reference agent binary this is grounded on makes
// for its simpler command.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wasptenant/host/internal/config"
	"github.com/wasptenant/host/internal/core"
	"github.com/wasptenant/host/internal/instance/wazeroengine"
	"github.com/wasptenant/host/internal/providers/cache"
	"github.com/wasptenant/host/internal/providers/kubernetes"
	"github.com/wasptenant/host/internal/registry"
	"github.com/wasptenant/host/internal/scheduler"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	conf, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rootCmd := &cobra.Command{
		Use:           "host [path-to-config.yaml]",
		Short:         "Per-tenant Wasm sandbox host for Kubernetes operators",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// A positional tenants file path takes the place of
			// --tenants-file.
			if len(args) == 1 {
				if err := cmd.Flags().Set("tenants-file", args[0]); err != nil {
					return err
				}
			}
			return runHost(cmd.Context(), conf)
		},
	}

	if err := conf.BindFlags(rootCmd.Flags(), config.HostOptions); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	return rootCmd.ExecuteContext(ctx)
}

// runHost wires the Kubernetes gateway, Wasm engine, registry, and
// scheduler together, then blocks until ctx is cancelled.
func runHost(ctx context.Context, conf *config.Config) error {
	initLogging(conf.Debug())

	tenants, err := config.LoadTenants(conf.TenantsFile())
	if err != nil {
		return &core.DomainError{Code: core.ErrorCodeConfig, Message: "load tenants file", Cause: err}
	}
	if len(tenants) == 0 {
		return &core.DomainError{Code: core.ErrorCodeConfig, Message: "no tenants configured"}
	}

	kubeConfig, err := kubernetes.ProvideConfig()
	if err != nil {
		return &core.DomainError{Code: core.ErrorCodeConfig, Message: "load kubernetes config", Cause: err}
	}

	k8s, err := kubernetes.New(kubeConfig)
	if err != nil {
		return err
	}
	var gateway core.Gateway = kubernetes.NewGateway(k8s)
	gateway = cache.NewDiscoveryGateway(gateway, cache.DefaultTTL)

	engine, err := wazeroengine.New()
	if err != nil {
		return fmt.Errorf("create wasm engine: %w", err)
	}
	defer engine.Close(context.WithoutCancel(ctx))

	reg, err := registry.New(engine, gateway, conf.StateDir())
	if err != nil {
		return err
	}

	sched := scheduler.New(engine, gateway, reg, tenants, scheduler.Options{
		Stagger:       conf.Stagger(),
		IdleThreshold: conf.IdleThreshold(),
		WatchBackoff:  conf.WatchBackoff(),
		MetricsAddr:   conf.MetricsAddress(),
	})

	return sched.Run(ctx)
}

func initLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
