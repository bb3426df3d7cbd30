// Command runtimed is the runtime's process entrypoint: it loads the
// configuration surface (spec §6.6), wires every component, starts the
// Model Router's background prober, and serves the Session Hub. This
// binary sits outside the core per spec §1 ("An HTTP/gRPC server binding"
// is a Non-goal) — it exists only so the module is runnable end to end.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/agentpool"
	"github.com/agentcoredev/runtime/internal/collab"
	"github.com/agentcoredev/runtime/internal/config"
	"github.com/agentcoredev/runtime/internal/coordinator"
	"github.com/agentcoredev/runtime/internal/hub"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/queue"
	"github.com/agentcoredev/runtime/internal/registry"
	"github.com/agentcoredev/runtime/internal/resilience"
	"github.com/agentcoredev/runtime/internal/router"
	"github.com/agentcoredev/runtime/internal/secretstore"
	"github.com/agentcoredev/runtime/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "runtimed",
	Short: "Core orchestration runtime: Model Router, Agent Coordinator, Collaboration Engine, Session Hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "runtime.toml", "path to the runtime's TOML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("runtimed: %w", err)
	}

	if cfg.Logging.Level == "debug" {
		core.SetLogLevel(core.DEBUG)
	}
	if cfg.Logging.Format == "json" {
		core.SetJSONOutput()
	}

	m := metrics.New()
	secrets := buildSecretStore()

	reg := registry.New()
	for _, decl := range cfg.Backends {
		backend := buildBackend(decl, secrets)
		reg.Register(core.BackendConfig{
			ID: decl.ID, Tier: core.Tier(decl.Tier), Capabilities: decl.Capabilities,
			UnitCost: decl.UnitCost, MaxConcurrent: decl.MaxConcurrent, Priority: decl.Priority,
		}, backend)
	}
	if !reg.HasCapability("chat") {
		return fmt.Errorf("runtimed: no backend declares the %q capability", "chat")
	}

	rt := router.New(reg, m, router.Config{
		MaxAttempts:        cfg.Router.MaxAttempts,
		ProbeInterval:      time.Duration(cfg.Router.ProbeIntervalSeconds) * time.Second,
		DegradeAfter:       cfg.Router.DegradeAfter,
		DownAfter:          cfg.Router.DownAfter,
		HealthyAfterProbes: cfg.Router.HealthyAfterProbes,
		DownRecoveryWindow: time.Duration(cfg.Router.DownRecoverySeconds) * time.Second,
	})

	pool := agentpool.New()
	for _, decl := range cfg.Agents {
		acfg := core.AgentConfig{
			ID: decl.ID, DisplayName: decl.DisplayName, Capabilities: decl.Capabilities,
			MaxConcurrentTasks: decl.MaxConcurrentTasks, PreferredBackendCapability: decl.PreferredBackendCapability,
			SystemPreamble: decl.SystemPreamble,
		}
		pool.Register(acfg, agentpool.NewRoutedAgent(acfg, rt))
	}

	q := queue.New(cfg.Queue.CapacityPerBand)

	backing, err := buildStorage(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("runtimed: %w", err)
	}
	results := store.New(backing, cfg.Storage.ResultCapacity, cfg.ResultTTL())

	coord := coordinator.New(q, pool, results, m)
	col := collab.New(pool, results, m)

	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Capacity: float64(cfg.RateLimit.Capacity), RefillRate: cfg.RateLimit.RefillRate,
	})
	var authz core.Authorizer // nil: no authorization provider configured, every frame allowed

	h := hub.New(q, coord, col, pool, authz, limiter, m)

	probeCtx, stopProber := context.WithCancel(ctx)
	defer stopProber()
	rt.StartProber(probeCtx)

	coordCtx, stopCoord := context.WithCancel(ctx)
	defer stopCoord()
	coord.Start(coordCtx)
	defer coord.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	server := &http.Server{Addr: cfg.Session.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		core.Logger().Info().Str("addr", cfg.Session.ListenAddr).Msg("runtimed: listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("runtimed: %w", err)
	case <-sigCh:
		core.Logger().Info().Msg("runtimed: shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildSecretStore() *secretstore.Store {
	provider := secretstore.NewStaticProvider(map[string][]byte{})
	return secretstore.New(provider, 256, 10*time.Minute)
}

// buildBackend constructs the core.Backend for one declared backend. A
// REMOTE-tier declaration with an endpoint is wired to Azure OpenAI
// (the only remote provider in the retrieved dependency surface); anything
// else becomes a LOCAL passthrough backend.
func buildBackend(decl config.BackendDecl, secrets *secretstore.Store) core.Backend {
	if core.Tier(decl.Tier) == core.TierRemote && decl.Endpoint != "" {
		apiKey := ""
		if decl.APIKeySecret != "" {
			if v, ok, err := secrets.SecretGet(context.Background(), decl.APIKeySecret); err == nil && ok {
				apiKey = string(v)
			}
		}
		return router.NewAzureChatBackend(decl.ID, decl.Endpoint, decl.Deployment, apiKey)
	}
	return router.NewLocalBackend(decl.ID, decl.Capabilities, nil)
}

func buildStorage(ctx context.Context, dsn string) (core.Storage, error) {
	if dsn == "" {
		return store.NoopStorage{}, nil
	}
	return store.NewPostgresStorage(ctx, dsn)
}
