package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/swarm/pkg/observability"
	"github.com/kadirpekel/swarm/pkg/orchestrator"
	"github.com/kadirpekel/swarm/pkg/server"
)

// ServeCmd starts the orchestrator with its REST API.
type ServeCmd struct {
	Instances int    `short:"n" help:"Initial number of instances." default:"1"`
	Host      string `help:"Listen address (overrides config)."`
	Port      int    `help:"Listen port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.API.Host = c.Host
	}
	if c.Port != 0 {
		cfg.API.Port = c.Port
	}

	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:      cfg.Observability.Tracing.Enabled,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
		ServiceName:  cfg.Observability.Tracing.ServiceName,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if _, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		Enabled: cfg.Observability.Metrics.Enabled,
	}); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	orch := orchestrator.New(cfg)
	orch.Start(ctx, c.Instances)
	defer orch.Stop()

	srv := server.New(cfg, orch)

	fmt.Printf("\nswarm orchestrator ready\n")
	fmt.Printf("   API:      http://%s:%d\n", cfg.API.Host, cfg.API.Port)
	fmt.Printf("   Health:   http://%s:%d/health\n", cfg.API.Host, cfg.API.Port)
	fmt.Printf("   Events:   http://%s:%d/events\n", cfg.API.Host, cfg.API.Port)
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:  http://%s:%d/metrics\n", cfg.API.Host, cfg.API.Port)
	}
	fmt.Printf("   Backends:\n")
	for _, bc := range cfg.Swarm.EnabledBackends() {
		fmt.Printf("     - %s (%s) %s\n", bc.Name, bc.Type, bc.URL)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}
