package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/health"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/scheduler"
)

type serveOptions struct {
	HealthInterval    time.Duration
	HealthConcurrency int
	EvictInterval     time.Duration
}

func newServeCmd(g *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled flows, adapter health checks and the metrics endpoint until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.HealthInterval, "health-interval",
		getEnvDuration("FLOWBRIDGE_HEALTH_INTERVAL", time.Minute),
		"Adapter connection check interval, 0 to disable (env: FLOWBRIDGE_HEALTH_INTERVAL)")
	cmd.Flags().IntVar(&opts.HealthConcurrency, "health-concurrency",
		getEnvInt("FLOWBRIDGE_HEALTH_CONCURRENCY", 4),
		"Adapter connection checks run in parallel (env: FLOWBRIDGE_HEALTH_CONCURRENCY)")
	cmd.Flags().DurationVar(&opts.EvictInterval, "evict-interval", 10*time.Minute,
		"How often finished orchestration executions past engine.history_retention are dropped")
	return cmd
}

func serve(ctx context.Context, g *globalOptions, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	a, err := buildApp(signalCtx, g)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	cfg := a.cfg

	slog.Info("Starting flow bridge",
		"version", Version,
		"build_time", BuildTime,
		"store", cfg.Stores.Backend,
		"audit", cfg.Audit.Sink,
		"workers", cfg.Engine.Workers)

	if err := a.orchestrator.Start(signalCtx); err != nil {
		return fmt.Errorf("start orchestration: %w", err)
	}

	monitor := health.NewMonitor(appName, health.WithCoreMetrics(a.metrics.CoreMetrics()))
	if opts.HealthInterval > 0 {
		checker := health.NewAdapterChecker(a.store, a.registry, monitor,
			health.WithConcurrency(opts.HealthConcurrency),
			health.WithLogger(a.logger))
		go checker.Run(signalCtx, opts.HealthInterval)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.metrics, monitor)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		slog.Info("Metrics endpoint listening", "address", metricsServer.Address())
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		schedOpts := []scheduler.Option{scheduler.WithLogger(a.logger)}
		if cfg.Scheduler.Location != "" {
			loc, err := time.LoadLocation(cfg.Scheduler.Location)
			if err != nil {
				return fmt.Errorf("scheduler location: %w", err)
			}
			schedOpts = append(schedOpts, scheduler.WithLocation(loc))
		}
		sched = scheduler.New(a.store, a.service, schedOpts...)
		if err := sched.Start(signalCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	if retention := cfg.Engine.HistoryRetention.Duration(); retention > 0 && opts.EvictInterval > 0 {
		go evictLoop(signalCtx, a, retention, opts.EvictInterval)
	}

	slog.Info("Flow bridge started")
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	deadline := time.Now().Add(g.ShutdownTimeout)
	if sched != nil {
		sched.Stop(time.Until(deadline))
	}
	if err := a.orchestrator.Stop(time.Until(deadline)); err != nil {
		slog.Error("Error stopping orchestration", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Error("Error stopping metrics server", "error", err)
		}
	}
	slog.Info("Flow bridge shutdown complete")
	return nil
}

func evictLoop(ctx context.Context, a *app, retention, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.orchestrator.Evict(retention); n > 0 {
				a.logger.Debug("Evicted finished executions", "count", n)
			}
		}
	}
}
