package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapterregistry"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/audit"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/engine"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/function"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/lookup"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/natsclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/orchestration"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pipeline"
)

// app is the assembled runtime shared by the subcommands
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	nats     *natsclient.Client
	store    flowstore.Store
	lookups  *lookup.Registry
	factory  *adapter.DefaultFactory
	registry *adapter.FactoryRegistry
	natsSink *audit.NATSSink
	audit    audit.Sink

	service      *engine.Service
	orchestrator *orchestration.Engine

	closers []func(context.Context) error
}

// loadConfig layers the optional file over the defaults and validates it
func loadConfig(opts *globalOptions) (*config.Config, error) {
	loader := config.NewLoader()
	if opts.ConfigPath != "" {
		loader.AddLayer(opts.ConfigPath)
	}
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.SeedPath != "" {
		cfg.Seed.Path = opts.SeedPath
	}
	return cfg, nil
}

// buildApp wires the runtime. NATS is only dialed when the store or the
// audit sink needs it, or when a JMS adapter is defined.
func buildApp(ctx context.Context, opts *globalOptions) (a *app, err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}
	a = &app{cfg: cfg, logger: logger, metrics: metric.NewMetricsRegistry()}
	defer func() {
		if err != nil {
			a.close(context.Background())
			a = nil
		}
	}()

	if cfg.Stores.Backend == config.StoreNATS {
		if err := a.connectNATS(ctx); err != nil {
			return a, err
		}
		kv, err := flowstore.NewKVStore(ctx, a.nats, flowstore.KVOptions{
			Timeout:  cfg.Stores.KVTimeout.Duration(),
			History:  cfg.Stores.History,
			Replicas: cfg.Stores.Replicas,
		})
		if err != nil {
			return a, fmt.Errorf("open definition store: %w", err)
		}
		a.store = kv
	} else {
		a.store = flowstore.NewMemoryStore()
	}

	if cfg.Seed.Path != "" {
		stats, err := flowstore.LoadSeed(ctx, cfg.Seed.Path, a.store)
		if err != nil {
			return a, fmt.Errorf("load seed: %w", err)
		}
		logger.Info("Definitions seeded",
			"path", cfg.Seed.Path,
			"adapters", stats.Adapters,
			"flows", stats.Flows,
			"skipped_flows", stats.SkippedFlows,
			"transformations", stats.Transformations,
			"mappings", stats.Mappings)
	}

	if a.nats == nil && (cfg.Audit.Sink != config.AuditLog || a.definesJMS(ctx)) {
		if err := a.connectNATS(ctx); err != nil {
			return a, err
		}
	}

	lookups, closeLookups, err := lookup.FromConfig(cfg.Lookup)
	if err != nil {
		return a, fmt.Errorf("lookup providers: %w", err)
	}
	a.lookups = lookups
	a.closers = append(a.closers, func(context.Context) error { return closeLookups() })

	evaluator, err := function.NewExprEvaluator(function.Options{
		Timeout:   cfg.Evaluator.Timeout.Duration(),
		MaxNodes:  cfg.Evaluator.MaxNodes,
		CacheSize: cfg.Evaluator.CacheSize,
		Logger:    logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		return a, fmt.Errorf("function evaluator: %w", err)
	}
	builder := pipeline.NewBuilder(pipeline.NewDefaultRegistry(pipeline.Deps{
		Mappings:  a.store,
		Resolver:  function.NewResolver(a.store),
		Evaluator: evaluator,
		Lookups:   lookups,
		Logger:    logger,
	}), pipeline.WithLogger(logger), pipeline.WithMetrics(a.metrics))

	a.audit = a.auditSink()

	deps := adapter.Dependencies{Logger: logger, Metrics: a.metrics}
	if a.nats != nil {
		deps.NATS = a.nats
	}
	if a.factory, err = adapterregistry.NewFactory(deps); err != nil {
		return a, fmt.Errorf("register adapters: %w", err)
	}
	a.registry = adapter.NewFactoryRegistry(logger)
	if err := a.registry.Register(a.factory); err != nil {
		return a, fmt.Errorf("register factory: %w", err)
	}

	a.service, err = engine.NewService(engine.Options{
		Store:      a.store,
		Registry:   a.registry,
		Builder:    builder,
		Audit:      a.audit,
		Logger:     logger,
		Metrics:    a.metrics,
		AllowDraft: cfg.Engine.AllowDraft,
		RunTimeout: cfg.Engine.RunTimeout.Duration(),
	})
	if err != nil {
		return a, fmt.Errorf("flow execution service: %w", err)
	}

	a.orchestrator, err = orchestration.NewEngine(orchestration.Options{
		Service:   a.service,
		Audit:     a.audit,
		Logger:    logger,
		Metrics:   a.metrics,
		Workers:   cfg.Engine.Workers,
		QueueSize: cfg.Engine.QueueSize,
	})
	if err != nil {
		return a, fmt.Errorf("orchestration engine: %w", err)
	}
	return a, nil
}

func (a *app) connectNATS(ctx context.Context) error {
	n := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(a.logger),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait.Duration()),
		natsclient.WithTimeout(n.Timeout.Duration()),
		natsclient.WithClientName(appName),
		natsclient.WithMetrics(a.metrics),
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	client, err := natsclient.NewClient(n.URL(), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.logger.Info("Connecting to NATS", "url", n.URL())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	a.nats = client
	a.closers = append(a.closers, client.Close)
	return nil
}

func (a *app) definesJMS(ctx context.Context) bool {
	defs, err := a.store.ListAdapterConfigs(ctx)
	if err != nil {
		return false
	}
	for _, d := range defs {
		if d.Type == adapter.TypeJMS && d.Active {
			return true
		}
	}
	return false
}

func (a *app) auditSink() audit.Sink {
	logSink := audit.NewLogSink(a.logger)
	if a.cfg.Audit.Sink == config.AuditLog || a.nats == nil {
		return logSink
	}
	a.natsSink = audit.NewNATSSink(a.nats, a.cfg.Audit.Subject, a.cfg.Audit.BufferSize, a.logger, a.metrics.CoreMetrics())
	a.natsSink.Start(context.Background())
	if a.cfg.Audit.Sink == config.AuditBoth {
		return audit.Multi{logSink, a.natsSink}
	}
	return a.natsSink
}

// close flushes the audit sink, then releases everything else in reverse
// order of acquisition
func (a *app) close(ctx context.Context) {
	if a.natsSink != nil {
		a.natsSink.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("Shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}
