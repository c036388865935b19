package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
)

// Checker defaults
const (
	DefaultCheckTimeout     = 15 * time.Second
	DefaultCheckConcurrency = 4
)

// ComponentPrefix prefixes the monitor key of every adapter definition
const ComponentPrefix = "adapter:"

// AdapterChecker tests the connection of every active adapter definition
// and records the outcome in a Monitor.
type AdapterChecker struct {
	store       flowstore.AdapterConfigStore
	registry    *adapter.FactoryRegistry
	monitor     *Monitor
	logger      *slog.Logger
	timeout     time.Duration
	concurrency int

	failures map[string]int
	success  map[string]time.Time
}

// CheckerOption configures an AdapterChecker
type CheckerOption func(*AdapterChecker)

// WithCheckTimeout bounds one adapter's create, initialize and test cycle
func WithCheckTimeout(d time.Duration) CheckerOption {
	return func(c *AdapterChecker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithConcurrency limits how many adapters are checked at once
func WithConcurrency(n int) CheckerOption {
	return func(c *AdapterChecker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) CheckerOption {
	return func(c *AdapterChecker) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewAdapterChecker creates a checker
func NewAdapterChecker(store flowstore.AdapterConfigStore, registry *adapter.FactoryRegistry, monitor *Monitor, opts ...CheckerOption) *AdapterChecker {
	c := &AdapterChecker{
		store:       store,
		registry:    registry,
		monitor:     monitor,
		logger:      slog.Default(),
		timeout:     DefaultCheckTimeout,
		concurrency: DefaultCheckConcurrency,
		failures:    make(map[string]int),
		success:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "health")
	return c
}

type checkOutcome struct {
	id     string
	status Status
	err    error
}

// CheckAdapters checks every active definition and returns their aggregate.
// Inactive definitions are dropped from the monitor. Only a failure to list
// definitions is returned as an error; a failed check is an unhealthy
// status. CheckAdapters must not run concurrently with itself.
func (c *AdapterChecker) CheckAdapters(ctx context.Context) (Status, error) {
	defs, err := c.store.ListAdapterConfigs(ctx)
	if err != nil {
		return Status{}, errors.Wrap(err, "health", "CheckAdapters", "list adapter definitions")
	}

	var active []*flowstore.AdapterDefinition
	for _, def := range defs {
		if def.Active {
			active = append(active, def)
			continue
		}
		c.monitor.Remove(ComponentPrefix + def.ID)
	}

	outcomes := make([]checkOutcome, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, def := range active {
		i, def := i, def
		g.Go(func() error {
			st, err := c.check(gctx, def)
			outcomes[i] = checkOutcome{id: def.ID, status: st, err: err}
			return nil
		})
	}
	_ = g.Wait()

	statuses := make([]Status, 0, len(outcomes))
	for _, o := range outcomes {
		name := ComponentPrefix + o.id
		m := o.status.Metrics
		if o.err != nil {
			c.failures[o.id]++
			c.logger.Warn("Adapter health check failed", "adapter_id", o.id, "error", o.err)
		} else {
			c.failures[o.id] = 0
			c.success[o.id] = o.status.Timestamp
		}
		m.ConsecutiveFails = c.failures[o.id]
		m.LastSuccess = c.success[o.id]
		c.monitor.Update(name, o.status)
		stored, _ := c.monitor.Get(name)
		statuses = append(statuses, stored)
	}
	return Aggregate("adapters", statuses), nil
}

// check runs one create, initialize, test and destroy cycle
func (c *AdapterChecker) check(ctx context.Context, def *flowstore.AdapterDefinition) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name := ComponentPrefix + def.ID
	start := time.Now()
	cfg := def.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}

	a, err := c.registry.CreateAndInitialize(ctx, def.Type, def.Mode, cfg)
	if err == nil {
		err = a.TestConnection(ctx)
		if derr := a.Destroy(context.WithoutCancel(ctx)); derr != nil {
			c.logger.Debug("Failed to destroy adapter after health check", "adapter_id", def.ID, "error", derr)
		}
	}
	st := FromError(name, err, "Connection test passed").WithMetrics(&Metrics{Latency: time.Since(start)})
	return st, err
}

// Run checks every interval until ctx ends
func (c *AdapterChecker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if agg, err := c.CheckAdapters(ctx); err != nil {
			c.logger.Error("Adapter health check round failed", "error", err)
		} else if !agg.IsHealthy() {
			c.logger.Warn("Adapters not healthy", "message", agg.Message)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
