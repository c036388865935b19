// Package scheduler runs flows on their cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/engine"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
)

// Runner executes one run of a flow
type Runner interface {
	ExecuteFlow(ctx context.Context, flowID string) (*engine.ExecutionResult, error)
}

// FlowLister lists flow definitions
type FlowLister interface {
	ListFlows(ctx context.Context) ([]*flowstore.FlowDefinition, error)
}

// Parser accepts five-field expressions, six fields with leading seconds,
// and descriptors such as @hourly or @every 30s.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler keeps one cron entry per schedulable flow: a non-empty
// Schedule and a DEPLOYED or ACTIVE status. A tick that finds the previous
// run of the same flow still going is skipped.
type Scheduler struct {
	flows  FlowLister
	runner Runner
	logger *slog.Logger
	loc    *time.Location
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]scheduled
	ctx     context.Context
	cancel  context.CancelFunc
}

type scheduled struct {
	id   cron.EntryID
	spec string
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocation interprets schedules in loc instead of the local zone
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// New creates a scheduler
func New(flows FlowLister, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		flows:   flows,
		runner:  runner,
		logger:  slog.Default(),
		entries: make(map[string]scheduled),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	cl := cronLogger{s.logger}
	cronOpts := []cron.Option{
		cron.WithParser(Parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	}
	if s.loc != nil {
		cronOpts = append(cronOpts, cron.WithLocation(s.loc))
	}
	s.cron = cron.New(cronOpts...)
	return s
}

// Start loads the schedules and starts ticking. Runs use a context that
// ends with ctx or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	n, err := s.Sync(ctx)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", "scheduled_flows", n)
	return nil
}

// Stop stops ticking and waits up to timeout for running flows.
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	select {
	case <-done.Done():
	case <-time.After(timeout):
		s.logger.Warn("Scheduled runs still active after stop timeout", "timeout", timeout)
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info("Scheduler stopped")
}

// Sync reconciles the cron entries with the stored flows and returns how
// many flows are scheduled. Flows with an invalid expression are logged and
// left unscheduled.
func (s *Scheduler) Sync(ctx context.Context) (int, error) {
	flows, err := s.flows.ListFlows(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "scheduler", "Sync", "list flows")
	}

	want := make(map[string]string)
	for _, f := range flows {
		if f.Schedule != "" && f.Status.Runnable(false) {
			want[f.ID] = f.Schedule
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if spec, ok := want[id]; !ok || spec != e.spec {
			s.cron.Remove(e.id)
			delete(s.entries, id)
			s.logger.Debug("Unscheduled flow", "flow_id", id)
		}
	}
	for id, spec := range want {
		if _, ok := s.entries[id]; ok {
			continue
		}
		flowID := id
		entryID, err := s.cron.AddFunc(spec, func() { s.trigger(flowID) })
		if err != nil {
			s.logger.Error("Invalid flow schedule", "flow_id", id, "schedule", spec, "error", err)
			continue
		}
		s.entries[id] = scheduled{id: entryID, spec: spec}
		s.logger.Info("Scheduled flow", "flow_id", id, "schedule", spec)
	}
	return len(s.entries), nil
}

// Scheduled returns the scheduled flow ids, sorted
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Next returns the next activation of flowID
func (s *Scheduler) Next(flowID string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[flowID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(e.id).Next, true
}

// ValidateSchedule reports whether spec parses
func ValidateSchedule(spec string) error {
	if _, err := Parser.Parse(spec); err != nil {
		return errors.WrapInvalid(err, "scheduler", "ValidateSchedule", "parse cron expression")
	}
	return nil
}

func (s *Scheduler) trigger(flowID string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	res, err := s.runner.ExecuteFlow(ctx, flowID)
	switch {
	case err != nil:
		s.logger.Error("Scheduled flow run failed", "flow_id", flowID, "error", err)
	case res != nil && !res.Success:
		s.logger.Warn("Scheduled flow run unsuccessful", "flow_id", flowID, "message", res.Message)
	default:
		s.logger.Debug("Scheduled flow run finished", "flow_id", flowID)
	}
}

// cronLogger routes cron's logging into slog
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
