package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/audit"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/engine"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/worker"
)

// Default pool sizing
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Options configure an Engine. Service is required.
type Options struct {
	Service   *engine.Service
	Audit     audit.Sink
	Logger    *slog.Logger
	Metrics   *metric.MetricsRegistry
	Workers   int
	QueueSize int
}

// Engine runs orchestration workflows on a bounded worker pool and keeps
// every execution it started until Evict removes it.
type Engine struct {
	svc     *engine.Service
	audit   audit.Sink
	logger  *slog.Logger
	metrics *orchestrationMetrics
	pool    *worker.Pool[*record]
	arena   *arena
	now     func() time.Time
}

// Result is what a run resolves to. Err holds the *errors.OrchestrationFailure
// of a failed run.
type Result struct {
	Success     bool     `json:"success"`
	Data        any      `json:"data,omitempty"`
	Message     string   `json:"message,omitempty"`
	Logs        []string `json:"logs"`
	ExecutionID string   `json:"executionId,omitempty"`
	Err         error    `json:"-"`
}

// Handle tracks a submitted run
type Handle struct {
	ID     string
	done   chan struct{}
	once   sync.Once
	result *Result
}

func newHandle(id string) *Handle {
	return &Handle{ID: id, done: make(chan struct{})}
}

func (h *Handle) resolve(r *Result) {
	h.once.Do(func() {
		h.result = r
		close(h.done)
	})
}

// Done is closed once the result is available
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run resolves or ctx ends. The run keeps going when
// ctx ends first.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewEngine creates an orchestration engine. Call Start before submitting.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Service == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: flow execution service", errors.ErrMissingConfig),
			"orchestration", "NewEngine", "options check")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		svc:    opts.Service,
		audit:  opts.Audit,
		logger: logger.With("component", "orchestration"),
		arena:  newArena(),
		now:    time.Now,
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}

	metrics, err := newOrchestrationMetrics(opts.Metrics)
	if err != nil {
		e.logger.Error("Failed to initialize orchestration metrics", "error", err)
		metrics = nil
	}
	e.metrics = metrics

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	poolOpts := []worker.Option[*record]{}
	if opts.Metrics != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[*record](opts.Metrics, "orchestration"))
	}
	e.pool = worker.NewPool(workers, queue, e.process, poolOpts...)
	return e, nil
}

// Start launches the workers. They stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "orchestration", "Start", "start worker pool")
	}
	e.logger.Info("Orchestration engine started")
	return nil
}

// Stop drains queued runs within timeout. Runs still RUNNING afterwards are
// marked FAILED so every handle resolves.
func (e *Engine) Stop(timeout time.Duration) error {
	err := e.pool.Stop(timeout)
	for _, r := range e.arena.unresolved() {
		if r.status() == StatusRunning {
			e.fail(r, r.step(), fmt.Errorf("orchestration engine stopped"))
			continue
		}
		r.handle.resolve(e.stopped(r))
	}
	if err != nil {
		return errors.Wrap(err, "orchestration", "Stop", "stop worker pool")
	}
	e.logger.Info("Orchestration engine stopped")
	return nil
}

// Execute runs flowID's workflow and waits for its result. The error is
// reserved for faults outside the run, such as a full queue; a failed run is
// a Result with Success false.
func (e *Engine) Execute(ctx context.Context, flowID string, input any) (*Result, error) {
	h, err := e.ExecuteAsync(ctx, flowID, input)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// ExecuteAsync registers a RUNNING execution and queues it. The handle
// always resolves; an unknown flow resolves immediately without an
// execution record.
func (e *Engine) ExecuteAsync(ctx context.Context, flowID string, input any) (*Handle, error) {
	flow, err := e.svc.Store().FindFlow(ctx, flowID)
	if err != nil {
		if !flowstore.IsNotFound(err) {
			return nil, errors.Wrap(err, "orchestration", "ExecuteAsync", "find flow")
		}
		h := newHandle("")
		h.resolve(&Result{Message: "Flow not found: " + flowID, Logs: []string{}})
		return h, nil
	}

	r := newRecord(uuid.NewString(), flow.ID, flow.Name, input, e.now)
	r.log("Orchestration execution started")
	e.arena.put(r)
	e.metrics.started()
	e.auditEntry(r, audit.LevelInfo, "Orchestration execution started", map[string]any{"flow_name": flow.Name})

	if err := e.pool.Submit(r); err != nil {
		e.fail(r, "", fmt.Errorf("submit run: %w", err))
		return nil, errors.WrapTransient(err, "orchestration", "ExecuteAsync", "submit run")
	}
	e.logger.Info("Orchestration execution queued", "flow_id", flow.ID, "execution_id", r.id)
	return r.handle, nil
}

// Status returns a snapshot of an execution
func (e *Engine) Status(executionID string) (*Execution, bool) {
	r, ok := e.arena.get(executionID)
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// Cancel asks a running execution to stop at its next step boundary. It
// returns false for unknown executions and for executions already in a
// terminal state, which stay unchanged.
func (e *Engine) Cancel(executionID string) bool {
	r, ok := e.arena.get(executionID)
	if !ok || !r.cancel() {
		return false
	}
	e.logger.Info("Orchestration execution cancelled", "flow_id", r.flowID, "execution_id", r.id, "step", r.step())
	return true
}

// History returns up to limit executions of flowID, newest first
func (e *Engine) History(flowID string, limit int) []*Execution {
	records := e.arena.history(flowID, limit)
	out := make([]*Execution, 0, len(records))
	for _, r := range records {
		out = append(out, r.snapshot())
	}
	return out
}

// Evict forgets terminal executions that ended more than olderThan ago and
// returns how many were removed.
func (e *Engine) Evict(olderThan time.Duration) int {
	n := e.arena.evict(e.now().Add(-olderThan))
	if n > 0 {
		e.logger.Debug("Evicted orchestration executions", "count", n)
	}
	return n
}

// process is the pool's processor: one call runs one execution to its end.
func (e *Engine) process(ctx context.Context, r *record) error {
	res := e.run(ctx, r)
	r.handle.resolve(res)
	if !res.Success {
		return res.Err
	}
	return nil
}

// fail moves r to FAILED and resolves its handle. It is a no-op for a
// record that is already terminal.
func (e *Engine) fail(r *record, step Step, cause error) *Result {
	failure := &errors.OrchestrationFailure{ExecutionID: r.id, FlowID: r.flowID, Step: string(step), Err: cause}
	if !r.finish(stateFailed) {
		return e.stopped(r)
	}
	r.setErr(failure)
	r.log("Execution failed: %v", cause)
	e.metrics.finished(StatusFailed, r.snapshot().Duration())
	e.auditEntry(r, audit.LevelError, "Orchestration execution failed", map[string]any{
		"step": string(step), "error": cause.Error(),
	})
	e.logger.Error("Orchestration execution failed", "flow_id", r.flowID, "execution_id", r.id, "step", step, "error", cause)

	res := &Result{
		Message:     failureMessage(step, cause),
		Logs:        r.logLines(),
		ExecutionID: r.id,
		Err:         failure,
	}
	r.handle.resolve(res)
	return res
}

// stopped is the result of a run that found itself cancelled
func (e *Engine) stopped(r *record) *Result {
	if r.status() == StatusCancelled {
		e.metrics.finished(StatusCancelled, r.snapshot().Duration())
		e.auditEntry(r, audit.LevelWarn, "Orchestration execution cancelled", map[string]any{"step": string(r.step())})
	}
	return &Result{
		Message:     "Execution " + string(r.status()),
		Logs:        r.logLines(),
		ExecutionID: r.id,
		Err:         errors.ErrCancelled,
	}
}

func (e *Engine) auditEntry(r *record, level audit.Level, msg string, details map[string]any) {
	e.audit.Append(audit.Entry{
		Time:        e.now(),
		Level:       level,
		Message:     msg,
		FlowID:      r.flowID,
		ExecutionID: r.id,
		Details:     details,
	})
}

func failureMessage(step Step, cause error) string {
	switch step {
	case StepLoadComponents:
		return "Failed to load business components: " + cause.Error()
	case StepInitializeAdapters:
		return "Failed to initialize adapters: " + cause.Error()
	case StepExecuteTransformations:
		return "Failed to execute transformations: " + cause.Error()
	case StepProcessTargets:
		return "Failed to process multiple targets: " + cause.Error()
	default:
		return "Workflow execution failed: " + cause.Error()
	}
}
