package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/audit"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/function"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pipeline"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/routing"
)

// Options are the collaborators of a Service. Store and Registry are
// required; the rest have working defaults.
type Options struct {
	Store    flowstore.Store
	Registry *adapter.FactoryRegistry
	Router   *routing.Router
	Builder  *pipeline.Builder
	Audit    audit.Sink
	Logger   *slog.Logger
	Metrics  *metric.MetricsRegistry

	// AllowDraft lets DRAFT and DEVELOPED flows run.
	AllowDraft bool
	// RunTimeout bounds one ExecuteFlow call; zero means no bound.
	RunTimeout time.Duration
}

// Service executes flows: it moves one message from a flow's source
// adapter through routing and the transformation pipeline to its targets.
type Service struct {
	store      flowstore.Store
	registry   *adapter.FactoryRegistry
	router     *routing.Router
	builder    *pipeline.Builder
	audit      audit.Sink
	logger     *slog.Logger
	metrics    *engineMetrics
	allowDraft bool
	runTimeout time.Duration
	now        func() time.Time
}

// NewService creates a flow execution service
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: store", errors.ErrMissingConfig), "engine", "NewService", "options check")
	}
	if opts.Registry == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: adapter registry", errors.ErrMissingConfig), "engine", "NewService", "options check")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		store:      opts.Store,
		registry:   opts.Registry,
		router:     opts.Router,
		builder:    opts.Builder,
		audit:      opts.Audit,
		logger:     logger.With("component", "engine"),
		allowDraft: opts.AllowDraft,
		runTimeout: opts.RunTimeout,
		now:        time.Now,
	}
	if s.router == nil {
		s.router = routing.NewRouter(nil, logger)
	}
	if s.audit == nil {
		s.audit = audit.NewLogSink(logger)
	}
	if s.builder == nil {
		evaluator, err := function.NewExprEvaluator(function.Options{Metrics: opts.Metrics})
		if err != nil {
			return nil, errors.Wrap(err, "engine", "NewService", "create function evaluator")
		}
		registry := pipeline.NewDefaultRegistry(pipeline.Deps{
			Mappings:  opts.Store,
			Resolver:  function.NewResolver(opts.Store),
			Evaluator: evaluator,
			Logger:    logger,
		})
		s.builder = pipeline.NewBuilder(registry, pipeline.WithLogger(logger), pipeline.WithMetrics(opts.Metrics))
	}

	metrics, err := newEngineMetrics(opts.Metrics)
	if err != nil {
		s.logger.Error("Failed to initialize flow engine metrics", "error", err)
		metrics = nil // Continue without metrics
	}
	s.metrics = metrics
	return s, nil
}

// Store returns the definition store
func (s *Service) Store() flowstore.Store { return s.store }

// Router returns the message router
func (s *Service) Router() *routing.Router { return s.router }

// ExecutionResult reports one ExecuteFlow run. Delivered is false when the
// source had no message or the message was filtered out.
type ExecutionResult struct {
	ExecutionID string                `json:"executionId"`
	FlowID      string                `json:"flowId"`
	Success     bool                  `json:"success"`
	Filtered    bool                  `json:"filtered,omitempty"`
	Delivered   bool                  `json:"delivered"`
	Message     string                `json:"message"`
	BytesIn     int                   `json:"bytesIn"`
	BytesOut    int                   `json:"bytesOut"`
	Duration    time.Duration         `json:"duration"`
	SendResults []*adapter.SendResult `json:"sendResults,omitempty"`
	Steps       []pipeline.StepReport `json:"steps,omitempty"`
}

// Bundle is a runnable flow with its resolved adapter definitions.
type Bundle struct {
	Flow    *flowstore.FlowDefinition
	Source  *flowstore.AdapterDefinition
	Targets []*flowstore.AdapterDefinition
}

// Load reads a flow and its adapter definitions and checks the flow may
// run: its status is runnable and every adapter is active.
func (s *Service) Load(ctx context.Context, flowID string) (*Bundle, error) {
	flow, err := s.store.FindFlow(ctx, flowID)
	if err != nil {
		return nil, errors.Wrap(err, "engine", "Load", "find flow")
	}
	if !flow.Status.Runnable(s.allowDraft) {
		return nil, errors.NewConfigurationError("flow "+flow.ID,
			fmt.Sprintf("status %s cannot be executed", flow.Status), errors.ErrInvalidConfig)
	}
	return s.resolve(ctx, flow)
}

func (s *Service) resolve(ctx context.Context, flow *flowstore.FlowDefinition) (*Bundle, error) {
	b := &Bundle{Flow: flow}
	if flow.SourceAdapterID == "" {
		return nil, errors.NewConfigurationError("flow "+flow.ID, "source adapter is required", errors.ErrMissingConfig)
	}
	src, err := s.adapterDef(ctx, flow.SourceAdapterID, "source")
	if err != nil {
		return nil, err
	}
	b.Source = src

	ids := flow.TargetIDs()
	if len(ids) == 0 {
		return nil, errors.NewConfigurationError("flow "+flow.ID, "target adapter is required", errors.ErrMissingConfig)
	}
	for _, id := range ids {
		def, err := s.adapterDef(ctx, id, "target")
		if err != nil {
			return nil, err
		}
		b.Targets = append(b.Targets, def)
	}
	return b, nil
}

func (s *Service) adapterDef(ctx context.Context, id, role string) (*flowstore.AdapterDefinition, error) {
	def, err := s.store.FindAdapterConfig(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "engine", "Load", role+" adapter lookup")
	}
	if !def.Active {
		return nil, errors.NewConfigurationError(role+" adapter "+def.Name,
			"adapter is not active; activate it before using it in a flow", errors.ErrInvalidConfig)
	}
	return def, nil
}

// OpenSender creates and initializes the sender for def.
func (s *Service) OpenSender(ctx context.Context, def *flowstore.AdapterDefinition) (adapter.Sender, error) {
	a, err := s.registry.CreateAndInitialize(ctx, def.Type, adapter.ModeSender, rawConfig(def))
	if err != nil {
		return nil, err
	}
	sender, ok := a.(adapter.Sender)
	if !ok {
		s.Close(ctx, a)
		return nil, errors.NewAdapterError(string(def.Type), string(adapter.ModeSender), "create",
			fmt.Errorf("%w: adapter cannot receive", errors.ErrUnsupportedType))
	}
	return sender, nil
}

// OpenReceiver creates and initializes the receiver for def.
func (s *Service) OpenReceiver(ctx context.Context, def *flowstore.AdapterDefinition) (adapter.Receiver, error) {
	a, err := s.registry.CreateAndInitialize(ctx, def.Type, adapter.ModeReceiver, rawConfig(def))
	if err != nil {
		return nil, err
	}
	receiver, ok := a.(adapter.Receiver)
	if !ok {
		s.Close(ctx, a)
		return nil, errors.NewAdapterError(string(def.Type), string(adapter.ModeReceiver), "create",
			fmt.Errorf("%w: adapter cannot send", errors.ErrUnsupportedType))
	}
	return receiver, nil
}

// Close destroys a, logging failures.
func (s *Service) Close(ctx context.Context, a adapter.Adapter) {
	if a == nil {
		return
	}
	// Destroy must run even when the run's context has ended.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	if err := a.Destroy(ctx); err != nil {
		s.logger.Warn("Failed to destroy adapter", "adapter_type", a.Type(), "adapter_mode", a.Mode(), "error", err)
	}
}

func rawConfig(def *flowstore.AdapterDefinition) json.RawMessage {
	if len(def.Config) == 0 {
		return json.RawMessage("{}")
	}
	return def.Config
}

// BuildPipeline prepares the flow's active transformations.
func (s *Service) BuildPipeline(ctx context.Context, flow *flowstore.FlowDefinition) (*pipeline.Pipeline, error) {
	ts, err := s.store.FindTransformations(ctx, flow.ID)
	if err != nil {
		return nil, errors.Wrap(err, "engine", "BuildPipeline", "find transformations")
	}
	return s.builder.Build(ctx, ts)
}

// Transform runs the flow's pipeline over doc.
func (s *Service) Transform(ctx context.Context, flow *flowstore.FlowDefinition, doc *payload.Document) (*pipeline.Result, error) {
	p, err := s.BuildPipeline(ctx, flow)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, doc)
}

// Processed is a message after routing and, for WITH_MAPPING flows, the
// pipeline.
type Processed struct {
	Routed *routing.Routed
	Result *pipeline.Result
}

// Filtered reports whether a FILTER step rejected the message
func (p *Processed) Filtered() bool { return p.Result != nil && p.Result.Filtered }

// Document returns the transformed document, nil for pass-through
func (p *Processed) Document() *payload.Document {
	if p.Result == nil {
		return nil
	}
	return p.Result.Document
}

// Process routes msg and runs pl over it when the flow maps payloads. A nil
// pl is built from the flow's transformations.
func (s *Service) Process(ctx context.Context, b *Bundle, pl *pipeline.Pipeline, msg *adapter.Message) (*Processed, error) {
	routed, err := s.router.Route(ctx, b.Flow, b.Source, msg)
	if err != nil {
		return nil, err
	}
	out := &Processed{Routed: routed}
	if routed.Mode == flowstore.PassThrough {
		return out, nil
	}
	if pl == nil {
		if pl, err = s.BuildPipeline(ctx, b.Flow); err != nil {
			return nil, err
		}
	}
	res, err := pl.Run(ctx, routed.Document)
	if err != nil {
		return nil, err
	}
	out.Result = res
	return out, nil
}

// Render returns the bytes to send to target.
func (s *Service) Render(ctx context.Context, b *Bundle, target *flowstore.AdapterDefinition, p *Processed) ([]byte, error) {
	if p.Routed.Mode == flowstore.PassThrough {
		return p.Routed.Raw, nil
	}
	return s.router.Deliverable(ctx, b.Flow, target, p.Document())
}

// Deliver opens the receiver for target, sends data and destroys the
// receiver.
func (s *Service) Deliver(ctx context.Context, target *flowstore.AdapterDefinition, data []byte, contentType string, headers map[string]string) (*adapter.SendResult, error) {
	receiver, err := s.OpenReceiver(ctx, target)
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx, receiver)

	msg := adapter.NewMessage(data, contentType, target.ID)
	for k, v := range headers {
		msg.Headers[k] = v
	}
	res, err := receiver.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if res != nil && !res.Success {
		return res, errors.NewAdapterError(string(target.Type), string(adapter.ModeReceiver), "send",
			fmt.Errorf("target reported failure: %s", res.Message))
	}
	return res, nil
}

// ExecuteFlow runs flowID once. A flow that cannot run (unknown, not
// deployed) returns an error without touching its counters. Every other
// run updates the counters exactly once, except when the source has no
// message. Validation failures and filtered messages come back as a result;
// other failures come back as a result and an error.
func (s *Service) ExecuteFlow(ctx context.Context, flowID string) (*ExecutionResult, error) {
	start := s.now()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	flow, err := s.store.FindFlow(ctx, flowID)
	if err != nil {
		return nil, errors.Wrap(err, "engine", "ExecuteFlow", "find flow")
	}
	if !flow.Status.Runnable(s.allowDraft) {
		return nil, errors.NewConfigurationError("flow "+flow.ID,
			fmt.Sprintf("status %s cannot be executed", flow.Status), errors.ErrInvalidConfig)
	}

	res := &ExecutionResult{ExecutionID: uuid.NewString(), FlowID: flow.ID}
	run := &execution{svc: s, flow: flow, res: res}

	s.metrics.started()
	run.audit(audit.LevelInfo, "Flow execution started", map[string]any{"flow_name": flow.Name})
	s.logger.Info("Executing flow", "flow_id", flow.ID, "flow_name", flow.Name, "execution_id", res.ExecutionID)

	err = run.execute(ctx)
	res.Duration = s.now().Sub(start)

	status := outcomeSuccess
	switch {
	case err != nil:
		res.Success = false
		res.Message = err.Error()
		status = outcomeFailure
	case !run.received:
		status = outcomeEmpty
	case res.Filtered:
		status = outcomeFiltered
	}
	s.metrics.recordExecution(status, res.Duration.Seconds(), res.BytesIn, res.BytesOut)

	if run.received || err != nil {
		s.recordExecution(ctx, flow.ID, res.Success, start)
	}

	if err != nil {
		run.audit(audit.LevelError, "Flow execution failed", map[string]any{"error": err.Error(), "duration_ms": res.Duration.Milliseconds()})
		s.logger.Error("Flow execution failed", "flow_id", flow.ID, "execution_id", res.ExecutionID, "error", err)
		if errors.Is(err, errors.ErrValidationFailed) {
			return res, nil
		}
		return res, err
	}
	run.audit(audit.LevelInfo, "Flow execution completed", map[string]any{
		"message": res.Message, "bytes_in": res.BytesIn, "bytes_out": res.BytesOut, "duration_ms": res.Duration.Milliseconds(),
	})
	s.logger.Info("Flow execution completed", "flow_id", flow.ID, "execution_id", res.ExecutionID,
		"message", res.Message, "duration", res.Duration)
	return res, nil
}

// recordExecution updates the counters; a failure here is logged, never
// reported as the run's outcome.
func (s *Service) recordExecution(ctx context.Context, flowID string, success bool, at time.Time) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if _, err := s.store.RecordExecution(ctx, flowID, success, at); err != nil {
		s.logger.Error("Failed to record flow execution", "flow_id", flowID, "success", success, "error", err)
	}
}

// execution carries the state of one ExecuteFlow run.
type execution struct {
	svc      *Service
	flow     *flowstore.FlowDefinition
	res      *ExecutionResult
	received bool
}

func (e *execution) audit(level audit.Level, msg string, details map[string]any) {
	e.svc.audit.Append(audit.Entry{
		Time:        e.svc.now(),
		Level:       level,
		Message:     msg,
		FlowID:      e.flow.ID,
		ExecutionID: e.res.ExecutionID,
		Details:     details,
	})
}

func (e *execution) execute(ctx context.Context) error {
	s := e.svc
	b, err := s.resolve(ctx, e.flow)
	if err != nil {
		return err
	}
	// Step configuration is checked before the source is touched.
	var pl *pipeline.Pipeline
	if e.flow.EffectiveMappingMode() == flowstore.WithMapping {
		if pl, err = s.BuildPipeline(ctx, e.flow); err != nil {
			return err
		}
	}

	sender, err := s.OpenSender(ctx, b.Source)
	if err != nil {
		return err
	}
	defer s.Close(ctx, sender)

	msg, err := sender.Receive(ctx)
	if errors.Is(err, errors.ErrNoMessage) {
		e.res.Success = true
		e.res.Message = "no message available"
		e.audit(audit.LevelInfo, "No message available at source", map[string]any{"adapter_id": b.Source.ID})
		return nil
	}
	if err != nil {
		return err
	}
	e.received = true
	e.res.BytesIn = len(msg.Payload)
	e.audit(audit.LevelInfo, "Message received", map[string]any{
		"adapter_id": b.Source.ID, "adapter_type": string(b.Source.Type), "size": len(msg.Payload),
	})

	p, err := s.Process(ctx, b, pl, msg)
	if err != nil {
		return err
	}
	e.audit(audit.LevelInfo, "Message routed", map[string]any{
		"mode": string(p.Routed.Mode), "content_type": p.Routed.ContentType,
	})
	if p.Result != nil {
		e.res.Steps = p.Result.Steps
		e.audit(audit.LevelInfo, "Transformations applied", map[string]any{"steps": len(p.Result.Steps)})
	}

	if p.Filtered() {
		e.res.Success = true
		e.res.Filtered = true
		e.res.Message = "message filtered out by " + p.Result.FilteredBy
		e.audit(audit.LevelInfo, "Message filtered out", map[string]any{"transformation_id": p.Result.FilteredBy})
		return e.ack(ctx, msg)
	}

	for _, target := range b.Targets {
		data, err := s.Render(ctx, b, target, p)
		if err != nil {
			return err
		}
		sent, err := s.Deliver(ctx, target, data, contentTypeFor(p, data), msg.Headers)
		if err != nil {
			return err
		}
		e.res.BytesOut += len(data)
		e.res.SendResults = append(e.res.SendResults, sent)
		e.audit(audit.LevelInfo, "Message delivered", map[string]any{
			"adapter_id": target.ID, "adapter_type": string(target.Type), "size": len(data),
		})
	}

	e.res.Success = true
	e.res.Delivered = true
	e.res.Message = fmt.Sprintf("delivered to %d target(s)", len(b.Targets))
	return e.ack(ctx, msg)
}

func (e *execution) ack(ctx context.Context, msg *adapter.Message) error {
	if err := msg.Ack(ctx); err != nil {
		return errors.WrapTransient(err, "engine", "ExecuteFlow", "acknowledge source message")
	}
	return nil
}

func contentTypeFor(p *Processed, data []byte) string {
	if p.Routed.Mode == flowstore.PassThrough {
		return p.Routed.ContentType
	}
	return routing.ContentType(data)
}
