// Package pipeline builds a flow's ordered transformation steps and runs
// them against a canonical document.
//
// Step kinds are looked up in a registration table keyed by transformation
// type. Each handler validates its configuration when the pipeline is built,
// so a missing or malformed configuration fails before any payload is
// touched. Run applies the steps strictly in ascending executionOrder; the
// output of one step is the input of the next.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/function"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/lookup"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/mapping"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// Step is a prepared transformation ready to apply.
type Step interface {
	Apply(ctx context.Context, doc *payload.Document) (*payload.Document, error)
}

// StepFunc adapts a function to Step
type StepFunc func(ctx context.Context, doc *payload.Document) (*payload.Document, error)

// Apply calls f
func (f StepFunc) Apply(ctx context.Context, doc *payload.Document) (*payload.Document, error) {
	return f(ctx, doc)
}

// StepHandler prepares steps of one transformation type.
type StepHandler interface {
	Prepare(ctx context.Context, t *flowstore.Transformation) (Step, error)
}

// HandlerFunc adapts a function to StepHandler
type HandlerFunc func(ctx context.Context, t *flowstore.Transformation) (Step, error)

// Prepare calls f
func (f HandlerFunc) Prepare(ctx context.Context, t *flowstore.Transformation) (Step, error) {
	return f(ctx, t)
}

// Registry maps transformation types to their handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[flowstore.TransformationType]StepHandler
}

// NewRegistry creates an empty handler table
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[flowstore.TransformationType]StepHandler)}
}

// Register installs the handler for a type. A type can be registered once.
func (r *Registry) Register(t flowstore.TransformationType, h StepHandler) error {
	if t == "" || h == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "pipeline.Registry", "Register", "handler registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("step handler %s: %w", t, errors.ErrAlreadyExists)
	}
	r.handlers[t] = h
	return nil
}

// Handler returns the handler registered for t
func (r *Registry) Handler(t flowstore.TransformationType) (StepHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types lists the registered transformation types, sorted
func (r *Registry) Types() []flowstore.TransformationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]flowstore.TransformationType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Deps are the collaborators of the built-in step handlers.
type Deps struct {
	Mappings  flowstore.MappingStore
	Mapper    *mapping.Engine
	Resolver  *function.Resolver
	Evaluator function.Evaluator
	Lookups   *lookup.Registry
	Logger    *slog.Logger
}

// NewDefaultRegistry registers the five built-in step kinds.
func NewDefaultRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Resolver == nil {
		deps.Resolver = function.NewResolver(nil)
	}
	if deps.Mapper == nil {
		deps.Mapper = mapping.NewEngine(deps.Resolver, deps.Evaluator, mapping.WithLogger(deps.Logger))
	}
	if deps.Lookups == nil {
		deps.Lookups = lookup.NewRegistry()
	}

	r := NewRegistry()
	for t, h := range map[flowstore.TransformationType]StepHandler{
		flowstore.FieldMappingStep:   &fieldMappingHandler{mappings: deps.Mappings, engine: deps.Mapper},
		flowstore.CustomFunctionStep: &customFunctionHandler{resolver: deps.Resolver, evaluator: deps.Evaluator},
		flowstore.FilterStep:         HandlerFunc(prepareFilter),
		flowstore.EnrichmentStep:     &enrichmentHandler{lookups: deps.Lookups, evaluator: deps.Evaluator},
		flowstore.ValidationStep:     HandlerFunc(prepareValidation),
	} {
		_ = r.Register(t, h)
	}
	return r
}

// StepReport describes one executed step
type StepReport struct {
	TransformationID string                       `json:"transformationId"`
	Name             string                       `json:"name,omitempty"`
	Type             flowstore.TransformationType `json:"type"`
	Order            int                          `json:"executionOrder"`
	Duration         time.Duration                `json:"duration"`
	InputSize        int                          `json:"inputSize"`
	OutputSize       int                          `json:"outputSize"`
	Filtered         bool                         `json:"filtered,omitempty"`
}

// Result is the outcome of one pipeline run. A filtered run carries the
// document as it was when the filter rejected it.
type Result struct {
	Document   *payload.Document
	Filtered   bool
	FilteredBy string
	Steps      []StepReport
}

type boundStep struct {
	def  *flowstore.Transformation
	step Step
}

// Pipeline is a prepared, ordered list of steps. It is safe to run
// concurrently on different documents.
type Pipeline struct {
	steps   []boundStep
	logger  *slog.Logger
	metrics *pipelineMetrics
}

// Len returns the number of active steps
func (p *Pipeline) Len() int { return len(p.steps) }

// Order returns the transformation ids in run order
func (p *Pipeline) Order() []string {
	ids := make([]string, len(p.steps))
	for i, s := range p.steps {
		ids[i] = s.def.ID
	}
	return ids
}

// Builder prepares pipelines from transformation definitions
type Builder struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *pipelineMetrics
}

// Option configures a Builder
type Option func(*Builder)

// WithLogger sets the builder logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithMetrics registers pipeline metrics
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Builder) { b.metrics = newPipelineMetrics(registry) }
}

// NewBuilder creates a builder over a handler registry
func NewBuilder(registry *Registry, opts ...Option) *Builder {
	b := &Builder{registry: registry}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "pipeline")
	return b
}

// Build prepares the active transformations in ascending executionOrder.
// Two active steps sharing an order, an unknown type or a configuration a
// handler rejects all fail with a TransformationError.
func (b *Builder) Build(ctx context.Context, transformations []*flowstore.Transformation) (*Pipeline, error) {
	active := make([]*flowstore.Transformation, 0, len(transformations))
	for _, t := range transformations {
		if t != nil && t.Active {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].ExecutionOrder < active[j].ExecutionOrder
	})

	p := &Pipeline{logger: b.logger, metrics: b.metrics}
	for i, t := range active {
		if i > 0 && active[i-1].ExecutionOrder == t.ExecutionOrder {
			return nil, errors.NewTransformationError(string(t.Type), t.ID, "",
				fmt.Errorf("%w: executionOrder %d is also used by %s", errors.ErrInvalidConfig, t.ExecutionOrder, active[i-1].ID))
		}
		h, ok := b.registry.Handler(t.Type)
		if !ok {
			return nil, errors.NewTransformationError(string(t.Type), t.ID, "",
				fmt.Errorf("%w: transformation type %q", errors.ErrUnsupportedType, t.Type))
		}
		step, err := h.Prepare(ctx, t)
		if err != nil {
			return nil, stepError(t, err)
		}
		p.steps = append(p.steps, boundStep{def: t.Clone(), step: step})
	}
	b.logger.Debug("Built pipeline", "steps", len(p.steps))
	return p, nil
}

// Run applies every step in order. A FILTER rejection stops the run and is
// reported in the result, not as an error. Any other failure aborts the
// remaining steps.
func (p *Pipeline) Run(ctx context.Context, doc *payload.Document) (*Result, error) {
	if doc == nil {
		return nil, errors.WrapInvalid(errors.ErrNilPayload, "Pipeline", "Run", "input check")
	}
	res := &Result{Document: doc, Steps: make([]StepReport, 0, len(p.steps))}
	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		report := StepReport{
			TransformationID: s.def.ID,
			Name:             s.def.Name,
			Type:             s.def.Type,
			Order:            s.def.ExecutionOrder,
			InputSize:        res.Document.Size(),
		}

		out, err := s.step.Apply(ctx, res.Document)
		report.Duration = time.Since(start)

		if errors.Is(err, errors.ErrFiltered) {
			report.Filtered = true
			report.OutputSize = report.InputSize
			res.Steps = append(res.Steps, report)
			res.Filtered = true
			res.FilteredBy = s.def.ID
			p.metrics.recordStep(s.def.Type, "filtered", report.Duration)
			p.logger.Info("Payload filtered out", "transformation_id", s.def.ID, "step", s.def.Type)
			return res, nil
		}
		if err == nil && out == nil {
			err = errors.ErrNilPayload
		}
		if err != nil {
			p.metrics.recordStep(s.def.Type, "error", report.Duration)
			p.logger.Error("Pipeline step failed",
				"transformation_id", s.def.ID, "step", s.def.Type, "order", s.def.ExecutionOrder, "error", err)
			return nil, stepError(s.def, err)
		}

		report.OutputSize = out.Size()
		res.Steps = append(res.Steps, report)
		res.Document = out
		p.metrics.recordStep(s.def.Type, "success", report.Duration)
	}
	return res, nil
}

// stepError makes sure err names the step it came from.
func stepError(t *flowstore.Transformation, err error) error {
	var te *errors.TransformationError
	if errors.As(err, &te) {
		return err
	}
	return errors.NewTransformationError(string(t.Type), t.ID, "", err)
}

// decodeConfig unmarshals a step configuration strictly. An empty
// configuration is reported with missing.
func decodeConfig(t *flowstore.Transformation, v any, missing string) error {
	if len(t.Configuration) == 0 || string(t.Configuration) == "null" {
		return fmt.Errorf("%w: %s", errors.ErrMissingConfig, missing)
	}
	if err := strictUnmarshal(t.Configuration, v); err != nil {
		return fmt.Errorf("%w: %s configuration: %v", errors.ErrInvalidConfig, t.Type, err)
	}
	return nil
}
