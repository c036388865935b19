// Package mapping compiles a transformation's field mappings into a plan and
// applies it to canonical documents. XML documents are mapped with XPath
// into a new tree; JSON documents are read with gjson and written with
// sjson into a new object.
//
// Mappings run strictly in ascending mappingOrder. A source that matches
// nothing in the input is looked up in the output built so far, so a later
// mapping may read what an earlier one wrote.
package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/function"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

const stepName = string(flowstore.FieldMappingStep)

// Engine compiles field mappings
type Engine struct {
	resolver  *function.Resolver
	evaluator function.Evaluator
	logger    *slog.Logger
	metrics   *mappingMetrics
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics registers mapping metrics
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(e *Engine) { e.metrics = newMappingMetrics(registry) }
}

// NewEngine creates a mapping engine. Without an evaluator, mappings that
// reference functions fail to compile.
func NewEngine(resolver *function.Resolver, evaluator function.Evaluator, opts ...Option) *Engine {
	e := &Engine{resolver: resolver, evaluator: evaluator}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = function.NewResolver(nil)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "mapping-engine")
	return e
}

// Plan is a compiled, ordered list of field mappings
type Plan struct {
	transformationID string
	mappings         []*compiled
	engine           *Engine
}

// Len returns the number of active mappings in the plan
func (p *Plan) Len() int { return len(p.mappings) }

type compiled struct {
	def         *flowstore.FieldMapping
	target      string
	ns          map[string]string
	sources     []string // XPath form
	jsonSources []string // gjson form
	jsonErr     error
	fn          *function.Resolved
}

// Compile validates and compiles mappings for one transformation. Inactive
// mappings are dropped; the rest are ordered by MappingOrder, ties keeping
// list order. Every path is checked here, so a malformed expression fails
// before any payload is touched.
func (e *Engine) Compile(ctx context.Context, transformationID string, mappings []*flowstore.FieldMapping) (*Plan, error) {
	active := make([]*flowstore.FieldMapping, 0, len(mappings))
	for _, m := range mappings {
		if m != nil && m.Active {
			active = append(active, m)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MappingOrder < active[j].MappingOrder
	})

	plan := &Plan{transformationID: transformationID, engine: e}
	for _, m := range active {
		c, err := e.compile(ctx, m)
		if err != nil {
			e.metrics.recordError("compile")
			return nil, errors.NewTransformationError(stepName, transformationID, m.Target(), err)
		}
		plan.mappings = append(plan.mappings, c)
	}
	e.logger.Debug("Compiled field mappings", "transformation_id", transformationID, "mappings", len(plan.mappings))
	return plan, nil
}

func (e *Engine) compile(ctx context.Context, m *flowstore.FieldMapping) (*compiled, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if !knownRule(m.MappingRule) {
		return nil, fmt.Errorf("%w: mapping rule %q", errors.ErrUnsupportedType, m.MappingRule)
	}

	c := &compiled{def: m.Clone(), target: strings.TrimSpace(m.Target())}
	if m.NamespaceAware {
		c.ns = m.Namespaces
	}
	if m.MappingType == flowstore.MapAttribute {
		c.target = attributeTarget(c.target)
	}

	for _, src := range m.Sources() {
		xp := sourceXPath(src, m.IsArrayMapping)
		if _, err := payload.CompileXPath(xp, c.ns); err != nil {
			return nil, err
		}
		c.sources = append(c.sources, xp)

		jp, err := jsonSource(src, m.IsArrayMapping)
		if err != nil && c.jsonErr == nil {
			c.jsonErr = err
		}
		c.jsonSources = append(c.jsonSources, jp)
	}

	check := c.target
	if m.IsArrayMapping {
		if _, err := payload.CompileXPath(m.ArrayContextPath, c.ns); err != nil {
			return nil, err
		}
		check = indexTarget(c.target, 1)
	}
	if err := payload.ValidateTargetPath(check); err != nil {
		return nil, err
	}

	if ref := m.FunctionRef(); strings.TrimSpace(ref) != "" {
		if e.evaluator == nil {
			return nil, fmt.Errorf("%w: no function evaluator configured", errors.ErrMissingConfig)
		}
		fn, err := e.resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		if err := function.Precompile(e.evaluator, fn.Body, fn.Params...); err != nil {
			return nil, err
		}
		c.fn = fn
	}
	return c, nil
}

func knownRule(r flowstore.MappingRule) bool {
	switch r {
	case "", flowstore.RuleDirect, flowstore.RuleConcatenate, flowstore.RuleDateFormat,
		flowstore.RuleUppercase, flowstore.RuleLowercase, flowstore.RuleTrim, flowstore.RuleConstant:
		return true
	}
	return false
}

// sourceXPath returns the XPath for a source locator. A bare name outside an
// array mapping is a legacy locator and matches anywhere in the document.
func sourceXPath(src string, relative bool) string {
	s := strings.TrimSpace(src)
	if relative || s == "." || strings.ContainsAny(s, "/(@[") {
		return s
	}
	return "//" + s
}

func jsonSource(src string, relative bool) (string, error) {
	s := strings.TrimSpace(src)
	if relative && !strings.HasPrefix(s, "/") {
		if s == "." {
			return "@this", nil
		}
		return payload.JSONPath(strings.TrimPrefix(s, "./"))
	}
	return payload.JSONPath(s)
}

func isAbsolute(path string) bool { return strings.HasPrefix(path, "/") }

// attributeTarget turns the last step of path into an attribute step.
func attributeTarget(path string) string {
	i := strings.LastIndex(path, "/")
	last := path[i+1:]
	if strings.HasPrefix(last, "@") {
		return path
	}
	if j := strings.IndexByte(last, '['); j >= 0 {
		last = last[:j]
	}
	return path[:i+1] + "@" + last
}

var positional = regexp.MustCompile(`\[\d+\]$`)

// indexTarget places the 1-based position n into target: every [*] is
// replaced, otherwise the last element step gets [n].
func indexTarget(target string, n int) string {
	pos := fmt.Sprintf("[%d]", n)
	if strings.Contains(target, "[*]") {
		return strings.ReplaceAll(target, "[*]", pos)
	}
	parts := strings.Split(target, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if p == "" || p == "text()" || strings.HasPrefix(p, "@") {
			continue
		}
		if !positional.MatchString(p) {
			parts[i] = p + pos
		}
		break
	}
	return strings.Join(parts, "/")
}

// Apply maps doc into a new document of the same kind.
func (p *Plan) Apply(ctx context.Context, doc *payload.Document) (*payload.Document, error) {
	if doc == nil {
		return nil, errors.NewTransformationError(stepName, p.transformationID, "", errors.ErrNilPayload)
	}
	start := time.Now()
	var (
		out *payload.Document
		err error
	)
	switch doc.Kind() {
	case payload.KindXML:
		out, err = p.applyXML(ctx, doc)
	case payload.KindJSON:
		out, err = p.applyJSON(ctx, doc)
	default:
		err = errors.NewTransformationError(stepName, p.transformationID, "",
			fmt.Errorf("%w: field mapping requires an XML or JSON payload", errors.ErrInvalidData))
	}

	size := 0
	if out != nil {
		size = out.Size()
	}
	p.engine.metrics.recordApply(doc.Kind().String(), err, time.Since(start), len(p.mappings), size)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fail wraps a mapping failure with the target field and counts it.
func (p *Plan) fail(c *compiled, errType string, err error) error {
	var te *errors.TransformationError
	if errors.As(err, &te) {
		return err
	}
	p.engine.metrics.recordError(errType)
	return errors.NewTransformationError(stepName, p.transformationID, c.def.Target(), err)
}

// sourceValues are the matches of each source of one mapping.
type sourceValues struct {
	texts [][]string // every match as text, per source
	first []any      // first match in its native type, per source
}

// evaluate computes the value a mapping writes.
func (p *Plan) evaluate(ctx context.Context, c *compiled, sv sourceValues, input func() any) (any, error) {
	if c.fn != nil {
		args := make([]any, len(sv.first))
		copy(args, sv.first)
		for i, a := range args {
			if a == nil {
				args[i] = ""
			}
		}
		res, err := c.fn.Call(ctx, p.engine.evaluator, args, input())
		if err != nil {
			name := c.fn.Name
			if name == "" {
				name = "inline"
			}
			return nil, p.fail(c, "function", fmt.Errorf("function %s: %w", name, err))
		}
		return p.required(c, res)
	}

	first := func() string {
		for _, vs := range sv.texts {
			for _, v := range vs {
				if v != "" {
					return v
				}
			}
		}
		return ""
	}

	var v any
	switch c.def.MappingRule {
	case "", flowstore.RuleDirect:
		v = ""
		for i, vs := range sv.texts {
			if len(vs) > 0 && vs[0] != "" {
				v = sv.first[i]
				break
			}
		}
	case flowstore.RuleConcatenate:
		sep, ok := c.def.Options["separator"]
		if !ok {
			sep = " "
		}
		var parts []string
		for _, vs := range sv.texts {
			for _, s := range vs {
				if s != "" {
					parts = append(parts, s)
				}
			}
		}
		v = strings.Join(parts, sep)
	case flowstore.RuleDateFormat:
		s, err := function.FormatDate(first(), c.def.Options["inputFormat"], c.def.Options["outputFormat"])
		if err != nil {
			return nil, p.fail(c, "rule", err)
		}
		v = s
	case flowstore.RuleUppercase:
		v = strings.ToUpper(first())
	case flowstore.RuleLowercase:
		v = strings.ToLower(first())
	case flowstore.RuleTrim:
		v = strings.TrimSpace(first())
	case flowstore.RuleConstant:
		v = c.def.Options["value"]
	}
	return p.required(c, v)
}

// required applies the default option and the required flag to an empty value.
func (p *Plan) required(c *compiled, v any) (any, error) {
	if !isEmpty(v) {
		return v, nil
	}
	if d, ok := c.def.Options["default"]; ok {
		return d, nil
	}
	if c.def.Required {
		return nil, p.fail(c, "required", errors.ErrRequiredValue)
	}
	return "", nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}

// lazyInput decodes the payload for function environments at most once.
func lazyInput(doc *payload.Document) func() any {
	var (
		v    any
		done bool
	)
	return func() any {
		if !done {
			v, done = doc.Value(), true
		}
		return v
	}
}
