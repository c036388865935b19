// Package function resolves reusable functions and evaluates their bodies in
// a sandboxed expression language. Bodies cannot reach the filesystem or the
// network; every call is bounded by a compile-size limit and a wall-clock
// timeout.
package function

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/conf"
	"github.com/expr-lang/expr/vm"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/cache"
)

// Evaluator invokes a function body. args are bound to args and arg0..argN,
// params names them positionally and input is the whole current payload.
type Evaluator interface {
	Invoke(ctx context.Context, body string, args []any, input any, params ...string) (any, error)
}

// Options bound evaluation
type Options struct {
	Timeout   time.Duration
	MaxNodes  uint
	CacheSize int
	Logger    *slog.Logger
	Metrics   *metric.MetricsRegistry
}

// ExprEvaluator evaluates bodies written in the expr language. A leading
// "return" and trailing semicolon are accepted.
type ExprEvaluator struct {
	timeout  time.Duration
	maxNodes uint
	programs *cache.LRU[*vm.Program]
	logger   *slog.Logger
	metrics  *evaluatorMetrics

	run func(*vm.Program, any) (any, error)
}

var _ Evaluator = (*ExprEvaluator)(nil)

// NewExprEvaluator creates an evaluator. Zero options take defaults of 2s,
// 2000 nodes and 256 cached programs.
func NewExprEvaluator(opts Options) (*ExprEvaluator, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.MaxNodes == 0 {
		opts.MaxNodes = 2000
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	programs, err := cache.NewLRU[*vm.Program](opts.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "ExprEvaluator", "New", "program cache creation")
	}
	return &ExprEvaluator{
		timeout:  opts.Timeout,
		maxNodes: opts.MaxNodes,
		programs: programs,
		logger:   opts.Logger.With("component", "function-evaluator"),
		metrics:  newEvaluatorMetrics(opts.Metrics),
		run:      expr.Run,
	}, nil
}

// Normalize trims a body and drops a leading "return" and trailing ";".
func Normalize(body string) string {
	b := strings.TrimSpace(body)
	b = strings.TrimSuffix(b, ";")
	if rest, ok := strings.CutPrefix(b, "return "); ok {
		b = rest
	}
	return strings.TrimSpace(b)
}

// Compile compiles body, or returns the cached program. params are declared
// as variables, so a parameter named like a builtin (first, len, ...) refers
// to the argument.
func (e *ExprEvaluator) Compile(body string, params ...string) (*vm.Program, error) {
	src := Normalize(body)
	if src == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "ExprEvaluator", "Compile", "empty function body check")
	}
	key := src
	if len(params) > 0 {
		key = strings.Join(params, ",") + "|" + src
	}
	return e.programs.GetOrCreate(key, func() (*vm.Program, error) {
		opts := append([]expr.Option{
			expr.AllowUndefinedVariables(),
			expr.MaxNodes(e.maxNodes),
			declare(append([]string{"args", "input"}, params...)),
		}, helpers()...)
		prog, err := expr.Compile(src, opts...)
		if err != nil {
			return nil, errors.WrapInvalid(err, "ExprEvaluator", "Compile", "compile function body")
		}
		return prog, nil
	})
}

type outcome struct {
	value any
	err   error
}

// Invoke compiles (or reuses) body and runs it under the evaluator timeout.
// Exceeding it returns ErrFunctionTimeout.
func (e *ExprEvaluator) Invoke(ctx context.Context, body string, args []any, input any, params ...string) (any, error) {
	start := time.Now()
	prog, err := e.Compile(body, params...)
	if err != nil {
		e.metrics.observe("compile_error", start)
		return nil, err
	}

	env := Env(args, input, params...)
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("function panicked: %v", r)}
			}
		}()
		v, err := e.run(prog, env)
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		e.metrics.observe("timeout", start)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("Function evaluation timed out", "timeout", e.timeout)
			return nil, errors.WrapInvalid(errors.ErrFunctionTimeout, "ExprEvaluator", "Invoke", "evaluate function")
		}
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			e.metrics.observe("error", start)
			return nil, errors.WrapInvalid(out.err, "ExprEvaluator", "Invoke", "evaluate function")
		}
		e.metrics.observe("success", start)
		return out.value, nil
	}
}

// Env builds the evaluation environment
func Env(args []any, input any, params ...string) map[string]any {
	if args == nil {
		args = []any{}
	}
	env := make(map[string]any, len(args)*2+2)
	env["args"] = args
	env["input"] = input
	for i, a := range args {
		env[fmt.Sprintf("arg%d", i)] = a
		if i < len(params) && params[i] != "" {
			env[params[i]] = a
		}
	}
	return env
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// declare types names as untyped variables. They win over builtins and are
// fetched from the runtime environment by name.
func declare(names []string) expr.Option {
	return func(c *conf.Config) {
		for _, n := range names {
			if n != "" {
				c.Types[n] = conf.Tag{Type: anyType}
			}
		}
	}
}

func helpers() []expr.Option {
	return []expr.Option{
		expr.Function("concat", func(params ...any) (any, error) {
			var b strings.Builder
			for _, p := range params {
				if p != nil {
					b.WriteString(fmt.Sprint(p))
				}
			}
			return b.String(), nil
		}),
		expr.Function("coalesce", func(params ...any) (any, error) {
			for _, p := range params {
				if p == nil {
					continue
				}
				if s, ok := p.(string); ok && s == "" {
					continue
				}
				return p, nil
			}
			return nil, nil
		}),
		expr.Function("formatDate", func(params ...any) (any, error) {
			if len(params) < 2 || len(params) > 3 {
				return nil, fmt.Errorf("formatDate(value, [inputPattern,] outputPattern)")
			}
			value := fmt.Sprint(params[0])
			if len(params) == 2 {
				return FormatDate(value, "", fmt.Sprint(params[1]))
			}
			return FormatDate(value, fmt.Sprint(params[1]), fmt.Sprint(params[2]))
		}),
	}
}

type evaluatorMetrics struct {
	calls    *prometheus.CounterVec
	duration prometheus.Histogram
}

func newEvaluatorMetrics(registry *metric.MetricsRegistry) *evaluatorMetrics {
	if registry == nil {
		return nil
	}
	m := &evaluatorMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "function", Name: "invocations_total",
			Help: "Function invocations by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: "function", Name: "invocation_duration_seconds",
			Help:    "Function invocation latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 2},
		}),
	}
	_ = registry.RegisterCounterVec("function", "invocations_total", m.calls)
	_ = registry.RegisterHistogram("function", "invocation_duration_seconds", m.duration)
	return m
}

func (m *evaluatorMetrics) observe(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}

// Precompile checks body eagerly when ev can compile ahead of invocation.
func Precompile(ev Evaluator, body string, params ...string) error {
	if c, ok := ev.(interface {
		Compile(string, ...string) (*vm.Program, error)
	}); ok {
		_, err := c.Compile(body, params...)
		return err
	}
	return nil
}
