package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/function"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/mapping"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// fieldMappingHandler loads a step's field mappings and compiles them.
type fieldMappingHandler struct {
	mappings flowstore.MappingStore
	engine   *mapping.Engine
}

func (h *fieldMappingHandler) Prepare(ctx context.Context, t *flowstore.Transformation) (Step, error) {
	if h.mappings == nil {
		return nil, fmt.Errorf("%w: no mapping store", errors.ErrMissingConfig)
	}
	list, err := h.mappings.FindMappings(ctx, t.ID)
	if err != nil {
		return nil, errors.Wrap(err, "fieldMappingHandler", "Prepare", "load field mappings")
	}
	plan, err := h.engine.Compile(ctx, t.ID, list)
	if err != nil {
		return nil, err
	}
	if plan.Len() == 0 {
		return nil, fmt.Errorf("%w: field mapping transformation has no active mappings", errors.ErrMissingConfig)
	}
	return StepFunc(plan.Apply), nil
}

// CustomFunctionConfig configures a CUSTOM_FUNCTION step. FunctionName
// references a stored function by name or id; JavaFunction is an inline
// body. SourceFields, when set, are read from the payload and passed as
// arguments in order.
type CustomFunctionConfig struct {
	FunctionName string   `json:"functionName,omitempty"`
	JavaFunction string   `json:"javaFunction,omitempty"`
	SourceFields []string `json:"sourceFields,omitempty"`
	// TargetField, when set, stores the result in the payload instead of
	// replacing the payload with it.
	TargetField string `json:"targetField,omitempty"`
}

type customFunctionHandler struct {
	resolver  *function.Resolver
	evaluator function.Evaluator
}

func (h *customFunctionHandler) Prepare(ctx context.Context, t *flowstore.Transformation) (Step, error) {
	var cfg CustomFunctionConfig
	if err := decodeConfig(t, &cfg, "custom function configuration is missing"); err != nil {
		return nil, err
	}
	ref := cfg.FunctionName
	if strings.TrimSpace(ref) == "" {
		ref = cfg.JavaFunction
	}
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: custom function name or body is missing", errors.ErrMissingConfig)
	}
	if h.evaluator == nil {
		return nil, fmt.Errorf("%w: no function evaluator", errors.ErrMissingConfig)
	}
	for _, f := range cfg.SourceFields {
		if err := validateField(f); err != nil {
			return nil, err
		}
	}
	if cfg.TargetField != "" {
		if err := validateField(cfg.TargetField); err != nil {
			return nil, err
		}
	}

	fn, err := h.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := function.Precompile(h.evaluator, fn.Body, fn.Params...); err != nil {
		return nil, err
	}

	return StepFunc(func(ctx context.Context, doc *payload.Document) (*payload.Document, error) {
		args := make([]any, len(cfg.SourceFields))
		for i, f := range cfg.SourceFields {
			v, err := firstField(doc, f)
			if err != nil {
				return nil, errors.NewTransformationError(string(t.Type), t.ID, f, err)
			}
			if v == nil {
				v = ""
			}
			args[i] = v
		}

		res, err := fn.Call(ctx, h.evaluator, args, doc.Value())
		if err != nil {
			return nil, errors.NewTransformationError(string(t.Type), t.ID, cfg.TargetField,
				fmt.Errorf("function %s: %w", functionLabel(fn), err))
		}
		if cfg.TargetField != "" {
			return writeField(doc, cfg.TargetField, res)
		}
		return documentFrom(doc, res)
	}), nil
}

func functionLabel(fn *function.Resolved) string {
	if fn.Name != "" {
		return fn.Name
	}
	return "inline"
}
