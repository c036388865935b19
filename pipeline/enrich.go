package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/function"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/lookup"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// LookupSpec reads a key (literal Key, or the value at KeyField) from a
// named lookup provider.
type LookupSpec struct {
	Provider string `json:"provider"`
	Key      string `json:"key,omitempty"`
	KeyField string `json:"keyField,omitempty"`
	Default  string `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// EnrichmentField sets TargetField from exactly one source: a constant
// Value, the value at SourceField, an Expression, or a Lookup. Value may
// hold ${now}, ${today}, ${flowId} or ${transformationId}.
type EnrichmentField struct {
	TargetField string      `json:"targetField"`
	Value       *string     `json:"value,omitempty"`
	SourceField string      `json:"sourceField,omitempty"`
	Expression  string      `json:"expression,omitempty"`
	Lookup      *LookupSpec `json:"lookup,omitempty"`
}

// EnrichmentConfig configures an ENRICHMENT step
type EnrichmentConfig struct {
	Fields []EnrichmentField `json:"fields"`
}

type enrichmentHandler struct {
	lookups   *lookup.Registry
	evaluator function.Evaluator
	now       func() time.Time
}

type enrichment struct {
	def      EnrichmentField
	provider lookup.Provider
}

type enrichmentStep struct {
	t         *flowstore.Transformation
	fields    []enrichment
	evaluator function.Evaluator
	now       func() time.Time
}

func (h *enrichmentHandler) Prepare(_ context.Context, t *flowstore.Transformation) (Step, error) {
	var cfg EnrichmentConfig
	if err := decodeConfig(t, &cfg, "enrichment transformation configuration is missing"); err != nil {
		return nil, err
	}
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("%w: enrichment has no fields", errors.ErrMissingConfig)
	}

	now := h.now
	if now == nil {
		now = time.Now
	}
	s := &enrichmentStep{t: t.Clone(), evaluator: h.evaluator, now: now}
	for _, f := range cfg.Fields {
		if err := validateField(f.TargetField); err != nil {
			return nil, errors.NewTransformationError(string(t.Type), t.ID, f.TargetField, err)
		}
		sources := 0
		e := enrichment{def: f}
		if f.Value != nil {
			sources++
		}
		if f.SourceField != "" {
			sources++
			if err := validateField(f.SourceField); err != nil {
				return nil, errors.NewTransformationError(string(t.Type), t.ID, f.TargetField, err)
			}
		}
		if f.Expression != "" {
			sources++
			if h.evaluator == nil {
				return nil, errors.NewTransformationError(string(t.Type), t.ID, f.TargetField,
					fmt.Errorf("%w: no function evaluator", errors.ErrMissingConfig))
			}
			if err := function.Precompile(h.evaluator, f.Expression); err != nil {
				return nil, errors.NewTransformationError(string(t.Type), t.ID, f.TargetField, err)
			}
		}
		if f.Lookup != nil {
			sources++
			if f.Lookup.Key == "" && f.Lookup.KeyField == "" {
				return nil, errors.NewTransformationError(string(t.Type), t.ID, f.TargetField,
					fmt.Errorf("%w: lookup needs key or keyField", errors.ErrMissingConfig))
			}
			p, err := h.lookups.Get(f.Lookup.Provider)
			if err != nil {
				return nil, errors.NewTransformationError(string(t.Type), t.ID, f.TargetField, err)
			}
			e.provider = p
		}
		if sources != 1 {
			return nil, errors.NewTransformationError(string(t.Type), t.ID, f.TargetField,
				fmt.Errorf("%w: exactly one of value, sourceField, expression or lookup is required, got %d",
					errors.ErrInvalidConfig, sources))
		}
		s.fields = append(s.fields, e)
	}
	return s, nil
}

// Apply writes every configured field, in order, into a copy of doc.
func (s *enrichmentStep) Apply(ctx context.Context, doc *payload.Document) (*payload.Document, error) {
	out := doc
	for _, e := range s.fields {
		v, skip, err := s.value(ctx, e, out)
		if err != nil {
			return nil, errors.NewTransformationError(string(s.t.Type), s.t.ID, e.def.TargetField, err)
		}
		if skip {
			continue
		}
		next, err := writeField(out, e.def.TargetField, v)
		if err != nil {
			return nil, errors.NewTransformationError(string(s.t.Type), s.t.ID, e.def.TargetField, err)
		}
		out = next
	}
	return out, nil
}

// value computes a field's value; skip is set when there is nothing to write.
func (s *enrichmentStep) value(ctx context.Context, e enrichment, doc *payload.Document) (any, bool, error) {
	f := e.def
	switch {
	case f.Value != nil:
		return s.expand(*f.Value), false, nil
	case f.SourceField != "":
		v, err := firstField(doc, f.SourceField)
		return v, v == nil, err
	case f.Expression != "":
		v, err := s.evaluator.Invoke(ctx, f.Expression, nil, doc.Value())
		return v, v == nil, err
	default:
		key := f.Lookup.Key
		if f.Lookup.KeyField != "" {
			v, err := firstField(doc, f.Lookup.KeyField)
			if err != nil {
				return nil, false, err
			}
			key = toText(v)
		}
		v, ok, err := e.provider.Lookup(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return v, false, nil
		}
		if f.Lookup.Default != "" {
			return f.Lookup.Default, false, nil
		}
		if f.Lookup.Required {
			return nil, false, fmt.Errorf("%w: lookup %s has no entry for %q", errors.ErrRequiredValue, f.Lookup.Provider, key)
		}
		return nil, true, nil
	}
}

func (s *enrichmentStep) expand(v string) string {
	if !strings.Contains(v, "${") {
		return v
	}
	now := s.now().UTC()
	return strings.NewReplacer(
		"${now}", now.Format(time.RFC3339),
		"${today}", now.Format("2006-01-02"),
		"${flowId}", s.t.FlowID,
		"${transformationId}", s.t.ID,
	).Replace(v)
}
