package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/convert"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// ValidationRule constrains the values of one field. Empty constraints are
// not checked.
type ValidationRule struct {
	Field     string   `json:"field"`
	Pattern   string   `json:"pattern,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Allowed   []string `json:"allowed,omitempty"`
	Numeric   bool     `json:"numeric,omitempty"`
}

// ValidationConfig configures a VALIDATION step. JSONSchema applies to JSON
// payloads directly and to XML payloads through their JSON form.
type ValidationConfig struct {
	RequiredFields []string         `json:"requiredFields,omitempty"`
	Rules          []ValidationRule `json:"rules,omitempty"`
	JSONSchema     json.RawMessage  `json:"jsonSchema,omitempty"`
}

type validationStep struct {
	cfg      ValidationConfig
	patterns map[int]*regexp.Regexp
	schema   *gojsonschema.Schema
}

func prepareValidation(_ context.Context, t *flowstore.Transformation) (Step, error) {
	var cfg ValidationConfig
	if err := decodeConfig(t, &cfg, "validation transformation configuration is missing"); err != nil {
		return nil, err
	}
	if len(cfg.RequiredFields) == 0 && len(cfg.Rules) == 0 && len(cfg.JSONSchema) == 0 {
		return nil, fmt.Errorf("%w: validation has no required fields, rules or schema", errors.ErrMissingConfig)
	}

	s := &validationStep{cfg: cfg, patterns: make(map[int]*regexp.Regexp)}
	for _, f := range cfg.RequiredFields {
		if err := validateField(f); err != nil {
			return nil, err
		}
	}
	for i, r := range cfg.Rules {
		if err := validateField(r.Field); err != nil {
			return nil, err
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: pattern for %s: %v", errors.ErrInvalidConfig, r.Field, err)
			}
			s.patterns[i] = re
		}
	}
	if len(cfg.JSONSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(cfg.JSONSchema))
		if err != nil {
			return nil, fmt.Errorf("%w: jsonSchema: %v", errors.ErrInvalidConfig, err)
		}
		s.schema = schema
	}
	return s, nil
}

// Apply returns doc unchanged when every check passes. All violations are
// collected into one error wrapping ErrValidationFailed.
func (s *validationStep) Apply(_ context.Context, doc *payload.Document) (*payload.Document, error) {
	var violations []string

	for _, f := range s.cfg.RequiredFields {
		vals, err := readField(doc, f)
		if err != nil {
			return nil, err
		}
		if !hasValue(vals) {
			violations = append(violations, fmt.Sprintf("%s is required", f))
		}
	}

	for i, r := range s.cfg.Rules {
		vals, err := readField(doc, r.Field)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			violations = append(violations, s.check(i, r, toText(v))...)
		}
	}

	if s.schema != nil {
		msgs, err := s.checkSchema(doc)
		if err != nil {
			return nil, err
		}
		violations = append(violations, msgs...)
	}

	if len(violations) > 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrValidationFailed, strings.Join(violations, "; "))
	}
	return doc, nil
}

func (s *validationStep) check(i int, r ValidationRule, v string) []string {
	var out []string
	n := utf8.RuneCountInString(v)
	if r.MinLength != nil && n < *r.MinLength {
		out = append(out, fmt.Sprintf("%s is shorter than %d", r.Field, *r.MinLength))
	}
	if r.MaxLength != nil && n > *r.MaxLength {
		out = append(out, fmt.Sprintf("%s is longer than %d", r.Field, *r.MaxLength))
	}
	if re, ok := s.patterns[i]; ok && !re.MatchString(v) {
		out = append(out, fmt.Sprintf("%s does not match %s", r.Field, r.Pattern))
	}
	if len(r.Allowed) > 0 && !contains(r.Allowed, v) {
		out = append(out, fmt.Sprintf("%s value %q is not allowed", r.Field, v))
	}
	if r.Numeric {
		if _, ok := toFloat64(v); !ok {
			out = append(out, fmt.Sprintf("%s is not numeric", r.Field))
		}
	}
	return out
}

func (s *validationStep) checkSchema(doc *payload.Document) ([]string, error) {
	var data []byte
	switch doc.Kind() {
	case payload.KindJSON:
		data = doc.Bytes()
	case payload.KindXML:
		converted, err := convert.XMLToJSON(doc)
		if err != nil {
			return nil, err
		}
		data = converted
	default:
		return nil, fmt.Errorf("%w: schema validation needs an XML or JSON payload", errors.ErrInvalidData)
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if result.Valid() {
		return nil, nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return msgs, nil
}

func hasValue(vals []any) bool {
	for _, v := range vals {
		if v != nil && toText(v) != "" {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
