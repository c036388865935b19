package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// Filter actions
const (
	FilterInclude = "include"
	FilterExclude = "exclude"
)

// FilterCondition compares one payload field with a value
type FilterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// FilterConfig configures a FILTER step. With action include the payload
// passes when the conditions hold; with exclude it passes when they do not.
type FilterConfig struct {
	Conditions []FilterCondition `json:"conditions"`
	Logic      string            `json:"logic,omitempty"`  // AND (default) or OR
	Action     string            `json:"action,omitempty"` // include (default) or exclude
}

var filterOperators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"contains": true, "startsWith": true, "endsWith": true, "regex": true, "exists": true,
}

type filterStep struct {
	cfg      FilterConfig
	patterns map[int]*regexp.Regexp
}

func prepareFilter(_ context.Context, t *flowstore.Transformation) (Step, error) {
	var cfg FilterConfig
	if err := decodeConfig(t, &cfg, "filter transformation configuration is missing"); err != nil {
		return nil, err
	}
	if len(cfg.Conditions) == 0 {
		return nil, fmt.Errorf("%w: filter has no conditions", errors.ErrMissingConfig)
	}

	cfg.Logic = strings.ToUpper(cfg.Logic)
	switch cfg.Logic {
	case "":
		cfg.Logic = "AND"
	case "AND", "OR":
	default:
		return nil, fmt.Errorf("%w: filter logic %q is not AND or OR", errors.ErrInvalidConfig, cfg.Logic)
	}
	cfg.Action = strings.ToLower(cfg.Action)
	switch cfg.Action {
	case "":
		cfg.Action = FilterInclude
	case FilterInclude, FilterExclude:
	default:
		return nil, fmt.Errorf("%w: filter action %q is not include or exclude", errors.ErrInvalidConfig, cfg.Action)
	}

	s := &filterStep{cfg: cfg, patterns: make(map[int]*regexp.Regexp)}
	for i, c := range cfg.Conditions {
		if err := validateField(c.Field); err != nil {
			return nil, err
		}
		if !filterOperators[c.Operator] {
			return nil, fmt.Errorf("%w: filter operator %q", errors.ErrUnsupportedType, c.Operator)
		}
		if c.Operator == "regex" {
			re, err := regexp.Compile(fmt.Sprint(c.Value))
			if err != nil {
				return nil, fmt.Errorf("%w: filter pattern for %s: %v", errors.ErrInvalidConfig, c.Field, err)
			}
			s.patterns[i] = re
		}
	}
	return s, nil
}

// Apply passes doc through unchanged or returns ErrFiltered.
func (s *filterStep) Apply(_ context.Context, doc *payload.Document) (*payload.Document, error) {
	matched, err := s.matches(doc)
	if err != nil {
		return nil, err
	}
	if matched == (s.cfg.Action == FilterInclude) {
		return doc, nil
	}
	return nil, errors.ErrFiltered
}

func (s *filterStep) matches(doc *payload.Document) (bool, error) {
	or := s.cfg.Logic == "OR"
	for i, c := range s.cfg.Conditions {
		vals, err := readField(doc, c.Field)
		if err != nil {
			return false, err
		}
		ok := s.matchesCondition(i, c, vals)
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	return !or, nil
}

// matchesCondition is true when any value of the field satisfies the condition.
func (s *filterStep) matchesCondition(i int, c FilterCondition, vals []any) bool {
	if c.Operator == "exists" {
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return (len(vals) > 0) == want
	}
	for _, v := range vals {
		if v != nil && s.compare(i, c, v) {
			return true
		}
	}
	return false
}

func (s *filterStep) compare(i int, c FilterCondition, value any) bool {
	got, want := toText(value), toText(c.Value)
	switch c.Operator {
	case "eq":
		if a, b, ok := numbers(value, c.Value); ok {
			return a == b
		}
		return got == want
	case "ne":
		if a, b, ok := numbers(value, c.Value); ok {
			return a != b
		}
		return got != want
	case "gt", "gte", "lt", "lte":
		a, b, ok := numbers(value, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	case "contains":
		return strings.Contains(got, want)
	case "startsWith":
		return strings.HasPrefix(got, want)
	case "endsWith":
		return strings.HasSuffix(got, want)
	case "regex":
		return s.patterns[i].MatchString(got)
	default:
		return false
	}
}

func numbers(a, b any) (float64, float64, bool) {
	x, ok := toFloat64(a)
	if !ok {
		return 0, 0, false
	}
	y, ok := toFloat64(b)
	if !ok {
		return 0, 0, false
	}
	return x, y, true
}
