package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// xmlField turns a configured field into an XPath. Bare names and relative
// paths match anywhere in the document.
func xmlField(field string) string {
	if strings.HasPrefix(field, "/") || strings.HasPrefix(field, "(") {
		return field
	}
	return "//" + field
}

// readField returns every value of field in doc. XML values are text, JSON
// values keep their decoded type. A field that matches nothing returns no
// values.
func readField(doc *payload.Document, field string) ([]any, error) {
	switch doc.Kind() {
	case payload.KindXML:
		vals, err := payload.SelectValues(doc.Node(), xmlField(field), nil)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = v
		}
		return out, nil
	case payload.KindJSON:
		res, err := payload.GetJSON(doc.Bytes(), field)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(res))
		for i, r := range res {
			out[i] = r.Value()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: fields cannot be read from a %s payload", errors.ErrInvalidData, doc.Kind())
	}
}

// firstField returns the first value of field, or nil.
func firstField(doc *payload.Document, field string) (any, error) {
	vals, err := readField(doc, field)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return vals[0], nil
}

// writeField returns a copy of doc with field set to value.
func writeField(doc *payload.Document, field string, value any) (*payload.Document, error) {
	switch doc.Kind() {
	case payload.KindXML:
		out := doc.Clone()
		if _, err := payload.SetXPath(out.Node(), xmlField(field), toText(value), nil); err != nil {
			return nil, err
		}
		return out, nil
	case payload.KindJSON:
		data, err := payload.SetJSON(doc.Bytes(), field, value)
		if err != nil {
			return nil, err
		}
		return payload.ParseJSON(data)
	default:
		return nil, fmt.Errorf("%w: fields cannot be written to a %s payload", errors.ErrInvalidData, doc.Kind())
	}
}

// validateField checks a configured field path for doc-independent syntax.
func validateField(field string) error {
	if strings.TrimSpace(field) == "" {
		return fmt.Errorf("%w: field cannot be empty", errors.ErrInvalidConfig)
	}
	if _, err := payload.CompileXPath(xmlField(field), nil); err != nil {
		if _, jerr := payload.JSONPath(field); jerr != nil {
			return fmt.Errorf("%w: field %q: %v", errors.ErrInvalidConfig, field, err)
		}
	}
	return nil
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// toFloat64 converts numbers and numeric strings.
func toFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// documentFrom turns a function result into a document shaped like doc:
// strings are reparsed in doc's representation, maps and slices become JSON.
func documentFrom(doc *payload.Document, v any) (*payload.Document, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: function returned no value", errors.ErrNilPayload)
	case string:
		return doc.Reparse(t)
	case []byte:
		return doc.Reparse(string(t))
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return payload.ParseJSON(data)
	default:
		return doc.Reparse(toText(t))
	}
}
