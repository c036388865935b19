// Package routing decides how a received payload enters a flow: untouched
// for PASS_THROUGH flows, or converted to a canonical document for flows
// that run transformations.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/convert"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// Content types reported for routed payloads
const (
	ContentXML    = "application/xml"
	ContentJSON   = "application/json"
	ContentText   = "text/plain"
	ContentBinary = "application/octet-stream"
)

// Routed is a payload ready for the rest of the flow. Raw is always the
// received bytes; Document is nil for PASS_THROUGH.
type Routed struct {
	Mode        flowstore.MappingMode
	Raw         []byte
	Document    *payload.Document
	ContentType string
}

// Router selects converters by adapter protocol
type Router struct {
	converters *convert.Registry
	logger     *slog.Logger
}

// NewRouter creates a router; a nil registry means the built-in converters.
func NewRouter(converters *convert.Registry, logger *slog.Logger) *Router {
	if converters == nil {
		converters = convert.NewDefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{converters: converters, logger: logger.With("component", "routing")}
}

// Route prepares msg for flow. source is the definition of the adapter the
// message came from.
func (r *Router) Route(ctx context.Context, flow *flowstore.FlowDefinition, source *flowstore.AdapterDefinition, msg *adapter.Message) (*Routed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if flow == nil || source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "routing", "Route", "flow and source check")
	}
	if msg == nil || msg.Payload == nil {
		return nil, errors.WrapInvalid(errors.ErrNilPayload, "routing", "Route", "message check")
	}

	ct := msg.ContentType
	if ct == "" {
		ct = ContentType(msg.Payload)
	}
	mode := flow.EffectiveMappingMode()

	if mode == flowstore.WithMapping && ct == ContentBinary {
		r.logger.Info("Binary payload cannot be mapped, passing through", "flow_id", flow.ID, "size", len(msg.Payload))
		mode = flowstore.PassThrough
	}
	if mode == flowstore.PassThrough {
		r.logger.Info("Passing payload through",
			"flow_id", flow.ID, "content_type", ct, "size", len(msg.Payload))
		return &Routed{Mode: mode, Raw: msg.Payload, ContentType: ct}, nil
	}

	var doc *payload.Document
	var err error
	if flow.SkipXMLConversion && ct == ContentJSON {
		doc, err = payload.ParseJSON(msg.Payload)
		if err != nil {
			err = &errors.ConversionError{Protocol: string(source.Type), Err: err}
		}
	} else {
		doc, err = r.toCanonical(source, msg.Payload)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Converted payload",
		"flow_id", flow.ID, "protocol", source.Type, "content_type", ct,
		"size", len(msg.Payload), "document", doc.Kind().String())
	return &Routed{Mode: mode, Raw: msg.Payload, Document: doc, ContentType: ct}, nil
}

func (r *Router) toCanonical(source *flowstore.AdapterDefinition, raw []byte) (*payload.Document, error) {
	conv, err := r.converters.For(source.Type)
	if err != nil {
		return nil, err
	}
	return conv.ToCanonical(raw, conversionOf(source.Config))
}

// Deliverable renders doc in the wire format of target's protocol.
func (r *Router) Deliverable(ctx context.Context, flow *flowstore.FlowDefinition, target *flowstore.AdapterDefinition, doc *payload.Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "routing", "Deliverable", "target check")
	}
	if doc == nil {
		return nil, errors.WrapInvalid(errors.ErrNilPayload, "routing", "Deliverable", "document check")
	}
	conv, err := r.converters.For(target.Type)
	if err != nil {
		return nil, err
	}
	out, err := conv.FromCanonical(doc, conversionOf(target.Config))
	if err != nil {
		return nil, err
	}
	flowID := ""
	if flow != nil {
		flowID = flow.ID
	}
	r.logger.Debug("Rendered payload for target",
		"flow_id", flowID, "protocol", target.Type, "size", len(out))
	return out, nil
}

// ContentType guesses the content type of data from its first significant
// byte.
func ContentType(data []byte) string {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return ContentText
	}
	switch trimmed[0] {
	case '<':
		return ContentXML
	case '{', '[':
		if json.Valid(trimmed) {
			return ContentJSON
		}
	}
	if bytes.IndexByte(trimmed, 0) >= 0 {
		return ContentBinary
	}
	return ContentText
}

// conversionOf reads the converter settings from an adapter's raw config.
// Other keys are ignored so any protocol's config can be read.
func conversionOf(raw json.RawMessage) adapter.Conversion {
	var c adapter.Conversion
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &c)
	}
	return c
}
