// Package odata implements the ODATA adapter pair on top of the shared HTTP
// client. The sender queries an entity set and unwraps the result
// collection; the receiver creates or updates entities.
package odata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpadapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Receiver operations
const (
	OperationCreate = "create"
	OperationUpdate = "update"
)

// SenderConfig configures an entity set query
type SenderConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	EntitySet string `json:"entity_set"`
	Filter    string `json:"filter,omitempty"`
	Select    string `json:"select,omitempty"`
	OrderBy   string `json:"order_by,omitempty"`
	Top       int    `json:"top,omitempty"`
}

// Validate checks the endpoint and entity set
func (c *SenderConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return errors.WrapInvalid(err, "odata", "Validate", "endpoint")
	}
	if strings.TrimSpace(c.EntitySet) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "odata", "Validate", "entity_set is required")
	}
	if c.Top < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: top cannot be negative", errors.ErrInvalidConfig), "odata", "Validate", "top")
	}
	return c.Conversion.Validate()
}

func (c *SenderConfig) query() url.Values {
	q := url.Values{}
	if c.Filter != "" {
		q.Set("$filter", c.Filter)
	}
	if c.Select != "" {
		q.Set("$select", c.Select)
	}
	if c.OrderBy != "" {
		q.Set("$orderby", c.OrderBy)
	}
	if c.Top > 0 {
		q.Set("$top", strconv.Itoa(c.Top))
	}
	return q
}

// ReceiverConfig configures entity writes
type ReceiverConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	EntitySet string `json:"entity_set"`
	Operation string `json:"operation,omitempty"`
	KeyField  string `json:"key_field,omitempty"`
}

// Validate checks the endpoint, entity set and operation
func (c *ReceiverConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return errors.WrapInvalid(err, "odata", "Validate", "endpoint")
	}
	if strings.TrimSpace(c.EntitySet) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "odata", "Validate", "entity_set is required")
	}
	switch c.operation() {
	case OperationCreate:
	case OperationUpdate:
		if c.KeyField == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "odata", "Validate", "key_field is required for update")
		}
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: operation %q", errors.ErrInvalidConfig, c.Operation),
			"odata", "Validate", "operation")
	}
	return c.Conversion.Validate()
}

func (c *ReceiverConfig) operation() string {
	if c.Operation == "" {
		return OperationCreate
	}
	return strings.ToLower(c.Operation)
}

// Sender queries an entity set
type Sender struct {
	*adapter.Base
	cfg    *SenderConfig
	client *httpclient.Client
}

// NewSender creates an ODATA sender
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *Sender {
	s := &Sender{cfg: cfg}
	s.Base = adapter.NewBase(adapter.TypeODATA, adapter.ModeSender, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return metadata(ctx, s.client, cfg.Endpoint) },
	})
	s.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("odata-sender"), s.Logger(), deps.Metrics)
	return s
}

// Receive runs the query. The collection is taken from "value" (v4) or
// "d.results" (v2); an empty collection is ErrNoMessage.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	target, err := s.cfg.Endpoint.Join(s.cfg.query(), s.cfg.EntitySet)
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}
	resp, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}

	rows := Unwrap(resp.Body)
	if !rows.IsArray() || len(rows.Array()) == 0 {
		return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
	}
	body := []byte(rows.Raw)
	msg := adapter.NewMessage(body, "application/json", s.cfg.EntitySet)
	msg.Headers["entity_set"] = s.cfg.EntitySet
	msg.Headers["count"] = strconv.Itoa(len(rows.Array()))
	return msg, s.Observe("receive", start, len(body), nil)
}

// Unwrap returns the result collection of an OData response body
func Unwrap(body []byte) gjson.Result {
	if v := gjson.GetBytes(body, "value"); v.Exists() {
		return v
	}
	if v := gjson.GetBytes(body, "d.results"); v.Exists() {
		return v
	}
	return gjson.ParseBytes(body)
}

// Receiver creates or updates entities
type Receiver struct {
	*adapter.Base
	cfg    *ReceiverConfig
	client *httpclient.Client
}

// NewReceiver creates an ODATA receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *Receiver {
	r := &Receiver{cfg: cfg}
	r.Base = adapter.NewBase(adapter.TypeODATA, adapter.ModeReceiver, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return metadata(ctx, r.client, cfg.Endpoint) },
	})
	r.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("odata-receiver"), r.Logger(), deps.Metrics)
	return r
}

// Send posts a new entity or patches the entity addressed by key_field
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	method, target, err := r.target(msg.Payload)
	if err != nil {
		return nil, r.Observe("send", start, 0, err)
	}
	resp, err := r.client.Do(ctx, httpclient.NewRequest(method, target, msg.Payload, "application/json"))
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	res := httpadapter.Result(resp, len(msg.Payload), r.client.BreakerState())
	res.Details["operation"] = r.cfg.operation()
	return res, nil
}

func (r *Receiver) target(payload []byte) (string, string, error) {
	if r.cfg.operation() == OperationCreate {
		u, err := r.cfg.Endpoint.Join(nil, r.cfg.EntitySet)
		return http.MethodPost, u, err
	}
	key := gjson.GetBytes(payload, r.cfg.KeyField)
	if !key.Exists() || key.String() == "" {
		return "", "", fmt.Errorf("%w: key field %s missing from payload", errors.ErrInvalidData, r.cfg.KeyField)
	}
	literal := key.String()
	if key.Type == gjson.String {
		literal = "'" + strings.ReplaceAll(literal, "'", "''") + "'"
	}
	u, err := r.cfg.Endpoint.Join(nil)
	if err != nil {
		return "", "", err
	}
	return http.MethodPatch, strings.TrimSuffix(u, "/") + "/" + r.cfg.EntitySet + "(" + url.PathEscape(literal) + ")", nil
}

func metadata(ctx context.Context, c *httpclient.Client, ep httpclient.Endpoint) error {
	u, err := ep.Join(nil, "$metadata")
	if err != nil {
		return err
	}
	return c.Ping(ctx, u)
}

// Register adds the ODATA sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeODATA,
		Mode:        adapter.ModeSender,
		Description: "Queries an OData entity set with $filter, $select and $top",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeODATA,
		Mode:        adapter.ModeReceiver,
		Description: "Creates or updates OData entities",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
