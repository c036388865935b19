// Package rest implements the REST adapter pair: a sender that polls a GET
// endpoint and a receiver that sends JSON requests. Both go through the
// shared HTTP client, so retry and circuit breaking apply.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpadapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// SenderConfig configures polling of a REST resource
type SenderConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	Query    map[string]string `json:"query,omitempty"`
	DataPath string            `json:"data_path,omitempty"`
	Accept   string            `json:"accept,omitempty"`
}

// Validate checks the endpoint
func (c *SenderConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return errors.WrapInvalid(err, "rest", "Validate", "endpoint")
	}
	return c.Conversion.Validate()
}

// ReceiverConfig configures outbound REST requests
type ReceiverConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	Method      string `json:"method,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Validate checks the endpoint and method
func (c *ReceiverConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return errors.WrapInvalid(err, "rest", "Validate", "endpoint")
	}
	switch c.method() {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: method %q", errors.ErrInvalidConfig, c.Method),
			"rest", "Validate", "method")
	}
	return c.Conversion.Validate()
}

func (c *ReceiverConfig) method() string {
	if c.Method == "" {
		return http.MethodPost
	}
	return strings.ToUpper(c.Method)
}

func (c *ReceiverConfig) contentType() string {
	if c.ContentType == "" {
		return "application/json"
	}
	return c.ContentType
}

// Sender polls a REST endpoint
type Sender struct {
	*adapter.Base
	cfg    *SenderConfig
	client *httpclient.Client
}

// NewSender creates a REST sender
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *Sender {
	s := &Sender{cfg: cfg}
	s.Base = adapter.NewBase(adapter.TypeREST, adapter.ModeSender, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return s.client.Ping(ctx, cfg.URL) },
	})
	s.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("rest-sender"), s.Logger(), deps.Metrics)
	return s
}

// Receive fetches the resource. An empty body, 204 or empty JSON array is
// reported as ErrNoMessage.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	query := url.Values{}
	for k, v := range s.cfg.Query {
		query.Set(k, v)
	}
	target, err := s.cfg.Endpoint.Join(query)
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}
	accept := s.cfg.Accept
	if accept == "" {
		accept = "application/json"
	}
	resp, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", accept)
		return req, nil
	})
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}

	body := resp.Body
	if s.cfg.DataPath != "" {
		res := gjson.GetBytes(body, s.cfg.DataPath)
		if !res.Exists() {
			return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
		}
		body = []byte(res.Raw)
	}
	if empty(resp.StatusCode, body) {
		return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
	}

	msg := adapter.NewMessage(body, resp.Header.Get("Content-Type"), s.cfg.URL)
	msg.Headers["status_code"] = fmt.Sprint(resp.StatusCode)
	return msg, s.Observe("receive", start, len(body), nil)
}

func empty(status int, body []byte) bool {
	if status == http.StatusNoContent {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("null"))
}

// Receiver sends payloads as REST requests
type Receiver struct {
	*adapter.Base
	cfg    *ReceiverConfig
	client *httpclient.Client
}

// NewReceiver creates a REST receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *Receiver {
	r := &Receiver{cfg: cfg}
	r.Base = adapter.NewBase(adapter.TypeREST, adapter.ModeReceiver, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return r.client.Ping(ctx, cfg.URL) },
	})
	r.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("rest-receiver"), r.Logger(), deps.Metrics)
	return r
}

// Send issues one request with msg as body
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	resp, err := r.client.Do(ctx, httpclient.NewRequest(r.cfg.method(), r.cfg.URL, msg.Payload, r.cfg.contentType()))
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	return httpadapter.Result(resp, len(msg.Payload), r.client.BreakerState()), nil
}

// Register adds the REST sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeREST,
		Mode:        adapter.ModeSender,
		Description: "Polls a REST resource with GET",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeREST,
		Mode:        adapter.ModeReceiver,
		Description: "Sends JSON requests to a REST resource",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
