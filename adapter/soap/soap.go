// Package soap implements the SOAP adapter pair. Payloads travel inside a
// SOAP 1.1 or 1.2 envelope; responses are unwrapped to the first element of
// their Body and faults become errors.
package soap

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpadapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/convert"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// SOAP versions
const (
	Version11 = "1.1"
	Version12 = "1.2"
)

// Service is the section shared by both SOAP configurations
type Service struct {
	httpclient.Endpoint
	Version string `json:"soap_version,omitempty"`
	Action  string `json:"soap_action,omitempty"`
}

// Validate checks the endpoint and version
func (s Service) Validate() error {
	if err := s.Endpoint.Validate(); err != nil {
		return errors.WrapInvalid(err, "soap", "Validate", "endpoint")
	}
	switch s.version() {
	case Version11, Version12:
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: soap_version %q", errors.ErrInvalidConfig, s.Version), "soap", "Validate", "soap_version")
}

func (s Service) version() string {
	if s.Version == "" {
		return Version11
	}
	return s.Version
}

// SenderConfig configures a SOAP call whose response is the inbound message
type SenderConfig struct {
	adapter.Conversion
	Service
	RequestBody string `json:"request_body,omitempty"`
}

// Validate checks the service and request body
func (c *SenderConfig) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return err
	}
	if c.RequestBody != "" {
		if _, err := payload.ParseXML([]byte(c.RequestBody)); err != nil {
			return errors.WrapInvalid(err, "soap", "Validate", "request_body")
		}
	}
	return c.Conversion.Validate()
}

// ReceiverConfig configures SOAP calls carrying outbound payloads
type ReceiverConfig struct {
	adapter.Conversion
	Service
}

// Validate checks the service
func (c *ReceiverConfig) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return err
	}
	return c.Conversion.Validate()
}

// Envelope wraps body in a SOAP envelope of the given version. A body that
// already is an envelope is returned unchanged.
func Envelope(version string, body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		doc, err := payload.ParseXML(body)
		if err != nil {
			return nil, fmt.Errorf("%w: SOAP body must be XML: %v", errors.ErrInvalidData, err)
		}
		if convert.IsSOAPEnvelope(doc.Root()) {
			return body, nil
		}
		body = stripDeclaration(body)
	}
	ns := convert.SOAP11Namespace
	if version == Version12 {
		ns = convert.SOAP12Namespace
	}
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString(`<soap:Envelope xmlns:soap="` + ns + `"><soap:Header/><soap:Body>`)
	buf.Write(body)
	buf.WriteString(`</soap:Body></soap:Envelope>`)
	return buf.Bytes(), nil
}

func stripDeclaration(b []byte) []byte {
	if !bytes.HasPrefix(b, []byte("<?xml")) {
		return b
	}
	if i := bytes.Index(b, []byte("?>")); i >= 0 {
		return bytes.TrimSpace(b[i+2:])
	}
	return b
}

// Unwrap returns the first Body child of a SOAP response. Faults are errors.
func Unwrap(resp []byte) ([]byte, error) {
	doc, err := payload.ParseXML(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: SOAP response is not XML: %v", errors.ErrInvalidData, err)
	}
	inner, err := convert.UnwrapSOAP(doc)
	if err != nil {
		return nil, err
	}
	return inner.Bytes(), nil
}

type client struct {
	svc  Service
	http *httpclient.Client
}

func (c *client) call(ctx context.Context, envelope []byte) (*httpclient.Response, error) {
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.svc.URL, bytes.NewReader(envelope))
		if err != nil {
			return nil, err
		}
		if c.svc.version() == Version12 {
			ct := "application/soap+xml; charset=utf-8"
			if c.svc.Action != "" {
				ct += `; action="` + c.svc.Action + `"`
			}
			req.Header.Set("Content-Type", ct)
		} else {
			req.Header.Set("Content-Type", "text/xml; charset=utf-8")
			req.Header.Set("SOAPAction", `"`+c.svc.Action+`"`)
		}
		return req, nil
	})
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && strings.Contains(se.Body, "Fault") {
			if _, ferr := Unwrap([]byte(se.Body)); ferr != nil {
				return nil, fmt.Errorf("%w (HTTP %d)", ferr, se.StatusCode)
			}
		}
		return nil, err
	}
	return resp, nil
}

// Sender calls a SOAP operation and delivers the response
type Sender struct {
	*adapter.Base
	cfg    *SenderConfig
	client *client
}

// NewSender creates a SOAP sender
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *Sender {
	s := &Sender{cfg: cfg}
	s.Base = adapter.NewBase(adapter.TypeSOAP, adapter.ModeSender, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return s.client.http.Ping(ctx, cfg.URL) },
	})
	s.client = &client{svc: cfg.Service, http: httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("soap-sender"), s.Logger(), deps.Metrics)}
	return s
}

// Receive posts the request envelope and returns the unwrapped response body
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	env, err := Envelope(s.cfg.version(), []byte(s.cfg.RequestBody))
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}
	resp, err := s.client.call(ctx, env)
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
	}
	body, err := Unwrap(resp.Body)
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}
	msg := adapter.NewMessage(body, "application/xml", s.cfg.URL)
	msg.Headers["soap_action"] = s.cfg.Action
	return msg, s.Observe("receive", start, len(body), nil)
}

// Receiver sends payloads as SOAP requests
type Receiver struct {
	*adapter.Base
	cfg    *ReceiverConfig
	client *client
}

// NewReceiver creates a SOAP receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *Receiver {
	r := &Receiver{cfg: cfg}
	r.Base = adapter.NewBase(adapter.TypeSOAP, adapter.ModeReceiver, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return r.client.http.Ping(ctx, cfg.URL) },
	})
	r.client = &client{svc: cfg.Service, http: httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("soap-receiver"), r.Logger(), deps.Metrics)}
	return r
}

// Send wraps msg in an envelope and posts it. A Fault response fails the send.
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	env, err := Envelope(r.cfg.version(), msg.Payload)
	if err != nil {
		return nil, r.Observe("send", start, 0, err)
	}
	resp, err := r.client.call(ctx, env)
	if err == nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		_, err = Unwrap(resp.Body)
	}
	if err := r.Observe("send", start, len(env), err); err != nil {
		return nil, err
	}
	res := httpadapter.Result(resp, len(env), r.client.http.BreakerState())
	res.Details["soap_version"] = r.cfg.version()
	return res, nil
}

// Register adds the SOAP sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeSOAP,
		Mode:        adapter.ModeSender,
		Description: "Calls a SOAP operation and delivers the response body",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeSOAP,
		Mode:        adapter.ModeReceiver,
		Description: "Sends payloads inside a SOAP 1.1 or 1.2 envelope",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
