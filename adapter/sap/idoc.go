package sap

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// Control record headers exchanged with the gateway
const (
	HeaderDocNumber       = "X-IDoc-Number"
	HeaderIDocType        = "X-IDoc-Type"
	HeaderMessageType     = "X-IDoc-Message-Type"
	HeaderSenderPartner   = "X-IDoc-Sender-Partner"
	HeaderReceiverPartner = "X-IDoc-Receiver-Partner"
)

// DefaultInbox is the gateway path IDocs are fetched from and posted to
const DefaultInbox = "idocs"

// ControlRecord identifies an outbound IDoc
type ControlRecord struct {
	IDocType        string `json:"idoc_type"`
	MessageType     string `json:"message_type"`
	SenderPartner   string `json:"sender_partner,omitempty"`
	ReceiverPartner string `json:"receiver_partner,omitempty"`
}

// IDocSenderConfig configures fetching IDocs from the gateway inbox
type IDocSenderConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	Inbox       string `json:"inbox,omitempty"`
	MessageType string `json:"message_type,omitempty"`
}

// Validate checks the gateway endpoint
func (c *IDocSenderConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return errors.WrapInvalid(err, "sap", "Validate", "gateway endpoint")
	}
	return c.Conversion.Validate()
}

// IDocReceiverConfig configures posting IDocs to the gateway
type IDocReceiverConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	ControlRecord
	Inbox string `json:"inbox,omitempty"`
}

// Validate checks the endpoint and control record
func (c *IDocReceiverConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return errors.WrapInvalid(err, "sap", "Validate", "gateway endpoint")
	}
	if strings.TrimSpace(c.IDocType) == "" || strings.TrimSpace(c.MessageType) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "sap", "Validate", "idoc_type and message_type are required")
	}
	return c.Conversion.Validate()
}

func inbox(name string) string {
	if name == "" {
		return DefaultInbox
	}
	return strings.Trim(name, "/")
}

// IDocSender fetches IDocs one at a time. Acknowledging a message removes the
// IDoc from the gateway inbox.
type IDocSender struct {
	*adapter.Base
	cfg    *IDocSenderConfig
	client *httpclient.Client
}

// NewIDocSender creates an IDOC sender
func NewIDocSender(cfg *IDocSenderConfig, deps adapter.Dependencies) *IDocSender {
	s := &IDocSender{cfg: cfg}
	s.Base = adapter.NewBase(adapter.TypeIDOC, adapter.ModeSender, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return s.client.Ping(ctx, cfg.URL) },
	})
	s.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("idoc-sender"), s.Logger(), deps.Metrics)
	return s
}

// Receive fetches the next IDoc. 204 or an empty body is ErrNoMessage.
func (s *IDocSender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	query := url.Values{}
	if s.cfg.MessageType != "" {
		query.Set("messageType", s.cfg.MessageType)
	}
	target, err := s.cfg.Endpoint.Join(query, inbox(s.cfg.Inbox), "next")
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}
	resp, err := s.client.Do(ctx, httpclient.NewRequest(http.MethodGet, target, nil, ""))
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}
	body := bytes.TrimSpace(resp.Body)
	if resp.StatusCode == http.StatusNoContent || len(body) == 0 {
		return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
	}
	if _, err := payload.ParseXML(body); err != nil {
		return nil, s.Observe("receive", start, 0, fmt.Errorf("%w: IDoc is not XML: %v", errors.ErrInvalidData, err))
	}

	docNum := resp.Header.Get(HeaderDocNumber)
	msg := adapter.NewMessage(body, "application/xml", s.cfg.URL)
	msg.Headers["idoc_number"] = docNum
	msg.Headers["idoc_type"] = resp.Header.Get(HeaderIDocType)
	msg.Headers["message_type"] = resp.Header.Get(HeaderMessageType)
	if docNum != "" {
		msg.WithAck(func(ctx context.Context) error { return s.confirm(ctx, docNum) })
	}
	return msg, s.Observe("receive", start, len(body), nil)
}

func (s *IDocSender) confirm(ctx context.Context, docNum string) error {
	target, err := s.cfg.Endpoint.Join(nil, inbox(s.cfg.Inbox), docNum)
	if err != nil {
		return s.Fail("ack", err)
	}
	if _, err := s.client.Do(ctx, httpclient.NewRequest(http.MethodDelete, target, nil, "")); err != nil {
		return s.Fail("ack", fmt.Errorf("confirm IDoc %s: %w", docNum, err))
	}
	return nil
}

// IDocReceiver posts IDoc XML with its control record
type IDocReceiver struct {
	*adapter.Base
	cfg    *IDocReceiverConfig
	client *httpclient.Client
}

// NewIDocReceiver creates an IDOC receiver
func NewIDocReceiver(cfg *IDocReceiverConfig, deps adapter.Dependencies) *IDocReceiver {
	r := &IDocReceiver{cfg: cfg}
	r.Base = adapter.NewBase(adapter.TypeIDOC, adapter.ModeReceiver, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return r.client.Ping(ctx, cfg.URL) },
	})
	r.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("idoc-receiver"), r.Logger(), deps.Metrics)
	return r
}

// Send posts msg as an IDoc. The gateway's document number is returned in
// the result details.
func (r *IDocReceiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	if _, err := payload.ParseXML(msg.Payload); err != nil {
		return nil, r.Observe("send", start, 0, fmt.Errorf("%w: IDoc payload must be XML: %v", errors.ErrInvalidData, err))
	}
	target, err := r.cfg.Endpoint.Join(nil, inbox(r.cfg.Inbox))
	if err != nil {
		return nil, r.Observe("send", start, 0, err)
	}
	resp, err := r.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := httpclient.NewRequest(http.MethodPost, target, msg.Payload, "application/xml")(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set(HeaderIDocType, r.cfg.IDocType)
		req.Header.Set(HeaderMessageType, r.cfg.MessageType)
		if r.cfg.SenderPartner != "" {
			req.Header.Set(HeaderSenderPartner, r.cfg.SenderPartner)
		}
		if r.cfg.ReceiverPartner != "" {
			req.Header.Set(HeaderReceiverPartner, r.cfg.ReceiverPartner)
		}
		return req, nil
	})
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	return &adapter.SendResult{
		Success:   true,
		Message:   "IDoc posted",
		BytesSent: len(msg.Payload),
		Details: map[string]any{
			"idoc_number":  resp.Header.Get(HeaderDocNumber),
			"idoc_type":    r.cfg.IDocType,
			"message_type": r.cfg.MessageType,
		},
	}, nil
}
