// Package sap implements the RFC and IDOC adapter pairs. Both talk to an SAP
// gateway over HTTP: function modules are invoked as JSON-RPC calls and
// IDocs are exchanged as XML through the gateway's inbox.
package sap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// RFCSenderConfig configures a function module call whose result is the
// inbound message
type RFCSenderConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	Function   string         `json:"function_module"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ResultPath string         `json:"result_path,omitempty"`
}

// Validate checks the gateway and function name
func (c *RFCSenderConfig) Validate() error {
	if err := validateRFC(c.Endpoint, c.Function); err != nil {
		return err
	}
	return c.Conversion.Validate()
}

// RFCReceiverConfig configures a function module invoked with each payload
type RFCReceiverConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	Function     string `json:"function_module"`
	PayloadParam string `json:"payload_parameter,omitempty"`
	CommitWork   bool   `json:"commit_work,omitempty"`
}

// Validate checks the gateway and function name
func (c *RFCReceiverConfig) Validate() error {
	if err := validateRFC(c.Endpoint, c.Function); err != nil {
		return err
	}
	return c.Conversion.Validate()
}

func validateRFC(ep httpclient.Endpoint, function string) error {
	if err := ep.Validate(); err != nil {
		return errors.WrapInvalid(err, "sap", "Validate", "gateway endpoint")
	}
	if strings.TrimSpace(function) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "sap", "Validate", "function_module is required")
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     string          `json:"id"`
}

// RFCError is an error returned by the function module
type RFCError struct {
	Function string
	Code     int
	Message  string
}

func (e *RFCError) Error() string {
	return fmt.Sprintf("RFC %s failed (%d): %s", e.Function, e.Code, e.Message)
}

// ErrorClass implements classification: the call itself was rejected.
func (e *RFCError) ErrorClass() errors.ErrorClass { return errors.ErrorInvalid }

// invoke calls function with params and returns the raw result
func invoke(ctx context.Context, c *httpclient.Client, url, function string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: function, Params: params, ID: uuid.NewString()})
	if err != nil {
		return nil, fmt.Errorf("%w: encode RFC parameters: %v", errors.ErrInvalidData, err)
	}
	resp, err := c.Do(ctx, httpclient.NewRequest(http.MethodPost, url, body, "application/json"))
	if err != nil {
		return nil, err
	}
	var out rpcResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: RFC gateway response: %v", errors.ErrParsingFailed, err)
	}
	if out.Error != nil {
		return nil, &RFCError{Function: function, Code: out.Error.Code, Message: out.Error.Message}
	}
	return out.Result, nil
}

// RFCSender calls a function module and delivers its result
type RFCSender struct {
	*adapter.Base
	cfg    *RFCSenderConfig
	client *httpclient.Client
}

// NewRFCSender creates an RFC sender
func NewRFCSender(cfg *RFCSenderConfig, deps adapter.Dependencies) *RFCSender {
	s := &RFCSender{cfg: cfg}
	s.Base = adapter.NewBase(adapter.TypeRFC, adapter.ModeSender, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return s.client.Ping(ctx, cfg.URL) },
	})
	s.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("rfc-sender"), s.Logger(), deps.Metrics)
	return s
}

// Receive invokes the function module. A null or empty result is ErrNoMessage.
func (s *RFCSender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	result, err := invoke(ctx, s.client, s.cfg.URL, s.cfg.Function, s.cfg.Parameters)
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}
	if s.cfg.ResultPath != "" {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(result, &fields); err == nil {
			result = fields[s.cfg.ResultPath]
		} else {
			result = nil
		}
	}
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("[]")) {
		return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
	}

	msg := adapter.NewMessage(trimmed, "application/json", s.cfg.Function)
	msg.Headers["function_module"] = s.cfg.Function
	return msg, s.Observe("receive", start, len(trimmed), nil)
}

// RFCReceiver invokes a function module with each payload
type RFCReceiver struct {
	*adapter.Base
	cfg    *RFCReceiverConfig
	client *httpclient.Client
}

// NewRFCReceiver creates an RFC receiver
func NewRFCReceiver(cfg *RFCReceiverConfig, deps adapter.Dependencies) *RFCReceiver {
	r := &RFCReceiver{cfg: cfg}
	r.Base = adapter.NewBase(adapter.TypeRFC, adapter.ModeReceiver, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return r.client.Ping(ctx, cfg.URL) },
	})
	r.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("rfc-receiver"), r.Logger(), deps.Metrics)
	return r
}

// Send passes a JSON object payload as the call's parameters. Any other
// payload goes under payload_parameter (default "DATA") as a string.
func (r *RFCReceiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	result, err := invoke(ctx, r.client, r.cfg.URL, r.cfg.Function, r.params(msg.Payload))
	if err == nil && r.cfg.CommitWork {
		_, err = invoke(ctx, r.client, r.cfg.URL, "BAPI_TRANSACTION_COMMIT", map[string]any{"WAIT": "X"})
	}
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	return &adapter.SendResult{
		Success:   true,
		Message:   "Function module " + r.cfg.Function + " executed",
		BytesSent: len(msg.Payload),
		Details:   map[string]any{"function_module": r.cfg.Function, "result": string(result)},
	}, nil
}

func (r *RFCReceiver) params(data []byte) any {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		if r.cfg.PayloadParam == "" {
			return obj
		}
		return map[string]any{r.cfg.PayloadParam: obj}
	}
	name := r.cfg.PayloadParam
	if name == "" {
		name = "DATA"
	}
	return map[string]any{name: string(data)}
}
