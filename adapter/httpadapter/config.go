package httpadapter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Listener defaults
const (
	DefaultListenAddress = ":8081"
	DefaultPath          = "/inbound"
	DefaultBufferSize    = 100
	DefaultMaxBodyBytes  = 10 << 20
)

// SenderConfig configures the inbound HTTP listener
type SenderConfig struct {
	adapter.Conversion
	ListenAddress string              `json:"listen_address,omitempty"`
	Path          string              `json:"path,omitempty"`
	Methods       []string            `json:"methods,omitempty"`
	BufferSize    int                 `json:"buffer_size,omitempty"`
	MaxBodyBytes  int64               `json:"max_body_bytes,omitempty"`
	ReceiveWait   config.Duration     `json:"receive_wait,omitempty"`
	Credentials   adapter.Credentials `json:"credentials,omitempty"`
}

// Validate checks the listener settings
func (c *SenderConfig) Validate() error {
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(fmt.Errorf("%w: path must start with /", errors.ErrInvalidConfig),
			"httpadapter", "Validate", "path")
	}
	for _, m := range c.Methods {
		switch strings.ToUpper(m) {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			return errors.WrapInvalid(fmt.Errorf("%w: method %q cannot carry a payload", errors.ErrInvalidConfig, m),
				"httpadapter", "Validate", "methods")
		}
	}
	if c.BufferSize < 0 || c.MaxBodyBytes < 0 || c.ReceiveWait < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: sizes and waits cannot be negative", errors.ErrInvalidConfig),
			"httpadapter", "Validate", "limits")
	}
	return c.Conversion.Validate()
}

func (c *SenderConfig) address() string {
	if c.ListenAddress == "" {
		return DefaultListenAddress
	}
	return c.ListenAddress
}

func (c *SenderConfig) path() string {
	if c.Path == "" {
		return DefaultPath
	}
	return c.Path
}

func (c *SenderConfig) methods() []string {
	if len(c.Methods) == 0 {
		return []string{http.MethodPost}
	}
	out := make([]string, len(c.Methods))
	for i, m := range c.Methods {
		out[i] = strings.ToUpper(m)
	}
	return out
}

func (c *SenderConfig) buffer() int {
	if c.BufferSize == 0 {
		return DefaultBufferSize
	}
	return c.BufferSize
}

func (c *SenderConfig) maxBody() int64 {
	if c.MaxBodyBytes == 0 {
		return DefaultMaxBodyBytes
	}
	return c.MaxBodyBytes
}

// ReceiverConfig configures outbound HTTP calls
type ReceiverConfig struct {
	adapter.Conversion
	httpclient.Endpoint
	Method      string `json:"method,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Validate checks the endpoint and method
func (c *ReceiverConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return errors.WrapInvalid(err, "httpadapter", "Validate", "endpoint")
	}
	switch c.method() {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: method %q", errors.ErrInvalidConfig, c.Method),
			"httpadapter", "Validate", "method")
	}
	return c.Conversion.Validate()
}

func (c *ReceiverConfig) method() string {
	if c.Method == "" {
		return http.MethodPost
	}
	return strings.ToUpper(c.Method)
}
