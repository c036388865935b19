package httpclient

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
)

// DefaultTimeout applies when an endpoint sets none
const DefaultTimeout = 30 * time.Second

// Endpoint is the connection section shared by the HTTP-based adapter
// configurations.
type Endpoint struct {
	URL         string                  `json:"url"`
	Headers     map[string]string       `json:"headers,omitempty"`
	Timeout     config.Duration         `json:"timeout,omitempty"`
	Credentials adapter.Credentials     `json:"credentials,omitempty"`
	Breaker     adapter.BreakerSettings `json:"circuit_breaker,omitempty"`
	Retry       adapter.RetryPolicy     `json:"retry,omitempty"`
	RateLimit   float64                 `json:"rate_limit,omitempty"`
	Burst       int                     `json:"burst,omitempty"`
}

// Validate checks the URL and the resilience sections
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.URL) == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if e.RateLimit < 0 || e.Burst < 0 {
		return fmt.Errorf("rate_limit and burst cannot be negative")
	}
	return e.Retry.Validate()
}

// Options converts the endpoint to client options
func (e Endpoint) Options(name string) Options {
	return Options{
		Name:        name,
		Timeout:     adapter.TimeoutOr(e.Timeout, DefaultTimeout),
		Headers:     e.Headers,
		Credentials: e.Credentials,
		Breaker:     e.Breaker,
		Retry:       e.Retry,
		RateLimit:   e.RateLimit,
		Burst:       e.Burst,
	}
}

// Join appends path elements and a query to the endpoint URL
func (e Endpoint) Join(query url.Values, elem ...string) (string, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "", err
	}
	if len(elem) > 0 {
		u = u.JoinPath(elem...)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
