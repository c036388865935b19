// Package httpclient is the outbound HTTP plumbing shared by the HTTP, REST,
// OData, SOAP and SAP gateway adapters: rate limiting, a circuit breaker,
// adapter-level retry and response capture.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/retry"
)

// maxResponseBytes caps how much of a response body is kept.
const maxResponseBytes = 32 << 20

// Options configures a Client
type Options struct {
	Name        string
	Timeout     time.Duration
	Headers     map[string]string
	Credentials adapter.Credentials
	Breaker     adapter.BreakerSettings
	Retry       adapter.RetryPolicy
	RateLimit   float64 // requests per second, 0 disables limiting
	Burst       int
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.StatusCode, body)
}

// Client executes requests with the configured resilience policies
type Client struct {
	name    string
	http    *http.Client
	headers map[string]string
	creds   adapter.Credentials
	retry   retry.Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New builds a client. base may be nil, in which case a client with
// opts.Timeout is created.
func New(base *http.Client, opts Options, logger *slog.Logger, registry *metric.MetricsRegistry) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if base == nil {
		base = &http.Client{}
	}
	hc := *base
	if opts.Timeout > 0 {
		hc.Timeout = opts.Timeout
	}

	c := &Client{
		name:    opts.Name,
		http:    &hc,
		headers: opts.Headers,
		creds:   opts.Credentials,
		retry:   opts.Retry.RetryConfig(),
		logger:  logger.With("component", "httpclient", "client", opts.Name),
	}
	if registry != nil {
		c.metrics = registry.CoreMetrics()
	}
	c.retry.ShouldRetry = retryable

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	if opts.Breaker.Enabled {
		threshold := opts.Breaker.Failures()
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        opts.Name,
			MaxRequests: 1,
			Timeout:     opts.Breaker.Timeout(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Info("Circuit breaker state changed", "from", from.String(), "to", to.String())
				c.metrics.RecordCircuitBreakerState(name, int(to))
			},
		})
	}
	return c
}

// BreakerState returns the breaker state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Do sends the request built by newReq. newReq is called once per attempt so
// the body can be replayed. Non-2xx responses become *StatusError; 5xx and
// 429 responses are retried, other 4xx are not.
func (c *Client) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, retry.NonRetryable(err)
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, retry.NonRetryable(errors.WrapInvalid(err, "httpclient", "Do", "build request"))
		}
		c.decorate(req)

		resp, err := c.execute(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}
		return resp, nil
	})
}

// execute runs one round trip through the breaker. Only transport errors and
// 5xx responses count as breaker failures.
func (c *Client) execute(req *http.Request) (*Response, error) {
	if c.breaker == nil {
		return c.roundTrip(req)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.roundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errors.ErrCircuitOpen, err)
		}
		return nil, err
	}
	return out.(*Response), nil
}

func (c *Client) roundTrip(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", errors.ErrConnectionLost, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) decorate(req *http.Request) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if c.creds.HasBasicAuth() {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, errors.ErrCircuitOpen) {
		return false
	}
	return true
}

// NewRequest is a helper for Do callers sending a byte body.
func NewRequest(method, url string, body []byte, contentType string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return req, nil
	}
}

// Ping issues a HEAD request and accepts any response below 500 as reachable.
func (c *Client) Ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
