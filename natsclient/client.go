// Package natsclient wraps the NATS connection used by the JMS adapter, the
// audit sink and the KV-backed definition store.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// ErrNotConnected is returned by operations issued before Connect succeeded.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Msg is a received message with flattened headers.
type Msg struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// Client manages one NATS connection and its JetStream context
type Client struct {
	url    string
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username   string
	password   string
	token      string
	clientName string

	metrics *metric.Metrics

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		clientName:    "flowbridge",
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", "error", err)
			c.recordStatus(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", c.url)
			c.recordStatus(true)
		}),
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

func (c *Client) recordStatus(connected bool) {
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(connected)
	}
}

// Connect establishes the connection and the JetStream context
func (c *Client) Connect(ctx context.Context) error {
	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			connectDone <- err
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.recordStatus(true)
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// IsHealthy reports whether the connection is up
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) connection() (*nats.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Publish publishes a message with optional headers
func (c *Client) Publish(_ context.Context, subject string, data []byte, headers map[string]string) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.PublishMsg(buildMsg(subject, data, headers))
}

// PublishToStream publishes through JetStream and waits for the ack
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.PublishMsg(ctx, buildMsg(subject, data, headers)); err != nil {
		return errors.WrapTransient(err, "Client", "PublishToStream", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

func buildMsg(subject string, data []byte, headers map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	return msg
}

// QueueSubscribe subscribes to subject in a queue group. Each handler call gets
// a context derived from ctx. The returned function unsubscribes.
func (c *Client) QueueSubscribe(ctx context.Context, subject, queue string, handler func(context.Context, Msg)) (func() error, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	sub, err := conn.QueueSubscribe(subject, queue, func(m *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		headers := make(map[string]string, len(m.Header))
		for k := range m.Header {
			headers[k] = m.Header.Get(k)
		}
		handler(msgCtx, Msg{Subject: m.Subject, Data: m.Data, Headers: headers})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "QueueSubscribe", fmt.Sprintf("subscribe to %s", subject))
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	return sub.Unsubscribe, nil
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// CreateKeyValueBucket creates the bucket or returns the existing one
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", fmt.Sprintf("create bucket %s", cfg.Bucket))
	}
	return kv, nil
}

// Close drains subscriptions and closes the connection
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	subs := c.subs
	c.subs = nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if conn == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
		for !conn.IsClosed() {
			time.Sleep(10 * time.Millisecond)
		}
		close(done)
	}()

	timer := time.NewTimer(c.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		conn.Close()
	case <-ctx.Done():
		conn.Close()
	}

	c.recordStatus(false)
	c.logger.Info("NATS connection closed")
	return nil
}
