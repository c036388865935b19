// Package httpadapter implements the HTTP adapter pair. The sender runs a gin
// listener that buffers inbound requests until the engine receives them; the
// receiver posts payloads to a remote endpoint.
package httpadapter

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Sender buffers requests received by its HTTP listener
type Sender struct {
	*adapter.Base
	cfg    *SenderConfig
	router *gin.Engine
	queue  chan *adapter.Message

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewSender creates an HTTP sender. The listener starts in Initialize.
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *Sender {
	s := &Sender{
		cfg:   cfg,
		queue: make(chan *adapter.Message, cfg.buffer()),
	}
	s.Base = adapter.NewBase(adapter.TypeHTTP, adapter.ModeSender, deps, adapter.Hooks{
		Connect:    s.listen,
		Disconnect: s.shutdown,
		Test: func(context.Context) error {
			if s.Addr() == "" {
				return errors.ErrConnectionLost
			}
			return nil
		},
	})
	s.router = s.routes()
	return s
}

func (s *Sender) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	for _, m := range s.cfg.methods() {
		r.Handle(m, s.cfg.path(), s.accept)
	}
	return r
}

// Handler exposes the listener's routes
func (s *Sender) Handler() http.Handler { return s.router }

// Addr returns the bound listen address, or "" when not listening
func (s *Sender) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Sender) listen(context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.address(), err)
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})

	s.mu.Lock()
	s.server, s.listener, s.done = srv, ln, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.Logger().Error("HTTP listener stopped", "error", err)
		}
	}()
	s.Logger().Info("HTTP listener started", "address", ln.Addr().String(), "path", s.cfg.path())
	return nil
}

func (s *Sender) shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	<-done
	return nil
}

func (s *Sender) accept(c *gin.Context) {
	if s.cfg.Credentials.HasBasicAuth() && !s.authorized(c.Request) {
		c.Header("WWW-Authenticate", `Basic realm="flowbridge"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.maxBody()))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	if len(body) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
		return
	}

	msg := adapter.NewMessage(body, c.ContentType(), c.Request.URL.Path)
	for k := range c.Request.Header {
		msg.Headers[strings.ToLower(k)] = c.GetHeader(k)
	}
	msg.Headers["remote_addr"] = c.ClientIP()

	select {
	case s.queue <- msg:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "bytes": len(body)})
	default:
		s.Logger().Warn("Inbound buffer full, rejecting request", "buffer_size", cap(s.queue))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "inbound buffer full"})
	}
}

func (s *Sender) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Credentials.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Credentials.Password)) == 1
	return userOK && passOK
}

// Receive returns the next buffered request. It waits up to receive_wait,
// then reports ErrNoMessage.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	var wait <-chan time.Time
	if d := s.cfg.ReceiveWait.Duration(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		wait = t.C
	}

	if wait == nil {
		select {
		case msg := <-s.queue:
			return msg, s.Observe("receive", start, len(msg.Payload), nil)
		default:
			return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
		}
	}
	select {
	case msg := <-s.queue:
		return msg, s.Observe("receive", start, len(msg.Payload), nil)
	case <-wait:
		return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
	case <-ctx.Done():
		return nil, s.Observe("receive", start, 0, ctx.Err())
	}
}

// Pending returns how many requests are buffered
func (s *Sender) Pending() int { return len(s.queue) }

// Receiver sends payloads to a remote HTTP endpoint
type Receiver struct {
	*adapter.Base
	cfg    *ReceiverConfig
	client *httpclient.Client
}

// NewReceiver creates an HTTP receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *Receiver {
	r := &Receiver{cfg: cfg}
	r.Base = adapter.NewBase(adapter.TypeHTTP, adapter.ModeReceiver, deps, adapter.Hooks{
		Test: func(ctx context.Context) error { return r.client.Ping(ctx, cfg.URL) },
	})
	r.client = httpclient.New(deps.HTTPClient, cfg.Endpoint.Options("http-receiver"), r.Logger(), deps.Metrics)
	return r
}

// Send delivers msg with the configured method
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	contentType := r.cfg.ContentType
	if contentType == "" {
		contentType = msg.ContentType
	}
	resp, err := r.client.Do(ctx, httpclient.NewRequest(r.cfg.method(), r.cfg.URL, msg.Payload, contentType))
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	return Result(resp, len(msg.Payload), r.client.BreakerState()), nil
}

// Result turns a successful response into a SendResult
func Result(resp *httpclient.Response, sent int, breaker string) *adapter.SendResult {
	return &adapter.SendResult{
		Success:   true,
		Message:   fmt.Sprintf("HTTP %d", resp.StatusCode),
		BytesSent: sent,
		Details: map[string]any{
			"status_code":     resp.StatusCode,
			"response":        string(resp.Body),
			"circuit_breaker": breaker,
		},
	}
}
