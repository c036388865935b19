package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/natsclient"
)

// MockNATSClient is an in-memory message bus. It satisfies
// adapter.MessageBus and audit.Publisher, and is safe for concurrent use.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][]natsclient.Msg
	subscriptions map[string][]*mockSub
	closed        bool

	// PublishErr, when set, is returned by every publish.
	PublishErr error
}

type mockSub struct {
	queue   string
	handler func(context.Context, natsclient.Msg)
}

// NewMockNATSClient creates a new mock client
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:      make(map[string][]natsclient.Msg),
		subscriptions: make(map[string][]*mockSub),
	}
}

// Publish records the message and delivers it to subscribers of subject.
// Each queue group receives the message once.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.PublishErr != nil {
		c.mu.Unlock()
		return c.PublishErr
	}

	msg := natsclient.Msg{Subject: subject, Data: append([]byte(nil), data...), Headers: copyHeaders(headers)}
	c.messages[subject] = append(c.messages[subject], msg)

	// Copy handlers so callbacks run without the lock
	var handlers []func(context.Context, natsclient.Msg)
	seenQueue := map[string]bool{}
	for _, s := range c.subscriptions[subject] {
		if s.queue != "" {
			if seenQueue[s.queue] {
				continue
			}
			seenQueue[s.queue] = true
		}
		handlers = append(handlers, s.handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		handler(msgCtx, msg)
		cancel()
	}
	return nil
}

// PublishToStream behaves like Publish
func (c *MockNATSClient) PublishToStream(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	return c.Publish(ctx, subject, data, headers)
}

// QueueSubscribe registers handler for subject. The returned function
// removes the subscription.
func (c *MockNATSClient) QueueSubscribe(ctx context.Context, subject, queue string, handler func(context.Context, natsclient.Msg)) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	sub := &mockSub{queue: queue, handler: handler}
	c.subscriptions[subject] = append(c.subscriptions[subject], sub)

	return func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscriptions[subject]
		for i, s := range subs {
			if s == sub {
				c.subscriptions[subject] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		return nil
	}, nil
}

// GetMessages returns a copy of the messages published on subject
func (c *MockNATSClient) GetMessages(subject string) []natsclient.Msg {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([]natsclient.Msg, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Subjects returns every subject that has received a message
func (c *MockNATSClient) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.messages))
	for s := range c.messages {
		out = append(out, s)
	}
	return out
}

// ClearAll clears all messages from all subjects.
func (c *MockNATSClient) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string][]natsclient.Msg)
}

// Close closes the mock client.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// WaitForMessageCount waits for a specific number of messages (with timeout).
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if client.GetMessageCount(subject) >= count {
			return
		}
		select {
		case <-ctx.Done():
			got := client.GetMessageCount(subject)
			t.Fatalf("timeout waiting for %d messages on subject %s (got %d)", count, subject, got)
			return
		case <-ticker.C:
		}
	}
}

// AssertNoMessages checks that no messages were received on a subject.
func AssertNoMessages(t *testing.T, client *MockNATSClient, subject string) {
	t.Helper()

	if n := client.GetMessageCount(subject); n > 0 {
		t.Fatalf("expected no messages on subject %s, got %d", subject, n)
	}
}
