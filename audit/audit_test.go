package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	block    chan struct{}
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte, _ map[string]string) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func TestRecorderAndMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := Multi{a, nil, b, Nop{}}

	sink.Append(Info("f1", "Flow started", nil))
	sink.Append(Error("f1", "Flow failed", errors.New("boom"), nil))

	assert.Equal(t, []string{"Flow started", "Flow failed"}, a.Messages())
	assert.Equal(t, a.Messages(), b.Messages())

	entries := a.Entries()
	assert.Equal(t, LevelError, entries[1].Level)
	assert.Equal(t, "boom", entries[1].Details["error"])
	assert.Equal(t, "f1", entries[0].FlowID)
}

func TestLogSink_NilLogger(t *testing.T) {
	s := NewLogSink(nil)
	assert.NotPanics(t, func() {
		s.Append(Entry{Level: LevelWarn, Message: "slow target", FlowID: "f1", ExecutionID: "e1",
			Details: map[string]any{"ms": 1200}})
	})
}

func TestNATSSink_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "flowbridge.audit", 8, nil, nil)
	sink.Start(context.Background())

	sink.Append(Entry{Time: time.Unix(0, 0).UTC(), Level: LevelInfo, Message: "Message routed", FlowID: "f1"})
	sink.Close()

	require.Equal(t, 1, pub.count())
	assert.Equal(t, "flowbridge.audit", pub.subjects[0])

	var got Entry
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "Message routed", got.Message)
	assert.Equal(t, "f1", got.FlowID)
	assert.Equal(t, int64(1), sink.Published())
}

func TestNATSSink_DropsWhenFull(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	pub := &fakePublisher{block: make(chan struct{})}
	sink := NewNATSSink(pub, "audit", 1, nil, core)

	// Not started: the single buffer slot fills and the rest are dropped.
	for i := 0; i < 4; i++ {
		sink.Append(Info("f1", "tick", nil))
	}
	assert.Equal(t, int64(3), sink.Dropped())
	assert.Equal(t, 3.0, testutil.ToFloat64(core.AuditDropped))

	sink.Start(context.Background())
	close(pub.block)
	sink.Close()
	assert.Equal(t, 1, pub.count())
}

func TestNATSSink_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	sink := NewNATSSink(pub, "audit", 4, nil, nil)
	sink.Start(context.Background())
	sink.Append(Info("f1", "x", nil))
	sink.Close()
	assert.Equal(t, int64(0), sink.Published())
}

func TestNATSSink_StopsOnContextCancel(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "audit", 4, nil, nil)
	sink.Append(Info("f1", "queued", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Start(ctx)

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher goroutine did not stop")
	}
	assert.Equal(t, 1, pub.count())
}
