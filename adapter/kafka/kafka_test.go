package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	written []kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var cluster = Cluster{Brokers: []string{"localhost:9092"}, Topic: "orders"}

func TestSender_ReceiveAndCommit(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{{
		Topic: "orders", Partition: 2, Offset: 41, Key: []byte("o-1"), Value: []byte(`{"id":"o-1"}`),
		Headers: []kafka.Header{{Key: "Content-Type", Value: []byte("application/json")}},
	}}}
	cfg := &SenderConfig{Cluster: cluster, GroupID: "flowbridge", PollTimeout: config.Duration(20 * time.Millisecond)}
	require.NoError(t, cfg.Validate())
	s := newSender(cfg, func() (Reader, error) { return reader, nil }, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	msg, err := s.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"o-1"}`, string(msg.Payload))
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "2", msg.Headers[HeaderPartition])
	assert.Equal(t, "41", msg.Headers[HeaderOffset])
	assert.Equal(t, "o-1", msg.Headers[HeaderKey])
	assert.Empty(t, reader.committed)

	require.NoError(t, msg.Ack(ctx))
	assert.Equal(t, []int64{41}, reader.committed)

	_, err = s.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrNoMessage)

	require.NoError(t, s.Destroy(ctx))
	assert.True(t, reader.closed)
}

func TestSender_CancelledContext(t *testing.T) {
	s := newSender(&SenderConfig{Cluster: cluster, GroupID: "g"}, func() (Reader, error) { return &fakeReader{}, nil }, adapter.Dependencies{})
	require.NoError(t, s.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Receive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceiver_KeysAndHeaders(t *testing.T) {
	w := &fakeWriter{}
	cfg := &ReceiverConfig{Cluster: cluster, KeyHeader: "order_id", KeyPath: "customer.id"}
	require.NoError(t, cfg.Validate())
	r := newReceiver(cfg, func() (Writer, error) { return w, nil }, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx))

	byHeader := adapter.NewMessage([]byte(`{"customer":{"id":"c-9"}}`), "application/json", "test")
	byHeader.Headers["order_id"] = "o-7"
	res, err := r.Send(ctx, byHeader)
	require.NoError(t, err)
	assert.Equal(t, "o-7", res.Details["key"])

	_, err = r.Send(ctx, adapter.NewMessage([]byte(`{"customer":{"id":"c-9"}}`), "", "test"))
	require.NoError(t, err)

	require.Len(t, w.written, 2)
	assert.Equal(t, "o-7", string(w.written[0].Key))
	assert.Equal(t, "c-9", string(w.written[1].Key))
	assert.Contains(t, w.written[0].Headers, kafka.Header{Key: "Content-Type", Value: []byte("application/json")})
}

func TestReceiver_SendBatch(t *testing.T) {
	w := &fakeWriter{}
	r := newReceiver(&ReceiverConfig{Cluster: cluster}, func() (Writer, error) { return w, nil }, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx))

	msgs := []*adapter.Message{
		adapter.NewMessage([]byte("a"), "", "t"),
		adapter.NewMessage([]byte("b"), "", "t"),
	}
	res, err := adapter.SendBatch(ctx, r, msgs)
	require.NoError(t, err)
	assert.Equal(t, adapter.BatchSuccess, res.Status)
	assert.Len(t, w.written, 2)

	w.err = kafka.WriteErrors{nil, kafka.MessageSizeTooLarge}
	res, err = adapter.SendBatch(ctx, r, msgs)
	require.NoError(t, err)
	assert.Equal(t, adapter.BatchPartial, res.Status)
	assert.Equal(t, 1, res.Failed)
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, (&SenderConfig{Cluster: cluster}).Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, (&SenderConfig{Cluster: Cluster{Brokers: []string{"nohost"}, Topic: "t"}, GroupID: "g"}).Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, (&SenderConfig{Cluster: cluster, GroupID: "g", StartOffset: "middle"}).Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, (&ReceiverConfig{Cluster: cluster, RequiredAcks: "some"}).Validate(), errors.ErrInvalidConfig)
	assert.Equal(t, kafka.RequireOne, (&ReceiverConfig{RequiredAcks: "one"}).acks())

	d, err := Cluster{Brokers: []string{"b:9092"}, Topic: "t", Credentials: adapter.Credentials{Username: "u", Password: "p"}}.Dialer()
	require.NoError(t, err)
	assert.NotNil(t, d.SASLMechanism)
	assert.Nil(t, d.TLS)
}
