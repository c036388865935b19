// Package kafka implements the KAFKA adapter pair with segmentio/kafka-go.
// The sender reads through a consumer group and commits an offset only when
// the message is acknowledged.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/tidwall/gjson"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/tlsutil"
)

// Header keys set on received messages
const (
	HeaderTopic     = "kafka_topic"
	HeaderPartition = "kafka_partition"
	HeaderOffset    = "kafka_offset"
	HeaderKey       = "kafka_key"
)

// DefaultPollTimeout bounds one Receive when poll_timeout is unset
const DefaultPollTimeout = time.Second

// Cluster is the broker section shared by both configurations
type Cluster struct {
	Brokers     []string            `json:"brokers"`
	Topic       string              `json:"topic"`
	Credentials adapter.Credentials `json:"sasl,omitempty"`
	TLS         tlsutil.Client      `json:"tls,omitempty"`
	DialTimeout config.Duration     `json:"dial_timeout,omitempty"`
}

// Validate checks brokers and topic
func (c Cluster) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "kafka", "Validate", "brokers are required")
	}
	for _, b := range c.Brokers {
		if !strings.Contains(b, ":") {
			return errors.WrapInvalid(fmt.Errorf("%w: broker %q needs host:port", errors.ErrInvalidConfig, b), "kafka", "Validate", "brokers")
		}
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "kafka", "Validate", "topic is required")
	}
	if err := c.TLS.Validate(); err != nil {
		return errors.WrapInvalid(err, "kafka", "Validate", "tls")
	}
	return nil
}

// Dialer builds the kafka-go dialer with TLS and SASL/PLAIN applied
func (c Cluster) Dialer() (*kafka.Dialer, error) {
	tlsCfg, err := c.TLS.Load()
	if err != nil {
		return nil, err
	}
	d := &kafka.Dialer{
		Timeout:   adapter.TimeoutOr(c.DialTimeout, 10*time.Second),
		DualStack: true,
		TLS:       tlsCfg,
	}
	if c.Credentials.HasBasicAuth() {
		d.SASLMechanism = plain.Mechanism{Username: c.Credentials.Username, Password: c.Credentials.Password}
	}
	return d, nil
}

func (c Cluster) transport() (*kafka.Transport, error) {
	tlsCfg, err := c.TLS.Load()
	if err != nil {
		return nil, err
	}
	t := &kafka.Transport{DialTimeout: adapter.TimeoutOr(c.DialTimeout, 10*time.Second), TLS: tlsCfg}
	if c.Credentials.HasBasicAuth() {
		t.SASL = plain.Mechanism{Username: c.Credentials.Username, Password: c.Credentials.Password}
	}
	return t, nil
}

// ping opens and closes a connection to the first reachable broker
func (c Cluster) ping(ctx context.Context) error {
	d, err := c.Dialer()
	if err != nil {
		return err
	}
	var last error
	for _, b := range c.Brokers {
		conn, err := d.DialContext(ctx, "tcp", b)
		if err != nil {
			last = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("%w: no broker reachable: %v", errors.ErrConnectionLost, last)
}

// SenderConfig configures consuming a topic
type SenderConfig struct {
	adapter.Conversion
	Cluster
	GroupID     string          `json:"group_id"`
	StartOffset string          `json:"start_offset,omitempty"`
	PollTimeout config.Duration `json:"poll_timeout,omitempty"`
	MinBytes    int             `json:"min_bytes,omitempty"`
	MaxBytes    int             `json:"max_bytes,omitempty"`
}

// Validate checks the configuration
func (c *SenderConfig) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "kafka", "Validate", "group_id is required")
	}
	switch strings.ToLower(c.StartOffset) {
	case "", "earliest", "latest":
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: start_offset %q", errors.ErrInvalidConfig, c.StartOffset), "kafka", "Validate", "start_offset")
	}
	return c.Conversion.Validate()
}

func (c *SenderConfig) readerConfig() (kafka.ReaderConfig, error) {
	d, err := c.Dialer()
	if err != nil {
		return kafka.ReaderConfig{}, err
	}
	start := kafka.FirstOffset
	if strings.EqualFold(c.StartOffset, "latest") {
		start = kafka.LastOffset
	}
	maxBytes := c.MaxBytes
	if maxBytes == 0 {
		maxBytes = 10e6
	}
	return kafka.ReaderConfig{
		Brokers:     c.Brokers,
		GroupID:     c.GroupID,
		Topic:       c.Topic,
		Dialer:      d,
		MinBytes:    c.MinBytes,
		MaxBytes:    maxBytes,
		MaxWait:     500 * time.Millisecond,
		StartOffset: start,
	}, nil
}

// ReceiverConfig configures producing to a topic. The message key comes
// from the KeyHeader header or, failing that, the KeyPath JSON path.
type ReceiverConfig struct {
	adapter.Conversion
	Cluster
	KeyHeader    string `json:"key_header,omitempty"`
	KeyPath      string `json:"key_path,omitempty"`
	RequiredAcks string `json:"acks,omitempty"`
}

// Validate checks the configuration
func (c *ReceiverConfig) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.RequiredAcks) {
	case "", "all", "one", "none":
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: acks %q", errors.ErrInvalidConfig, c.RequiredAcks), "kafka", "Validate", "acks")
	}
	return c.Conversion.Validate()
}

func (c *ReceiverConfig) acks() kafka.RequiredAcks {
	switch strings.ToLower(c.RequiredAcks) {
	case "one":
		return kafka.RequireOne
	case "none":
		return kafka.RequireNone
	}
	return kafka.RequireAll
}

// Reader is the consumer surface the sender needs
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the producer surface the receiver needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sender consumes one topic through a consumer group
type Sender struct {
	*adapter.Base
	cfg       *SenderConfig
	newReader func() (Reader, error)
	reader    Reader
}

// NewSender creates a KAFKA sender
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *Sender {
	return newSender(cfg, func() (Reader, error) {
		rc, err := cfg.readerConfig()
		if err != nil {
			return nil, err
		}
		return kafka.NewReader(rc), nil
	}, deps)
}

func newSender(cfg *SenderConfig, newReader func() (Reader, error), deps adapter.Dependencies) *Sender {
	s := &Sender{cfg: cfg, newReader: newReader}
	s.Base = adapter.NewBase(adapter.TypeKAFKA, adapter.ModeSender, deps, adapter.Hooks{
		Connect: func(context.Context) error {
			r, err := s.newReader()
			if err != nil {
				return err
			}
			s.reader = r
			return nil
		},
		Disconnect: func(context.Context) error {
			if s.reader == nil {
				return nil
			}
			err := s.reader.Close()
			s.reader = nil
			return err
		},
		Test: cfg.ping,
	})
	return s
}

// Receive fetches the next record, waiting at most poll_timeout. The offset
// is committed by Ack.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	pollCtx, cancel := context.WithTimeout(ctx, adapter.TimeoutOr(s.cfg.PollTimeout, DefaultPollTimeout))
	defer cancel()
	m, err := s.reader.FetchMessage(pollCtx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case pollCtx.Err() != nil:
			err = errors.ErrNoMessage
		default:
			err = fmt.Errorf("%w: fetch: %v", errors.ErrConnectionLost, err)
		}
		return nil, s.Observe("receive", start, 0, err)
	}

	msg := adapter.NewMessage(m.Value, "", m.Topic)
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	if ct, ok := msg.Headers["Content-Type"]; ok {
		msg.ContentType = ct
	}
	msg.Headers[HeaderTopic] = m.Topic
	msg.Headers[HeaderPartition] = strconv.Itoa(m.Partition)
	msg.Headers[HeaderOffset] = strconv.FormatInt(m.Offset, 10)
	if len(m.Key) > 0 {
		msg.Headers[HeaderKey] = string(m.Key)
	}
	msg.WithAck(func(ctx context.Context) error {
		if err := s.reader.CommitMessages(ctx, m); err != nil {
			return s.Fail("ack", fmt.Errorf("commit offset %d: %w", m.Offset, err))
		}
		return nil
	})
	return msg, s.Observe("receive", start, len(m.Value), nil)
}

// Receiver produces each message to the topic
type Receiver struct {
	*adapter.Base
	cfg       *ReceiverConfig
	newWriter func() (Writer, error)
	writer    Writer
}

// NewReceiver creates a KAFKA receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *Receiver {
	return newReceiver(cfg, func() (Writer, error) {
		t, err := cfg.transport()
		if err != nil {
			return nil, err
		}
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: cfg.acks(),
			Transport:    t,
		}, nil
	}, deps)
}

func newReceiver(cfg *ReceiverConfig, newWriter func() (Writer, error), deps adapter.Dependencies) *Receiver {
	r := &Receiver{cfg: cfg, newWriter: newWriter}
	r.Base = adapter.NewBase(adapter.TypeKAFKA, adapter.ModeReceiver, deps, adapter.Hooks{
		Connect: func(context.Context) error {
			w, err := r.newWriter()
			if err != nil {
				return err
			}
			r.writer = w
			return nil
		},
		Disconnect: func(context.Context) error {
			if r.writer == nil {
				return nil
			}
			err := r.writer.Close()
			r.writer = nil
			return err
		},
		Test: cfg.ping,
	})
	return r
}

func (r *Receiver) record(msg *adapter.Message) kafka.Message {
	m := kafka.Message{Value: msg.Payload}
	if r.cfg.KeyHeader != "" {
		if k := msg.Headers[r.cfg.KeyHeader]; k != "" {
			m.Key = []byte(k)
		}
	}
	if m.Key == nil && r.cfg.KeyPath != "" {
		if k := gjson.GetBytes(msg.Payload, r.cfg.KeyPath); k.Exists() {
			m.Key = []byte(k.String())
		}
	}
	for k, v := range msg.Headers {
		m.Headers = append(m.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if msg.ContentType != "" {
		m.Headers = append(m.Headers, kafka.Header{Key: "Content-Type", Value: []byte(msg.ContentType)})
	}
	return m
}

// Send produces one record
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	rec := r.record(msg)
	err := r.writer.WriteMessages(ctx, rec)
	if err != nil {
		err = fmt.Errorf("%w: produce to %s: %v", errors.ErrConnectionLost, r.cfg.Topic, err)
	}
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	return &adapter.SendResult{
		Success:   true,
		Message:   "Produced to " + r.cfg.Topic,
		BytesSent: len(msg.Payload),
		Details:   map[string]any{"topic": r.cfg.Topic, "key": string(rec.Key)},
	}, nil
}

// SendBatch produces all messages with one write
func (r *Receiver) SendBatch(ctx context.Context, msgs []*adapter.Message) (*adapter.BatchResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	start := time.Now()

	recs := make([]kafka.Message, 0, len(msgs))
	size := 0
	for _, msg := range msgs {
		if err := r.CheckMessage(msg); err != nil {
			return nil, err
		}
		recs = append(recs, r.record(msg))
		size += len(msg.Payload)
	}
	err := r.writer.WriteMessages(ctx, recs...)

	// kafka.WriteErrors reports per-message failures
	var perMessage kafka.WriteErrors
	hasPerMessage := errors.As(err, &perMessage)

	result := &adapter.BatchResult{Results: make([]*adapter.SendResult, 0, len(msgs))}
	for i, msg := range msgs {
		res := &adapter.SendResult{Success: true, BytesSent: len(msg.Payload)}
		switch {
		case hasPerMessage && i < len(perMessage) && perMessage[i] != nil:
			res = &adapter.SendResult{Success: false, Message: perMessage[i].Error()}
		case err != nil && !hasPerMessage:
			res = &adapter.SendResult{Success: false, Message: err.Error()}
		}
		result.Results = append(result.Results, res)
	}
	if err != nil {
		err = fmt.Errorf("%w: produce batch to %s: %v", errors.ErrConnectionLost, r.cfg.Topic, err)
	}
	_ = r.Observe("send", start, size, err)
	return adapter.Summarize(result), nil
}

// Register adds the KAFKA sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeKAFKA,
		Mode:        adapter.ModeSender,
		Description: "Consumes a topic through a consumer group, committing on acknowledgement",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeKAFKA,
		Mode:        adapter.ModeReceiver,
		Description: "Produces each message to a topic",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
