// Package mail implements the MAIL adapter pair: the sender polls an IMAP
// folder and the receiver delivers each payload over SMTP.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/retry"
)

// SMTP ports
const (
	SMTPPort    = 25
	SMTPTLSPort = 465
)

// Transport delivers one rendered message
type Transport func(ctx context.Context, from string, to []string, msg []byte) error

// SMTPTransport delivers through the configured server. Rejections with a
// permanent (5xx) reply are not retried.
func SMTPTransport(s Server) Transport {
	return func(ctx context.Context, from string, to []string, msg []byte) error {
		timeout := adapter.TimeoutOr(s.Timeout, 30*time.Second)
		addr := s.addr(SMTPPort, SMTPTLSPort)
		d := &net.Dialer{Timeout: timeout}

		var conn net.Conn
		var err error
		if s.tlsMode() == TLSImplicit {
			tlsCfg, terr := s.tlsConfig()
			if terr != nil {
				return retry.NonRetryable(terr)
			}
			conn, err = (&tls.Dialer{NetDialer: d, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
		} else {
			conn, err = d.DialContext(ctx, "tcp", addr)
		}
		if err != nil {
			return fmt.Errorf("%w: dial %s: %v", errors.ErrConnectionLost, addr, err)
		}
		deadline := time.Now().Add(timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		_ = conn.SetDeadline(deadline)

		c, err := smtp.NewClient(conn, s.Host)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("%w: greeting from %s: %v", errors.ErrConnectionLost, addr, err)
		}
		defer c.Close()

		if s.tlsMode() == TLSStartTLS {
			tlsCfg, terr := s.tlsConfig()
			if terr != nil {
				return retry.NonRetryable(terr)
			}
			if err := c.StartTLS(tlsCfg); err != nil {
				return classifySMTP("starttls", err)
			}
		}
		if s.Credentials.HasBasicAuth() {
			if err := c.Auth(smtp.PlainAuth("", s.Credentials.Username, s.Credentials.Password, s.Host)); err != nil {
				return retry.NonRetryable(fmt.Errorf("%w: auth as %s: %v", errors.ErrInvalidConfig, s.Credentials.Username, err))
			}
		}
		if err := c.Mail(from); err != nil {
			return classifySMTP("MAIL FROM", err)
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return classifySMTP("RCPT TO "+rcpt, err)
			}
		}
		w, err := c.Data()
		if err != nil {
			return classifySMTP("DATA", err)
		}
		if _, err := w.Write(msg); err != nil {
			return fmt.Errorf("%w: write body: %v", errors.ErrConnectionLost, err)
		}
		if err := w.Close(); err != nil {
			return classifySMTP("end of DATA", err)
		}
		return c.Quit()
	}
}

func classifySMTP(step string, err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 {
		return retry.NonRetryable(fmt.Errorf("%w: %s rejected: %v", errors.ErrInvalidData, step, err))
	}
	return fmt.Errorf("%w: %s: %v", errors.ErrConnectionLost, step, err)
}

// Receiver renders each payload as an e-mail and delivers it
type Receiver struct {
	*adapter.Base
	cfg       *ReceiverConfig
	transport Transport
	retry     retry.Config
	now       func() time.Time
}

// NewReceiver creates a mail receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *Receiver {
	return newReceiver(cfg, SMTPTransport(cfg.Server), deps)
}

func newReceiver(cfg *ReceiverConfig, t Transport, deps adapter.Dependencies) *Receiver {
	r := &Receiver{cfg: cfg, transport: t, retry: cfg.Retry.RetryConfig(), now: time.Now}
	r.Base = adapter.NewBase(adapter.TypeMAIL, adapter.ModeReceiver, deps, adapter.Hooks{
		Test: r.probe,
	})
	return r
}

// probe checks the server answers with an SMTP greeting
func (r *Receiver) probe(ctx context.Context) error {
	addr := r.cfg.addr(SMTPPort, SMTPTLSPort)
	conn, err := (&net.Dialer{Timeout: adapter.TimeoutOr(r.cfg.Timeout, 10*time.Second)}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", errors.ErrConnectionLost, addr, err)
	}
	return conn.Close()
}

// Send delivers msg. Subject and attachment name expand the file name
// placeholders against the message headers.
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()
	now := r.now()

	env := &envelope{
		from:        r.cfg.From,
		to:          r.cfg.To,
		cc:          r.cfg.Cc,
		subject:     adapter.ExpandName(r.cfg.Subject, now, msg.Headers),
		headers:     r.cfg.Headers,
		now:         now,
		contentType: r.cfg.contentType(),
		body:        msg.Payload,
	}
	if r.cfg.AttachmentName != "" {
		env.attachmentName = adapter.ExpandName(r.cfg.AttachmentName, now, msg.Headers)
		env.attachmentType = msg.ContentType
		env.attachment = msg.Payload
		env.body = []byte(adapter.ExpandName(r.cfg.Body, now, msg.Headers))
	}
	raw, err := env.render()
	if err != nil {
		return nil, r.Observe("send", start, 0, err)
	}

	from, err := mail.ParseAddress(r.cfg.From)
	if err != nil {
		return nil, r.Observe("send", start, 0, fmt.Errorf("%w: from_address: %v", errors.ErrInvalidConfig, err))
	}
	rcpts := make([]string, 0, len(r.cfg.recipients()))
	for _, a := range r.cfg.recipients() {
		addr, err := mail.ParseAddress(a)
		if err != nil {
			return nil, r.Observe("send", start, 0, fmt.Errorf("%w: recipient %q: %v", errors.ErrInvalidConfig, a, err))
		}
		rcpts = append(rcpts, addr.Address)
	}

	err = retry.Do(ctx, r.retry, func() error { return r.transport(ctx, from.Address, rcpts, raw) })
	if err := r.Observe("send", start, len(raw), err); err != nil {
		return nil, err
	}
	return &adapter.SendResult{
		Success:   true,
		Message:   fmt.Sprintf("Mail delivered to %d recipients", len(rcpts)),
		BytesSent: len(raw),
		Details:   map[string]any{"subject": env.subject, "recipients": len(rcpts), "attachment": env.attachmentName},
	}, nil
}

// Register adds the mail sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeMAIL,
		Mode:        adapter.ModeSender,
		Description: "Fetches e-mail from an IMAP folder",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeMAIL,
		Mode:        adapter.ModeReceiver,
		Description: "Sends each message as an e-mail over SMTP",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
