// Package ftp implements the FTP sender and receiver on top of remotefs.
package ftp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/remotefs"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/retry"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/tlsutil"
)

// DefaultPort is the FTP control port
const DefaultPort = 21

// TLS modes
const (
	TLSNone     = "none"
	TLSExplicit = "explicit"
	TLSImplicit = "implicit"
)

// Server is the connection section of both FTP configurations
type Server struct {
	Host        string              `json:"host"`
	Port        int                 `json:"port,omitempty"`
	Credentials adapter.Credentials `json:"credentials,omitempty"`
	TLSMode     string              `json:"tls_mode,omitempty"`
	TLS         tlsutil.Client      `json:"tls,omitempty"`
	Timeout     config.Duration     `json:"timeout,omitempty"`
	Retry       adapter.RetryPolicy `json:"retry,omitempty"`
}

// Validate checks host, port and TLS settings
func (s Server) Validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ftp", "Validate", "host is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ftp", "Validate", "port out of range")
	}
	switch s.tlsMode() {
	case TLSNone, TLSExplicit, TLSImplicit:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: tls_mode %q", errors.ErrInvalidConfig, s.TLSMode), "ftp", "Validate", "tls_mode")
	}
	if err := s.TLS.Validate(); err != nil {
		return errors.WrapInvalid(err, "ftp", "Validate", "tls")
	}
	if err := s.Retry.Validate(); err != nil {
		return errors.WrapInvalid(err, "ftp", "Validate", "retry")
	}
	return nil
}

func (s Server) tlsMode() string {
	if s.TLSMode == "" {
		return TLSNone
	}
	return strings.ToLower(s.TLSMode)
}

// Addr returns host:port
func (s Server) Addr() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// SenderConfig configures polling a remote FTP directory
type SenderConfig struct {
	adapter.Conversion
	Server
	remotefs.SenderOptions
}

// Validate checks the configuration
func (c *SenderConfig) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.SenderOptions.Validate(); err != nil {
		return errors.WrapInvalid(err, "ftp", "Validate", "sender options")
	}
	return c.Conversion.Validate()
}

// ReceiverConfig configures uploading to a remote FTP directory
type ReceiverConfig struct {
	adapter.Conversion
	Server
	remotefs.ReceiverOptions
}

// Validate checks the configuration
func (c *ReceiverConfig) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.ReceiverOptions.Validate(); err != nil {
		return errors.WrapInvalid(err, "ftp", "Validate", "receiver options")
	}
	return c.Conversion.Validate()
}

// NewSender creates an FTP sender
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *remotefs.Sender {
	return remotefs.NewSender(adapter.TypeFTP, cfg.SenderOptions, cfg.Retry, Dialer(cfg.Server), deps)
}

// NewReceiver creates an FTP receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *remotefs.Receiver {
	return remotefs.NewReceiver(adapter.TypeFTP, cfg.ReceiverOptions, cfg.Retry, Dialer(cfg.Server), deps)
}

// Dialer connects and logs in. Anonymous login is used without a username.
// A rejected login is not retried.
func Dialer(s Server) remotefs.Dialer {
	return func(ctx context.Context) (remotefs.FS, error) {
		opts := []ftp.DialOption{
			ftp.DialWithContext(ctx),
			ftp.DialWithTimeout(adapter.TimeoutOr(s.Timeout, 30*time.Second)),
		}
		if s.tlsMode() != TLSNone {
			tlsCfg, err := s.tlsConfig()
			if err != nil {
				return nil, retry.NonRetryable(err)
			}
			if s.tlsMode() == TLSExplicit {
				opts = append(opts, ftp.DialWithExplicitTLS(tlsCfg))
			} else {
				opts = append(opts, ftp.DialWithTLS(tlsCfg))
			}
		}

		conn, err := ftp.Dial(s.Addr(), opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", errors.ErrConnectionLost, s.Addr(), err)
		}
		user, pass := s.Credentials.Username, s.Credentials.Password
		if user == "" {
			user, pass = "anonymous", "anonymous"
		}
		if err := conn.Login(user, pass); err != nil {
			_ = conn.Quit()
			return nil, retry.NonRetryable(fmt.Errorf("%w: login as %s: %v", errors.ErrInvalidConfig, user, err))
		}
		return &session{conn: conn}, nil
	}
}

func (s Server) tlsConfig() (*tls.Config, error) {
	settings := s.TLS
	settings.Enabled = true
	if settings.ServerName == "" {
		settings.ServerName = s.Host
	}
	return settings.Load()
}

// session adapts a logged-in ServerConn to remotefs.FS
type session struct {
	conn *ftp.ServerConn
}

func (f *session) List(_ context.Context, dir string) ([]remotefs.Entry, error) {
	entries, err := f.conn.List(dir)
	if err != nil {
		return nil, err
	}
	out := make([]remotefs.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." || e.Type == ftp.EntryTypeLink {
			continue
		}
		out = append(out, remotefs.Entry{
			Name:    e.Name,
			Size:    int64(e.Size),
			ModTime: e.Time,
			Dir:     e.Type == ftp.EntryTypeFolder,
		})
	}
	return out, nil
}

func (f *session) Read(_ context.Context, path string) ([]byte, error) {
	resp, err := f.conn.Retr(path)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

func (f *session) Write(_ context.Context, path string, data []byte, appendMode bool) error {
	if appendMode {
		return f.conn.Append(path, bytes.NewReader(data))
	}
	return f.conn.Stor(path, bytes.NewReader(data))
}

func (f *session) Remove(_ context.Context, path string) error {
	return f.conn.Delete(path)
}

func (f *session) Rename(_ context.Context, from, to string) error {
	return f.conn.Rename(from, to)
}

func (f *session) Ping(context.Context) error {
	return f.conn.NoOp()
}

func (f *session) Close() error {
	return f.conn.Quit()
}

// Register adds the FTP sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeFTP,
		Mode:        adapter.ModeSender,
		Description: "Downloads the oldest matching file from an FTP directory",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeFTP,
		Mode:        adapter.ModeReceiver,
		Description: "Uploads each message to an FTP directory",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
