// Package sftp implements the SFTP sender and receiver on top of remotefs.
package sftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/remotefs"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/retry"
)

// DefaultPort is the SSH port
const DefaultPort = 22

// Server is the connection section of both SFTP configurations. One of
// Password or PrivateKey authenticates the user. Host keys are checked
// against HostKey or KnownHostsFile unless InsecureIgnoreHostKey is set.
type Server struct {
	Host                  string              `json:"host"`
	Port                  int                 `json:"port,omitempty"`
	Username              string              `json:"username"`
	Password              string              `json:"password,omitempty"`
	PrivateKey            string              `json:"private_key,omitempty"`
	PrivateKeyFile        string              `json:"private_key_file,omitempty"`
	Passphrase            string              `json:"passphrase,omitempty"`
	HostKey               string              `json:"host_key,omitempty"`
	KnownHostsFile        string              `json:"known_hosts_file,omitempty"`
	InsecureIgnoreHostKey bool                `json:"insecure_ignore_host_key,omitempty"`
	Timeout               config.Duration     `json:"timeout,omitempty"`
	Retry                 adapter.RetryPolicy `json:"retry,omitempty"`
}

// Validate checks the server section
func (s Server) Validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "sftp", "Validate", "host is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "sftp", "Validate", "port out of range")
	}
	if s.Username == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "sftp", "Validate", "username is required")
	}
	if s.Password == "" && s.PrivateKey == "" && s.PrivateKeyFile == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "sftp", "Validate", "password or private key is required")
	}
	if s.HostKey == "" && s.KnownHostsFile == "" && !s.InsecureIgnoreHostKey {
		return errors.WrapInvalid(errors.ErrMissingConfig, "sftp", "Validate",
			"host_key or known_hosts_file is required unless insecure_ignore_host_key is set")
	}
	if s.HostKey != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s.HostKey)); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: host_key: %v", errors.ErrInvalidConfig, err), "sftp", "Validate", "host_key")
		}
	}
	if err := s.Retry.Validate(); err != nil {
		return errors.WrapInvalid(err, "sftp", "Validate", "retry")
	}
	return nil
}

// Addr returns host:port
func (s Server) Addr() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// ClientConfig builds the SSH client configuration
func (s Server) ClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	key := []byte(s.PrivateKey)
	if len(key) == 0 && s.PrivateKeyFile != "" {
		data, err := os.ReadFile(s.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		key = data
	}
	if len(key) > 0 {
		var signer ssh.Signer
		var err error
		if s.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(s.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: private key: %v", errors.ErrInvalidConfig, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.Password != "" {
		auth = append(auth, ssh.Password(s.Password))
	}

	hostKeys, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            s.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         adapter.TimeoutOr(s.Timeout, 30*time.Second),
	}, nil
}

func (s Server) hostKeyCallback() (ssh.HostKeyCallback, error) {
	switch {
	case s.HostKey != "":
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s.HostKey))
		if err != nil {
			return nil, fmt.Errorf("%w: host_key: %v", errors.ErrInvalidConfig, err)
		}
		return ssh.FixedHostKey(pub), nil
	case s.KnownHostsFile != "":
		cb, err := knownhosts.New(s.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: known_hosts_file: %v", errors.ErrInvalidConfig, err)
		}
		return cb, nil
	default:
		return ssh.InsecureIgnoreHostKey(), nil
	}
}

// SenderConfig configures polling a remote SFTP directory
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
		return errors.WrapInvalid(err, "sftp", "Validate", "sender options")
	}
	return c.Conversion.Validate()
}

// ReceiverConfig configures uploading to a remote SFTP directory
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
		return errors.WrapInvalid(err, "sftp", "Validate", "receiver options")
	}
	return c.Conversion.Validate()
}

// NewSender creates an SFTP sender
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *remotefs.Sender {
	return remotefs.NewSender(adapter.TypeSFTP, cfg.SenderOptions, cfg.Retry, Dialer(cfg.Server), deps)
}

// NewReceiver creates an SFTP receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *remotefs.Receiver {
	return remotefs.NewReceiver(adapter.TypeSFTP, cfg.ReceiverOptions, cfg.Retry, Dialer(cfg.Server), deps)
}

// Dialer opens an SSH connection and starts the SFTP subsystem. Bad keys
// and rejected credentials are not retried.
func Dialer(s Server) remotefs.Dialer {
	return func(ctx context.Context) (remotefs.FS, error) {
		cfg, err := s.ClientConfig()
		if err != nil {
			return nil, retry.NonRetryable(err)
		}

		d := net.Dialer{Timeout: cfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", s.Addr())
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", errors.ErrConnectionLost, s.Addr(), err)
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, s.Addr(), cfg)
		if err != nil {
			_ = conn.Close()
			if strings.Contains(err.Error(), "unable to authenticate") || strings.Contains(err.Error(), "host key") {
				return nil, retry.NonRetryable(fmt.Errorf("%w: ssh handshake: %v", errors.ErrInvalidConfig, err))
			}
			return nil, fmt.Errorf("%w: ssh handshake: %v", errors.ErrConnectionLost, err)
		}
		client := ssh.NewClient(c, chans, reqs)

		sc, err := sftp.NewClient(client)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: start sftp subsystem: %v", errors.ErrConnectionLost, err)
		}
		return &session{ssh: client, sftp: sc}, nil
	}
}

// session adapts an SFTP client to remotefs.FS
type session struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (f *session) List(_ context.Context, dir string) ([]remotefs.Entry, error) {
	infos, err := f.sftp.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]remotefs.Entry, 0, len(infos))
	for _, fi := range infos {
		if !fi.Mode().IsRegular() && !fi.IsDir() {
			continue
		}
		out = append(out, remotefs.Entry{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime(), Dir: fi.IsDir()})
	}
	return out, nil
}

func (f *session) Read(_ context.Context, path string) ([]byte, error) {
	file, err := f.sftp.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (f *session) Write(_ context.Context, path string, data []byte, appendMode bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	file, err := f.sftp.OpenFile(path, flags)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *session) Remove(_ context.Context, path string) error {
	return f.sftp.Remove(path)
}

func (f *session) Rename(_ context.Context, from, to string) error {
	return f.sftp.Rename(from, to)
}

func (f *session) Ping(context.Context) error {
	_, err := f.sftp.Getwd()
	return err
}

func (f *session) Close() error {
	err := f.sftp.Close()
	if cerr := f.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

// Register adds the SFTP sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeSFTP,
		Mode:        adapter.ModeSender,
		Description: "Downloads the oldest matching file from an SFTP directory",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeSFTP,
		Mode:        adapter.ModeReceiver,
		Description: "Uploads each message to an SFTP directory",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
