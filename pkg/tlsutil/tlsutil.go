// Package tlsutil builds tls.Config values from adapter TLS settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Client holds the TLS settings of an outbound connection
type Client struct {
	Enabled            bool     `json:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty"`
	CertFile           string   `json:"cert_file,omitempty"`
	KeyFile            string   `json:"key_file,omitempty"`
	ServerName         string   `json:"server_name,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"`
	MinVersion         string   `json:"min_version,omitempty"`
}

// Server holds the TLS settings of a listener
type Server struct {
	Enabled       bool     `json:"enabled"`
	CertFile      string   `json:"cert_file,omitempty"`
	KeyFile       string   `json:"key_file,omitempty"`
	ClientCAFiles []string `json:"client_ca_files,omitempty"`
	MinVersion    string   `json:"min_version,omitempty"`
}

// Validate checks that certificate pairs are complete
func (c Client) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("%w: tls cert_file and key_file must be set together", errors.ErrInvalidConfig)
	}
	return validVersion(c.MinVersion)
}

// Validate checks that an enabled listener has a certificate
func (s Server) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.CertFile == "" || s.KeyFile == "" {
		return fmt.Errorf("%w: tls cert_file and key_file are required", errors.ErrMissingConfig)
	}
	return validVersion(s.MinVersion)
}

// Load creates the client tls.Config. It returns nil when TLS is disabled.
// The system CA bundle is always trusted; CAFiles are added to it.
func (c Client) Load() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(c.MinVersion),
		ServerName: c.ServerName,
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendPEM(rootCAs, c.CAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "Client.Load", "load CA files")
	}
	tlsConfig.RootCAs = rootCAs

	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "Client.Load", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// Operators opt in explicitly.
	if c.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	return tlsConfig, nil
}

// Load creates the listener tls.Config. It returns nil when TLS is disabled.
// ClientCAFiles turn on mutual TLS.
func (s Server) Load() (*tls.Config, error) {
	if !s.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "Server.Load", "load certificate")
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(s.MinVersion),
	}
	if len(s.ClientCAFiles) > 0 {
		pool := x509.NewCertPool()
		if err := appendPEM(pool, s.ClientCAFiles); err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "Server.Load", "load client CA files")
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

func appendPEM(pool *x509.CertPool, files []string) error {
	for _, f := range files {
		pem, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no PEM certificates in %s", f)
		}
	}
	return nil
}

func validVersion(v string) error {
	switch v {
	case "", "1.2", "1.3":
		return nil
	}
	return fmt.Errorf("%w: tls min_version %q, want 1.2 or 1.3", errors.ErrInvalidConfig, v)
}

// parseTLSVersion returns tls.VersionTLS12 if empty or unknown
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
