package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// writeTestCert creates a self-signed certificate and returns cert and key paths
func writeTestCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Flow Bridge Test"}, CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}), 0o600))
	return certFile, keyFile
}

func TestServerLoad(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	tests := []struct {
		name    string
		cfg     Server
		wantNil bool
		wantErr bool
	}{
		{name: "disabled", cfg: Server{}, wantNil: true},
		{name: "tls 1.3", cfg: Server{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"}},
		{name: "default version", cfg: Server{Enabled: true, CertFile: certFile, KeyFile: keyFile}},
		{name: "missing cert", cfg: Server{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: keyFile}, wantErr: true},
		{name: "mutual tls", cfg: Server{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{certFile}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Load()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Len(t, got.Certificates, 1)
			assert.Equal(t, parseTLSVersion(tt.cfg.MinVersion), got.MinVersion)
			if len(tt.cfg.ClientCAFiles) > 0 {
				assert.Equal(t, tls.RequireAndVerifyClientCert, got.ClientAuth)
				assert.NotNil(t, got.ClientCAs)
			}
		})
	}
}

func TestClientLoad(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	got, err := Client{}.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = Client{Enabled: true, CAFiles: []string{certFile}, ServerName: "ftp.example.com"}.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.RootCAs)
	assert.Equal(t, "ftp.example.com", got.ServerName)
	assert.False(t, got.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS12), got.MinVersion)

	got, err = Client{Enabled: true, CertFile: certFile, KeyFile: keyFile, InsecureSkipVerify: true}.Load()
	require.NoError(t, err)
	assert.Len(t, got.Certificates, 1)
	assert.True(t, got.InsecureSkipVerify)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o644))
	_, err = Client{Enabled: true, CAFiles: []string{bad}}.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PEM certificates")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Client{}.Validate())
	assert.ErrorIs(t, Client{CertFile: "c.pem"}.Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, Client{MinVersion: "1.0"}.Validate(), errors.ErrInvalidConfig)

	assert.NoError(t, Server{}.Validate())
	assert.ErrorIs(t, Server{Enabled: true}.Validate(), errors.ErrMissingConfig)
	assert.NoError(t, Server{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.3"}.Validate())
}
