package ftp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/remotefs"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

func TestServer_Addr(t *testing.T) {
	assert.Equal(t, "ftp.example.com:21", Server{Host: "ftp.example.com"}.Addr())
	assert.Equal(t, "10.0.0.5:2121", Server{Host: "10.0.0.5", Port: 2121}.Addr())
	assert.Equal(t, "[::1]:21", Server{Host: "::1"}.Addr())
}

func TestConfigValidate(t *testing.T) {
	valid := SenderConfig{
		Server:        Server{Host: "ftp.example.com"},
		SenderOptions: remotefs.SenderOptions{Directory: "/outbound"},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		cfg  SenderConfig
		want error
	}{
		{"missing host", SenderConfig{SenderOptions: remotefs.SenderOptions{Directory: "/in"}}, errors.ErrMissingConfig},
		{"bad tls mode", SenderConfig{Server: Server{Host: "h", TLSMode: "sometimes"}, SenderOptions: remotefs.SenderOptions{Directory: "/in"}}, errors.ErrInvalidConfig},
		{"missing directory", SenderConfig{Server: Server{Host: "h"}}, errors.ErrMissingConfig},
		{"port", SenderConfig{Server: Server{Host: "h", Port: 70000}, SenderOptions: remotefs.SenderOptions{Directory: "/in"}}, errors.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	r := ReceiverConfig{Server: Server{Host: "h", TLSMode: "EXPLICIT"}, ReceiverOptions: remotefs.ReceiverOptions{Directory: "/in", WriteMode: "shred"}}
	assert.ErrorIs(t, r.Validate(), errors.ErrInvalidConfig)
}

func TestRegister_DecodesFlatConfig(t *testing.T) {
	f := adapter.NewDefaultFactory("ftp", adapter.Dependencies{})
	require.NoError(t, Register(f))

	s, err := f.CreateSender(adapter.TypeFTP, map[string]any{
		"host":              "ftp.example.com",
		"port":              2121,
		"credentials":       map[string]any{"username": "edi", "password": "secret"},
		"directory":         "/outbound",
		"file_pattern":      "*.xml",
		"post_processing":   "archive",
		"archive_directory": "/archive",
	})
	require.NoError(t, err)
	assert.Equal(t, adapter.TypeFTP, s.Type())
	assert.False(t, s.Initialized())

	_, err = f.CreateReceiver(adapter.TypeFTP, &SenderConfig{})
	var cfgErr *errors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDialer_UnreachableIsRetryable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dialer(Server{Host: "127.0.0.1", Port: 1})(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
}
