package httpadapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSender_BuffersRequests(t *testing.T) {
	s := NewSender(&SenderConfig{ListenAddress: "127.0.0.1:0", Path: "/orders", BufferSize: 1}, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	t.Cleanup(func() { _ = s.Destroy(ctx) })

	_, err := s.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrNoMessage)

	rec := post(t, s.Handler(), "/orders", "<Order/>")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = post(t, s.Handler(), "/orders", "<Order/>")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, s.Pending())

	msg, err := s.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<Order/>", string(msg.Payload))
	assert.Equal(t, "application/xml", msg.ContentType)
	assert.Equal(t, "/orders", msg.Source)
}

func TestSender_ServesOnListenAddress(t *testing.T) {
	s := NewSender(&SenderConfig{ListenAddress: "127.0.0.1:0"}, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.TestConnection(ctx))

	resp, err := http.Post("http://"+s.Addr()+DefaultPath, "application/json", bytes.NewBufferString(`{"a":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, s.Destroy(ctx))
	assert.Empty(t, s.Addr())
	assert.Error(t, s.TestConnection(ctx))
}

func TestSender_RejectsBadRequests(t *testing.T) {
	s := NewSender(&SenderConfig{
		MaxBodyBytes: 4,
		Credentials:  adapter.Credentials{Username: "svc", Password: "pw"},
	}, adapter.Dependencies{})

	rec := post(t, s.Handler(), DefaultPath, "<a/>")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, DefaultPath, bytes.NewBufferString("<too-long/>"))
	req.SetBasicAuth("svc", "pw")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req = httptest.NewRequest(http.MethodPost, DefaultPath, http.NoBody)
	req.SetBasicAuth("svc", "pw")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiver_Send(t *testing.T) {
	var got []byte
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, contentType = r.Method, r.Header.Get("Content-Type")
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer srv.Close()

	cfg := &ReceiverConfig{Endpoint: httpclient.Endpoint{URL: srv.URL}, Method: "put"}
	require.NoError(t, cfg.Validate())
	r := NewReceiver(cfg, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx))

	res, err := r.Send(ctx, adapter.NewMessage([]byte("<Invoice/>"), "application/xml", "test"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusCreated, res.Details["status_code"])
	assert.Equal(t, "created", res.Details["response"])
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "application/xml", contentType)
	assert.Equal(t, "<Invoice/>", string(got))
}

func TestReceiver_ClientErrorIsAdapterError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rejected", http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewReceiver(&ReceiverConfig{Endpoint: httpclient.Endpoint{URL: srv.URL}}, adapter.Dependencies{})
	require.NoError(t, r.Initialize(context.Background()))

	_, err := r.Send(context.Background(), adapter.NewMessage([]byte("x"), "", "test"))
	var ae *errors.AdapterError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "HTTP", ae.Type)
	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (&SenderConfig{Path: "inbound"}).Validate())
	assert.Error(t, (&SenderConfig{Methods: []string{"GET"}}).Validate())
	assert.NoError(t, (&SenderConfig{Methods: []string{"post", "put"}}).Validate())
	assert.Error(t, (&ReceiverConfig{}).Validate())
	assert.Error(t, (&ReceiverConfig{Endpoint: httpclient.Endpoint{URL: "ftp://x"}}).Validate())
	assert.Error(t, (&ReceiverConfig{Endpoint: httpclient.Endpoint{URL: "http://x"}, Method: "DELETE"}).Validate())
}
