package soap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/convert"
)

const response = `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body><GetOrderResponse><Order><Id>7</Id></Order></GetOrderResponse></soap:Body>
</soap:Envelope>`

const fault = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body><soap:Fault><faultcode>soap:Client</faultcode><faultstring>Unknown order</faultstring></soap:Fault></soap:Body>
</soap:Envelope>`

func TestEnvelope(t *testing.T) {
	env, err := Envelope(Version12, []byte(`<?xml version="1.0"?><Invoice><Buyer>Acme</Buyer></Invoice>`))
	require.NoError(t, err)
	s := string(env)
	assert.Contains(t, s, convert.SOAP12Namespace)
	assert.Contains(t, s, "<soap:Body><Invoice><Buyer>Acme</Buyer></Invoice></soap:Body>")
	assert.Equal(t, 1, strings.Count(s, "<?xml"))

	again, err := Envelope(Version11, env)
	require.NoError(t, err)
	assert.Equal(t, env, again)

	_, err = Envelope(Version11, []byte(`{"json":true}`))
	assert.Error(t, err)
}

func TestSender_CallsAndUnwraps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"urn:GetOrder"`, r.Header.Get("SOAPAction"))
		assert.Equal(t, "text/xml; charset=utf-8", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<GetOrder><Id>7</Id></GetOrder>")
		_, _ = w.Write([]byte(response))
	}))
	defer srv.Close()

	cfg := &SenderConfig{
		Service:     Service{Endpoint: httpclient.Endpoint{URL: srv.URL}, Action: "urn:GetOrder"},
		RequestBody: "<GetOrder><Id>7</Id></GetOrder>",
	}
	require.NoError(t, cfg.Validate())
	s := NewSender(cfg, adapter.Dependencies{})
	require.NoError(t, s.Initialize(context.Background()))

	msg, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(msg.Payload), "<GetOrderResponse>")
	assert.NotContains(t, string(msg.Payload), "Envelope")
}

func TestReceiver_SoapVersion12Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `application/soap+xml; charset=utf-8; action="urn:Post"`, r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("SOAPAction"))
		_, _ = w.Write([]byte(response))
	}))
	defer srv.Close()

	r := NewReceiver(&ReceiverConfig{Service: Service{Endpoint: httpclient.Endpoint{URL: srv.URL}, Version: Version12, Action: "urn:Post"}}, adapter.Dependencies{})
	require.NoError(t, r.Initialize(context.Background()))
	res, err := r.Send(context.Background(), adapter.NewMessage([]byte("<Invoice/>"), "", "test"))
	require.NoError(t, err)
	assert.Equal(t, Version12, res.Details["soap_version"])
}

func TestReceiver_FaultFailsSend(t *testing.T) {
	for name, status := range map[string]int{"ok status": http.StatusOK, "server error": http.StatusInternalServerError} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(fault))
			}))
			defer srv.Close()

			ep := httpclient.Endpoint{URL: srv.URL, Retry: adapter.RetryPolicy{MaxAttempts: 1}}
			r := NewReceiver(&ReceiverConfig{Service: Service{Endpoint: ep}}, adapter.Dependencies{})
			require.NoError(t, r.Initialize(context.Background()))
			_, err := r.Send(context.Background(), adapter.NewMessage([]byte("<Invoice/>"), "", "test"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Unknown order")
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	ep := httpclient.Endpoint{URL: "https://erp.example.com/ws"}
	assert.Error(t, (&ReceiverConfig{Service: Service{Endpoint: ep, Version: "2.0"}}).Validate())
	assert.Error(t, (&SenderConfig{Service: Service{Endpoint: ep}, RequestBody: "<open>"}).Validate())
	assert.NoError(t, (&SenderConfig{Service: Service{Endpoint: ep, Version: Version12}}).Validate())
}
