package sap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

type rpcServer struct {
	mu    sync.Mutex
	calls []rpcRequest
	reply func(rpcRequest) string
}

func (s *rpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &req)
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	_, _ = w.Write([]byte(s.reply(req)))
}

func TestRFCSender_ReturnsResult(t *testing.T) {
	rpc := &rpcServer{reply: func(rpcRequest) string {
		return `{"jsonrpc":"2.0","result":{"ET_ORDERS":[{"VBELN":"0001"}],"RETURN":{}},"id":"1"}`
	}}
	srv := httptest.NewServer(rpc)
	defer srv.Close()

	cfg := &RFCSenderConfig{
		Endpoint: httpclient.Endpoint{URL: srv.URL}, Function: "Z_GET_ORDERS",
		Parameters: map[string]any{"IV_STATUS": "OPEN"}, ResultPath: "ET_ORDERS",
	}
	require.NoError(t, cfg.Validate())
	s := NewRFCSender(cfg, adapter.Dependencies{})
	require.NoError(t, s.Initialize(context.Background()))

	msg, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"VBELN":"0001"}]`, string(msg.Payload))
	require.Len(t, rpc.calls, 1)
	assert.Equal(t, "Z_GET_ORDERS", rpc.calls[0].Method)
	assert.Equal(t, "2.0", rpc.calls[0].JSONRPC)
}

func TestRFCSender_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(&rpcServer{reply: func(rpcRequest) string { return `{"result":null}` }})
	defer srv.Close()

	s := NewRFCSender(&RFCSenderConfig{Endpoint: httpclient.Endpoint{URL: srv.URL}, Function: "Z_X"}, adapter.Dependencies{})
	require.NoError(t, s.Initialize(context.Background()))
	_, err := s.Receive(context.Background())
	assert.ErrorIs(t, err, errors.ErrNoMessage)
}

func TestRFCReceiver_ParamsAndCommit(t *testing.T) {
	rpc := &rpcServer{reply: func(req rpcRequest) string {
		if req.Method == "Z_FAIL" {
			return `{"error":{"code":3,"message":"customer blocked"}}`
		}
		return `{"result":{"EV_OK":"X"}}`
	}}
	srv := httptest.NewServer(rpc)
	defer srv.Close()
	ctx := context.Background()

	r := NewRFCReceiver(&RFCReceiverConfig{Endpoint: httpclient.Endpoint{URL: srv.URL}, Function: "Z_POST", CommitWork: true}, adapter.Dependencies{})
	require.NoError(t, r.Initialize(ctx))
	res, err := r.Send(ctx, adapter.NewMessage([]byte(`{"IV_BUYER":"Acme"}`), "", "test"))
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, rpc.calls, 2)
	assert.Equal(t, map[string]any{"IV_BUYER": "Acme"}, rpc.calls[0].Params)
	assert.Equal(t, "BAPI_TRANSACTION_COMMIT", rpc.calls[1].Method)

	text := NewRFCReceiver(&RFCReceiverConfig{Endpoint: httpclient.Endpoint{URL: srv.URL}, Function: "Z_TEXT"}, adapter.Dependencies{})
	require.NoError(t, text.Initialize(ctx))
	_, err = text.Send(ctx, adapter.NewMessage([]byte("<Order/>"), "", "test"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"DATA": "<Order/>"}, rpc.calls[2].Params)

	failing := NewRFCReceiver(&RFCReceiverConfig{Endpoint: httpclient.Endpoint{URL: srv.URL}, Function: "Z_FAIL"}, adapter.Dependencies{})
	require.NoError(t, failing.Initialize(ctx))
	_, err = failing.Send(ctx, adapter.NewMessage([]byte(`{}`), "", "test"))
	var rfcErr *RFCError
	require.ErrorAs(t, err, &rfcErr)
	assert.Equal(t, "customer blocked", rfcErr.Message)
	assert.True(t, errors.IsInvalid(err))
}

func TestIDocSender_FetchAndConfirm(t *testing.T) {
	var deleted string
	served := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/idocs/next":
			assert.Equal(t, "ORDERS", r.URL.Query().Get("messageType"))
			if served {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			served = true
			w.Header().Set(HeaderDocNumber, "0000042")
			w.Header().Set(HeaderIDocType, "ORDERS05")
			_, _ = w.Write([]byte(`<ORDERS05><IDOC BEGIN="1"/></ORDERS05>`))
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewIDocSender(&IDocSenderConfig{Endpoint: httpclient.Endpoint{URL: srv.URL}, MessageType: "ORDERS"}, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	msg, err := s.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0000042", msg.Headers["idoc_number"])
	assert.Equal(t, "ORDERS05", msg.Headers["idoc_type"])
	require.NoError(t, msg.Ack(ctx))
	assert.Equal(t, "/idocs/0000042", deleted)

	_, err = s.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrNoMessage)
}

func TestIDocReceiver_SendsControlRecord(t *testing.T) {
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		w.Header().Set(HeaderDocNumber, "0000099")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := &IDocReceiverConfig{
		Endpoint:      httpclient.Endpoint{URL: srv.URL},
		ControlRecord: ControlRecord{IDocType: "INVOIC02", MessageType: "INVOIC", SenderPartner: "FLOWBRIDGE"},
	}
	require.NoError(t, cfg.Validate())
	r := NewIDocReceiver(cfg, adapter.Dependencies{})
	require.NoError(t, r.Initialize(context.Background()))

	res, err := r.Send(context.Background(), adapter.NewMessage([]byte("<INVOIC02/>"), "", "test"))
	require.NoError(t, err)
	assert.Equal(t, "0000099", res.Details["idoc_number"])
	assert.Equal(t, "INVOIC02", header.Get(HeaderIDocType))
	assert.Equal(t, "INVOIC", header.Get(HeaderMessageType))
	assert.Equal(t, "FLOWBRIDGE", header.Get(HeaderSenderPartner))
	assert.Empty(t, header.Get(HeaderReceiverPartner))

	_, err = r.Send(context.Background(), adapter.NewMessage([]byte(`{"not":"xml"}`), "", "test"))
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestRegister(t *testing.T) {
	f := adapter.NewDefaultFactory("sap", adapter.Dependencies{})
	require.NoError(t, Register(f))
	for _, typ := range []adapter.Type{adapter.TypeRFC, adapter.TypeIDOC} {
		assert.True(t, f.Supports(typ, adapter.ModeSender))
		assert.True(t, f.Supports(typ, adapter.ModeReceiver))
	}
	assert.Error(t, Register(f))
}
