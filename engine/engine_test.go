package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/audit"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/engine"
	fberrors "github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/testutil"
)

type ExecuteFlowSuite struct {
	suite.Suite
	ctx      context.Context
	store    *flowstore.MemoryStore
	sender   *testutil.MockSender
	receiver *testutil.MockReceiver
	recorder *audit.Recorder
	metrics  *metric.MetricsRegistry
	svc      *engine.Service
}

func TestExecuteFlowSuite(t *testing.T) {
	suite.Run(t, new(ExecuteFlowSuite))
}

func (s *ExecuteFlowSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = flowstore.NewMemoryStore()
	s.sender = testutil.NewMockSender()
	s.receiver = testutil.NewMockReceiver()
	s.recorder = &audit.Recorder{}
	s.metrics = metric.NewMetricsRegistry()
	s.svc = s.newService(false)
}

func (s *ExecuteFlowSuite) newService(allowDraft bool, extra ...*testutil.MockReceiver) *engine.Service {
	receivers := append([]*testutil.MockReceiver{s.receiver}, extra...)
	svc, err := engine.NewService(engine.Options{
		Store:      s.store,
		Registry:   testutil.NewMockRegistry(s.T(), s.sender, receivers...),
		Audit:      s.recorder,
		Metrics:    s.metrics,
		AllowDraft: allowDraft,
		RunTimeout: 5 * time.Second,
	})
	s.Require().NoError(err)
	return svc
}

func (s *ExecuteFlowSuite) flow(id string) *flowstore.FlowDefinition {
	f, err := s.store.FindFlow(s.ctx, id)
	s.Require().NoError(err)
	return f
}

func (s *ExecuteFlowSuite) TestPassThroughDeliversIdenticalBytes() {
	raw := "id;name\r\n1;Acme é\r\n"
	s.sender.Push([]byte(raw))
	s.Require().NoError(testutil.NewFlowBuilder("pt").WithMode(flowstore.PassThrough).Save(s.ctx, s.store))

	res, err := s.svc.ExecuteFlow(s.ctx, "pt")
	s.Require().NoError(err)
	s.True(res.Success)
	s.True(res.Delivered)
	s.Equal(len(raw), res.BytesIn)
	s.Equal(len(raw), res.BytesOut)

	sent := s.receiver.Sent()
	s.Require().Len(sent, 1)
	s.Equal([]byte(raw), sent[0])
	s.Equal(1, s.sender.Acks())
}

func (s *ExecuteFlowSuite) TestWithMappingMapsOrderToInvoice() {
	s.sender.Push([]byte(testutil.OrderXML))
	s.Require().NoError(testutil.NewFlowBuilder("orders").
		MapField("/Order/CustomerName", "/Invoice/Buyer").
		Save(s.ctx, s.store))

	res, err := s.svc.ExecuteFlow(s.ctx, "orders")
	s.Require().NoError(err)
	s.True(res.Success)
	s.Len(res.Steps, 1)
	s.NotEmpty(res.ExecutionID)

	sent := s.receiver.Sent()
	s.Require().Len(sent, 1)
	s.Equal(testutil.InvoiceXML, string(sent[0]))

	f := s.flow("orders")
	s.Equal(int64(1), f.ExecutionCount)
	s.Equal(int64(1), f.SuccessCount)
	s.Equal(int64(0), f.ErrorCount)
	s.NotNil(f.LastExecutionAt)

	s.Equal(1, s.sender.DestroyCalls())
	s.Equal(1, s.receiver.DestroyCalls())
	s.False(s.sender.Initialized())

	s.Equal([]string{
		"Flow execution started",
		"Message received",
		"Message routed",
		"Transformations applied",
		"Message delivered",
		"Flow execution completed",
	}, s.recorder.Messages())
	for _, e := range s.recorder.Entries() {
		s.Equal(res.ExecutionID, e.ExecutionID)
	}

	s.Equal(1.0, counterValue(s.T(), s.metrics, "flowbridge_flow_executions_total", "success"))
}

func (s *ExecuteFlowSuite) TestNoMessageLeavesCountersAlone() {
	s.Require().NoError(testutil.NewFlowBuilder("empty").Save(s.ctx, s.store))

	res, err := s.svc.ExecuteFlow(s.ctx, "empty")
	s.Require().NoError(err)
	s.True(res.Success)
	s.False(res.Delivered)
	s.Empty(s.receiver.Sent())
	s.Equal(0, s.receiver.InitCalls(), "targets are not opened without a message")

	f := s.flow("empty")
	s.Equal(int64(0), f.ExecutionCount)
}

func (s *ExecuteFlowSuite) TestDraftFlowRequiresAllowDraft() {
	s.sender.Push([]byte(testutil.OrderXML))
	s.Require().NoError(testutil.NewFlowBuilder("draft").
		WithStatus(flowstore.StatusDraft).
		WithMode(flowstore.PassThrough).
		Save(s.ctx, s.store))

	_, err := s.svc.ExecuteFlow(s.ctx, "draft")
	s.Require().Error(err)
	s.True(fberrors.Is(err, fberrors.ErrInvalidConfig))
	s.Equal(int64(0), s.flow("draft").ExecutionCount)
	s.Equal(1, s.sender.Pending())

	res, err := s.newService(true).ExecuteFlow(s.ctx, "draft")
	s.Require().NoError(err)
	s.True(res.Delivered)
}

func (s *ExecuteFlowSuite) TestUnknownFlow() {
	_, err := s.svc.ExecuteFlow(s.ctx, "ghost")
	s.True(flowstore.IsNotFound(err))
}

func (s *ExecuteFlowSuite) TestInactiveTargetFails() {
	s.sender.Push([]byte(testutil.OrderXML))
	s.Require().NoError(testutil.NewFlowBuilder("off").Deactivate("off-tgt").Save(s.ctx, s.store))

	res, err := s.svc.ExecuteFlow(s.ctx, "off")
	s.Require().Error(err)
	var ce *fberrors.ConfigurationError
	s.True(errors.As(err, &ce))
	s.False(res.Success)
	s.Equal(1, s.sender.Pending(), "nothing is received when a target is inactive")

	f := s.flow("off")
	s.Equal(int64(1), f.ExecutionCount)
	s.Equal(int64(1), f.ErrorCount)
	s.Contains(s.recorder.Messages(), "Flow execution failed")
}

func (s *ExecuteFlowSuite) TestBadStepConfigFailsBeforeReceive() {
	s.sender.Push([]byte(testutil.OrderXML))
	s.Require().NoError(testutil.NewFlowBuilder("broken").
		AddStep(flowstore.FilterStep, 1, `{}`).
		Save(s.ctx, s.store))

	res, err := s.svc.ExecuteFlow(s.ctx, "broken")
	s.Require().Error(err)
	s.False(res.Success)
	s.Equal(1, s.sender.Pending(), "the source message stays queued")
	s.Equal(0, s.sender.InitCalls())
	s.Equal(0, s.sender.Acks())
	s.Empty(s.receiver.Sent())
}

func (s *ExecuteFlowSuite) TestFilteredMessageIsNotDelivered() {
	s.sender.Push([]byte(`{"status":"draft"}`))
	s.Require().NoError(testutil.NewFlowBuilder("filter").
		SkipXMLConversion().
		WithSourceType(adapter.TypeFILE).
		AddStep(flowstore.FilterStep, 1, `{"conditions":[{"field":"status","operator":"eq","value":"approved"}]}`).
		Save(s.ctx, s.store))

	res, err := s.svc.ExecuteFlow(s.ctx, "filter")
	s.Require().NoError(err)
	s.True(res.Success)
	s.True(res.Filtered)
	s.False(res.Delivered)
	s.Empty(s.receiver.Sent())
	s.Equal(1, s.sender.Acks(), "a filtered message is consumed")
	s.Equal(int64(1), s.flow("filter").SuccessCount)
}

func (s *ExecuteFlowSuite) TestValidationFailureIsAResult() {
	s.sender.Push([]byte(`{"id":""}`))
	s.Require().NoError(testutil.NewFlowBuilder("valid").
		SkipXMLConversion().
		AddStep(flowstore.ValidationStep, 1, `{"requiredFields":["id"]}`).
		Save(s.ctx, s.store))

	res, err := s.svc.ExecuteFlow(s.ctx, "valid")
	s.Require().NoError(err)
	s.False(res.Success)
	s.Contains(res.Message, "id is required")
	s.Empty(s.receiver.Sent())
	s.Equal(0, s.sender.Acks())
	s.Equal(int64(1), s.flow("valid").ErrorCount)
}

func (s *ExecuteFlowSuite) TestSendFailure() {
	s.sender.Push([]byte(testutil.OrderXML))
	s.receiver.SendErr = fberrors.ErrConnectionLost
	s.Require().NoError(testutil.NewFlowBuilder("down").WithMode(flowstore.PassThrough).Save(s.ctx, s.store))

	res, err := s.svc.ExecuteFlow(s.ctx, "down")
	s.Require().Error(err)
	var ae *fberrors.AdapterError
	s.True(errors.As(err, &ae))
	s.True(fberrors.Is(err, fberrors.ErrConnectionLost))
	s.False(res.Success)
	s.Equal(0, s.sender.Acks())
	s.Equal(1, s.receiver.DestroyCalls())
	s.Equal(int64(1), s.flow("down").ErrorCount)
}

func (s *ExecuteFlowSuite) TestAdditionalTargets() {
	ftp := testutil.NewMockReceiver()
	ftp.AdapterType = adapter.TypeFTP
	svc := s.newService(false, ftp)

	s.sender.Push([]byte(testutil.OrderXML))
	s.Require().NoError(testutil.NewFlowBuilder("fan").
		MapField("/Order/CustomerName", "/Invoice/Buyer").
		AddTarget("fan-ftp", adapter.TypeFTP).
		WithAdapterConfig("fan-ftp", `{"name":"ftp","output_format":"json"}`).
		Save(s.ctx, s.store))

	res, err := svc.ExecuteFlow(s.ctx, "fan")
	s.Require().NoError(err)
	s.Len(res.SendResults, 2)
	s.Equal(testutil.InvoiceXML, string(s.receiver.Sent()[0]))
	s.Require().Len(ftp.Sent(), 1)
	s.JSONEq(`{"Invoice":{"Buyer":"Acme"}}`, string(ftp.Sent()[0]))
}

func (s *ExecuteFlowSuite) TestTransform() {
	s.Require().NoError(testutil.NewFlowBuilder("tx").
		MapField("/Order/CustomerName", "/Invoice/Buyer").
		Save(s.ctx, s.store))
	b, err := s.svc.Load(s.ctx, "tx")
	s.Require().NoError(err)
	s.Len(b.Targets, 1)

	routed, err := s.svc.Router().Route(s.ctx, b.Flow, b.Source, adapter.NewMessage([]byte(testutil.OrderXML), "", "test"))
	s.Require().NoError(err)
	out, err := s.svc.Transform(s.ctx, b.Flow, routed.Document)
	s.Require().NoError(err)
	s.Equal(testutil.InvoiceXML, out.Document.String())
}

func (s *ExecuteFlowSuite) TestNewServiceRequiresStoreAndRegistry() {
	_, err := engine.NewService(engine.Options{})
	s.True(fberrors.Is(err, fberrors.ErrMissingConfig))
	_, err = engine.NewService(engine.Options{Store: s.store})
	s.True(fberrors.Is(err, fberrors.ErrMissingConfig))
}

func counterValue(t *testing.T, r *metric.MetricsRegistry, name, status string) float64 {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == status {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
