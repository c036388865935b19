package orchestration_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/audit"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/engine"
	fberrors "github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/orchestration"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/worker"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/testutil"
)

type fixture struct {
	ctx      context.Context
	store    *flowstore.MemoryStore
	sender   *testutil.MockSender
	receiver *testutil.MockReceiver
	recorder *audit.Recorder
	engine   *orchestration.Engine
}

func newFixture(t *testing.T, extra ...*testutil.MockReceiver) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		ctx:      ctx,
		store:    flowstore.NewMemoryStore(),
		sender:   testutil.NewMockSender(),
		receiver: testutil.NewMockReceiver(),
		recorder: &audit.Recorder{},
	}
	receivers := append([]*testutil.MockReceiver{f.receiver}, extra...)
	svc, err := engine.NewService(engine.Options{
		Store:    f.store,
		Registry: testutil.NewMockRegistry(t, f.sender, receivers...),
		Audit:    audit.Nop{},
	})
	require.NoError(t, err)

	f.engine, err = orchestration.NewEngine(orchestration.Options{
		Service: svc,
		Audit:   f.recorder,
		Metrics: metric.NewMetricsRegistry(),
		Workers: 2,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(ctx))
	t.Cleanup(func() { _ = f.engine.Stop(5 * time.Second) })
	return f
}

func (f *fixture) save(t *testing.T, b *testutil.FlowBuilder) {
	t.Helper()
	require.NoError(t, b.Save(f.ctx, f.store))
}

func (f *fixture) execute(t *testing.T, flowID string, input any) *orchestration.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	res, err := f.engine.Execute(ctx, flowID, input)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// stripped removes the timestamp prefix from log lines
func stripped(logs []string) []string {
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		_, msg, ok := strings.Cut(l, ": ")
		if !ok {
			msg = l
		}
		out = append(out, msg)
	}
	return out
}

func TestExecute_Completes(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.NewFlowBuilder("orders").MapField("/Order/CustomerName", "/Invoice/Buyer"))

	res := f.execute(t, "orders", testutil.OrderXML)
	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.ExecutionID)

	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, data["processedTargets"])
	assert.Equal(t, testutil.InvoiceXML, data["transformedData"])
	_, err := time.Parse(time.RFC3339Nano, data["timestamp"].(string))
	assert.NoError(t, err)

	require.Len(t, f.receiver.Sent(), 1)
	assert.Equal(t, testutil.InvoiceXML, string(f.receiver.Sent()[0]))
	assert.Equal(t, 1, f.receiver.DestroyCalls())
	assert.Equal(t, 0, f.sender.InitCalls(), "input data replaces the source adapter")

	exec, ok := f.engine.Status(res.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, orchestration.StatusCompleted, exec.Status)
	assert.Equal(t, orchestration.StepComplete, exec.CurrentStep)
	require.NotNil(t, exec.EndTime)
	assert.False(t, exec.EndTime.Before(exec.StartTime))

	logs := stripped(exec.Logs)
	assert.Equal(t, "Orchestration execution started", logs[0])
	assert.Equal(t, "Orchestration execution completed successfully", logs[len(logs)-1])
	order := []string{
		"Process initialized - setting up execution context",
		"Loading business components",
		"Initializing communication adapters",
		"Executing transformation functions",
		"Processing multiple target systems",
		"Completing orchestration process",
	}
	last := -1
	for _, msg := range order {
		idx := indexOf(logs, msg)
		require.Greater(t, idx, last, msg)
		last = idx
	}
	for _, l := range exec.Logs {
		ts, _, _ := strings.Cut(l, ": ")
		_, err := time.Parse(time.RFC3339Nano, ts)
		assert.NoError(t, err, l)
	}

	assert.Equal(t, []string{"Orchestration execution started", "Orchestration execution completed"}, f.recorder.Messages())
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestCancel_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.NewFlowBuilder("ok").WithMode(flowstore.PassThrough))
	f.save(t, testutil.NewFlowBuilder("broken").Deactivate("broken-tgt"))

	done := f.execute(t, "ok", "payload")
	require.True(t, done.Success)
	failed := f.execute(t, "broken", "payload")
	require.False(t, failed.Success)

	for id, want := range map[string]orchestration.Status{
		done.ExecutionID:   orchestration.StatusCompleted,
		failed.ExecutionID: orchestration.StatusFailed,
	} {
		before, ok := f.engine.Status(id)
		require.True(t, ok)
		assert.False(t, f.engine.Cancel(id))

		after, _ := f.engine.Status(id)
		assert.Equal(t, want, after.Status)
		assert.Equal(t, before.EndTime, after.EndTime)
		assert.Equal(t, before.Logs, after.Logs)
	}
	assert.False(t, f.engine.Cancel("no-such-execution"))
}

func TestExecute_FailedStep(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.NewFlowBuilder("off").Deactivate("off-tgt"))

	res := f.execute(t, "off", testutil.OrderXML)
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Message, "Failed to load business components"), res.Message)

	var failure *fberrors.OrchestrationFailure
	require.True(t, errors.As(res.Err, &failure))
	assert.Equal(t, string(orchestration.StepLoadComponents), failure.Step)
	assert.Equal(t, res.ExecutionID, failure.ExecutionID)
	var cfgErr *fberrors.ConfigurationError
	assert.True(t, errors.As(res.Err, &cfgErr))

	exec, _ := f.engine.Status(res.ExecutionID)
	assert.Equal(t, orchestration.StatusFailed, exec.Status)
	assert.Equal(t, orchestration.StepLoadComponents, exec.CurrentStep)
	assert.NotNil(t, exec.EndTime)
	assert.NotEmpty(t, exec.Error)
	assert.Contains(t, stripped(exec.Logs)[len(exec.Logs)-1], "Execution failed")
	assert.NotContains(t, stripped(exec.Logs), "Initializing communication adapters")
	assert.Empty(t, f.receiver.Sent())
}

func TestExecute_SendFailureReleasesAdapters(t *testing.T) {
	f := newFixture(t)
	f.receiver.SendErr = fberrors.ErrConnectionLost
	f.save(t, testutil.NewFlowBuilder("down").WithMode(flowstore.PassThrough))

	res := f.execute(t, "down", "payload")
	assert.False(t, res.Success)
	assert.True(t, fberrors.Is(res.Err, fberrors.ErrConnectionLost))

	var failure *fberrors.OrchestrationFailure
	require.True(t, errors.As(res.Err, &failure))
	assert.Equal(t, string(orchestration.StepProcessTargets), failure.Step)
	assert.Equal(t, 1, f.receiver.DestroyCalls())
}

func TestCancel_StopsAtNextStepBoundary(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.receiver.SendFunc = func(context.Context, *adapter.Message) error {
		close(entered)
		<-release
		return nil
	}
	f.save(t, testutil.NewFlowBuilder("slow").WithMode(flowstore.PassThrough))

	h, err := f.engine.ExecuteAsync(f.ctx, "slow", "payload")
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("run never reached the target")
	}

	running, ok := f.engine.Status(h.ID)
	require.True(t, ok)
	assert.Equal(t, orchestration.StatusRunning, running.Status)
	assert.Equal(t, orchestration.StepProcessTargets, running.CurrentStep)

	require.True(t, f.engine.Cancel(h.ID))
	assert.False(t, f.engine.Cancel(h.ID), "second cancel is a no-op")
	close(release)

	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, fberrors.ErrCancelled)

	exec, _ := f.engine.Status(h.ID)
	assert.Equal(t, orchestration.StatusCancelled, exec.Status)
	logs := stripped(exec.Logs)
	assert.Contains(t, logs, "Execution cancelled by user")
	assert.NotContains(t, logs, "Completing orchestration process")
	assert.NotContains(t, logs, "Orchestration execution completed successfully")
	assert.Equal(t, 1, f.receiver.DestroyCalls())
}

func TestHistory_NewestFirstAndBounded(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.NewFlowBuilder("hist").WithMode(flowstore.PassThrough))
	f.save(t, testutil.NewFlowBuilder("other").WithMode(flowstore.PassThrough))

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.execute(t, "hist", "payload").ExecutionID)
	}
	f.execute(t, "other", "payload")

	got := f.engine.History("hist", 2)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
	assert.False(t, got[0].StartTime.Before(got[1].StartTime))

	assert.Len(t, f.engine.History("hist", 10), 3)
	assert.Empty(t, f.engine.History("hist", 0))
	assert.Empty(t, f.engine.History("nobody", 5))

	for _, e := range f.engine.History("hist", 10) {
		assert.Equal(t, "hist", e.FlowID)
	}
}

func TestHistory_SnapshotsAreCopies(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.NewFlowBuilder("copy").WithMode(flowstore.PassThrough))
	res := f.execute(t, "copy", "payload")

	snap, _ := f.engine.Status(res.ExecutionID)
	snap.Logs[0] = "tampered"
	snap.Status = orchestration.StatusFailed

	again, _ := f.engine.Status(res.ExecutionID)
	assert.NotEqual(t, "tampered", again.Logs[0])
	assert.Equal(t, orchestration.StatusCompleted, again.Status)
}

func TestExecute_ReadsSourceWithoutInput(t *testing.T) {
	f := newFixture(t)
	f.sender.Push([]byte(testutil.OrderXML))
	f.save(t, testutil.NewFlowBuilder("pull").MapField("/Order/CustomerName", "/Invoice/Buyer"))

	res := f.execute(t, "pull", nil)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, f.sender.Acks())
	assert.Equal(t, 1, f.sender.DestroyCalls())
	require.Len(t, f.receiver.Sent(), 1)
	assert.Equal(t, testutil.InvoiceXML, string(f.receiver.Sent()[0]))

	empty := f.execute(t, "pull", nil)
	assert.False(t, empty.Success)
	assert.True(t, strings.HasPrefix(empty.Message, "Failed to initialize adapters"), empty.Message)
	assert.True(t, fberrors.Is(empty.Err, fberrors.ErrNoMessage))
}

func TestExecute_FansOutToAllTargets(t *testing.T) {
	ftp := testutil.NewMockReceiver()
	ftp.AdapterType = adapter.TypeFTP
	f := newFixture(t, ftp)
	f.save(t, testutil.NewFlowBuilder("fan").
		MapField("/Order/CustomerName", "/Invoice/Buyer").
		AddTarget("fan-ftp", adapter.TypeFTP).
		WithAdapterConfig("fan-ftp", `{"name":"ftp","output_format":"json"}`))

	res := f.execute(t, "fan", testutil.OrderXML)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Data.(map[string]any)["processedTargets"])
	assert.Equal(t, testutil.InvoiceXML, string(f.receiver.Sent()[0]))
	require.Len(t, ftp.Sent(), 1)
	assert.JSONEq(t, `{"Invoice":{"Buyer":"Acme"}}`, string(ftp.Sent()[0]))
}

func TestExecute_FilteredMessageReachesNoTarget(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.NewFlowBuilder("filter").
		SkipXMLConversion().
		AddStep(flowstore.FilterStep, 1, `{"conditions":[{"field":"status","operator":"eq","value":"approved"}]}`))

	res := f.execute(t, "filter", map[string]any{"status": "draft"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 0, res.Data.(map[string]any)["processedTargets"])
	assert.Empty(t, f.receiver.Sent())
}

func TestExecute_UnknownFlow(t *testing.T) {
	f := newFixture(t)
	res := f.execute(t, "ghost", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Flow not found: ghost", res.Message)
	assert.Empty(t, res.ExecutionID)
	assert.Empty(t, f.engine.History("ghost", 10))
}

func TestExecuteAsync_RequiresStart(t *testing.T) {
	store := flowstore.NewMemoryStore()
	require.NoError(t, testutil.NewFlowBuilder("idle").Save(context.Background(), store))
	svc, err := engine.NewService(engine.Options{
		Store:    store,
		Registry: testutil.NewMockRegistry(t, testutil.NewMockSender(), testutil.NewMockReceiver()),
	})
	require.NoError(t, err)
	eng, err := orchestration.NewEngine(orchestration.Options{Service: svc})
	require.NoError(t, err)

	_, err = eng.ExecuteAsync(context.Background(), "idle", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, worker.ErrPoolNotStarted)

	history := eng.History("idle", 1)
	require.Len(t, history, 1)
	assert.Equal(t, orchestration.StatusFailed, history[0].Status)
}

func TestEvict(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.NewFlowBuilder("old").WithMode(flowstore.PassThrough))
	res := f.execute(t, "old", "payload")

	assert.Equal(t, 0, f.engine.Evict(time.Hour))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, f.engine.Evict(time.Millisecond))

	_, ok := f.engine.Status(res.ExecutionID)
	assert.False(t, ok)
}

func TestValidateFlow(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.NewFlowBuilder("good").MapField("/Order/CustomerName", "/Invoice/Buyer"))

	res, err := f.engine.ValidateFlow(f.ctx, "good")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Contains(t, res.Warnings, "Orchestration flow validation completed")

	bare := testutil.NewFlowBuilder("bare").Flow()
	bare.SourceAdapterID = ""
	bare.TargetAdapterID = ""
	require.NoError(t, f.store.SaveFlow(f.ctx, bare))
	res, err = f.engine.ValidateFlow(f.ctx, "bare")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "Source adapter is required for orchestration flow")
	assert.Contains(t, res.Errors, "Target adapter is required for orchestration flow")
	assert.Contains(t, res.Warnings, "Orchestration flow validation completed")

	f.save(t, testutil.NewFlowBuilder("gaps").
		WithoutAdapter("gaps-src").
		Deactivate("gaps-tgt").
		AddStep(flowstore.CustomFunctionStep, 2, `{}`))
	res, err = f.engine.ValidateFlow(f.ctx, "gaps")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "Source adapter gaps-src does not exist")
	assert.Contains(t, res.Errors, "Target adapter gaps-tgt is not active")
	assert.True(t, hasPrefix(res.Errors, "Transformation pipeline is invalid"), res.Errors)

	res, err = f.engine.ValidateFlow(f.ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, []string{"Flow not found: ghost"}, res.Errors)

	assert.Empty(t, f.engine.History("good", 10), "validation never creates executions")
}

func hasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
