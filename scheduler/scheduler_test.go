package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/engine"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/testutil"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *fakeRunner) ExecuteFlow(_ context.Context, flowID string) (*engine.ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, flowID)
	if r.err != nil {
		return nil, r.err
	}
	return &engine.ExecutionResult{FlowID: flowID, Success: true}, nil
}

func (r *fakeRunner) count(flowID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == flowID {
			n++
		}
	}
	return n
}

func seed(t *testing.T) *flowstore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := flowstore.NewMemoryStore()
	require.NoError(t, testutil.NewFlowBuilder("hourly").WithSchedule("0 * * * *").Save(ctx, store))
	require.NoError(t, testutil.NewFlowBuilder("seconds").WithSchedule("*/30 * * * * *").Save(ctx, store))
	require.NoError(t, testutil.NewFlowBuilder("manual").Save(ctx, store))
	require.NoError(t, testutil.NewFlowBuilder("draft").WithSchedule("@hourly").WithStatus(flowstore.StatusDraft).Save(ctx, store))
	require.NoError(t, testutil.NewFlowBuilder("broken").WithSchedule("not a cron").Save(ctx, store))
	return store
}

func TestSync_SchedulesRunnableFlows(t *testing.T) {
	store := seed(t)
	s := New(store, &fakeRunner{})

	n, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"hourly", "seconds"}, s.Scheduled())

	_, ok := s.Next("manual")
	assert.False(t, ok)
}

func TestSync_ReconcilesChanges(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	s := New(store, &fakeRunner{})
	_, err := s.Sync(ctx)
	require.NoError(t, err)

	f, err := store.FindFlow(ctx, "hourly")
	require.NoError(t, err)
	f.Schedule = "@daily"
	require.NoError(t, store.SaveFlow(ctx, f))

	g, err := store.FindFlow(ctx, "seconds")
	require.NoError(t, err)
	g.Status = flowstore.StatusInactive
	require.NoError(t, store.SaveFlow(ctx, g))

	n, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"hourly"}, s.Scheduled())
	assert.Equal(t, "@daily", s.entries["hourly"].spec)
}

func TestTrigger_UsesRunner(t *testing.T) {
	runner := &fakeRunner{}
	s := New(flowstore.NewMemoryStore(), runner)
	s.trigger("orders")
	runner.err = errors.New("boom")
	s.trigger("orders")
	assert.Equal(t, 2, runner.count("orders"))
}

func TestStart_RunsOnSchedule(t *testing.T) {
	ctx := context.Background()
	store := flowstore.NewMemoryStore()
	require.NoError(t, testutil.NewFlowBuilder("tick").WithSchedule("@every 1s").Save(ctx, store))

	runner := &fakeRunner{}
	s := New(store, runner)
	require.NoError(t, s.Start(ctx))
	defer s.Stop(time.Second)

	next, ok := s.Next("tick")
	require.True(t, ok)
	assert.False(t, next.IsZero())

	require.Eventually(t, func() bool { return runner.count("tick") > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("0 0/15 * * * *"))
	assert.NoError(t, ValidateSchedule("@every 2m"))
	assert.Error(t, ValidateSchedule("every now and then"))
}
