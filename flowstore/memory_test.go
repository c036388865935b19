package flowstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// storeSuite runs the same behavioural checks against any Store.
type storeSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	ctx      context.Context
}

func (s *storeSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
}

func (s *storeSuite) TestFlowCreateAndVersioning() {
	flow := &FlowDefinition{ID: "orders", Name: "Orders", Status: StatusDeployed}
	s.Require().NoError(s.store.SaveFlow(s.ctx, flow))
	s.Equal(int64(1), flow.Version)

	dup := &FlowDefinition{ID: "orders", Name: "Again"}
	s.True(errors.Is(s.store.SaveFlow(s.ctx, dup), errors.ErrAlreadyExists))

	got, err := s.store.FindFlow(s.ctx, "orders")
	s.Require().NoError(err)
	s.Equal("Orders", got.Name)

	got.Description = "updated"
	s.Require().NoError(s.store.SaveFlow(s.ctx, got))
	s.Equal(int64(2), got.Version)

	stale := &FlowDefinition{ID: "orders", Name: "Orders", Version: 1}
	err = s.store.SaveFlow(s.ctx, stale)
	s.Require().Error(err)
	s.Contains(err.Error(), "version mismatch")
}

func (s *storeSuite) TestFindFlowNotFound() {
	_, err := s.store.FindFlow(s.ctx, "missing")
	s.True(IsNotFound(err))
}

func (s *storeSuite) TestRecordExecution() {
	s.Require().NoError(s.store.SaveFlow(s.ctx, &FlowDefinition{ID: "f1", Name: "F"}))
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.store.RecordExecution(s.ctx, "f1", true, at)
	s.Require().NoError(err)
	flow, err := s.store.RecordExecution(s.ctx, "f1", false, at.Add(time.Minute))
	s.Require().NoError(err)

	s.Equal(int64(2), flow.ExecutionCount)
	s.Equal(int64(1), flow.SuccessCount)
	s.Equal(int64(1), flow.ErrorCount)
	s.Require().NotNil(flow.LastExecutionAt)
	s.True(flow.LastExecutionAt.Equal(at.Add(time.Minute)))
}

func (s *storeSuite) TestCascadeDelete() {
	s.Require().NoError(s.store.SaveFlow(s.ctx, &FlowDefinition{ID: "f1", Name: "F"}))
	s.Require().NoError(s.store.SaveTransformation(s.ctx, &Transformation{ID: "t1", FlowID: "f1", Type: FieldMappingStep, ExecutionOrder: 2, Active: true}))
	s.Require().NoError(s.store.SaveTransformation(s.ctx, &Transformation{ID: "t0", FlowID: "f1", Type: FilterStep, ExecutionOrder: 1, Active: true}))
	s.Require().NoError(s.store.SaveMapping(s.ctx, &FieldMapping{ID: "m2", TransformationID: "t1", SourceXPath: "/a", TargetXPath: "/b", MappingOrder: 2}))
	s.Require().NoError(s.store.SaveMapping(s.ctx, &FieldMapping{ID: "m1", TransformationID: "t1", SourceXPath: "/c", TargetXPath: "/d", MappingOrder: 1}))

	steps, err := s.store.FindTransformations(s.ctx, "f1")
	s.Require().NoError(err)
	s.Require().Len(steps, 2)
	s.Equal("t0", steps[0].ID)

	mappings, err := s.store.FindMappings(s.ctx, "t1")
	s.Require().NoError(err)
	s.Require().Len(mappings, 2)
	s.Equal("m1", mappings[0].ID)

	s.Require().NoError(s.store.DeleteFlow(s.ctx, "f1"))
	steps, err = s.store.FindTransformations(s.ctx, "f1")
	s.Require().NoError(err)
	s.Empty(steps)
	mappings, err = s.store.FindMappings(s.ctx, "t1")
	s.Require().NoError(err)
	s.Empty(mappings)

	s.True(IsNotFound(s.store.DeleteFlow(s.ctx, "f1")))
}

func (s *storeSuite) TestFunctions() {
	fn := &ReusableFunction{ID: "fn1", Name: "toUpper", Body: "upper(arg0)"}
	s.Require().NoError(s.store.SaveFunction(s.ctx, fn))

	byName, err := s.store.FindFunctionByName(s.ctx, "toUpper")
	s.Require().NoError(err)
	s.Equal("fn1", byName.ID)

	byID, err := s.store.FindFunctionByID(s.ctx, "fn1")
	s.Require().NoError(err)
	s.Equal("toUpper", byID.Name)

	clash := &ReusableFunction{ID: "fn2", Name: "toUpper", Body: "x"}
	s.True(errors.Is(s.store.SaveFunction(s.ctx, clash), errors.ErrAlreadyExists))

	_, err = s.store.FindFunctionByID(s.ctx, "upper(arg0)")
	s.True(IsNotFound(err))

	s.Require().NoError(s.store.DeleteFunction(s.ctx, "fn1"))
	_, err = s.store.FindFunctionByName(s.ctx, "toUpper")
	s.True(IsNotFound(err))
}

func (s *storeSuite) TestAdapters() {
	s.Require().NoError(s.store.SaveAdapterConfig(s.ctx, &AdapterDefinition{ID: "src", Type: "FILE", Mode: "SENDER", Active: true}))
	s.Require().NoError(s.store.SaveAdapterConfig(s.ctx, &AdapterDefinition{ID: "dst", Type: "HTTP", Mode: "RECEIVER"}))

	list, err := s.store.ListAdapterConfigs(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 2)
	s.Equal("dst", list[0].ID)

	s.Require().NoError(s.store.DeleteAdapterConfig(s.ctx, "dst"))
	_, err = s.store.FindAdapterConfig(s.ctx, "dst")
	s.True(IsNotFound(err))
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storeSuite{newStore: func() Store { return NewMemoryStore() }})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	flow := &FlowDefinition{ID: "f1", Name: "F", AdditionalTargetIDs: []string{"t2"}}
	require.NoError(t, store.SaveFlow(ctx, flow))

	flow.AdditionalTargetIDs[0] = "mutated"
	got, err := store.FindFlow(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.AdditionalTargetIDs[0])
}

func TestMemoryStore_ConcurrentRecordExecution(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveFlow(ctx, &FlowDefinition{ID: "f1", Name: "F"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.RecordExecution(ctx, "f1", i%2 == 0, time.Now())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	flow, err := store.FindFlow(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), flow.ExecutionCount)
	assert.Equal(t, flow.ExecutionCount, flow.SuccessCount+flow.ErrorCount)
}
