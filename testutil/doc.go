// Package testutil provides in-memory collaborators for flow engine tests.
//
// MockSender and MockReceiver stand in for protocol adapters. RegisterMocks
// installs them in an adapter.DefaultFactory so flows resolve to them
// through the normal registry path. FlowBuilder writes a flow with its
// adapter definitions, transformations and field mappings into a
// flowstore.Store. MockNATSClient is an in-memory message bus.
//
// Example:
//
//	store := flowstore.NewMemoryStore()
//	src := testutil.NewMockSender(testutil.OrderXML)
//	dst := testutil.NewMockReceiver()
//	registry := testutil.NewMockRegistry(t, adapter.TypeFILE, src, dst)
//
//	err := testutil.NewFlowBuilder("orders").
//		MapField("/Order/CustomerName", "/Invoice/Buyer").
//		Save(ctx, store)
package testutil
