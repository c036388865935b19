package flowstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
adapters:
  - id: order-files
    name: Order files
    type: FILE
    mode: SENDER
    active: true
    config:
      directory: /var/in
      pattern: "*.xml"
  - id: invoice-api
    name: Invoice API
    type: HTTP
    mode: RECEIVER
    active: true
    config:
      url: http://erp.local/invoices
functions:
  - id: fn-upper
    name: toUpper
    body: upper(arg0)
flows:
  - id: order-to-invoice
    name: Order to invoice
    sourceAdapterId: order-files
    targetAdapterId: invoice-api
    status: ACTIVE
transformations:
  - id: map-order
    flowId: order-to-invoice
    type: FIELD_MAPPING
    executionOrder: 1
    active: true
mappings:
  - id: buyer
    transformationId: map-order
    sourceXPath: /Order/CustomerName
    targetXPath: /Invoice/Buyer
    active: true
`

func TestLoadSeed_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	ctx := context.Background()
	store := NewMemoryStore()
	stats, err := LoadSeed(ctx, path, store)
	require.NoError(t, err)
	assert.Equal(t, &SeedStats{Adapters: 2, Functions: 1, Flows: 1, Transformations: 1, Mappings: 1}, stats)

	src, err := store.FindAdapterConfig(ctx, "order-files")
	require.NoError(t, err)
	assert.JSONEq(t, `{"directory":"/var/in","pattern":"*.xml"}`, string(src.Config))

	mappings, err := store.FindMappings(ctx, "map-order")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "/Invoice/Buyer", mappings[0].TargetXPath)

	// Re-applying keeps existing flows and their counters.
	_, err = store.RecordExecution(ctx, "order-to-invoice", true, time.Now())
	require.NoError(t, err)
	stats, err = LoadSeed(ctx, path, store)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedFlows)
	flow, err := store.FindFlow(ctx, "order-to-invoice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), flow.ExecutionCount)
}

func TestParseSeed_RejectsUnknownFields(t *testing.T) {
	_, err := ParseSeed([]byte(`{"flows":[{"id":"f","name":"n","colour":"red"}]}`), "json")
	assert.Error(t, err)
}
