package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/orchestration"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeSeed creates FILE to FILE flows, one pass-through and one mapped
// without steps, and returns the seed path with its inbox and outbox
// directories.
func writeSeed(t *testing.T) (seed, inbox, outbox string) {
	t.Helper()
	dir := t.TempDir()
	inbox = filepath.Join(dir, "in")
	outbox = filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	require.NoError(t, os.MkdirAll(outbox, 0o755))

	doc := fmt.Sprintf(`{
  "adapters": [
    {"id": "orders-in", "name": "Orders in", "type": "FILE", "mode": "SENDER", "active": true,
     "config": {"directory": %q, "file_pattern": "*.xml"}},
    {"id": "orders-out", "name": "Orders out", "type": "FILE", "mode": "RECEIVER", "active": true,
     "config": {"directory": %q, "file_name_pattern": "out.xml"}}
  ],
  "flows": [
    {"id": "copy-orders", "name": "Copy orders", "sourceAdapterId": "orders-in",
     "targetAdapterId": "orders-out", "status": "ACTIVE", "mappingMode": "PASS_THROUGH"},
    {"id": "map-orders", "name": "Map orders", "sourceAdapterId": "orders-in",
     "targetAdapterId": "orders-out", "status": "ACTIVE", "mappingMode": "WITH_MAPPING"},
    {"id": "half-flow", "name": "No target", "sourceAdapterId": "orders-in", "status": "ACTIVE"}
  ]
}`, inbox, outbox)
	seed = filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(doc), 0o600))
	return seed, inbox, outbox
}

func TestAdaptersCmd_JSON(t *testing.T) {
	out, err := execute(t, "adapters", "-o", "json")
	require.NoError(t, err)

	var infos []adapter.Info
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	assert.Len(t, infos, 2*len(adapter.AllTypes))
}

func TestAdaptersCmd_Table(t *testing.T) {
	out, err := execute(t, "adapters")
	require.NoError(t, err)
	assert.Contains(t, out, "TYPE")
	assert.Contains(t, out, "KAFKA")
}

func TestValidateCmd_Config(t *testing.T) {
	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid.")

	_, err = execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateCmd_Flows(t *testing.T) {
	seed, _, _ := writeSeed(t)

	out, err := execute(t, "validate", "--seed", seed, "-o", "json", "copy-orders")
	require.NoError(t, err)
	var results map[string]*orchestration.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Contains(t, results, "copy-orders")
	assert.True(t, results["copy-orders"].Valid, results["copy-orders"].Errors)

	out, err = execute(t, "validate", "--seed", seed, "copy-orders", "half-flow", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 flows invalid")
	assert.Contains(t, out, "Target adapter is required for orchestration flow")
	assert.Contains(t, out, "Flow not found: ghost")
}

func runFlow(t *testing.T, flowID string, payload []byte) []byte {
	t.Helper()
	seed, inbox, outbox := writeSeed(t)
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "order-1.xml"), payload, 0o600))

	out, err := execute(t, "run", "--seed", seed, "-o", "json", flowID)
	require.NoError(t, err)

	var res struct {
		Success   bool   `json:"success"`
		Delivered bool   `json:"delivered"`
		FlowID    string `json:"flowId"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.True(t, res.Delivered)
	assert.Equal(t, flowID, res.FlowID)

	written, err := os.ReadFile(filepath.Join(outbox, "out.xml"))
	require.NoError(t, err)
	return written
}

func TestRunCmd_PassThrough(t *testing.T) {
	payload := []byte(`<Order><CustomerName>Acme</CustomerName></Order>`)
	assert.Equal(t, payload, runFlow(t, "copy-orders", payload))
}

func TestRunCmd_WithMappingKeepsXML(t *testing.T) {
	payload := []byte(`<Order id="7"><CustomerName>Acme</CustomerName></Order>`)
	assert.Equal(t, string(payload), string(runFlow(t, "map-orders", payload)))
}

func TestRunCmd_UnknownFlow(t *testing.T) {
	seed, _, _ := writeSeed(t)
	_, err := execute(t, "run", "--seed", seed, "ghost")
	assert.Error(t, err)
}

func TestParseInput(t *testing.T) {
	v, err := parseInput(`{"order": 42}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"order": float64(42)}, v)

	v, err = parseInput("<Order/>")
	require.NoError(t, err)
	assert.Equal(t, "<Order/>", v)

	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0o600))
	v, err = parseInput("@" + path)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, v)

	v, err = parseInput("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseInput("@/does/not/exist")
	assert.Error(t, err)
}

func TestGlobalOptions_Validate(t *testing.T) {
	_, err := execute(t, "adapters", "--log-level", "loud")
	assert.ErrorContains(t, err, "invalid log level")
	_, err = execute(t, "adapters", "-o", "yaml")
	assert.ErrorContains(t, err, "invalid output format")
}
