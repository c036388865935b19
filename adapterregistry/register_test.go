package adapterregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/file"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

func TestRegister_EveryTypeAndMode(t *testing.T) {
	f, err := NewFactory(adapter.Dependencies{})
	require.NoError(t, err)

	for _, typ := range adapter.AllTypes {
		for _, mode := range []adapter.Mode{adapter.ModeSender, adapter.ModeReceiver} {
			assert.True(t, f.Supports(typ, mode), "%s %s", typ, mode)
		}
	}
	assert.Len(t, f.Describe(), 2*len(adapter.AllTypes))
}

func TestRegister_Twice(t *testing.T) {
	f := adapter.NewDefaultFactory("dup", adapter.Dependencies{})
	require.NoError(t, Register(f))
	err := Register(f)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestFactory_MatchingAndMismatchedConfig(t *testing.T) {
	f, err := NewFactory(adapter.Dependencies{})
	require.NoError(t, err)
	dir := t.TempDir()

	s, err := f.CreateSender(adapter.TypeFILE, &file.SenderConfig{Directory: dir})
	require.NoError(t, err)
	assert.Equal(t, adapter.TypeFILE, s.Type())
	assert.Equal(t, adapter.ModeSender, s.Mode())
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Destroy(context.Background()))

	_, err = f.CreateSender(adapter.TypeFILE, &file.ReceiverConfig{Directory: dir})
	var cfgErr *errors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.NotEmpty(t, cfgErr.Expected)
	assert.NotEqual(t, cfgErr.Expected, cfgErr.Actual)

	_, err = f.CreateReceiver(adapter.TypeFILE, map[string]any{"write_mode": "OVERWRITE"})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestFactoryRegistry_WithBuiltins(t *testing.T) {
	builtin, err := NewFactory(adapter.Dependencies{})
	require.NoError(t, err)
	r := adapter.NewFactoryRegistry(nil)
	require.NoError(t, r.Register(builtin))

	for _, typ := range adapter.AllTypes {
		assert.True(t, r.IsSupported(typ, adapter.ModeReceiver), string(typ))
	}
	assert.True(t, r.Unregister(DefaultFactoryName))
	assert.False(t, r.IsSupported(adapter.TypeFILE, adapter.ModeSender))
}
