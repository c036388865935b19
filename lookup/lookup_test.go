package lookup

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

type fakeRedis map[string]string

func (f fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if key == "boom" {
		return redis.NewStringResult("", stderrors.New("connection refused"))
	}
	v, ok := f[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestMapProvider(t *testing.T) {
	src := map[string]string{"DE": "Germany"}
	p := NewMapProvider(src)
	src["DE"] = "changed"

	v, ok, err := p.Lookup(context.Background(), "DE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Germany", v)

	_, ok, err = p.Lookup(context.Background(), "FR")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisProvider_Lookup(t *testing.T) {
	p := &RedisProvider{get: fakeRedis{"cust:42": "Acme"}, prefix: "cust:"}
	ctx := context.Background()

	v, ok, err := p.Lookup(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Acme", v)

	_, ok, err = p.Lookup(ctx, "43")
	require.NoError(t, err)
	assert.False(t, ok)

	p.prefix = ""
	_, _, err = p.Lookup(ctx, "boom")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("countries", NewMapProvider(nil)))

	err := r.Register("countries", NewMapProvider(nil))
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)
	assert.Error(t, r.Register("", NewMapProvider(nil)))

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	p, err := r.Get("countries")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestFromConfig(t *testing.T) {
	r, closeFn, err := FromConfig(config.LookupConfig{
		Static: map[string]map[string]string{
			"currency": {"DE": "EUR"},
			"country":  {"DE": "Germany"},
		},
		Redis: &config.RedisConfig{Addr: "localhost:6379"},
	})
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	assert.Equal(t, []string{"country", "currency", "redis"}, r.Names())

	p, err := r.Get("currency")
	require.NoError(t, err)
	v, ok, err := p.Lookup(context.Background(), "DE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "EUR", v)
}
