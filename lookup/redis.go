package lookup

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// getter is the slice of the redis client the provider reads through.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisProvider looks keys up in Redis, optionally under a prefix
type RedisProvider struct {
	client *redis.Client
	get    getter
	prefix string
}

// NewRedisProvider creates a provider. The connection is opened lazily by
// the client on first use.
func NewRedisProvider(cfg config.RedisConfig) *RedisProvider {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisProvider{client: client, get: client, prefix: cfg.Prefix}
}

// Lookup reads prefix+key. redis.Nil is reported as a miss.
func (p *RedisProvider) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := p.get.Get(ctx, p.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WrapTransient(err, "RedisProvider", "Lookup", "redis get")
	}
	return val, true, nil
}

// Ping checks the connection
func (p *RedisProvider) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return errors.WrapTransient(p.client.Ping(ctx).Err(), "RedisProvider", "Ping", "redis ping")
}

// Close releases the client
func (p *RedisProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
