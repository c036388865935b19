package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Well-known KV errors
var (
	ErrKVKeyNotFound      = stderrors.New("kv: key not found")
	ErrKVKeyExists        = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch = stderrors.New("kv: revision mismatch")
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore provides KV operations with timeouts and normalized errors
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
}

// NewKVStore wraps a bucket
func NewKVStore(bucket jetstream.KeyValue, timeout time.Duration) *KVStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KVStore{bucket: bucket, timeout: timeout}
}

func (kv *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, kv.timeout)
}

// Get retrieves a value with its revision
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put creates or updates a key without revision check
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

// Create only creates if the key doesn't exist
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyExists) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	return rev, nil
}

// Update performs a CAS update against the given revision
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		var apiErr *jetstream.APIError
		if stderrors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

// Delete removes a key
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Keys lists all live keys; an empty bucket yields an empty slice
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}
