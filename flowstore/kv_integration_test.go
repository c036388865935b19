//go:build integration

package flowstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/natsclient"
)

func TestKVStore_Integration(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	suite.Run(t, &storeSuite{newStore: func() Store {
		store, err := NewKVStore(ctx, tc.Client, KVOptions{Timeout: 5 * time.Second})
		require.NoError(t, err)
		// Buckets persist between tests; start every test from empty buckets.
		for _, kv := range []*natsclient.KVStore{store.flows, store.transformations, store.mappings, store.functions, store.adapters} {
			keys, err := kv.Keys(ctx)
			require.NoError(t, err)
			for _, k := range keys {
				require.NoError(t, kv.Delete(ctx, k))
			}
		}
		return store
	}})
}
