package collections

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCachesAfterFirstFetch(t *testing.T) {
	var calls atomic.Int32
	r := New(func(ctx context.Context, key Key) (uint32, uint64, error) {
		calls.Add(1)
		return 7, 1, nil
	})

	key := Key{Bucket: "widgets", Scope: "_default", Collection: "_default"}

	id1, err := r.Resolve(context.Background(), key)
	require.NoError(t, err)
	id2, err := r.Resolve(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, uint32(7), id1)
	assert.Equal(t, uint32(7), id2)
	assert.Equal(t, int32(1), calls.Load(), "second resolve must hit the cache, not fetch again")
}

func TestResolveCollapsesConcurrentMisses(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	r := New(func(ctx context.Context, key Key) (uint32, uint64, error) {
		calls.Add(1)
		<-release
		return 3, 1, nil
	})

	key := Key{Bucket: "widgets", Scope: "_default", Collection: "orders"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), key)
			assert.NoError(t, err)
			assert.Equal(t, uint32(3), id)
		}()
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent resolves for the same key must collapse into one fetch")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	var calls atomic.Int32
	r := New(func(ctx context.Context, key Key) (uint32, uint64, error) {
		n := calls.Add(1)
		return uint32(n), 1, nil
	})

	key := Key{Bucket: "widgets", Scope: "_default", Collection: "orders"}

	id1, err := r.Resolve(context.Background(), key)
	require.NoError(t, err)
	r.Invalidate(key)
	id2, err := r.Resolve(context.Background(), key)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2, "resolving after invalidation must fetch a fresh value")
}

func TestInvalidateManifestOlderThan(t *testing.T) {
	r := New(func(ctx context.Context, key Key) (uint32, uint64, error) {
		return 1, 5, nil
	})

	key := Key{Bucket: "widgets", Scope: "_default", Collection: "orders"}
	_, err := r.Resolve(context.Background(), key)
	require.NoError(t, err)

	r.InvalidateManifestOlderThan("widgets", 10)

	r.mu.RLock()
	_, cached := r.cache[key]
	r.mu.RUnlock()
	assert.False(t, cached, "entries resolved under an older manifest must be dropped")
}
