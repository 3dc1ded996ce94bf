package collections

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"nimbusdb.io/nimbus/pkg/log"
)

// Key identifies one collection within a bucket's scope tree.
type Key struct {
	Bucket     string
	Scope      string
	Collection string
}

func (k Key) String() string {
	return fmt.Sprintf("%s.%s.%s", k.Bucket, k.Scope, k.Collection)
}

// FetchFunc performs the actual GET_COLLECTION_ID wire round trip. It
// returns the collection id and the manifest revision (uid) it was
// resolved under.
type FetchFunc func(ctx context.Context, key Key) (id uint32, manifestUID uint64, err error)

type entry struct {
	id          uint32
	manifestUID uint64
}

// Resolver caches collection id lookups and collapses concurrent
// resolves for the same key into a single wire call.
type Resolver struct {
	fetch FetchFunc

	mu    sync.RWMutex
	cache map[Key]entry

	group singleflight.Group
}

// New builds a Resolver that calls fetch on a cache miss.
func New(fetch FetchFunc) *Resolver {
	return &Resolver{
		fetch: fetch,
		cache: make(map[Key]entry),
	}
}

// Resolve returns the collection id for key, using the cache when
// possible and collapsing concurrent misses for the same key into one
// fetch.
func (r *Resolver) Resolve(ctx context.Context, key Key) (uint32, error) {
	r.mu.RLock()
	if e, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return e.id, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		id, manifestUID, err := r.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = entry{id: id, manifestUID: manifestUID}
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint32), nil
}

// Invalidate drops the cached entry for key, forcing the next Resolve to
// fetch again. Called when a request against the cached id comes back
// unknown_collection.
func (r *Resolver) Invalidate(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache[key]; ok {
		delete(r.cache, key)
		log.WithComponent("collections").Debug().Str("key", key.String()).Msg("invalidated collection id cache entry")
	}
}

// InvalidateManifestOlderThan drops every cached entry for bucket whose
// manifest uid predates currentUID, used when a config push announces a
// newer manifest than any entry was resolved under.
func (r *Resolver) InvalidateManifestOlderThan(bucket string, currentUID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.cache {
		if k.Bucket == bucket && e.manifestUID < currentUID {
			delete(r.cache, k)
		}
	}
}
