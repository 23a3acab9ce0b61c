package cache

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ResultCache fronts the query service. Entries are keyed by a
// deterministic query signature and expire on a TTL; any ingest batch
// that changes the store clears the whole cache before the next read.
type ResultCache struct {
	cache *ristretto.Cache[string, any]
	ttl   time.Duration
}

func New(ttl time.Duration) (*ResultCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 10_000, // ~10x expected distinct query signatures
		MaxCost:     1_000,  // entries, each stored at cost 1
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	return &ResultCache{cache: cache, ttl: ttl}, nil
}

// Get returns the cached result for a signature, or a miss.
func (rc *ResultCache) Get(signature string) (any, bool) {
	return rc.cache.Get(signature)
}

// Put stores a result under its signature with the configured TTL.
func (rc *ResultCache) Put(signature string, result any) {
	rc.PutTTL(signature, result, rc.ttl)
}

// PutTTL stores a result with an explicit TTL.
func (rc *ResultCache) PutTTL(signature string, result any, ttl time.Duration) {
	rc.cache.SetWithTTL(signature, result, 1, ttl)
}

// InvalidateAll drops every cached result.
func (rc *ResultCache) InvalidateAll() {
	rc.cache.Clear()
}

// Wait blocks until buffered writes are applied. Test hook; ristretto
// applies sets asynchronously.
func (rc *ResultCache) Wait() {
	rc.cache.Wait()
}

func (rc *ResultCache) Close() {
	rc.cache.Close()
}

// Signature derives the cache key from the normalized query: operation
// name plus canonically ordered arguments. Equivalent queries share an
// entry regardless of request formatting.
func Signature(op string, args map[string]any) string {
	if len(args) == 0 {
		return op
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(op)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, args[k])
	}
	return b.String()
}
