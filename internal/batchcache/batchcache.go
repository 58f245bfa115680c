// Package batchcache memoizes instruction-pointer-to-binary-image
// resolutions for the lifetime of one flushed batch. The resolver
// worker clears it at the start of every batch (see spec step 3 of the
// resolver contract): a batch's stack traces overwhelmingly revisit the same
// handful of hot instruction pointers, so memoizing within a batch
// turns what would be one binimage.Cache.Lookup per frame into one
// per distinct instruction pointer, without holding anything across
// batches that could grow unbounded over a long profiling session.
package batchcache

import (
	"github.com/DataDog/mach-profiler/metrics"
	freelru "github.com/elastic/go-freelru"
)

// Resolution memoizes one value of type V per instruction pointer; the
// resolver worker stores the binimage.Image each pointer resolved to.
type Resolution[V any] struct {
	cache *freelru.LRU[uint64, V]
	m     *metrics.Counters
}

// hashUint64 is freelru's recommended identity-ish mix for integer
// keys; instruction pointers are already high-entropy in their low
// bits (code alignment aside), so a cheap multiplicative mix suffices.
func hashUint64(k uint64) uint32 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	return uint32(k)
}

// New returns a cache sized for one batch. capacity should be the
// batch's worst-case distinct-instruction-pointer count; freelru
// evicts LRU-first if that bound is exceeded, which only costs a
// redundant re-resolution, never correctness.
func New[V any](capacity uint32, m *metrics.Counters) (*Resolution[V], error) {
	c, err := freelru.New[uint64, V](capacity, hashUint64)
	if err != nil {
		return nil, err
	}
	return &Resolution[V]{cache: c, m: m}, nil
}

// GetOrResolve returns the memoized value for ip, calling resolve and
// caching its result on a miss.
func (r *Resolution[V]) GetOrResolve(ip uint64, resolve func(uint64) (V, bool)) (V, bool) {
	if v, ok := r.cache.Get(ip); ok {
		if r.m != nil {
			r.m.IncResolverCacheHit()
		}
		return v, true
	}
	if r.m != nil {
		r.m.IncResolverCacheMiss()
	}
	v, ok := resolve(ip)
	if ok {
		r.cache.Add(ip, v)
	}
	return v, ok
}

// Reset clears every entry, for reuse across the next batch.
func (r *Resolution[V]) Reset() {
	r.cache.Purge()
}

// Len reports the number of distinct instruction pointers memoized so
// far in the current batch.
func (r *Resolution[V]) Len() int {
	return r.cache.Len()
}
