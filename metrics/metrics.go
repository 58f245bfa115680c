// Package metrics holds the small set of counters the orchestrator
// logs periodically while RUNNING (see profiler.Profiler's health
// ticker). There is no external exporter in scope for this module —
// per the spec's non-goals there is no network/file I/O — so these are
// plain atomics rather than a Prometheus/OTel instrument set.
package metrics

import "sync/atomic"

// Counters is a fixed set of named counters. The zero value is ready
// to use.
type Counters struct {
	samplesCaptured   atomic.Int64
	samplesDropped    atomic.Int64
	batchesFlushed    atomic.Int64
	resolverCacheHits atomic.Int64
	resolverCacheMiss atomic.Int64
	capturesSkipped   atomic.Int64
}

// Snapshot is a point-in-time copy of Counters' values, safe to log or
// compare in tests.
type Snapshot struct {
	SamplesCaptured   int64
	SamplesDropped    int64
	BatchesFlushed    int64
	ResolverCacheHits int64
	ResolverCacheMiss int64
	CapturesSkipped   int64
}

func (c *Counters) IncSamplesCaptured() { c.samplesCaptured.Add(1) }
func (c *Counters) AddSamplesDropped(n int64) { c.samplesDropped.Add(n) }
func (c *Counters) IncBatchesFlushed() { c.batchesFlushed.Add(1) }
func (c *Counters) IncResolverCacheHit() { c.resolverCacheHits.Add(1) }
func (c *Counters) IncResolverCacheMiss() { c.resolverCacheMiss.Add(1) }
func (c *Counters) IncCapturesSkipped() { c.capturesSkipped.Add(1) }

// Snapshot returns the current values of every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		SamplesCaptured:   c.samplesCaptured.Load(),
		SamplesDropped:    c.samplesDropped.Load(),
		BatchesFlushed:    c.batchesFlushed.Load(),
		ResolverCacheHits: c.resolverCacheHits.Load(),
		ResolverCacheMiss: c.resolverCacheMiss.Load(),
		CapturesSkipped:   c.capturesSkipped.Load(),
	}
}
