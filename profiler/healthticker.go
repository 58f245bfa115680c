//go:build darwin

package profiler

import (
	"context"
	"time"

	"github.com/DataDog/mach-profiler/config"
	"github.com/DataDog/mach-profiler/mplog"
)

// startHealthTickerLocked starts the periodic Debug-level metrics log.
// p.mu must be held by the caller; it is not reacquired here, only
// p.metrics/p.imageCache are read from the spawned goroutine, via their
// own synchronization. Adapted from the teacher's periodiccaller
// package: a context-cancelable ticker loop, simplified to the one
// shape this module needs (no jitter, no manual trigger).
func (p *Profiler) startHealthTickerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.healthCancel = cancel

	go func() {
		ticker := time.NewTicker(config.HealthTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.logHealthSnapshot()
			}
		}
	}()
}

func (p *Profiler) logHealthSnapshot() {
	snap := p.metrics.Snapshot()

	p.mu.Lock()
	cache := p.imageCache
	p.mu.Unlock()

	cacheSize := 0
	if cache != nil {
		cacheSize = cache.Size()
	}

	mplog.With(mplog.Fields{
		"samples_captured":    snap.SamplesCaptured,
		"samples_dropped":     snap.SamplesDropped,
		"batches_flushed":     snap.BatchesFlushed,
		"resolver_cache_hit":  snap.ResolverCacheHits,
		"resolver_cache_miss": snap.ResolverCacheMiss,
		"captures_skipped":    snap.CapturesSkipped,
		"images_cached":       cacheSize,
	}).Debug("mach-profiler health")
}

// stopHealthTicker cancels the health ticker goroutine, if running.
func (p *Profiler) stopHealthTicker() {
	p.mu.Lock()
	cancel := p.healthCancel
	p.healthCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
