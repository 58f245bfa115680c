//go:build darwin

package profiler

import (
	"runtime"
	"sync"
	"time"

	"github.com/DataDog/mach-profiler/aggregate"
	"github.com/DataDog/mach-profiler/binimage"
	"github.com/DataDog/mach-profiler/config"
	"github.com/DataDog/mach-profiler/internal/batchcache"
	"github.com/DataDog/mach-profiler/internal/machkern"
	"github.com/DataDog/mach-profiler/mplog"
	"github.com/DataDog/mach-profiler/sampler"
)

// resolverCacheCapacity bounds the per-batch instruction-pointer
// memoization cache. A batch's distinct instruction pointers are a
// small fraction of its frame count in practice (hot loops revisit the
// same handful of addresses every cycle), so this is sized generously
// rather than tied to config.SamplingConfig.MaxBufferSize.
const resolverCacheCapacity = 4096

// startResolverLocked spawns the resolver worker goroutine and blocks
// until it reports the Mach thread it is pinned to, so Start can set
// that as the sampler's IgnoreThread before constructing the sampler.
// p.mu must be held by the caller.
func (p *Profiler) startResolverLocked() {
	p.resolverQueueMu.Lock()
	if p.resolverCond == nil {
		p.resolverCond = sync.NewCond(&p.resolverQueueMu)
	}
	p.resolverQueue = nil
	p.resolverProcessing = false
	p.resolverRunning = true
	p.resolverDone = make(chan struct{})
	p.resolverQueueMu.Unlock()

	ready := make(chan config.ThreadHandle, 1)
	go p.resolverLoop(ready)
	p.resolverThread = <-ready
}

// onBatch is the sampler's BatchCallback: it appends a batch of raw
// traces to the resolver's FIFO queue and wakes the resolver. It
// always runs outside the sampler's suspend window (sampler.flush is
// called after every thread has been resumed), so a brief blocking
// lock here — unlike the try-lock discipline in the suspend window
// itself — cannot deadlock against a suspended victim thread. If the
// resolver has already been stopped, the batch is dropped and counted.
func (p *Profiler) onBatch(traces []sampler.Trace) {
	p.resolverQueueMu.Lock()
	if !p.resolverRunning {
		p.resolverQueueMu.Unlock()
		p.metrics.AddSamplesDropped(int64(len(traces)))
		return
	}
	p.resolverQueue = append(p.resolverQueue, traces)
	p.resolverCond.Signal()
	p.resolverQueueMu.Unlock()
}

// resolverLoop is the resolver worker: while running or the queue is
// non-empty, pop one batch, resolve every frame's instruction pointer
// to a binary image through a per-batch memoization cache, append the
// resolved traces to the aggregator, and check for a timeout.
func (p *Profiler) resolverLoop(ready chan config.ThreadHandle) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(p.resolverDone)

	ready <- machkern.SelfMachThread()

	cache, err := batchcache.New[binimage.Image](resolverCacheCapacity, p.metrics)
	if err != nil {
		mplog.Errorf("resolver: failed to allocate per-batch cache, resolving uncached: %v", err)
		cache = nil
	}

	for {
		p.resolverQueueMu.Lock()
		for len(p.resolverQueue) == 0 && p.resolverRunning {
			p.resolverCond.Wait()
		}
		if len(p.resolverQueue) == 0 {
			p.resolverQueueMu.Unlock()
			return
		}
		batch := p.resolverQueue[0]
		p.resolverQueue = p.resolverQueue[1:]
		p.resolverProcessing = true
		p.resolverQueueMu.Unlock()

		p.resolveBatch(batch, cache)

		p.resolverQueueMu.Lock()
		p.resolverProcessing = false
		p.resolverCond.Broadcast()
		p.resolverQueueMu.Unlock()
	}
}

func (p *Profiler) resolveBatch(batch []sampler.Trace, cache *batchcache.Resolution[binimage.Image]) {
	if cache != nil {
		cache.Reset()
	}

	p.mu.Lock()
	imageCache := p.imageCache
	agg := p.aggregator
	p.mu.Unlock()

	resolve := func(ip uint64) (binimage.Image, bool) {
		if imageCache == nil {
			return binimage.Image{}, false
		}
		return imageCache.Lookup(uintptr(ip))
	}

	traces := make([]aggregate.Trace, 0, len(batch))
	for _, t := range batch {
		frames := make([]aggregate.Frame, 0, len(t.Frames))
		for _, f := range t.Frames {
			var img binimage.Image
			var ok bool
			if cache != nil {
				img, ok = cache.GetOrResolve(f.InstructionPointer, resolve)
			} else {
				img, ok = resolve(f.InstructionPointer)
			}

			frame := aggregate.Frame{InstructionPointer: f.InstructionPointer}
			if ok {
				frame.Image = aggregate.Image{
					LoadAddress: uint64(img.LoadAddress),
					UUID:        img.UUID,
					Path:        img.Path,
				}
			}
			frames = append(frames, frame)
		}

		traces = append(traces, aggregate.Trace{
			ThreadID:    uint64(t.ThreadID),
			ThreadName:  t.ThreadName,
			TimestampNS: t.TimestampNS,
			IntervalNS:  t.IntervalNS,
			Frames:      frames,
		})
	}

	if agg == nil {
		return
	}
	agg.AddSamples(traces)
	p.checkTimeoutLocked(agg)
}

// checkTimeoutLocked (despite the name, takes no lock itself — it only
// reads agg's already-synchronized accessors) stops the sampler and
// transitions to StatusTimeout once the aggregator's observed duration
// exceeds the configured timeout. It runs from the resolver goroutine,
// never from the sampler's own loop thread, so Sampler.Stop's
// self-reentrancy check never applies here: this is always a normal
// blocking stop-and-join.
func (p *Profiler) checkTimeoutLocked(agg *aggregate.Profile) {
	start := agg.StartTimestampNS()
	end := agg.EndTimestampNS()
	if end <= start {
		return
	}

	p.mu.Lock()
	if p.status != StatusRunning || time.Duration(end-start) <= p.timeout {
		p.mu.Unlock()
		return
	}
	p.status = StatusTimeout
	s := p.sampler
	p.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

// stopResolver signals the resolver loop to exit once its queue is
// drained and waits for it to finish.
func (p *Profiler) stopResolver() {
	p.resolverQueueMu.Lock()
	if !p.resolverRunning {
		p.resolverQueueMu.Unlock()
		return
	}
	p.resolverRunning = false
	p.resolverCond.Broadcast()
	p.resolverQueueMu.Unlock()

	<-p.resolverDone
}
