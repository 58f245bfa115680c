//go:build darwin

// Package profiler is the Handle API boundary: the orchestrator that
// wires the sampler, the binary image cache, and the aggregator
// together behind the small exported surface a host SDK would call
// through an exported-C shim (out of scope here — this module stops
// at the Go boundary). It is the Go equivalent of dd_profiler plus its
// C API wrappers (dd_profiler_start_testing, dd_profiler_get_status,
// dd_profiler_get_profile, dd_profiler_destroy).
package profiler

import (
	"sync"
	"time"

	"github.com/DataDog/mach-profiler/aggregate"
	"github.com/DataDog/mach-profiler/binimage"
	"github.com/DataDog/mach-profiler/config"
	"github.com/DataDog/mach-profiler/internal/machkern"
	"github.com/DataDog/mach-profiler/metrics"
	"github.com/DataDog/mach-profiler/mplog"
	"github.com/DataDog/mach-profiler/prefs"
	"github.com/DataDog/mach-profiler/sampler"
)

// Profiler is one profiling session. The zero value is not usable;
// construct with New or NewForTesting. A *Profiler is safe for
// concurrent use; a nil *Profiler answers Status() as StatusNotCreated
// and panics on any other method, matching a caller that forgot to
// construct one (there is no way to "call through" a nil handle in Go
// the way dd_profiler_* tolerates a null g_dd_profiler, since those
// are package-level functions guarding a global, not methods).
type Profiler struct {
	mu sync.Mutex

	status       Status
	sampleRate   float64
	isPrewarming bool
	timeout      time.Duration

	samplingConfig config.SamplingConfig
	metrics        *metrics.Counters

	sampler    *sampler.Sampler
	imageCache *binimage.Cache
	aggregator *aggregate.Profile

	resolverQueueMu    sync.Mutex
	resolverCond       *sync.Cond
	resolverQueue      [][]sampler.Trace
	resolverProcessing bool
	resolverRunning    bool
	resolverDone       chan struct{}
	resolverThread     config.ThreadHandle

	healthCancel func()
}

// New constructs a Profiler gated by sampleRate (a percentage in
// [0, 100], clamped) and isPrewarming. Gating itself happens inside
// Start, mirroring dd_profiler's single start() method; New only
// records configuration, matching its constructor's member-initializer
// list (status defaults to NOT_STARTED).
func New(sampleRate float64, isPrewarming bool, opts ...Option) *Profiler {
	p := &Profiler{
		status:         StatusNotStarted,
		sampleRate:     clampSampleRate(sampleRate),
		isPrewarming:   isPrewarming,
		timeout:        config.DefaultTimeout,
		samplingConfig: config.DefaultSamplingConfig(),
		metrics:        &metrics.Counters{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewForTesting is the Go equivalent of dd_profiler_start_testing: it
// bypasses the preference-store read entirely, taking sample_rate,
// is_prewarming and timeout_ns directly. Unlike the original, it does
// not also call Start — callers do that explicitly, for symmetry with
// New.
func NewForTesting(sampleRate float64, isPrewarming bool, timeout time.Duration) *Profiler {
	return New(sampleRate, isPrewarming, WithTimeout(timeout))
}

// NewFromPreferences reads and clears the enabled flag and sample rate
// from store (see package prefs), and the ActivePrewarm environment
// variable, the way the original's constructor function
// dd_profiler_auto_start does before calling start(). If the store
// reports profiling was not enabled, the returned Profiler is gated
// out (sample rate 0) without reading the rest of the environment.
func NewFromPreferences(store prefs.Store) *Profiler {
	enabled, rate := prefs.ReadAndClear(store)
	if !enabled {
		return New(0, false)
	}
	return New(rate, isActivePrewarm())
}

// Start runs the gating checks and, if they pass, the start sequence:
// spawn the resolver worker, construct a fresh aggregator, construct
// and start the sampler (ignoring the resolver's own thread), and seed
// the binary image cache. It transitions Status to exactly one of
// NOT_STARTED (ThreadSanitizer active), PREWARMED, SAMPLED_OUT,
// ALREADY_STARTED, or RUNNING. Start is idempotent while RUNNING: a
// second call returns ErrAlreadyStarted without disturbing state.
func (p *Profiler) Start() error {
	p.mu.Lock()
	if p.status == StatusRunning {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}

	if isThreadSanitizerEnabled() {
		p.status = StatusNotStarted
		p.mu.Unlock()
		mplog.Warn("profiling disabled: ThreadSanitizer is active; disable it to enable profiling")
		return nil
	}

	if p.isPrewarming {
		p.status = StatusPrewarmed
		p.mu.Unlock()
		return nil
	}

	if !sample(p.sampleRate) {
		p.status = StatusSampledOut
		p.mu.Unlock()
		return nil
	}

	p.startResolverLocked()

	p.aggregator = aggregate.NewWithWallClock(p.samplingConfig.SamplingIntervalNS, machkern.UptimeNanos())

	cfg := p.samplingConfig
	cfg.IgnoreThread = p.resolverThread
	p.sampler = sampler.New(cfg, p.metrics, p.onBatch)

	p.imageCache = binimage.NewCache()
	p.imageCache.Start()

	p.status = StatusRunning
	if !p.sampler.Start() {
		p.imageCache.Close()
		p.imageCache = nil
		p.sampler = nil
		p.aggregator = nil
		p.status = StatusAlreadyStarted
		p.mu.Unlock()
		p.stopResolver()
		return ErrAlreadyStarted
	}

	p.startHealthTickerLocked()
	p.mu.Unlock()
	return nil
}

// Stop ends the current profiling session: it stops the sampler
// (blocking until its final flush is delivered to the aggregator),
// then stops the resolver worker and the health ticker. Calling Stop
// when not RUNNING or TIMEOUT is a no-op, matching
// stop_sampling/stop_sampling idempotence.
func (p *Profiler) Stop() {
	p.mu.Lock()
	switch p.status {
	case StatusRunning:
		p.status = StatusStopped
	case StatusTimeout:
		// The sampler was already stopped by the resolver's timeout
		// check; only the resolver and ticker still need tearing down.
	default:
		p.mu.Unlock()
		return
	}
	s := p.sampler
	p.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	p.stopResolver()
	p.stopHealthTicker()
}

// GetProfile implements the flush contract: block-flush the sampler's
// pending buffer into the resolver queue, wait for the resolver to
// finish draining it, then hand back the aggregator. If cleanup is
// true, a fresh aggregator is installed atomically so the caller owns
// the returned one exclusively; the next AddSamples call after cleanup
// starts an empty profile.
func (p *Profiler) GetProfile(cleanup bool) (*aggregate.Profile, error) {
	p.mu.Lock()
	s := p.sampler
	status := p.status
	p.mu.Unlock()

	if status != StatusRunning && status != StatusTimeout && status != StatusStopped {
		return nil, ErrNoProfile
	}

	if s != nil {
		s.Flush()
	}

	p.resolverQueueMu.Lock()
	for p.resolverRunning && (len(p.resolverQueue) > 0 || p.resolverProcessing) {
		p.resolverCond.Wait()
	}
	p.resolverQueueMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.aggregator
	if old == nil {
		return nil, ErrNoProfile
	}
	if cleanup {
		p.aggregator = aggregate.NewWithWallClock(p.samplingConfig.SamplingIntervalNS, machkern.UptimeNanos())
	}
	return old, nil
}

// Status returns the current lifecycle state. A nil *Profiler answers
// NOT_CREATED, the same value dd_profiler_get_status returns when the
// global instance pointer is null.
func (p *Profiler) Status() Status {
	if p == nil {
		return StatusNotCreated
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Destroy fully tears the session down: Stop if still running, close
// the image cache, and drop every internal reference. After Destroy,
// Status reports NOT_CREATED, matching dd_profiler_destroy deleting
// the global instance.
func (p *Profiler) Destroy() {
	p.Stop()

	p.mu.Lock()
	if p.imageCache != nil {
		p.imageCache.Close()
		p.imageCache = nil
	}
	p.sampler = nil
	p.aggregator = nil
	p.status = StatusNotCreated
	p.mu.Unlock()
}
