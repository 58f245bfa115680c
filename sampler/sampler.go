//go:build darwin

// Package sampler drives the suspend/read-registers/unwind/resume
// cycle over the threads of the current task. It is a near-literal
// port of mach_sampling_profiler's main loop: the only moving parts
// during the suspend window are register reads and raw memory copies,
// since any allocation or lock acquisition in that window can deadlock
// against a lock the suspended thread happens to be holding.
package sampler

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/mach-profiler/config"
	"github.com/DataDog/mach-profiler/internal/machkern"
	"github.com/DataDog/mach-profiler/metrics"
	"github.com/DataDog/mach-profiler/mplog"
	"github.com/DataDog/mach-profiler/saferead"
)

func init() {
	saferead.Install()
}

// Sampler owns one sampling cycle. It is not safe to Start more than
// one concurrently; callers needing that should construct two
// Samplers.
type Sampler struct {
	cfg      config.SamplingConfig
	callback BatchCallback
	metrics  *metrics.Counters

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	loopThread config.ThreadHandle

	bufMu sync.Mutex
	buf   []Trace

	targetThread atomic.Uint64 // pthread-derived mach thread, when ProfileCurrentThreadOnly
}

// New constructs a Sampler. cfg is copied; a cfg whose
// SamplingIntervalNS is zero is replaced as a whole with
// config.DefaultSamplingConfig.
func New(cfg config.SamplingConfig, metricsOut *metrics.Counters, cb BatchCallback) *Sampler {
	if cfg.SamplingIntervalNS == 0 {
		cfg = config.DefaultSamplingConfig()
	}
	return &Sampler{cfg: cfg, callback: cb, metrics: metricsOut}
}

// Start spawns the sampling loop on its own goroutine, locked to an OS
// thread since Mach thread-state reads are inherently per-OS-thread.
// Start is idempotent; calling it while already running is a no-op.
func (s *Sampler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.buf = s.buf[:0]
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	if s.cfg.ProfileCurrentThreadOnly {
		// Captured on the caller's OS thread, matching the original's
		// target_thread = pthread_self() in start_sampling.
		s.targetThread.Store(uint64(machkern.SelfMachThread()))
	}

	go s.runLoop()
	return true
}

// Stop signals the sampling loop to exit after its current cycle and
// waits for it to flush any remaining buffered samples. Calling Stop
// from within the sampling loop's own callback would deadlock on the
// wait, so it instead only flips the running flag, matching the
// original's self-reentrancy check in stop_sampling.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if config.ThreadHandle(s.loopThread) == machkern.SelfMachThread() {
		s.running = false
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (s *Sampler) runLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.doneCh)

	s.mu.Lock()
	s.loopThread = machkern.SelfMachThread()
	s.mu.Unlock()

	for {
		select {
		case <-s.stopCh:
			s.flush()
			return
		default:
		}

		if !s.isRunning() {
			s.flush()
			return
		}

		interval := s.cfg.SamplingIntervalNS
		s.sampleCycle(interval)

		select {
		case <-s.stopCh:
			s.flush()
			return
		case <-time.After(time.Duration(interval)):
		}
	}
}

func (s *Sampler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sampler) sampleCycle(intervalNS uint64) {
	if s.cfg.ProfileCurrentThreadOnly {
		s.sampleThread(config.ThreadHandle(s.targetThread.Load()), intervalNS)
		return
	}

	threads, ok := machkern.Threads()
	if !ok {
		time.Sleep(100 * time.Millisecond)
		return
	}

	self := machkern.SelfMachThread()
	limit := s.cfg.MaxThreadCount
	for i, th := range threads {
		if !s.isRunning() {
			break
		}
		if limit != 0 && i >= limit {
			break
		}
		if th == self || (s.cfg.IgnoreThread != 0 && th == s.cfg.IgnoreThread) {
			continue
		}
		s.sampleThread(th, intervalNS)
	}
}

// sampleThread suspends thread, captures its stack, and resumes it.
// Everything between Suspend and Resume must be allocation-free and
// lock-free on the Go side too: the unwind loop below only touches
// machkern/saferead calls and a fixed-size local array.
func (s *Sampler) sampleThread(thread config.ThreadHandle, intervalNS uint64) {
	if thread == 0 {
		return
	}
	name, _ := machkern.ThreadName(thread)

	var frames [maxCapturedFrames]Frame
	var n int
	ts := machkern.UptimeNanos()

	if machkern.Suspend(thread) {
		n = captureStack(thread, frames[:minInt(int(s.cfg.MaxStackDepth), maxCapturedFrames)])
		machkern.Resume(thread)
	}

	if n == 0 {
		return
	}

	trace := Trace{
		ThreadID:    thread,
		ThreadName:  name,
		TimestampNS: ts,
		IntervalNS:  intervalNS,
		Frames:      append([]Frame(nil), frames[:n]...),
	}
	s.push(trace)
}

// maxCapturedFrames bounds the on-stack array used during the
// suspend-resume window so sampleThread never allocates there; it
// mirrors config.DefaultSamplingConfig's MaxStackDepth (128) with
// headroom for a caller-supplied larger value, capped hard at 1024.
const maxCapturedFrames = 1024

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// captureStack walks the frame-pointer chain starting from thread's
// current registers, writing into out and returning the number of
// frames captured. It must only be called while thread is suspended.
// The ABI-specific part — extracting the initial (fp, pc) from the
// thread's register state — happens in machkern, which dispatches on
// GOARCH internally (mirroring thread_get_frame_pointers' per-arch
// branches); everything past that point is the portable walk in
// unwind.go.
func captureStack(thread config.ThreadHandle, out []Frame) int {
	fp, pc, ok := machkern.FramePointerAndPC(thread)
	if !ok {
		return 0
	}
	return unwindFramePointers(fp, pc, saferead.Read, saferead.ValidUserspaceAddr, saferead.ValidFramePointer, out)
}

// push appends trace to the pending batch, non-blocking: if another
// flush is already in progress it drops the sample rather than
// waiting, matching the spec's backpressure contract for the sampler
// (the resolver's queue is the only place allowed to block).
func (s *Sampler) push(trace Trace) {
	if !s.bufMu.TryLock() {
		if s.metrics != nil {
			s.metrics.AddSamplesDropped(1)
		}
		return
	}
	s.buf = append(s.buf, trace)
	full := len(s.buf) >= s.cfg.MaxBufferSize
	s.bufMu.Unlock()

	if s.metrics != nil {
		s.metrics.IncSamplesCaptured()
	}
	if full {
		s.flush()
	}
}

// Flush synchronously drains the current pending-sample buffer through
// the callback, without stopping the loop. The orchestrator's
// GetProfile uses this to implement the spec's "block-flush the
// sampler" step of the flush contract: unlike Stop, sampling continues
// on its next cycle.
func (s *Sampler) Flush() {
	s.flush()
}

func (s *Sampler) flush() {
	s.bufMu.Lock()
	if len(s.buf) == 0 {
		s.bufMu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.bufMu.Unlock()

	if s.metrics != nil {
		s.metrics.IncBatchesFlushed()
	}
	if s.callback != nil {
		s.callback(batch)
	} else {
		mplog.Warnf("sampler: dropping batch of %d traces, no callback installed", len(batch))
	}
}
