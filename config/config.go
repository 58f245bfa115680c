// Package config holds the tunables for the sampler and orchestrator.
package config

import "time"

// QoSClass mirrors the Darwin pthread QoS classes the sampler and
// resolver threads are created with.
type QoSClass int

const (
	QoSUserInteractive QoSClass = iota
	QoSUserInitiated
	QoSUtility
	QoSBackground
	QoSDefault
)

// ThreadHandle identifies a Mach thread port. It is opaque to callers
// outside this module; its only use is to compare against the value
// returned by the kernel during thread enumeration.
type ThreadHandle uint32

// SamplingConfig controls the sampler's behavior. Zero-value fields are
// filled in with DefaultSamplingConfig's values by callers that build a
// SamplingConfig incrementally.
type SamplingConfig struct {
	// SamplingIntervalNS is the nominal time between two samples of the
	// same thread, in nanoseconds.
	SamplingIntervalNS uint64

	// ProfileCurrentThreadOnly restricts sampling to the thread that
	// called Start, instead of enumerating every task thread.
	ProfileCurrentThreadOnly bool

	// MaxBufferSize is the batch-flush threshold: once the sampler's
	// pending sample buffer reaches this size, the sampler flushes it to
	// the batch callback.
	MaxBufferSize int

	// MaxStackDepth bounds the number of frames captured per thread.
	MaxStackDepth uint32

	// MaxThreadCount caps the number of threads sampled per cycle.
	// Zero means unlimited.
	MaxThreadCount int

	// QoSClass is the quality-of-service class the sampler's worker
	// thread runs at.
	QoSClass QoSClass

	// IgnoreThread, if set, is skipped during per-cycle enumeration.
	// The orchestrator sets this to the resolver worker's thread so the
	// resolver never samples itself.
	IgnoreThread ThreadHandle
}

// DefaultSamplingConfig mirrors SAMPLING_CONFIG_DEFAULT from the
// original Mach implementation: ~101Hz sampling, 128-frame stacks, a
// 10k-sample flush threshold, and a 100-thread per-cycle cap.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		SamplingIntervalNS:       9_900_990, // ~101Hz
		ProfileCurrentThreadOnly: false,
		MaxBufferSize:            10_000,
		MaxStackDepth:            128,
		MaxThreadCount:           100,
		QoSClass:                 QoSUserInteractive,
	}
}

// DefaultTimeout is the orchestrator's default profiling session
// timeout: once a profile's observed duration exceeds this, sampling is
// stopped and the orchestrator transitions to the TIMEOUT status.
const DefaultTimeout = 60 * time.Second

// HealthTickInterval is how often the orchestrator logs a snapshot of
// the metrics package's counters while RUNNING.
const HealthTickInterval = 5 * time.Second

// MinUserspaceAddr and MaxUserspaceAddr bound the addresses the safe
// reader and unwinder are willing to dereference. They correspond to
// the typical userspace VA range on 64-bit ARM64/x86_64 Darwin: the
// first page is reserved to catch null-pointer-shaped values, and
// addresses at or above the kernel split are rejected outright.
const (
	MinUserspaceAddr uint64 = 0x1000
	MaxUserspaceAddr uint64 = 0x7F_FFFF_F000
)

// FramePointerAlign is the alignment mask a frame pointer must satisfy
// on 64-bit ABIs.
const FramePointerAlign uint64 = 0x7

// MaxLoadCommands and MaxLoadCommandSize bound how much of a Mach-O
// header the image resolver is willing to scan before giving up on a
// corrupt or adversarial image.
const (
	MaxLoadCommands    = 1000
	MaxLoadCommandSize = 0x10000
)

// PthreadNameMax is the buffer size used for pthread_getname_np calls.
// Darwin does not publish the real limit; 64 bytes matches the original
// implementation and silently truncates longer names.
const PthreadNameMax = 64
