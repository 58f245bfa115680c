// No build tag: these are plain data types with no cgo dependency,
// shared between the darwin-only capture path and the portable unwind
// core so unwind_test.go can exercise the latter on any GOOS.
package sampler

import "github.com/DataDog/mach-profiler/config"

// Frame is one captured stack frame, unresolved: just the raw
// instruction pointer the unwinder read off the stack. Resolving it to
// a binary image happens later, outside the suspend window.
type Frame struct {
	InstructionPointer uint64
}

// Trace is one thread's sample.
type Trace struct {
	ThreadID    config.ThreadHandle
	ThreadName  string
	TimestampNS uint64
	IntervalNS  uint64
	Frames      []Frame
}

// BatchCallback receives one flushed batch of traces. It is called
// outside any suspend window, so it may allocate, lock, and log
// freely.
type BatchCallback func(traces []Trace)
