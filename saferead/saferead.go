//go:build !windows

// Package saferead turns SIGBUS/SIGSEGV faults that occur while reading
// process memory into an ordinary `false` return, instead of crashing
// the host process. It exists so the sampler's frame-pointer unwinder
// can walk a stack it does not fully trust (the sampled thread may be
// mid-mutation of its own stack, or a frame pointer may simply be
// garbage) without taking the whole process down with it.
//
// It is a direct port of safe_read_signal_handler/safe_read_memory from
// the original Mach implementation: a process-wide sigaction handler
// installed once, a thread-local "am I inside a safe read right now"
// flag, and a thread-local jmp_buf the handler longjmps back to when
// the flag is set. There is no portable Go-only equivalent — os/signal
// cannot recover a synchronous fault via longjmp — so the handler and
// the guarded memcpy both live in C, called through cgo.
package saferead

/*
#include "saferead.h"
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/DataDog/mach-profiler/config"
)

var installOnce sync.Once

// Install registers the SIGBUS/SIGSEGV handlers used by Read. It is
// idempotent and safe to call from multiple goroutines; only the first
// call has an effect. Callers must Install before the first Read.
func Install() {
	installOnce.Do(func() {
		C.mp_install_safe_read_handlers()
	})
}

// Read copies len(out) bytes from addr into out, returning false
// instead of crashing the process if any byte of the range faults.
// Read does not itself validate addr; callers are expected to call
// ValidUserspaceAddr/ValidFramePointer first, as the sampler's unwind
// loop does.
//
// Read must not be called concurrently with itself on the same OS
// thread re-entrantly in a way that nests two Reads without the first
// completing — the thread-local guard only tracks one in-flight read at
// a time. Ordinary sequential use, including from multiple goroutines
// on distinct threads, is safe.
func Read(addr uintptr, out []byte) bool {
	if len(out) == 0 {
		return true
	}
	ok := C.mp_safe_read(
		unsafe.Pointer(addr),
		unsafe.Pointer(&out[0]),
		C.size_t(len(out)),
	)
	return ok != 0
}

// ValidUserspaceAddr reports whether addr falls within the range this
// module is willing to dereference: above the first unmapped page,
// below the kernel/userspace split.
func ValidUserspaceAddr(addr uintptr) bool {
	a := uint64(addr)
	return a >= config.MinUserspaceAddr && a <= config.MaxUserspaceAddr
}

// ValidFramePointer reports whether fp is a plausible saved frame
// pointer: a valid userspace address, 8-byte aligned.
func ValidFramePointer(fp uintptr) bool {
	return ValidUserspaceAddr(fp) && uint64(fp)&config.FramePointerAlign == 0
}
