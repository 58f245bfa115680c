//go:build darwin

// Package machkern wraps the Mach/pthread kernel primitives the
// sampler needs: thread enumeration, suspend/resume, register reads,
// and the couple of BSD calls (pthread_getname_np,
// clock_gettime_nsec_np) that have no golang.org/x/sys/unix binding on
// darwin. None of this has a pure-Go equivalent; every exported
// function here is a direct cgo call.
package machkern

/*
#include "machkern.h"
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/DataDog/mach-profiler/config"
)

// RecordMainThread remembers the calling OS thread as "the main
// thread" for ThreadName's com.apple.main-thread substitution,
// mirroring the original implementation's set_main_thread. Callers
// that care about that substitution should call it once, early,
// after calling runtime.LockOSThread from their actual main
// goroutine.
func RecordMainThread() {
	C.mp_record_main_thread()
}

// Threads returns every thread port in the current task. The kernel's
// thread array and the port references it carried are released before
// Threads returns; the returned slice is a copy of the port names.
func Threads() ([]config.ThreadHandle, bool) {
	var cThreads *C.uint32_t
	var count C.uint32_t
	if C.mp_task_threads(&cThreads, &count) == 0 {
		return nil, false
	}
	defer C.mp_deallocate_threads(cThreads, count)

	n := int(count)
	out := make([]config.ThreadHandle, n)
	raw := unsafe.Slice(cThreads, n)
	for i := 0; i < n; i++ {
		out[i] = config.ThreadHandle(raw[i])
	}
	return out, true
}

// Suspend suspends the given thread. It reports whether the kernel
// call succeeded; the caller is responsible for pairing every
// successful Suspend with a Resume.
func Suspend(t config.ThreadHandle) bool {
	return C.mp_thread_suspend(C.uint32_t(t)) != 0
}

// Resume resumes a thread previously suspended with Suspend.
func Resume(t config.ThreadHandle) bool {
	return C.mp_thread_resume(C.uint32_t(t)) != 0
}

// FramePointerAndPC reads the frame pointer and program counter out of
// a suspended thread's register state. It must only be called between
// a successful Suspend and the matching Resume.
func FramePointerAndPC(t config.ThreadHandle) (fp, pc uintptr, ok bool) {
	var cfp, cpc C.uintptr_t
	if C.mp_frame_pointer_and_pc(C.uint32_t(t), &cfp, &cpc) == 0 {
		return 0, 0, false
	}
	return uintptr(cfp), uintptr(cpc), true
}

// ThreadName returns the pthread name of t, truncated to
// config.PthreadNameMax bytes. The main thread is reported as
// "com.apple.main-thread" regardless of whatever pthread_setname_np
// call it may have made, matching the original implementation.
func ThreadName(t config.ThreadHandle) (string, bool) {
	buf := make([]C.char, config.PthreadNameMax)
	if C.mp_thread_name(C.uint32_t(t), &buf[0], C.size_t(len(buf))) == 0 {
		return "", false
	}
	return C.GoString(&buf[0]), true
}

// SelfMachThread returns the calling OS thread's Mach thread port.
// The sampler uses it to skip sampling itself during enumeration.
func SelfMachThread() config.ThreadHandle {
	return config.ThreadHandle(C.mp_self_mach_thread())
}

// UptimeNanos returns CLOCK_UPTIME_RAW in nanoseconds: monotonic time
// that does not advance while the system is asleep, matching the
// clock the original profiler timestamps samples with.
func UptimeNanos() uint64 {
	return uint64(C.mp_uptime_nanos())
}
