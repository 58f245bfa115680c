package saferead

import "unsafe"

// localAddr returns the address of a stack-local value as a uintptr, for
// tests that need to feed Read a known-good address.
func localAddr[T any](p *T) uintptr { return uintptr(unsafe.Pointer(p)) }
