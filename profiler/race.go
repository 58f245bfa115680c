//go:build darwin && race

package profiler

// raceDetectorEnabled is true when this binary was built with `go build
// -race`, the closest Go-native analog to the original's
// __has_feature(thread_sanitizer) compile-time check: both instrument
// every memory access and both make thread-suspension-based sampling
// unreliable, since the instrumentation's own shadow-memory locks can
// be held by a thread the sampler suspends mid-access.
const raceDetectorEnabled = true
