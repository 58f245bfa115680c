//go:build darwin

package profiler

import (
	"math/rand/v2"
	"os"
	"strings"
)

// isThreadSanitizerEnabled mirrors is_thread_sanitizer_enabled: it is
// true only when this binary was built with the race detector AND the
// TSAN_OPTIONS environment variable does not explicitly opt out of
// halting/reporting. A race build run with no TSAN_OPTIONS at all is
// treated as enabled, matching the original's behavior when the
// variable is unset under an instrumented build.
func isThreadSanitizerEnabled() bool {
	if !raceDetectorEnabled {
		return false
	}
	opts, ok := os.LookupEnv("TSAN_OPTIONS")
	if !ok {
		return true
	}
	return !strings.Contains(opts, "halt_on_error=0") || !strings.Contains(opts, "report_bugs=0")
}

// isActivePrewarm mirrors is_active_prewarm: the process was launched
// by the OS's app pre-warming machinery, under which profiling should
// never run.
func isActivePrewarm() bool {
	return os.Getenv("ActivePrewarm") == "1"
}

// clampSampleRate bounds rate to [0, 100], matching
// read_profiling_sample_rate's clamp of a malformed preference value.
func clampSampleRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// sample mirrors dd::profiler::sample: a probabilistic gate that draws
// a uniform value in [0, 100) and compares it against rate.
func sample(rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 100 {
		return true
	}
	return rand.Float64()*100 < rate
}
