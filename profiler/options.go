//go:build darwin

package profiler

import (
	"time"

	"github.com/DataDog/mach-profiler/config"
	"github.com/DataDog/mach-profiler/metrics"
)

// Option configures a Profiler at construction time.
type Option func(*Profiler)

// WithTimeout overrides the default 60s profiling-session timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Profiler) { p.timeout = d }
}

// WithSamplingConfig overrides the sampler configuration used when
// Start constructs the sampler. IgnoreThread is always overwritten
// with the resolver worker's thread at Start time, regardless of what
// is passed here.
func WithSamplingConfig(cfg config.SamplingConfig) Option {
	return func(p *Profiler) { p.samplingConfig = cfg }
}

// WithMetrics routes this Profiler's counters into m instead of a
// private *metrics.Counters, letting a host share one counter set
// across multiple Profiler instances.
func WithMetrics(m *metrics.Counters) Option {
	return func(p *Profiler) { p.metrics = m }
}
