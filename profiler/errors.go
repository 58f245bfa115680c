//go:build darwin

package profiler

import "errors"

// ErrAlreadyStarted is returned by Start when the profiler is already
// RUNNING, or when the underlying sampler unexpectedly reports itself
// already started.
var ErrAlreadyStarted = errors.New("profiler: already started")

// ErrNoProfile is returned by GetProfile when no aggregator has ever
// been constructed, e.g. because Start gated out before RUNNING.
var ErrNoProfile = errors.New("profiler: no profile available")
