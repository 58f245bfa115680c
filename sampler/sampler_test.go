//go:build darwin

package sampler

import (
	"sync"
	"testing"
	"time"

	"github.com/DataDog/mach-profiler/config"
	"github.com/DataDog/mach-profiler/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busyWork(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			for i := 0; i < 1000; i++ {
			}
		}
	}
}

func TestSamplerCapturesSamplesOfRunningThreads(t *testing.T) {
	cfg := config.DefaultSamplingConfig()
	cfg.SamplingIntervalNS = 2_000_000 // 2ms, fast enough for a short test
	cfg.MaxBufferSize = 1000

	var mu sync.Mutex
	var collected []Trace
	cb := func(traces []Trace) {
		mu.Lock()
		collected = append(collected, traces...)
		mu.Unlock()
	}

	m := &metrics.Counters{}
	s := New(cfg, m, cb)

	stopWork := make(chan struct{})
	go busyWork(stopWork)
	defer close(stopWork)

	require.True(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	mu.Lock()
	n := len(collected)
	mu.Unlock()
	assert.Greater(t, n, 0, "expected at least one sample over 50ms at 2ms intervals")

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.SamplesCaptured, int64(n))
}

func TestSamplerStartIsIdempotent(t *testing.T) {
	s := New(config.DefaultSamplingConfig(), &metrics.Counters{}, func([]Trace) {})
	require.True(t, s.Start())
	assert.False(t, s.Start())
	s.Stop()
}

func TestSamplerStopBeforeStartIsANoOp(t *testing.T) {
	s := New(config.DefaultSamplingConfig(), &metrics.Counters{}, func([]Trace) {})
	s.Stop()
}

func TestMinInt(t *testing.T) {
	assert.Equal(t, 3, minInt(3, 5))
	assert.Equal(t, 3, minInt(5, 3))
}
