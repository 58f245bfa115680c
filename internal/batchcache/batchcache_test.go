package batchcache

import (
	"testing"

	"github.com/DataDog/mach-profiler/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrResolveMemoizes(t *testing.T) {
	m := &metrics.Counters{}
	c, err := New[string](16, m)
	require.NoError(t, err)

	calls := 0
	resolve := func(ip uint64) (string, bool) {
		calls++
		return "resolved", true
	}

	v1, ok := c.GetOrResolve(0x1000, resolve)
	require.True(t, ok)
	v2, ok := c.GetOrResolve(0x1000, resolve)
	require.True(t, ok)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls, "second lookup of the same ip must not call resolve again")

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.ResolverCacheHits)
	assert.Equal(t, int64(1), snap.ResolverCacheMiss)
}

func TestResetClearsMemoizedEntries(t *testing.T) {
	m := &metrics.Counters{}
	c, err := New[string](16, m)
	require.NoError(t, err)

	_, _ = c.GetOrResolve(0x1000, func(uint64) (string, bool) { return "a", true })
	require.Equal(t, 1, c.Len())

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestGetOrResolveDoesNotCacheOnFailure(t *testing.T) {
	m := &metrics.Counters{}
	c, err := New[string](16, m)
	require.NoError(t, err)

	_, ok := c.GetOrResolve(0x2000, func(uint64) (string, bool) { return "", false })
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
