// Package prefs defines the boundary to the persisted-preference store
// the profiler reads its enabled flag and sample rate from. The actual
// store (CFPreferences-backed on Apple platforms) lives in the
// surrounding host SDK and is out of scope for this module; this
// package only defines the interface and a non-persistent default
// implementation used by tests and by hosts that have not wired a real
// store yet.
package prefs

import "sync"

// Store is the boundary to a key/value preference source. Implementations
// need not be safe to call concurrently; callers serialize access.
type Store interface {
	// Bool returns the boolean value stored under key in suite, and
	// whether it was present.
	Bool(suite, key string) (value, ok bool)
	// Float64 returns the numeric value stored under key in suite, and
	// whether it was present.
	Float64(suite, key string) (value float64, ok bool)
	// Delete removes key from suite. A missing key is not an error.
	Delete(suite, key string)
}

// MemStore is an in-memory Store. It performs no file or network I/O,
// matching the module's non-goals; it exists so
// profiler.NewFromPreferences' gate-reading logic can be exercised in tests without a real
// preferences backend.
type MemStore struct {
	mu    sync.Mutex
	bools map[string]bool
	nums  map[string]float64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		bools: make(map[string]bool),
		nums:  make(map[string]float64),
	}
}

func compositeKey(suite, key string) string { return suite + "\x00" + key }

// SetBool seeds a boolean value, for use by tests.
func (m *MemStore) SetBool(suite, key string, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bools[compositeKey(suite, key)] = value
}

// SetFloat64 seeds a numeric value, for use by tests.
func (m *MemStore) SetFloat64(suite, key string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nums[compositeKey(suite, key)] = value
}

func (m *MemStore) Bool(suite, key string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.bools[compositeKey(suite, key)]
	return v, ok
}

func (m *MemStore) Float64(suite, key string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.nums[compositeKey(suite, key)]
	return v, ok
}

func (m *MemStore) Delete(suite, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bools, compositeKey(suite, key))
	delete(m.nums, compositeKey(suite, key))
}

// Well-known keys, matching the original Mach implementation's
// DD_PROFILING_* constants.
const (
	SuiteName     = "com.datadoghq.ios-sdk.profiling"
	IsEnabledKey  = "profiling_enabled"
	SampleRateKey = "profiling_sample_rate"
)

// ReadAndClear reads the enabled flag and sample rate from store, then
// deletes both keys so the next session starts clean. Missing keys
// default to disabled / 0.0, matching the original's behavior when
// CFPreferencesCopyAppValue returns nil.
func ReadAndClear(store Store) (enabled bool, sampleRate float64) {
	enabled, _ = store.Bool(SuiteName, IsEnabledKey)
	rate, ok := store.Float64(SuiteName, SampleRateKey)
	if ok {
		if rate < 0 {
			rate = 0
		} else if rate > 100 {
			rate = 100
		}
		sampleRate = rate
	}
	store.Delete(SuiteName, IsEnabledKey)
	store.Delete(SuiteName, SampleRateKey)
	return enabled, sampleRate
}
