package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPreinternsWellKnownStrings(t *testing.T) {
	p := New(1_000_000, 0)
	strs := p.Strings()
	require.Contains(t, strs, "")
	require.Contains(t, strs, "wall-time")
	require.Contains(t, strs, "nanoseconds")
	require.Contains(t, strs, "end_timestamp_ns")
	require.Contains(t, strs, "thread id")
	require.Contains(t, strs, "thread name")
	assert.Equal(t, "", strs[0], "empty string must be index 0")
}

func TestAddSamplesDedupesMappingsAndLocations(t *testing.T) {
	p := New(1_000_000, 0)
	img := Image{LoadAddress: 0x1000, UUID: [16]byte{1, 2, 3, 4}, Path: "/usr/lib/libfoo.dylib"}

	p.AddSamples([]Trace{
		{
			ThreadID: 42, ThreadName: "main", TimestampNS: 100, IntervalNS: 9_900_990,
			Frames: []Frame{{InstructionPointer: 0x1234, Image: img}},
		},
		{
			ThreadID: 42, ThreadName: "main", TimestampNS: 200, IntervalNS: 9_900_990,
			Frames: []Frame{{InstructionPointer: 0x1234, Image: img}},
		},
	})

	assert.Equal(t, 2, p.SampleCount())
	assert.Len(t, p.Mappings(), 1, "same load address must dedupe to one mapping")
	assert.Len(t, p.Locations(), 1, "same instruction pointer must dedupe to one location")

	samples := p.Samples()
	assert.Equal(t, samples[0].LocationIDs, samples[1].LocationIDs)
}

func TestAddSamplesTracksTimestampBounds(t *testing.T) {
	p := New(1_000_000, 0)
	p.AddSamples([]Trace{
		{TimestampNS: 500, IntervalNS: 1},
		{TimestampNS: 100, IntervalNS: 1},
		{TimestampNS: 900, IntervalNS: 1},
	})
	assert.Equal(t, uint64(100), p.StartTimestampNS())
	assert.Equal(t, uint64(900), p.EndTimestampNS())
}

func TestUUIDStringMatchesOriginalFormat(t *testing.T) {
	u := [16]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C}
	got := uuidString(u)
	assert.Equal(t, "DEADBEEF-0102-0304-0506-0708090A0B0C", got)
}

func TestClearResetsMappingsLocationsAndSamplesButKeepsStrings(t *testing.T) {
	p := New(1_000_000, 0)
	p.AddSamples([]Trace{
		{TimestampNS: 1, IntervalNS: 1, ThreadName: "t", Frames: []Frame{{InstructionPointer: 1}}},
	})
	stringsBefore := len(p.Strings())

	p.Clear()
	assert.Equal(t, 0, p.SampleCount())
	assert.Empty(t, p.Mappings())
	assert.Empty(t, p.Locations())
	assert.Equal(t, stringsBefore, len(p.Strings()), "well-known + interned strings survive Clear")
}

func TestGenerationIsUniquePerConstructedInstance(t *testing.T) {
	a := New(1_000_000, 0)
	b := New(1_000_000, 0)
	assert.NotEqual(t, a.Generation(), b.Generation())
}

func TestUptimeToEpochNSAppliesOffset(t *testing.T) {
	p := New(1_000_000, 1_000)
	assert.Equal(t, int64(1_500), p.uptimeToEpochNS(500))
}
