package pprofenc

import (
	"bytes"
	"testing"

	"github.com/DataDog/mach-profiler/aggregate"
	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestProfile() *aggregate.Profile {
	p := aggregate.New(9_900_990, 0)
	img := aggregate.Image{LoadAddress: 0x1000, UUID: [16]byte{0xAA}, Path: "/usr/lib/libfoo.dylib"}
	p.AddSamples([]aggregate.Trace{
		{
			ThreadID: 7, ThreadName: "com.apple.main-thread",
			TimestampNS: 1_000_000, IntervalNS: 9_900_990,
			Frames: []aggregate.Frame{
				{InstructionPointer: 0x1234, Image: img},
				{InstructionPointer: 0x1250, Image: img},
			},
		},
	})
	return p
}

func TestEncodeProducesAValidGzippedPprofProfile(t *testing.T) {
	p := buildTestProfile()
	data, err := Encode(p)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := profile.Parse(bytes.NewReader(data))
	require.NoError(t, err)

	require.Len(t, decoded.Sample, 1)
	assert.Len(t, decoded.Sample[0].Location, 2)
	assert.Equal(t, []int64{9_900_990}, decoded.Sample[0].Value)
	require.Len(t, decoded.Mapping, 1)
	assert.Equal(t, "/usr/lib/libfoo.dylib", decoded.Mapping[0].File)
	assert.Equal(t, uint64(0x1000), decoded.Mapping[0].Start)
}

func TestEncodeOfEmptyProfileIsValid(t *testing.T) {
	p := aggregate.New(9_900_990, 0)
	data, err := Encode(p)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := profile.Parse(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, decoded.Sample)
}

func TestEncodeRoundTripsThreadLabels(t *testing.T) {
	p := buildTestProfile()
	data, err := Encode(p)
	require.NoError(t, err)

	decoded, err := profile.Parse(bytes.NewReader(data))
	require.NoError(t, err)

	sample := decoded.Sample[0]
	assert.Equal(t, []string{"com.apple.main-thread"}, sample.Label["thread name"])
	assert.Equal(t, []int64{7}, sample.NumLabel["thread id"])
	require.Len(t, sample.NumLabel["end_timestamp_ns"], 1)
}
