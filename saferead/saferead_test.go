//go:build !windows

package saferead

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidUserspaceAddr(t *testing.T) {
	cases := map[string]struct {
		addr uintptr
		want bool
	}{
		"null":         {0, false},
		"below min":    {0xFFF, false},
		"at min":       {0x1000, true},
		"typical heap": {0x0000000104f00000, true},
		"at max":       {0x7FFFFFF000, true},
		"above max":    {0x800000000000, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidUserspaceAddr(tc.addr))
		})
	}
}

func TestValidFramePointer(t *testing.T) {
	cases := map[string]struct {
		fp   uintptr
		want bool
	}{
		"unaligned":        {0x104f00001, false},
		"aligned in range": {0x104f00008, true},
		"aligned but null": {0, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidFramePointer(tc.fp))
		})
	}
}

func TestReadOfWildAddressReturnsFalse(t *testing.T) {
	Install()
	out := make([]byte, 8)
	ok := Read(0xDEADBEEF, out)
	assert.False(t, ok, "reading an unmapped address must not crash the process")
}

func TestReadOfOwnStackSucceeds(t *testing.T) {
	Install()
	local := [4]byte{1, 2, 3, 4}
	out := make([]byte, len(local))

	addr := localAddr(&local)
	ok := Read(addr, out)
	require.True(t, ok)
	assert.Equal(t, local[:], out)
}

func TestRepeatedFaultsDoNotCorruptState(t *testing.T) {
	Install()
	out := make([]byte, 8)
	for i := 0; i < 64; i++ {
		ok := Read(0x10, out)
		assert.False(t, ok)
	}
	local := [8]byte{9, 9, 9, 9, 9, 9, 9, 9}
	ok := Read(localAddr(&local), out)
	require.True(t, ok)
	assert.Equal(t, local[:], out)
}
