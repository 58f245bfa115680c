//go:build darwin

package binimage

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dummyFuncForCacheTest() {}

func TestCacheResolvesOwnExecutable(t *testing.T) {
	c := NewCache()
	c.Start()
	defer c.Close()

	require.Greater(t, c.Size(), 0, "Start should synchronously seed already-loaded images")

	pc := reflect.ValueOf(dummyFuncForCacheTest).Pointer()
	img, ok := c.Lookup(uintptr(pc))
	require.True(t, ok, "the running executable's own text should resolve")
	assert.NotZero(t, img.LoadAddress)
	assert.Greater(t, img.End, img.LoadAddress)
}

func TestParseMachOAtOwnExecutableYieldsBoundedEnd(t *testing.T) {
	pc := reflect.ValueOf(dummyFuncForCacheTest).Pointer()
	base, _, ok := dladdrLookup(uintptr(pc))
	require.True(t, ok, "dladdr must resolve the running executable's own base address")

	_, end, ok := parseMachOAt(base)
	require.True(t, ok)
	require.Greater(t, end, base)

	// end must stay within the executable's own mapped span, not be
	// inflated by an unslid segment vmaddr (0x100000000 for a PIE
	// image's __PAGEZERO, or larger inside the dyld shared cache) added
	// directly to base instead of offset relative to the text segment.
	assert.Less(t, end-base, uintptr(0x10000000), "End must not be inflated by a raw segment vmaddr")
}

func TestLookupOfInvalidAddressFails(t *testing.T) {
	c := NewCache()
	c.Start()
	defer c.Close()

	_, ok := c.Lookup(0xDEADBEEF)
	assert.False(t, ok)
}

func TestSearchIsOrderedAfterMultipleInserts(t *testing.T) {
	c := NewCache()
	c.images = []Image{
		{LoadAddress: 0x1000, End: 0x2000},
		{LoadAddress: 0x5000, End: 0x6000},
		{LoadAddress: 0x9000, End: 0xA000},
	}

	img, ok := c.search(0x5500)
	require.True(t, ok)
	assert.Equal(t, uintptr(0x5000), img.LoadAddress)

	_, ok = c.search(0x3000)
	assert.False(t, ok, "gaps between images must not resolve")
}
