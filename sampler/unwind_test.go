// No build tag: exercises the portable unwind core against a fake
// memory reader over a plain Go byte slice, without needing a real
// suspended thread or cgo.
package sampler

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeStack builds an in-memory little-endian [fp, pc] chain: calling
// fakeStack(0x2000, [][2]uint64{{0x2100, 0x10}, {0x2200, 0x20}, {0, 0x30}})
// produces a memory image where reading 16 bytes at 0x2000 yields
// (nextFP=0x2100, nextPC=0x10), reading at 0x2100 yields (0x2200, 0x20),
// and so on.
func fakeStack(base uintptr, links [][2]uint64) memReadFunc {
	mem := make(map[uintptr][2]uint64)
	addr := base
	for _, l := range links {
		mem[addr] = l
		addr = uintptr(l[0])
	}
	return func(a uintptr, out []byte) bool {
		v, ok := mem[a]
		if !ok {
			return false
		}
		binary.LittleEndian.PutUint64(out[0:8], v[0])
		binary.LittleEndian.PutUint64(out[8:16], v[1])
		return true
	}
}

func alwaysValid(uintptr) bool { return true }

func TestUnwindFramePointersWalksChainLeafToRoot(t *testing.T) {
	read := fakeStack(0x2000, [][2]uint64{
		{0x2100, 0x10}, // frame at 0x2000 points to next fp 0x2100, return pc 0x10
		{0x2200, 0x20},
		{0, 0x30}, // root: fp 0, terminates after recording pc 0x30
	})

	var out [8]Frame
	n := unwindFramePointers(0x2000, 0x100, read, alwaysValid, alwaysValid, out[:])

	require := assert.New(t)
	require.Equal(4, n, "initial pc plus three chained frames")
	require.Equal(uint64(0x100), out[0].InstructionPointer)
	require.Equal(uint64(0x10), out[1].InstructionPointer)
	require.Equal(uint64(0x20), out[2].InstructionPointer)
	require.Equal(uint64(0x30), out[3].InstructionPointer)
}

func TestUnwindFramePointersStopsAtMaxStackDepth(t *testing.T) {
	links := make([][2]uint64, 0, 20)
	addr := uintptr(0x3000)
	for i := 0; i < 20; i++ {
		next := addr + 0x10
		links = append(links, [2]uint64{uint64(next), uint64(i)})
		addr = next
	}
	read := fakeStack(0x3000, links)

	var out [5]Frame
	n := unwindFramePointers(0x3000, 0xFF, read, alwaysValid, alwaysValid, out[:])
	assert.Equal(t, 5, n, "capture stops once out is full regardless of chain length")
}

func TestUnwindFramePointersMaxStackDepthOneYieldsExactlyOneFrame(t *testing.T) {
	read := fakeStack(0x3000, [][2]uint64{{0x3100, 0x10}, {0, 0x20}})
	var out [1]Frame
	n := unwindFramePointers(0x3000, 0xFF, read, alwaysValid, alwaysValid, out[:])
	assert.Equal(t, 1, n, "max_stack_depth=1 must yield exactly one frame per trace")
	assert.Equal(t, uint64(0xFF), out[0].InstructionPointer)
}

func TestUnwindFramePointersStopsWhenInitialFramePointerInvalid(t *testing.T) {
	rejectAll := func(uintptr) bool { return false }
	var out [8]Frame
	n := unwindFramePointers(0xBAD, 0x42, nil, alwaysValid, rejectAll, out[:])
	assert.Equal(t, 1, n, "only the initial pc is captured; an invalid fp halts before any read")
	assert.Equal(t, uint64(0x42), out[0].InstructionPointer)
}

func TestUnwindFramePointersRecordsFrameBeforeRejectingItsParent(t *testing.T) {
	// fp=0x4000 chains to (nextFP=0xBAD, nextPC=0x11): 0x11 is recorded
	// because the walk advances to it and loops back to the top of the
	// loop before the fp-validity check on 0xBAD runs; the walk only
	// stops short of resolving whatever 0xBAD itself points to.
	rejectBad := func(fp uintptr) bool { return fp != 0xBAD }
	read := fakeStack(0x4000, [][2]uint64{{0xBAD, 0x11}})

	var out [8]Frame
	n := unwindFramePointers(0x4000, 0x99, read, alwaysValid, rejectBad, out[:])
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(0x99), out[0].InstructionPointer)
	assert.Equal(t, uint64(0x11), out[1].InstructionPointer)
}

func TestUnwindFramePointersStopsOnSafeReadFault(t *testing.T) {
	read := func(uintptr, []byte) bool { return false }
	var out [8]Frame
	n := unwindFramePointers(0x5000, 0x42, read, alwaysValid, alwaysValid, out[:])
	assert.Equal(t, 1, n, "only the initial pc is captured when the chained read faults")
}

func TestUnwindFramePointersStopsOnInvalidNextPC(t *testing.T) {
	validAddr := func(a uintptr) bool { return a != 0x77 }
	read := fakeStack(0x6000, [][2]uint64{{0x6100, 0x77}})

	var out [8]Frame
	n := unwindFramePointers(0x6000, 0x42, read, validAddr, alwaysValid, out[:])
	assert.Equal(t, 1, n, "an invalid next pc is never recorded: the walk breaks before looping back to record it")
}

func TestUnwindFramePointersZeroFramePointerTerminatesImmediately(t *testing.T) {
	var out [8]Frame
	n := unwindFramePointers(0, 0x42, nil, alwaysValid, alwaysValid, out[:])
	assert.Equal(t, 1, n)
}
