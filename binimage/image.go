//go:build darwin

// Package binimage resolves instruction pointers to the loaded binary
// image (UUID + path) that contains them. It keeps a cache populated
// two ways: synchronously at Start, via dyld's "image added"
// notification, and lazily on a cache miss via dladdr plus direct
// Mach-O header parsing — mirroring the original implementation's
// binary_image_cache, but indexed by address range instead of exact
// base address, since the resolver worker (internal/batchcache) wants
// O(log n) range lookups rather than one dladdr call per frame.
package binimage

/*
#include "dyld.h"
*/
import "C"

import (
	"debug/macho"
	"encoding/binary"
	"errors"
	"io"
	"unsafe"

	"github.com/DataDog/mach-profiler/config"
	"github.com/DataDog/mach-profiler/saferead"
)

func init() {
	saferead.Install()
}

// Image describes one loaded Mach-O image.
type Image struct {
	// LoadAddress is the image's base address (dli_fbase / the dyld
	// header address).
	LoadAddress uintptr
	// End is the exclusive end of the address range this Image answers
	// for: the highest segment's vmaddr+vmsize above LoadAddress.
	End uintptr
	// UUID is the image's LC_UUID, or the zero UUID if the image had
	// none or it could not be read.
	UUID [16]byte
	// Path is the image's install path as reported by dyld/dladdr. It
	// may be empty.
	Path string
	// Slide is the dyld "slide" reported when this image's add-image
	// callback fired: the difference between its preferred and actual
	// load address. It is purely diagnostic (stored, never compared)
	// and is zero for images resolved via the dladdr fallback path,
	// which has no slide to report.
	Slide int64
}

const machHeader64Size = 32
const machMagic64 = 0xfeedfacf
const lcUUID = 0x1b
const loadCommandHeaderSize = 8 // cmd (4 bytes) + cmdsize (4 bytes)

var errBadHeader = errors.New("binimage: invalid mach-o header")

// processMemory is an io.ReaderAt over this process's own address
// space, routed through saferead so a corrupt or partially-unmapped
// image header cannot crash the profiler while it is being resolved.
type processMemory struct{ base uintptr }

func (p processMemory) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("binimage: negative offset")
	}
	addr := p.base + uintptr(off)
	if !saferead.ValidUserspaceAddr(addr) {
		return 0, io.ErrUnexpectedEOF
	}
	if !saferead.Read(addr, buf) {
		return 0, io.ErrUnexpectedEOF
	}
	return len(buf), nil
}

// validateHeader reads the raw mach_header_64 at base, checks magic,
// ncmds and sizeofcmds against this module's bounds, then walks every
// load command by hand checking its own cmdsize — the same
// corrupted-header defenses the original's is_valid_load_command_count/
// is_valid_load_command_size apply. debug/macho's own parser does not
// bound cmdsize while walking load commands, so this hand-rolled scan
// must reject a corrupt header before any of it is handed to
// macho.NewFile; it rejects the whole image rather than the original's
// truncate-and-keep-what-scanned-ok, since this module does not use
// load commands past a point that would need partial results.
func validateHeader(base uintptr) error {
	var hdr [machHeader64Size]byte
	if !saferead.ValidUserspaceAddr(base) || !saferead.Read(base, hdr[:]) {
		return errBadHeader
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != machMagic64 {
		return errBadHeader
	}
	ncmds := binary.LittleEndian.Uint32(hdr[16:20])
	sizeofcmds := binary.LittleEndian.Uint32(hdr[20:24])
	if ncmds == 0 || ncmds > config.MaxLoadCommands {
		return errBadHeader
	}
	if sizeofcmds == 0 || uint64(sizeofcmds) > uint64(config.MaxLoadCommands)*uint64(config.MaxLoadCommandSize) {
		return errBadHeader
	}

	cmdBase := base + machHeader64Size
	var scanned uint32
	for i := uint32(0); i < ncmds; i++ {
		var lc [loadCommandHeaderSize]byte
		if !saferead.ValidUserspaceAddr(cmdBase) || !saferead.Read(cmdBase, lc[:]) {
			return errBadHeader
		}
		cmdsize := binary.LittleEndian.Uint32(lc[4:8])
		if cmdsize < loadCommandHeaderSize || cmdsize > config.MaxLoadCommandSize {
			return errBadHeader
		}
		scanned += cmdsize
		if scanned > sizeofcmds {
			return errBadHeader
		}
		cmdBase += uintptr(cmdsize)
	}
	return nil
}

// parseMachOAt parses the Mach-O image whose header lives at base,
// extracting its UUID and the end of its mapped span.
func parseMachOAt(base uintptr) (uuid [16]byte, end uintptr, ok bool) {
	if err := validateHeader(base); err != nil {
		return uuid, 0, false
	}

	f, err := macho.NewFile(processMemory{base: base})
	if err != nil {
		return uuid, 0, false
	}
	defer f.Close()

	// textVMAddr is the vmaddr of the segment that contains the Mach-O
	// header itself (file offset 0). Every segment's vmaddr is relative
	// to that, not to base, so a segment's runtime end is
	// base + (seg.Addr - textVMAddr) + seg.Memsz — the same
	// slide + vmaddr computation binary_image_resolver.cpp does. Adding
	// seg.Addr to base directly double-counts that segment's own
	// unslid vmaddr (0x100000000 for a PIE __PAGEZERO, or a
	// dyld-shared-cache-sized offset for images mapped inside it).
	var textVMAddr uint64
	haveText := false
	for _, l := range f.Loads {
		if seg, isSeg := l.(*macho.Segment); isSeg && seg.Offset == 0 {
			textVMAddr = seg.Addr
			haveText = true
			break
		}
	}

	end = base
	for _, l := range f.Loads {
		raw := l.Raw()
		if len(raw) < 8 {
			continue
		}
		cmd := binary.LittleEndian.Uint32(raw[0:4])
		if cmd == lcUUID && len(raw) >= 24 {
			copy(uuid[:], raw[8:24])
			continue
		}
		if seg, isSeg := l.(*macho.Segment); isSeg && haveText && seg.Addr >= textVMAddr {
			if segEnd := base + uintptr(seg.Addr-textVMAddr) + uintptr(seg.Memsz); segEnd > end {
				end = segEnd
			}
		}
	}
	if end == base {
		// No segment told us how large the image is; fall back to a
		// single-page span so the cache entry still has a usable
		// (if pessimistic) range.
		end = base + uintptr(config.MinUserspaceAddr)
	}
	return uuid, end, true
}

// dladdrLookup finds the loaded image containing addr via dladdr,
// returning its base address and install path.
func dladdrLookup(addr uintptr) (base uintptr, path string, ok bool) {
	var cBase C.uintptr_t
	namebuf := make([]byte, 4096)
	r := C.mp_dladdr(
		C.uintptr_t(addr),
		&cBase,
		(*C.char)(unsafe.Pointer(&namebuf[0])),
		C.size_t(len(namebuf)),
	)
	if r == 0 {
		return 0, "", false
	}
	return uintptr(cBase), cString(namebuf), true
}

func cString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
