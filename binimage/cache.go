//go:build darwin

package binimage

/*
#include "dyld.h"
*/
import "C"

import (
	"sort"
	"sync"
)

// Cache is a mutex-protected, sorted set of resolved images, searched
// by instruction pointer. It is populated synchronously with every
// image already loaded when Start is called, then incrementally as
// dyld loads more images, and lazily on any lookup that misses both.
type Cache struct {
	mu      sync.Mutex
	started bool
	images  []Image // sorted by LoadAddress, non-overlapping
}

// NewCache returns an empty, unstarted Cache.
func NewCache() *Cache {
	return &Cache{}
}

// globalMu/globalCache implement the same nullable-singleton pattern
// as the original's g_binary_image_cache: the dyld callback is
// process-wide and can only address one live Cache at a time, so late
// callbacks after Close become no-ops instead of touching freed state.
var (
	globalMu    sync.Mutex
	globalCache *Cache
)

// Start registers this Cache to receive dyld "image added" callbacks
// and synchronously seeds it with every image already loaded in the
// process. Start is idempotent.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	globalMu.Lock()
	globalCache = c
	globalMu.Unlock()

	// _dyld_register_func_for_add_image calls back synchronously for
	// every already-loaded image before returning, then asynchronously
	// for every image loaded after this point.
	C.mp_register_dyld_callback()
}

// Close detaches this Cache from future dyld callbacks. It does not
// (and cannot) unregister the process-wide dyld hook itself, since
// dyld offers no such API; it only nulls the pointer the hook
// forwards through, so any callback that arrives after Close is a
// no-op, matching the original's destructor behavior.
func (c *Cache) Close() {
	globalMu.Lock()
	if globalCache == c {
		globalCache = nil
	}
	globalMu.Unlock()
}

//export goImageAdded
func goImageAdded(base C.uintptr_t, slide C.int64_t) {
	globalMu.Lock()
	c := globalCache
	globalMu.Unlock()
	if c == nil {
		return
	}
	addr := uintptr(base)
	_, path, _ := dladdrLookup(addr)
	c.insert(addr, path, int64(slide))
}

func (c *Cache) insert(base uintptr, path string, slide int64) {
	uuid, end, ok := parseMachOAt(base)
	if !ok {
		return
	}
	img := Image{LoadAddress: base, End: end, UUID: uuid, Path: path, Slide: slide}

	c.mu.Lock()
	defer c.mu.Unlock()
	i := sort.Search(len(c.images), func(i int) bool { return c.images[i].LoadAddress >= base })
	if i < len(c.images) && c.images[i].LoadAddress == base {
		return // already cached, e.g. raced with a lookup-miss insert
	}
	c.images = append(c.images, Image{})
	copy(c.images[i+1:], c.images[i:])
	c.images[i] = img
}

// Lookup resolves pc to the image that contains it. On a cache hit it
// performs a single binary search with the cache locked; on a miss it
// falls back to dladdr plus a direct Mach-O header parse and caches
// the result, exactly as the original's lookup() does for images the
// dyld callback did not see (loaded before Start, or raced with it).
func (c *Cache) Lookup(pc uintptr) (Image, bool) {
	c.mu.Lock()
	img, found := c.search(pc)
	c.mu.Unlock()
	if found {
		return img, true
	}

	base, path, ok := dladdrLookup(pc)
	if !ok {
		return Image{}, false
	}
	c.insert(base, path, 0) // dladdr reports no slide; diagnostic-only field

	c.mu.Lock()
	img, found = c.search(pc)
	c.mu.Unlock()
	return img, found
}

// search assumes c.mu is held.
func (c *Cache) search(pc uintptr) (Image, bool) {
	i := sort.Search(len(c.images), func(i int) bool { return c.images[i].LoadAddress > pc })
	if i == 0 {
		return Image{}, false
	}
	img := c.images[i-1]
	if pc >= img.LoadAddress && pc < img.End {
		return img, true
	}
	return Image{}, false
}

// Size returns the number of cached images. It exists for tests and
// for the orchestrator's periodic health log.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}
