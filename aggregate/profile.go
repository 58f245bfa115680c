// Package aggregate deduplicates raw sampler output into the compact
// string/mapping/location/sample tables pprof expects, the way
// profile.cpp's intern_string/intern_binary/intern_location/
// intern_frame/add_samples do. It holds no cgo dependency of its own:
// everything it consumes (binimage.Image, sampler.Trace-shaped data)
// has already been read off the stack before it gets here.
package aggregate

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Image is the subset of a resolved binary image a Sample needs. It
// is defined here, rather than imported from binimage, so this
// package stays usable from tests (and from callers building up a
// Profile by hand) without a darwin build tag.
type Image struct {
	LoadAddress uint64
	UUID        [16]byte
	Path        string
}

// Frame is one unresolved-to-resolved frame handed to AddSamples:
// the raw instruction pointer plus whatever image it resolved to.
// Image is the zero value if resolution failed, in which case the
// frame is still interned (with mapping ID 0) rather than dropped, so
// a sample's frame count always matches what the sampler captured.
type Frame struct {
	InstructionPointer uint64
	Image              Image
}

// Trace is one sampled thread's stack, ready to be interned.
type Trace struct {
	ThreadID    uint64
	ThreadName  string
	TimestampNS uint64
	IntervalNS  uint64
	Frames      []Frame
}

// Mapping is one interned binary mapping.
type Mapping struct {
	MemoryStart uint64
	FilenameID  uint32
	BuildID     uint32
}

// Location is one interned code location.
type Location struct {
	MappingID uint32
	Address   uint64
}

// Label is one sample label: either a string value (StrID) or a
// numeric one (Num, optionally with a unit), matching pprof's label
// shape.
type Label struct {
	KeyID     uint32
	StrID     uint32
	Num       int64
	NumUnitID uint32
}

// Sample is one interned stack sample.
type Sample struct {
	LocationIDs []uint32
	Labels      []Label
	Value       int64
}

// nextGeneration hands out a process-wide, monotonically increasing
// generation number to every Profile constructed via New, so tests
// (and a host inspecting two successive GetProfile(cleanup=true)
// results) can assert two Profiles are the distinct instances they
// claim to be without comparing pointers.
var nextGeneration atomic.Uint64

// Profile is the aggregator: a growing, deduplicated snapshot of every
// sample added via AddSamples since construction or the last Clear.
// It is safe for concurrent use; the resolver worker is expected to be
// its only writer, but other goroutines may call the read-only
// accessors concurrently.
type Profile struct {
	mu sync.Mutex

	generation uint64

	samplingIntervalNS uint64
	epochOffsetNS      int64

	strings      []string
	stringLookup map[string]uint32

	mappings      []Mapping
	mappingLookup map[uint64]uint32

	locations      []Location
	locationLookup map[uint64]uint32

	samples []Sample

	startTimestampNS uint64
	endTimestampNS   uint64

	emptyStrID      uint32
	wallTimeStrID   uint32
	nanosecondsID   uint32
	endTimestampID  uint32
	threadIDStrID   uint32
	threadNameStrID uint32
}

// New constructs an empty Profile. epochOffsetNS converts the
// monotonic uptime timestamps the sampler records into wall-clock
// epoch nanoseconds, matching uptime_epoch_offset: callers pass
// time.Now().UnixNano() - int64(machkern.UptimeNanos()) captured at
// roughly the same instant.
func New(samplingIntervalNS uint64, epochOffsetNS int64) *Profile {
	p := &Profile{
		generation:         nextGeneration.Add(1),
		samplingIntervalNS: samplingIntervalNS,
		epochOffsetNS:      epochOffsetNS,
		stringLookup:       make(map[string]uint32),
		mappingLookup:      make(map[uint64]uint32),
		locationLookup:     make(map[uint64]uint32),
	}
	p.strings = append(p.strings, "")
	p.stringLookup[""] = 0

	p.emptyStrID = p.internStringLocked("")
	p.wallTimeStrID = p.internStringLocked("wall-time")
	p.nanosecondsID = p.internStringLocked("nanoseconds")
	p.endTimestampID = p.internStringLocked("end_timestamp_ns")
	p.threadIDStrID = p.internStringLocked("thread id")
	p.threadNameStrID = p.internStringLocked("thread name")
	return p
}

// NewWithWallClock is a convenience constructor that computes
// epochOffsetNS from the current wall clock and the given uptime
// reading, for callers that have one sample of machkern.UptimeNanos
// handy at construction time.
func NewWithWallClock(samplingIntervalNS uint64, uptimeNowNS uint64) *Profile {
	offset := time.Now().UnixNano() - int64(uptimeNowNS)
	return New(samplingIntervalNS, offset)
}

func (p *Profile) uptimeToEpochNS(uptimeNS uint64) int64 {
	return int64(uptimeNS) + p.epochOffsetNS
}

// AddSamples interns every trace's frames and appends one Sample per
// trace, updating the profile's observed start/end timestamps.
func (p *Profile) AddSamples(traces []Trace) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, trace := range traces {
		locIDs := make([]uint32, 0, len(trace.Frames))
		for _, f := range trace.Frames {
			locIDs = append(locIDs, p.internFrameLocked(f))
		}

		labels := make([]Label, 0, 3)
		labels = append(labels, Label{
			KeyID:     p.endTimestampID,
			Num:       p.uptimeToEpochNS(trace.TimestampNS),
			NumUnitID: p.nanosecondsID,
		})
		labels = append(labels, Label{
			KeyID: p.threadIDStrID,
			Num:   int64(trace.ThreadID),
		})
		if trace.ThreadName != "" {
			labels = append(labels, Label{
				KeyID: p.threadNameStrID,
				StrID: p.internStringLocked(trace.ThreadName),
			})
		}

		p.samples = append(p.samples, Sample{
			LocationIDs: locIDs,
			Labels:      labels,
			Value:       int64(trace.IntervalNS),
		})

		if p.startTimestampNS == 0 || trace.TimestampNS < p.startTimestampNS {
			p.startTimestampNS = trace.TimestampNS
		}
		if trace.TimestampNS > p.endTimestampNS {
			p.endTimestampNS = trace.TimestampNS
		}
	}
}

func (p *Profile) internStringLocked(s string) uint32 {
	if id, ok := p.stringLookup[s]; ok {
		return id
	}
	id := uint32(len(p.strings))
	p.strings = append(p.strings, s)
	p.stringLookup[s] = id
	return id
}

func (p *Profile) internFrameLocked(f Frame) uint32 {
	var mappingID uint32
	if f.Image != (Image{}) {
		mappingID = p.internBinaryLocked(f.Image)
	}
	return p.internLocationLocked(Location{MappingID: mappingID, Address: f.InstructionPointer})
}

func (p *Profile) internBinaryLocked(img Image) uint32 {
	if id, ok := p.mappingLookup[img.LoadAddress]; ok {
		return id
	}

	var filenameID uint32
	if img.Path != "" {
		filenameID = p.internStringLocked(img.Path)
	}
	buildID := p.internStringLocked(uuidString(img.UUID))

	id := uint32(len(p.mappings) + 1)
	p.mappings = append(p.mappings, Mapping{
		MemoryStart: img.LoadAddress,
		FilenameID:  filenameID,
		BuildID:     buildID,
	})
	p.mappingLookup[img.LoadAddress] = id
	return id
}

func (p *Profile) internLocationLocked(loc Location) uint32 {
	if id, ok := p.locationLookup[loc.Address]; ok {
		return id
	}
	id := uint32(len(p.locations) + 1)
	p.locations = append(p.locations, loc)
	p.locationLookup[loc.Address] = id
	return id
}

// uuidString formats a 16-byte UUID as uppercase, hyphenated hex,
// matching the original's uuid_string — the build-id format pprof
// consumers for this profile expect. uuid.UUID.String() already
// produces the 8-4-4-4-12 grouping the original's snprintf spells out
// byte by byte; only the casing differs.
func uuidString(u [16]byte) string {
	return strings.ToUpper(uuid.UUID(u).String())
}

// Generation returns this Profile's process-wide construction sequence
// number. Clear does not change it: a generation identifies a
// constructed instance, not its current contents.
func (p *Profile) Generation() uint64 {
	return p.generation
}

// SampleCount returns the number of samples interned so far.
func (p *Profile) SampleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}

// StartTimestampNS and EndTimestampNS return the uptime-clock bounds
// of every sample added so far. Both are zero if no sample has been
// added.
func (p *Profile) StartTimestampNS() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startTimestampNS
}

func (p *Profile) EndTimestampNS() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endTimestampNS
}

// EpochStartNS and EpochEndNS return the same bounds as
// StartTimestampNS/EndTimestampNS converted to wall-clock epoch
// nanoseconds, for callers (pprofenc) that need TimeNanos/
// DurationNanos rather than the sampler's raw uptime clock.
func (p *Profile) EpochStartNS() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startTimestampNS == 0 {
		return 0
	}
	return p.uptimeToEpochNS(p.startTimestampNS)
}

func (p *Profile) EpochEndNS() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.endTimestampNS == 0 {
		return 0
	}
	return p.uptimeToEpochNS(p.endTimestampNS)
}

// Strings, Mappings, Locations and Samples return snapshots of the
// aggregator's interned tables, in the order entries were interned —
// the order pprofenc depends on to reproduce this package's 1-based
// mapping/location IDs by simply handing the tables to
// google/pprof/profile in the same order.
func (p *Profile) Strings() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.strings...)
}

func (p *Profile) Mappings() []Mapping {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Mapping(nil), p.mappings...)
}

func (p *Profile) Locations() []Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Location(nil), p.locations...)
}

func (p *Profile) Samples() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sample(nil), p.samples...)
}

// SamplingIntervalNS returns the nominal sampling interval this
// profile was constructed with.
func (p *Profile) SamplingIntervalNS() uint64 {
	return p.samplingIntervalNS
}

// Clear empties the mapping, location and sample tables and resets the
// timestamp bounds. The string table is kept as it is, so the
// well-known and previously interned strings keep their IDs and the
// next AddSamples reuses them, which is safe since pprofenc always
// rebuilds a fresh *profile.Profile from these tables rather than
// reusing IDs across encodes.
func (p *Profile) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mappings = nil
	p.mappingLookup = make(map[uint64]uint32)
	p.locations = nil
	p.locationLookup = make(map[uint64]uint32)
	p.samples = nil
	p.startTimestampNS = 0
	p.endTimestampNS = 0
}
