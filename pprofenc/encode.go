// Package pprofenc encodes an aggregate.Profile into the gzip-compressed
// pprof wire format, the Go-native equivalent of the original
// profile_pprof_packer: it walks the aggregator's already-deduplicated
// string/mapping/location/sample tables in interning order and hands
// them to google/pprof/profile, whose own Write() assigns wire IDs by
// slice position — exactly the 1-based numbering aggregate.Profile's
// intern_* functions already produced, so no ID remapping is needed.
package pprofenc

import (
	"bytes"
	"fmt"

	"github.com/DataDog/mach-profiler/aggregate"
	"github.com/google/pprof/profile"
)

const (
	sampleTypeName = "wall-time"
	sampleTypeUnit = "nanoseconds"
)

// Encode serializes p as a gzip-compressed pprof profile.
func Encode(p *aggregate.Profile) ([]byte, error) {
	strs := p.Strings()
	mappings := p.Mappings()
	locations := p.Locations()
	samples := p.Samples()

	str := func(id uint32) string {
		if int(id) < len(strs) {
			return strs[id]
		}
		return ""
	}

	pprofMappings := make([]*profile.Mapping, len(mappings))
	for i, m := range mappings {
		pprofMappings[i] = &profile.Mapping{
			ID:      uint64(i + 1),
			Start:   m.MemoryStart,
			File:    str(m.FilenameID),
			BuildID: str(m.BuildID),
		}
	}

	pprofLocations := make([]*profile.Location, len(locations))
	for i, l := range locations {
		loc := &profile.Location{
			ID:      uint64(i + 1),
			Address: l.Address,
		}
		if l.MappingID > 0 && int(l.MappingID) <= len(pprofMappings) {
			loc.Mapping = pprofMappings[l.MappingID-1]
		}
		pprofLocations[i] = loc
	}

	pprofSamples := make([]*profile.Sample, len(samples))
	for i, s := range samples {
		locs := make([]*profile.Location, 0, len(s.LocationIDs))
		for _, id := range s.LocationIDs {
			if id == 0 || int(id) > len(pprofLocations) {
				continue
			}
			locs = append(locs, pprofLocations[id-1])
		}

		label := make(map[string][]string)
		numLabel := make(map[string][]int64)
		numUnit := make(map[string][]string)
		for _, lb := range s.Labels {
			key := str(lb.KeyID)
			if lb.StrID != 0 {
				label[key] = append(label[key], str(lb.StrID))
				continue
			}
			numLabel[key] = append(numLabel[key], lb.Num)
			if lb.NumUnitID != 0 {
				numUnit[key] = append(numUnit[key], str(lb.NumUnitID))
			}
		}

		pprofSamples[i] = &profile.Sample{
			Location: locs,
			Value:    []int64{s.Value},
			Label:    label,
			NumLabel: numLabel,
			NumUnit:  numUnit,
		}
	}

	start := p.EpochStartNS()
	end := p.EpochEndNS()
	var duration int64
	if end > start {
		duration = end - start
	}

	prof := &profile.Profile{
		SampleType:        []*profile.ValueType{{Type: sampleTypeName, Unit: sampleTypeUnit}},
		DefaultSampleType: sampleTypeName,
		Sample:            pprofSamples,
		Mapping:           pprofMappings,
		Location:          pprofLocations,
		PeriodType:        &profile.ValueType{Type: sampleTypeName, Unit: sampleTypeUnit},
		Period:            int64(p.SamplingIntervalNS()),
		TimeNanos:         start,
		DurationNanos:     duration,
	}

	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("pprofenc: built an invalid profile: %w", err)
	}

	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return nil, fmt.Errorf("pprofenc: %w", err)
	}
	return buf.Bytes(), nil
}
