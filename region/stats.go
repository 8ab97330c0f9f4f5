package region

import (
	"fmt"
	"strings"
	"sync/atomic"

	"code.cloudfoundry.org/bytefmt"
)

// Stats is a point in time view of a region.
type Stats struct {
	Region                string
	Alive                 bool
	KeyCount              int
	DataFileSize          int64
	MaxKeySize            int
	DiskLimitType         string
	HitCount              int64
	BytesFree             int64
	OptimizeAtRemoveCount int
	TimesOptimized        int64
	RecycleCount          int64
	RecycleBinSize        int
	StartupSize           int
	RemoveCount           int64
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Region:                   %s\n", s.Region)
	fmt.Fprintf(&b, "Alive:                    %v\n", s.Alive)
	fmt.Fprintf(&b, "Key Count:                %d\n", s.KeyCount)
	fmt.Fprintf(&b, "Data File Size:           %s\n", bytefmt.ByteSize(uint64(s.DataFileSize)))
	fmt.Fprintf(&b, "Max Key Size:             %d (%s)\n", s.MaxKeySize, s.DiskLimitType)
	fmt.Fprintf(&b, "Hit Count:                %d\n", s.HitCount)
	fmt.Fprintf(&b, "Bytes Free:               %s\n", bytefmt.ByteSize(uint64(s.BytesFree)))
	fmt.Fprintf(&b, "Optimize At Remove Count: %d\n", s.OptimizeAtRemoveCount)
	fmt.Fprintf(&b, "Times Optimized:          %d\n", s.TimesOptimized)
	fmt.Fprintf(&b, "Recycle Count:            %d\n", s.RecycleCount)
	fmt.Fprintf(&b, "Recycle Bin Size:         %d\n", s.RecycleBinSize)
	fmt.Fprintf(&b, "Startup Size:             %d\n", s.StartupSize)
	fmt.Fprintf(&b, "Remove Count:             %d\n", s.RemoveCount)
	return b.String()
}

// BytesFree returns the bytes held by freed records not yet reclaimed.
func (r *Region) BytesFree() int64 {
	return atomic.LoadInt64(&r.bytesFree)
}

// RecycleCount returns how many puts reused a freed slot.
func (r *Region) RecycleCount() int64 {
	return atomic.LoadInt64(&r.recycleCount)
}

func (r *Region) TimesOptimized() int64 {
	return atomic.LoadInt64(&r.timesOptimized)
}

func (r *Region) RemoveCount() int64 {
	return atomic.LoadInt64(&r.removeCount)
}

func (r *Region) RecycleBinSize() int {
	return r.bin.Len()
}

// DataFileSize returns the logical length of the data file.
func (r *Region) DataFileSize() int64 {
	return r.dataFile.Length()
}

// Stats collects the counters of the region.
func (r *Region) Stats() Stats {
	return Stats{
		Region:                r.name,
		Alive:                 r.Alive(),
		KeyCount:              r.Size(),
		DataFileSize:          r.DataFileSize(),
		MaxKeySize:            r.attrs.MaxKeySize,
		DiskLimitType:         r.attrs.DiskLimitType.String(),
		HitCount:              atomic.LoadInt64(&r.hitCount),
		BytesFree:             r.BytesFree(),
		OptimizeAtRemoveCount: r.attrs.OptimizeAtRemoveCount,
		TimesOptimized:        r.TimesOptimized(),
		RecycleCount:          r.RecycleCount(),
		RecycleBinSize:        r.RecycleBinSize(),
		StartupSize:           r.startupSize,
		RemoveCount:           r.RemoveCount(),
	}
}
