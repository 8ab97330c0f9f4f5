package region

import (
	"time"

	"github.com/alpacahq/diskcache/keyindex"
)

const (
	defaultMaxKeySize             = 5000
	defaultShutdownSpoolTimeLimit = 60 * time.Second
)

// Attributes configures one region.
type Attributes struct {
	Name          string
	RootDirectory string
	// MaxKeySize bounds the key index: a number of entries with the Count
	// limit type, kilobytes with Size.  A negative value disables eviction.
	MaxKeySize    int
	DiskLimitType keyindex.LimitType
	// OptimizeAtRemoveCount triggers a compaction after that many removals
	// and evictions.  Zero or less disables real time optimization.
	OptimizeAtRemoveCount int
	OptimizeOnShutdown    bool
	ClearDiskOnStartup    bool
	// DeepConsistencyCheck also checks records for overlaps at startup.  The
	// check is always deep when the key file was not closed cleanly.
	DeepConsistencyCheck   bool
	ShutdownSpoolTimeLimit time.Duration
}

// DefaultAttributes returns the attributes used when a region is not
// configured otherwise.
func DefaultAttributes(name, rootDir string) Attributes {
	return Attributes{
		Name:                   name,
		RootDirectory:          rootDir,
		MaxKeySize:             defaultMaxKeySize,
		DiskLimitType:          keyindex.Count,
		OptimizeAtRemoveCount:  -1,
		OptimizeOnShutdown:     true,
		ShutdownSpoolTimeLimit: defaultShutdownSpoolTimeLimit,
	}
}

func (a Attributes) realTimeOptimization() bool {
	return a.OptimizeAtRemoveCount > 0
}
