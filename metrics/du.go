package metrics

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alpacahq/diskcache/utils/log"
)

// Setter is an interface for prometheus metrics to improve unit-testability.
type Setter interface {
	Set(m float64)
}

// StartDiskUsageMonitor retrieves the total disk usage of the provided directory at each provided time interval,
// and set it as a prometheus metric.  It returns when stop is closed.
func StartDiskUsageMonitor(s Setter, rootDir string, interval time.Duration, stop <-chan struct{}) {
	s.Set(float64(diskUsage(rootDir)))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Set(float64(diskUsage(rootDir)))
		case <-stop:
			return
		}
	}
}

// stat blocks are 512 bytes regardless of the file system block size
const statBlockSize = 512

func diskUsage(path string) int64 {
	var totalSize int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		// compaction truncates data files but freed slots inside a file stay
		// allocated, so the allocated blocks are reported, not the file size.
		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			log.Error("failed to get Stat_t for %s", filePath)
			totalSize += info.Size()
			return nil
		}
		totalSize += stat.Blocks * statBlockSize
		return nil
	})
	if err != nil {
		log.Error("get the disk usage of %s for monitoring: %v", path, err)
	}
	return totalSize
}
