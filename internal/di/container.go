package di

import (
	"os"
	"path/filepath"
	"time"

	"github.com/alpacahq/diskcache/codec"
	"github.com/alpacahq/diskcache/keymatch"
	"github.com/alpacahq/diskcache/metrics"
	"github.com/alpacahq/diskcache/region"
	"github.com/alpacahq/diskcache/utils"
	"github.com/alpacahq/diskcache/utils/log"
	"github.com/alpacahq/diskcache/worker"
)

const defaultWorkerStopTimeout = 60 * time.Second

type Container struct {
	config     *utils.DiskCacheConfig
	absRootDir string
	worker     *worker.Worker
	sink       *metrics.EventCounter
	collector  *metrics.RegionCollector
	matcher    keymatch.Matcher
	regions    []*region.Region
}

func NewContainer(cfg *utils.DiskCacheConfig) *Container {
	return &Container{config: cfg}
}

func (c *Container) GetAbsRootDir() string {
	if c.absRootDir != "" {
		return c.absRootDir
	}
	relRootDir := c.config.RootDirectory

	// rootDir is the absolute path to the data directory.
	// e.g. rootDir = "/project/diskcache/data"
	rootDir, err := filepath.Abs(filepath.Clean(relRootDir))
	if err != nil {
		log.Error("Cannot take absolute path of root directory %s", err.Error())
	} else {
		log.Info("Root Directory: %s", rootDir)
		const ownerGroupAll = 0o770
		err = os.Mkdir(rootDir, ownerGroupAll)
		if err != nil && !os.IsExist(err) {
			log.Error("Could not create root directory: %s", err.Error())
			panic(err)
		}
	}
	c.absRootDir = rootDir
	return c.absRootDir
}

// GetWorker returns the background worker running compactions.
func (c *Container) GetWorker() *worker.Worker {
	if c.worker != nil {
		return c.worker
	}
	c.worker = worker.New("diskcache-optimizer")
	return c.worker
}

func (c *Container) GetEventSink() *metrics.EventCounter {
	if c.sink != nil {
		return c.sink
	}
	c.sink = metrics.NewEventCounter()
	return c.sink
}

func (c *Container) GetRegionCollector() *metrics.RegionCollector {
	if c.collector != nil {
		return c.collector
	}
	c.collector = metrics.NewRegionCollector()
	return c.collector
}

func (c *Container) GetKeyMatcher() keymatch.Matcher {
	if c.matcher != nil {
		return c.matcher
	}
	c.matcher = keymatch.NewGlobMatcher([]rune(region.NameDelimiter)...)
	return c.matcher
}

func serializerFor(setting *utils.RegionSetting) codec.Serializer {
	if setting.Compress {
		return codec.NewCompressing(codec.MsgPack{})
	}
	return codec.MsgPack{}
}
