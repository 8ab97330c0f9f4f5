package di

import (
	"fmt"

	"github.com/alpacahq/diskcache/region"
	"github.com/alpacahq/diskcache/utils/log"
)

// GetRegions opens every configured region under the absolute root directory.
func (c *Container) GetRegions() ([]*region.Region, error) {
	if c.regions != nil {
		return c.regions, nil
	}

	regions := make([]*region.Region, 0, len(c.config.Regions))
	for _, setting := range c.config.Regions {
		attrs := setting.Attributes
		attrs.RootDirectory = c.GetAbsRootDir()
		r, err := region.Open(attrs, serializerFor(setting), c.GetKeyMatcher(), c.GetEventSink(), c.GetWorker())
		if err != nil {
			for _, opened := range regions {
				opened.Dispose()
			}
			return nil, fmt.Errorf("open region %s: %w", attrs.Name, err)
		}
		c.GetRegionCollector().Add(r)
		regions = append(regions, r)
	}
	c.regions = regions
	return c.regions, nil
}

// GetRegion returns the open region called name.
func (c *Container) GetRegion(name string) (*region.Region, error) {
	regions, err := c.GetRegions()
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		if r.Name() == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("region %s is not configured", name)
}

// Shutdown disposes the open regions and stops the worker.
func (c *Container) Shutdown() {
	for _, r := range c.regions {
		log.Info("disposing region %s...", r.Name())
		r.Dispose()
	}
	if c.worker != nil && !c.worker.Stop(defaultWorkerStopTimeout) {
		log.Warn("background worker did not stop within %v", defaultWorkerStopTimeout)
	}
	log.Sync()
}
