package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alpacahq/diskcache/region"
)

var namespace = "diskcache"
var subsystem = "region"

var (
	// StartupTime stores how long the startup took (in seconds)
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// TotalDiskUsageBytes stores the disk space allocated to the region files
	TotalDiskUsageBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disk_usage_bytes",
			Help:      "Disk space allocated under the root directory",
		},
	)

	// RegionEventsTotal counts region events partitioned by region and event
	RegionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_total",
		Help:      "Number of region events partitioned by region and event",
	}, []string{"region", "event"})
)

// EventCounter is a region.EventSink feeding a counter vector.
type EventCounter struct {
	Counter *prometheus.CounterVec
}

// NewEventCounter returns a sink counting into RegionEventsTotal.
func NewEventCounter() *EventCounter {
	return &EventCounter{Counter: RegionEventsTotal}
}

func (e *EventCounter) OnEvent(name string, ev region.Event) {
	e.Counter.WithLabelValues(name, ev.String()).Inc()
}

// StatsSource is implemented by *region.Region.
type StatsSource interface {
	Stats() region.Stats
}

// RegionCollector exports the counters of a set of regions.
type RegionCollector struct {
	mu      sync.RWMutex
	regions []StatsSource

	keys           *prometheus.Desc
	dataFileBytes  *prometheus.Desc
	bytesFree      *prometheus.Desc
	recycleBin     *prometheus.Desc
	hits           *prometheus.Desc
	recycled       *prometheus.Desc
	optimizations  *prometheus.Desc
	pendingRemoves *prometheus.Desc
}

func NewRegionCollector() *RegionCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, []string{"region"}, nil)
	}
	return &RegionCollector{
		keys:           desc("keys", "Number of keys in the region index"),
		dataFileBytes:  desc("data_file_bytes", "Logical length of the data file"),
		bytesFree:      desc("free_bytes", "Bytes held by freed records"),
		recycleBin:     desc("recycle_bin_slots", "Number of free slots available for reuse"),
		hits:           desc("hits_total", "Number of successful gets"),
		recycled:       desc("recycled_total", "Number of puts written into a recycled slot"),
		optimizations:  desc("optimizations_total", "Number of data file compactions"),
		pendingRemoves: desc("removes_since_optimization", "Removals and evictions since the last compaction"),
	}
}

// Add registers a region for collection.
func (c *RegionCollector) Add(r StatsSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions = append(c.regions, r)
}

func (c *RegionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.dataFileBytes
	ch <- c.bytesFree
	ch <- c.recycleBin
	ch <- c.hits
	ch <- c.recycled
	ch <- c.optimizations
	ch <- c.pendingRemoves
}

func (c *RegionCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.regions {
		s := r.Stats()
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Region)
		}
		counter := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, s.Region)
		}
		gauge(c.keys, float64(s.KeyCount))
		gauge(c.dataFileBytes, float64(s.DataFileSize))
		gauge(c.bytesFree, float64(s.BytesFree))
		gauge(c.recycleBin, float64(s.RecycleBinSize))
		counter(c.hits, float64(s.HitCount))
		counter(c.recycled, float64(s.RecycleCount))
		counter(c.optimizations, float64(s.TimesOptimized))
		gauge(c.pendingRemoves, float64(s.RemoveCount))
	}
}
