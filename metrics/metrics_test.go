package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alpacahq/diskcache/metrics"
	"github.com/alpacahq/diskcache/region"
)

type fixedStats region.Stats

func (f fixedStats) Stats() region.Stats {
	return region.Stats(f)
}

func TestEventCounter(t *testing.T) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "events_total"}, []string{"region", "event"})
	sink := &metrics.EventCounter{Counter: vec}

	sink.OnEvent("quotes", region.EventGet)
	sink.OnEvent("quotes", region.EventGet)
	sink.OnEvent("quotes", region.EventEvict)
	sink.OnEvent("trades", region.EventGet)

	assert.Equal(t, float64(2), testutil.ToFloat64(vec.WithLabelValues("quotes", "get")))
	assert.Equal(t, float64(1), testutil.ToFloat64(vec.WithLabelValues("quotes", "evict")))
	assert.Equal(t, float64(1), testutil.ToFloat64(vec.WithLabelValues("trades", "get")))
}

func TestRegionCollector(t *testing.T) {
	c := metrics.NewRegionCollector()
	c.Add(fixedStats{Region: "quotes", KeyCount: 3, DataFileSize: 4096, TimesOptimized: 2})
	c.Add(fixedStats{Region: "trades", KeyCount: 1})

	// 8 metrics per region
	assert.Equal(t, 16, testutil.CollectAndCount(c))
}
