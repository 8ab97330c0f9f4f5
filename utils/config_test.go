package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/diskcache/keyindex"
	"github.com/alpacahq/diskcache/utils"
	"github.com/alpacahq/diskcache/utils/log"
)

const fullConfig = `
root_directory: /tmp/diskcache
log_level: debug
listen_url: ":9000"
stop_grace_period: 5
regions:
  - name: quotes
    max_keys: 100
    optimize_at_remove_count: 50
    optimize_on_shutdown: false
    deep_consistency_check: true
    shutdown_spool_time_limit: 10
  - name: blobs
    disk_limit_type: size
    max_key_size: 2MB
    compress: true
  - name: unbounded
    max_keys: -1
`

func TestParseConfig(t *testing.T) {
	var cfg utils.DiskCacheConfig
	require.Nil(t, cfg.Parse([]byte(fullConfig)))
	defer log.SetLevel(log.INFO)

	assert.Equal(t, "/tmp/diskcache", cfg.RootDirectory)
	assert.Equal(t, ":9000", cfg.ListenURL)
	assert.Equal(t, log.DEBUG, cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.StopGracePeriod)
	require.Len(t, cfg.Regions, 3)

	quotes := cfg.Regions[0].Attributes
	assert.Equal(t, "quotes", quotes.Name)
	assert.Equal(t, "/tmp/diskcache", quotes.RootDirectory)
	assert.Equal(t, 100, quotes.MaxKeySize)
	assert.Equal(t, keyindex.Count, quotes.DiskLimitType)
	assert.Equal(t, 50, quotes.OptimizeAtRemoveCount)
	assert.False(t, quotes.OptimizeOnShutdown)
	assert.True(t, quotes.DeepConsistencyCheck)
	assert.Equal(t, 10*time.Second, quotes.ShutdownSpoolTimeLimit)
	assert.False(t, cfg.Regions[0].Compress)

	blobs := cfg.Regions[1].Attributes
	assert.Equal(t, keyindex.Size, blobs.DiskLimitType)
	assert.Equal(t, 2048, blobs.MaxKeySize)
	assert.Equal(t, -1, blobs.OptimizeAtRemoveCount)
	assert.True(t, blobs.OptimizeOnShutdown)
	assert.Equal(t, 60*time.Second, blobs.ShutdownSpoolTimeLimit)
	assert.True(t, cfg.Regions[1].Compress)

	assert.Equal(t, -1, cfg.Regions[2].Attributes.MaxKeySize)
}

func TestParseConfigDefaults(t *testing.T) {
	var cfg utils.DiskCacheConfig
	require.Nil(t, cfg.Parse([]byte("root_directory: data/")))

	assert.Equal(t, "data", cfg.RootDirectory)
	assert.Equal(t, ":8765", cfg.ListenURL)
	require.Len(t, cfg.Regions, 1)
	attrs := cfg.Regions[0].Attributes
	assert.Equal(t, "default", attrs.Name)
	assert.Equal(t, 5000, attrs.MaxKeySize)
	assert.Equal(t, keyindex.Count, attrs.DiskLimitType)
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string]struct {
		config string
	}{
		"no root directory":   {config: "log_level: info"},
		"unknown limit type":  {config: "root_directory: x\nregions:\n  - name: a\n    disk_limit_type: weight"},
		"bad size":            {config: "root_directory: x\nregions:\n  - name: a\n    disk_limit_type: size\n    max_key_size: lots"},
		"duplicate region":    {config: "root_directory: x\nregions:\n  - name: a\n  - name: a"},
		"region without name": {config: "root_directory: x\nregions:\n  - max_keys: 3"},
		"not yaml":            {config: "root_directory: [x"},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			var cfg utils.DiskCacheConfig
			assert.NotNil(t, cfg.Parse([]byte(tt.config)))
		})
	}
}
