package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/diskcache/keyindex"
	"github.com/alpacahq/diskcache/region"
	"github.com/alpacahq/diskcache/utils/log"
)

const (
	defaultListenURL       = ":8765"
	defaultRegionName      = "default"
	defaultSpoolTimeLimit  = 60
	defaultMaxKeySizeBytes = 10 * bytefmt.MEGABYTE
)

type RegionSetting struct {
	Attributes region.Attributes
	Compress   bool
}

type DiskCacheConfig struct {
	RootDirectory   string
	ListenURL       string
	LogLevel        log.Level
	StopGracePeriod time.Duration
	Regions         []*RegionSetting
}

func (m *DiskCacheConfig) Parse(data []byte) error {
	var aux struct {
		RootDirectory   string `yaml:"root_directory"`
		LogLevel        string `yaml:"log_level"`
		ListenURL       string `yaml:"listen_url"`
		StopGracePeriod int    `yaml:"stop_grace_period"`
		Regions         []struct {
			Name                   string `yaml:"name"`
			MaxKeys                *int   `yaml:"max_keys"`
			DiskLimitType          string `yaml:"disk_limit_type"`
			MaxKeySize             string `yaml:"max_key_size"`
			OptimizeAtRemoveCount  *int   `yaml:"optimize_at_remove_count"`
			OptimizeOnShutdown     string `yaml:"optimize_on_shutdown"`
			ClearDiskOnStartup     bool   `yaml:"clear_disk_on_startup"`
			DeepConsistencyCheck   bool   `yaml:"deep_consistency_check"`
			ShutdownSpoolTimeLimit int    `yaml:"shutdown_spool_time_limit"`
			Compress               bool   `yaml:"compress"`
		} `yaml:"regions"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.RootDirectory == "" {
		log.Error("Invalid root directory.")
		return errors.New("invalid root directory")
	}
	m.RootDirectory = filepath.Clean(aux.RootDirectory)

	m.ListenURL = aux.ListenURL
	if m.ListenURL == "" {
		m.ListenURL = defaultListenURL
	}

	m.LogLevel = log.ParseLevel(aux.LogLevel)
	log.SetLevel(m.LogLevel)

	if aux.StopGracePeriod > 0 {
		m.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	}

	if len(aux.Regions) == 0 {
		log.Info("no region configured, using %q with defaults", defaultRegionName)
		m.Regions = []*RegionSetting{{Attributes: region.DefaultAttributes(defaultRegionName, m.RootDirectory)}}
		return nil
	}

	seen := map[string]bool{}
	m.Regions = nil
	for _, r := range aux.Regions {
		if r.Name == "" {
			return errors.New("region without a name")
		}
		if seen[r.Name] {
			return fmt.Errorf("region %s configured twice", r.Name)
		}
		seen[r.Name] = true

		attrs := region.DefaultAttributes(r.Name, m.RootDirectory)
		limitType, err := keyindex.ParseLimitType(r.DiskLimitType)
		if err != nil {
			return fmt.Errorf("region %s: %w", r.Name, err)
		}
		attrs.DiskLimitType = limitType

		switch limitType {
		case keyindex.Size:
			sizeKB, err := parseSizeKB(r.MaxKeySize)
			if err != nil {
				return fmt.Errorf("region %s: invalid max_key_size %q: %w", r.Name, r.MaxKeySize, err)
			}
			attrs.MaxKeySize = sizeKB
		default:
			if r.MaxKeys != nil {
				attrs.MaxKeySize = *r.MaxKeys
			}
		}
		if r.MaxKeys != nil && *r.MaxKeys < 0 {
			attrs.MaxKeySize = -1
		}

		if r.OptimizeAtRemoveCount != nil {
			attrs.OptimizeAtRemoveCount = *r.OptimizeAtRemoveCount
		}
		if r.OptimizeOnShutdown != "" {
			v, err := strconv.ParseBool(r.OptimizeOnShutdown)
			if err != nil {
				log.Error("Invalid value: %v for optimize_on_shutdown. Optimizing on shutdown...", r.OptimizeOnShutdown)
			} else {
				attrs.OptimizeOnShutdown = v
			}
		}
		attrs.ClearDiskOnStartup = r.ClearDiskOnStartup
		attrs.DeepConsistencyCheck = r.DeepConsistencyCheck

		spool := r.ShutdownSpoolTimeLimit
		if spool <= 0 {
			spool = defaultSpoolTimeLimit
		}
		attrs.ShutdownSpoolTimeLimit = time.Duration(spool) * time.Second

		m.Regions = append(m.Regions, &RegionSetting{Attributes: attrs, Compress: r.Compress})
	}
	return nil
}

// parseSizeKB parses a byte size such as "10MB" into kilobytes.
func parseSizeKB(s string) (int, error) {
	if s == "" {
		return int(defaultMaxKeySizeBytes / bytefmt.KILOBYTE), nil
	}
	b, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, err
	}
	return int(b / bytefmt.KILOBYTE), nil
}
