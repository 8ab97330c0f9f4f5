package start

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alpacahq/diskcache/internal/di"
	"github.com/alpacahq/diskcache/metrics"
	"github.com/alpacahq/diskcache/utils"
	"github.com/alpacahq/diskcache/utils/log"
)

const (
	usage                 = "start"
	short                 = "Start the disk cache regions"
	long                  = "This command opens the configured disk cache regions and serves their metrics"
	example               = "diskcache start --config <path>"
	defaultConfigFilePath = "./diskcache.yml"
	configDesc            = "set the path for the diskcache YAML configuration file"

	diskUsageMonitorInterval = 10 * time.Minute
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read configuration file %s", configFilePath)
	}

	// Don't output command usage if args(=only the filepath to diskcache.yml at the moment) are correct
	cmd.SilenceUsage = true

	log.Info("using %v for configuration", configFilePath)

	var config utils.DiskCacheConfig
	if err := config.Parse(data); err != nil {
		return errors.Wrap(err, "failed to parse configuration file")
	}

	c := di.NewContainer(&config)

	log.Info("initializing regions...")
	start := time.Now()
	regions, err := c.GetRegions()
	if err != nil {
		return errors.Wrap(err, "failed to open regions")
	}
	prometheus.MustRegister(c.GetRegionCollector())

	stopMonitor := make(chan struct{})
	go metrics.StartDiskUsageMonitor(metrics.TotalDiskUsageBytes, c.GetAbsRootDir(), diskUsageMonitorInterval, stopMonitor)

	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s, %d regions", startupTime, len(regions))

	// Set monitoring handler.
	log.Info("launching prometheus metrics server...")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: config.ListenURL, Handler: mux}

	// Spawn a goroutine and listen for a signal.
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	done := make(chan struct{})
	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 request")
				if err2 := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err2 != nil {
					log.Error("failed to write goroutine pprof: %v", err2)
				}
			case syscall.SIGUSR2:
				for _, r := range regions {
					fmt.Print(r.Stats().String())
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("initiating graceful shutdown due to '%v' request", s)
				log.Info("waiting a grace period of %v to shutdown...", config.StopGracePeriod)
				time.Sleep(config.StopGracePeriod)
				close(stopMonitor)
				c.Shutdown()
				_ = server.Close()
				close(done)
				return
			}
		}
	}()
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.Shutdown()
		return errors.Wrap(err, "failed to start server")
	}
	<-done
	log.Info("exiting...")
	return nil
}
