package optimize

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/diskcache/region"
	"github.com/alpacahq/diskcache/worker"
)

const (
	usage   = "optimize"
	short   = "Compact the data file of a region"
	long    = "This command opens a region that is not in use, compacts its data file and closes it again"
	example = "diskcache tool optimize --dir <path> --region <name>"

	rootDirPathDesc = "set filesystem path of the directory containing the region files"
	regionDesc      = "set the name of the region to compact"
)

var (
	rootDirPath string
	regionName  string

	// Cmd is the optimize command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"compact"},
		Example: example,
		RunE:    executeOptimize,
	}
)

func init() {
	Cmd.Flags().StringVarP(&rootDirPath, "dir", "d", "", rootDirPathDesc)
	Cmd.Flags().StringVarP(&regionName, "region", "r", "", regionDesc)
	_ = Cmd.MarkFlagRequired("dir")
	_ = Cmd.MarkFlagRequired("region")
}

func executeOptimize(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	attrs := region.DefaultAttributes(regionName, filepath.Clean(rootDirPath))
	// keep every key on load
	attrs.MaxKeySize = -1
	attrs.OptimizeOnShutdown = false
	attrs.DeepConsistencyCheck = true

	w := worker.New("optimize-tool")
	defer w.Stop(attrs.ShutdownSpoolTimeLimit)
	r, err := region.Open(attrs, nil, nil, nil, w)
	if err != nil {
		return errors.Wrapf(err, "failed to open region %s", regionName)
	}
	defer r.Dispose()

	before := r.DataFileSize()
	r.Optimize()
	fmt.Printf("%s: data file %d -> %d bytes\n", regionName, before, r.DataFileSize())
	fmt.Print(r.Stats().String())
	return nil
}
