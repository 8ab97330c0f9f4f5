package list

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/diskcache/region"
	"github.com/alpacahq/diskcache/utils/log"
)

const (
	usage   = "list"
	short   = "List the regions stored in a directory"
	long    = "This command lists every region with a data file in the directory, with a summary of its files"
	example = "diskcache tool list --dir <path>"

	rootDirPathDesc = "set filesystem path of the directory containing the region files"
)

var (
	rootDirPath string

	// Cmd is the list command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"ls"},
		Example: example,
		RunE:    executeList,
	}
)

func init() {
	Cmd.Flags().StringVarP(&rootDirPath, "dir", "d", "", rootDirPathDesc)
	_ = Cmd.MarkFlagRequired("dir")
}

func executeList(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	dir := filepath.Clean(rootDirPath)

	names, err := region.NewFinder(os.ReadDir).Find(dir)
	if err != nil {
		return errors.Wrap(err, "failed to list regions")
	}
	for _, name := range names {
		report, err := region.Inspect(dir, name, false)
		if err != nil {
			log.Warn("failed to inspect region %s: %v", name, err)
			continue
		}
		fmt.Println(report.String())
	}
	return nil
}
