package inspect

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/diskcache/region"
)

const (
	usage   = "inspect"
	short   = "Check a region's key file against its data file"
	long    = "This command checks every record of a region without modifying its files"
	example = "diskcache tool inspect --dir <path> --region <name> [--deep]"

	rootDirPathDesc = "set filesystem path of the directory containing the region files"
	regionDesc      = "set the name of the region to inspect"
	deepDesc        = "also look for overlapping records, default is false"
)

var (
	rootDirPath string
	regionName  string
	deep        bool

	// Cmd is the inspect command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"check"},
		Example: example,
		RunE:    executeInspect,
	}
)

func init() {
	Cmd.Flags().StringVarP(&rootDirPath, "dir", "d", "", rootDirPathDesc)
	Cmd.Flags().StringVarP(&regionName, "region", "r", "", regionDesc)
	Cmd.Flags().BoolVar(&deep, "deep", false, deepDesc)
	_ = Cmd.MarkFlagRequired("dir")
	_ = Cmd.MarkFlagRequired("region")
}

func executeInspect(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	report, err := region.Inspect(filepath.Clean(rootDirPath), regionName, deep)
	if err != nil {
		return errors.Wrapf(err, "failed to inspect region %s", regionName)
	}
	fmt.Println(report.String())
	if report.Problem != nil {
		return errors.Errorf("region %s is inconsistent", regionName)
	}
	return nil
}
