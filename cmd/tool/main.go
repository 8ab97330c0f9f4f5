package tool

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/diskcache/cmd/tool/inspect"
	"github.com/alpacahq/diskcache/cmd/tool/list"
	"github.com/alpacahq/diskcache/cmd/tool/optimize"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified offline tool against region files"
	toolExample   = "diskcache tool inspect [flags]"
)

// Cmd is the tool command.
var Cmd = &cobra.Command{
	Use:        toolUsage,
	Short:      toolShortDesc,
	Long:       toolLongDesc,
	Aliases:    []string{"t"},
	SuggestFor: []string{"inspect", "optimize", "list"},
	Example:    toolExample,
}

func init() {
	Cmd.AddCommand(inspect.Cmd)
	Cmd.AddCommand(optimize.Cmd)
	Cmd.AddCommand(list.Cmd)
}
