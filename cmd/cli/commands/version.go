package commands

import (
	"github.com/gemmars/model-compiler/cmd/cli/commands/completion"
	"github.com/spf13/cobra"
)

var Version = "dev"

func newVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Short: "Show the model compiler version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("grmd version %s\n", Version)
		},
		ValidArgsFunction: completion.NoComplete,
	}
	return c
}
