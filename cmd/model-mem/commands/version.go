package commands

import "github.com/spf13/cobra"

var Version = "dev"

func newVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Short: "Show the model-mem version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("model-mem version %s\n", Version)
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	return c
}
