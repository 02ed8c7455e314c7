package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "Launch the graphical console",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.New("the GUI is not available in this build; run `orchestrator broker` and use `orchestrator watch` or the HTTP API")
	},
}

func init() {
	rootCmd.AddCommand(guiCmd)
}
