package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/bulkchange/internal/common"
)

const defaultConfigPath = "./config/bulkchange"

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulkchange",
		Short: "bulkchange applies edits, moves, transitions and deletes to many issues at once",
	}
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	cmd.AddCommand(
		runCmd(),
	)

	return cmd
}
