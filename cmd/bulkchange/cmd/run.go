package cmd

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/G-Research/bulkchange/internal/bulkchange"
	"github.com/G-Research/bulkchange/internal/bulkchange/configuration"
	"github.com/G-Research/bulkchange/internal/common"
	"github.com/G-Research/bulkchange/internal/common/app"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the bulk change wizard and task API",
		RunE:  runCmdE,
	}

	cmd.Flags().String("config", "", "Space separated list of additional config files")

	return cmd
}

func runCmdE(cmd *cobra.Command, _ []string) error {
	var config configuration.BulkChangeConfig

	configValue, err := cmd.Flags().GetString("config")
	if err != nil {
		log.Warnf("Error parsing config flag %v", err)
	}
	var userConfigs []string
	if configValue != "" {
		userConfigs = strings.Split(configValue, " ")
	}
	common.LoadConfig(&config, defaultConfigPath, userConfigs, configuration.CustomHooks...)

	// Cancelled on SIGINT and SIGTERM, which shuts everything down gracefully.
	ctx := app.CreateContextWithShutdown()
	return bulkchange.New(&config).StartUp(ctx)
}
