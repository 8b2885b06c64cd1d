package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/posdev/internal/cache"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List cached devices",
	Long:  `List the devices remembered from earlier detections, in the order they were first detected.`,
	RunE:  runDevices,
}

var devicesFormat string

func init() {
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "Output format (table, json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	if err := validateFormat(devicesFormat); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	registry, err := cache.Open(cfg.CachePath, logger)
	if err != nil {
		return err
	}
	views := make([]deviceView, 0)
	for _, e := range registry.Entries("") {
		views = append(views, viewOfEntry(e))
	}
	return renderDevices(cmd.OutOrStdout(), views, devicesFormat)
}

