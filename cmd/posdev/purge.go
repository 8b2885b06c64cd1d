package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Forget all detected devices",
	Long: `Remove the device cache. The next detection starts from the serial ports
present on the host and from Bluetooth LE discovery only.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func runPurge(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true

	if err := a.detector.Undetect(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "Device cache purged.")
	return err
}
