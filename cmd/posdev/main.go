package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "posdev",
	Short: "Positioning device detection tool",
	Long: `Finds GPS/GNSS receivers attached over serial ports or Bluetooth LE and
picks the best one to read from:

- Detect receivers by probing serial ports and nearby BLE devices for NMEA
- Acquire the best detected receiver and follow its navigation data
- List and purge the device cache that speeds up later detections`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("posdev {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(acquireCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(purgeCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
