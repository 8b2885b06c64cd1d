package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/posdev/internal/detect"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect positioning devices",
	Long: `Probe known serial ports, host serial ports and nearby Bluetooth LE
devices for NMEA data and list the receivers that answered, best first.

Detected devices are remembered in the device cache so later runs try them
first. Press Ctrl+C to stop early; devices found so far are still listed.`,
	RunE: runDetect,
}

var (
	detectFormat         string
	detectExhaustive     bool
	detectMaxPort        int
	detectTimeout        time.Duration
	detectStopAfterFirst bool
	detectNoSerial       bool
	detectNoWireless     bool
)

func init() {
	detectCmd.Flags().StringVarP(&detectFormat, "format", "f", "table", "Output format (table, json)")
	detectCmd.Flags().BoolVar(&detectExhaustive, "exhaustive", false, "Also probe every port number up to --max-port")
	detectCmd.Flags().IntVar(&detectMaxPort, "max-port", detect.DefaultMaxPortNumber, "Highest port number for the exhaustive scan (0-100)")
	detectCmd.Flags().DurationVarP(&detectTimeout, "timeout", "t", detect.DefaultDetectionTimeout, "Give up detection after this long")
	detectCmd.Flags().BoolVar(&detectStopAfterFirst, "first", false, "Stop as soon as one device is found")
	detectCmd.Flags().BoolVar(&detectNoSerial, "no-serial", false, "Do not probe serial ports")
	detectCmd.Flags().BoolVar(&detectNoWireless, "no-wireless", false, "Do not probe Bluetooth LE devices")
}

// applyDetectFlags overrides configuration with the flags the user set.
func applyDetectFlags(cmd *cobra.Command, det *detect.Orchestrator) error {
	flags := cmd.Flags()
	if flags.Changed("exhaustive") {
		det.SetExhaustivePortScan(detectExhaustive)
	}
	if flags.Changed("max-port") {
		if err := det.SetMaxPortNumber(detectMaxPort); err != nil {
			return err
		}
	}
	if flags.Changed("timeout") {
		if err := det.SetDetectionTimeout(detectTimeout); err != nil {
			return err
		}
	}
	if flags.Changed("first") {
		det.SetStopAfterFirst(detectStopAfterFirst)
	}
	if flags.Changed("no-serial") {
		det.SetAllowSerial(!detectNoSerial)
	}
	if flags.Changed("no-wireless") {
		det.SetAllowWireless(!detectNoWireless)
	}
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	if err := validateFormat(detectFormat); err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := applyDetectFlags(cmd, a.detector); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var eventOut io.Writer
	if detectFormat == "table" {
		eventOut = out
	}
	if err := followDetection(ctx, a.detector, eventOut, eventOut != nil && isTerminal(out)); err != nil {
		return err
	}

	views := make([]deviceView, 0)
	for _, d := range a.detector.Devices() {
		views = append(views, viewOf(d))
	}
	if detectFormat == "table" {
		fmt.Fprintln(out)
	}
	return renderDevices(out, views, detectFormat)
}

// followDetection runs one detection and reports its events until it
// completes. Canceling ctx cancels the run and waits for it to wind down.
func followDetection(ctx context.Context, det *detect.Orchestrator, out io.Writer, interactive bool) error {
	events, unsubscribe := det.Events(256)
	defer unsubscribe()

	var printer *ProgressPrinter
	if interactive {
		printer = NewProgressPrinter(out, "Detecting positioning devices", "Starting")
		printer.Start()
		defer printer.Stop()
	}

	det.BeginDetection()

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			det.CancelDetection(false)
		case e, ok := <-events.C():
			if !ok {
				return nil
			}
			line := describeEvent(e)
			switch {
			case printer != nil:
				printer.SetPhase(phaseOf(e))
				if line != "" && e.Type != detect.DetectionAttempted {
					printer.Println(line)
				}
			case line != "" && out != nil:
				fmt.Fprintln(out, line)
			}
			if e.Type == detect.DetectionCompleted {
				return nil
			}
		}
	}
}
