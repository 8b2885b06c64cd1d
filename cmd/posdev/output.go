package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/posdev/internal/cache"
	"github.com/srg/posdev/internal/detect"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/navstate"
)

var validFormats = []string{"table", "json"}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
}

// deviceView is the printable form of a detected or cached device.
type deviceView struct {
	Kind         device.Kind `json:"kind"`
	Key          string      `json:"key"`
	Name         string      `json:"name"`
	Open         bool        `json:"open"`
	Successes    int         `json:"successes"`
	Failures     int         `json:"failures"`
	LastDetected *time.Time  `json:"last_detected,omitempty"`
}

func viewOf(d device.Device) deviceView {
	id := d.Identity()
	return newView(id, d.Name(), d.IsOpen(), d.Reliability())
}

func viewOfEntry(e cache.Entry) deviceView {
	name := e.Name
	if name == "" {
		name = e.Key
	}
	return newView(e.Identity(), name, false, e.Reliability())
}

func newView(id device.Identity, name string, open bool, rel device.Reliability) deviceView {
	v := deviceView{
		Kind:      id.Kind,
		Key:       id.Key,
		Name:      name,
		Open:      open,
		Successes: rel.Successes,
		Failures:  rel.Failures,
	}
	if !rel.LastDetected.IsZero() {
		t := rel.LastDetected.UTC()
		v.LastDetected = &t
	}
	return v
}

func renderDevices(w io.Writer, views []deviceView, format string) error {
	if format == "json" {
		if views == nil {
			views = []deviceView{}
		}
		b, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode devices: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "No devices.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tDEVICE\tNAME\tOPEN\tOK\tFAILED\tLAST DETECTED")
	for i, v := range views {
		last := "-"
		if v.LastDetected != nil {
			last = v.LastDetected.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%d\t%d\t%s\n",
			i+1, v.Kind, v.Key, v.Name, v.Open, v.Successes, v.Failures, last)
	}
	return tw.Flush()
}

var (
	colorFound    = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorFailed   = color.New(color.FgRed).SprintFunc()
	colorProgress = color.New(color.FgCyan).SprintFunc()
	colorWarning  = color.New(color.FgYellow).SprintFunc()
)

// describeEvent renders a detection event as one line, or "" for events
// that are only shown as progress.
func describeEvent(e detect.Event) string {
	name := ""
	if e.Device != nil {
		name = e.Device.Identity().String()
	}
	switch e.Type {
	case detect.DeviceDiscovered:
		return colorProgress("discovered") + " " + name
	case detect.DetectionAttempted:
		return colorProgress("probing") + "    " + name
	case detect.DetectionAttemptFailed:
		reason := ""
		if e.Err != nil {
			reason = ": " + cause(e.Err.Err)
		}
		return colorFailed("failed") + "     " + name + reason
	case detect.DeviceDetected:
		return colorFound("FOUND") + "      " + name
	case detect.DetectionCanceled:
		return colorWarning("canceled")
	}
	return ""
}

// phaseOf maps detection events to the progress phase they start.
func phaseOf(e detect.Event) string {
	switch e.Type {
	case detect.DetectionStarted:
		return "Starting"
	case detect.DeviceDiscovered:
		return "Discovering"
	case detect.DetectionAttempted, detect.DetectionAttemptFailed, detect.DeviceDetected:
		return "Probing"
	case detect.DetectionCanceled:
		return "Canceling"
	}
	return "Finishing"
}

// describeNavEvent renders a navigation change as one line.
func describeNavEvent(e navstate.Event) string {
	var value string
	switch e.Type {
	case navstate.PositionChanged:
		value = e.Position.String()
	case navstate.AltitudeChanged:
		value = e.Altitude.String()
	case navstate.SpeedChanged:
		value = e.Speed.String()
	case navstate.BearingChanged, navstate.HeadingChanged:
		value = e.Azimuth.String()
	case navstate.UtcTimeChanged:
		value = e.UtcTime.Format(time.RFC3339Nano)
	case navstate.SatellitesChanged:
		prns := make([]string, 0, len(e.Satellites))
		for _, s := range e.Satellites {
			mark := ""
			if s.Fixed {
				mark = "*"
			}
			prns = append(prns, fmt.Sprintf("%d%s", s.PRN, mark))
		}
		value = fmt.Sprintf("%d in view [%s]", len(e.Satellites), strings.Join(prns, " "))
	case navstate.FixLost:
		return colorWarning(e.Type.String())
	case navstate.FixAcquired:
		return colorFound(e.Type.String())
	}
	return fmt.Sprintf("%-18s %s", e.Type, value)
}

func renderSnapshot(w io.Writer, s navstate.Snapshot, format string) error {
	if format == "json" {
		b, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode navigation state: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Position\t%s\n", s.Position)
	fmt.Fprintf(tw, "Altitude\t%s\n", s.Altitude)
	fmt.Fprintf(tw, "Speed\t%s\n", s.Speed)
	fmt.Fprintf(tw, "Bearing\t%s\n", s.Bearing)
	fmt.Fprintf(tw, "Heading\t%s\n", s.Heading)
	if !s.UtcTime.IsZero() {
		fmt.Fprintf(tw, "UTC time\t%s\n", s.UtcTime.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "Satellites\t%d\n", len(s.Satellites))
	return tw.Flush()
}
