package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/posdev/internal/detect"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/navstate"
	"github.com/srg/posdev/internal/testutils"
	"github.com/srg/posdev/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestFormatUserError(t *testing.T) {
	gps := testutils.NewFakeDevice(device.KindSerial, "/dev/ttyUSB0")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "no device", err: ErrNoDevice, want: "no positioning device found; check that the receiver is connected and powered, or try --exhaustive"},
		{name: "bluetooth off", err: fmt.Errorf("scan: %w", device.ErrBluetoothOff), want: "Bluetooth is off or unavailable; enable it or run with --no-wireless"},
		{name: "validation", err: &config.ValidationError{Field: "max_port_number", Value: 101, Reason: "must be between 0 and 100"}, want: "configuration: invalid max_port_number 101: must be between 0 and 100"},
		{name: "detection", err: device.NewDetectionError(gps, errors.New("permission denied")), want: "/dev/ttyUSB0: permission denied"},
		{name: "not positioning", err: device.NewDetectionError(gps, fmt.Errorf("%w within 5s", device.ErrNotPositioning)), want: "/dev/ttyUSB0: no positioning data received"},
		{name: "other", err: errors.New("boom"), want: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    logrus.Level
		wantErr bool
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "log level flag", args: []string{"--log-level", "warn"}, want: logrus.WarnLevel},
		{name: "verbose", args: []string{"--verbose"}, want: logrus.DebugLevel},
		{name: "log level wins over verbose", args: []string{"--verbose", "--log-level", "error"}, want: logrus.ErrorLevel},
		{name: "config level", args: []string{"--config", "posdev.yaml"}, want: logrus.InfoLevel},
		{name: "invalid level", args: []string{"--log-level", "trace"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			cmd.Flags().String("log-level", "", "")
			cmd.Flags().Bool("verbose", false, "")
			cmd.Flags().String("config", "", "")
			require.NoError(t, cmd.ParseFlags(tt.args))

			logger, err := configureLogger(cmd, "verbose", config.DefaultConfig())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestDescribeEvent(t *testing.T) {
	gps := testutils.NewFakeDevice(device.KindSerial, "COM3")
	failure := device.NewDetectionError(gps, fmt.Errorf("%w within 5s", device.ErrNotPositioning))

	tests := []struct {
		event detect.Event
		want  string
		phase string
	}{
		{event: detect.Event{Type: detect.DetectionStarted}, want: "", phase: "Starting"},
		{event: detect.Event{Type: detect.DetectionAttempted, Device: gps}, want: "probing    serial:COM3", phase: "Probing"},
		{event: detect.Event{Type: detect.DetectionAttemptFailed, Device: gps, Err: failure}, want: "failed     serial:COM3: no positioning data received", phase: "Probing"},
		{event: detect.Event{Type: detect.DeviceDetected, Device: gps}, want: "FOUND      serial:COM3", phase: "Probing"},
		{event: detect.Event{Type: detect.DetectionCanceled}, want: "canceled", phase: "Canceling"},
		{event: detect.Event{Type: detect.DetectionCompleted}, want: "", phase: "Finishing"},
	}

	for _, tt := range tests {
		t.Run(tt.event.Type.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, describeEvent(tt.event))
			assert.Equal(t, tt.phase, phaseOf(tt.event))
		})
	}
}

func TestDescribeNavEvent(t *testing.T) {
	assert.Equal(t, "position_changed   53.361337,-6.505620",
		describeNavEvent(navstate.Event{Type: navstate.PositionChanged, Position: navstate.Position{Latitude: 53.361337, Longitude: -6.50562}}))
	assert.Equal(t, "satellites_changed 2 in view [4* 31]",
		describeNavEvent(navstate.Event{Type: navstate.SatellitesChanged, Satellites: []navstate.Satellite{{PRN: 4, Fixed: true}, {PRN: 31}}}))
	assert.Equal(t, "fix_lost", describeNavEvent(navstate.Event{Type: navstate.FixLost}))
}

func TestRenderDevicesTable(t *testing.T) {
	var buf bytes.Buffer
	detected := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	views := []deviceView{
		newView(device.Identity{Kind: device.KindSerial, Key: "/dev/ttyUSB0"}, "/dev/ttyUSB0", true, device.Reliability{Successes: 2, LastDetected: detected}),
		newView(device.Identity{Kind: device.KindWireless, Key: "AA:BB"}, "GNSS", false, device.Reliability{Failures: 1}),
	}

	require.NoError(t, renderDevices(&buf, views, "table"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "#"))
	assert.Contains(t, lines[1], "2024-05-01T12:00:00Z")
	assert.Contains(t, lines[2], "wireless")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}

type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return copy(p, c), nil
}

func TestCopyStreamWritesWholeLines(t *testing.T) {
	var out bytes.Buffer
	r := &chunkReader{chunks: []string{"$GPHDT,27", "", "4.07,T*03\r\n$GPG", "SA"}}

	require.NoError(t, copyStream(context.Background(), r, &out))
	assert.Equal(t, "$GPHDT,274.07,T*03\r\n$GPGSA\n", out.String())
}
