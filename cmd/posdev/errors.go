package main

import (
	"errors"

	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/pkg/config"
)

// Command-level errors
var (
	// ErrNoDevice is returned when detection finished without any usable
	// positioning device.
	ErrNoDevice = errors.New("no positioning device found")
)

// FormatUserError turns an error chain into a one-line message for the
// terminal. Known causes get a hint; anything else is printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var verr *config.ValidationError
	var derr *device.DetectionError
	switch {
	case errors.Is(err, ErrNoDevice):
		return "no positioning device found; check that the receiver is connected and powered, or try --exhaustive"
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is off or unavailable; enable it or run with --no-wireless"
	case errors.Is(err, device.ErrUnsupported):
		return "this transport is not supported on this platform"
	case errors.As(err, &verr):
		return "configuration: " + verr.Error()
	case errors.As(err, &derr):
		name := "device"
		if derr.Device != nil {
			name = derr.Device.Name()
		}
		return name + ": " + cause(derr.Err)
	}
	return err.Error()
}

func cause(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, device.ErrNotPositioning):
		return device.ErrNotPositioning.Error()
	}
	return err.Error()
}
