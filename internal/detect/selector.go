package detect

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
)

// IsStreamNeeded reports whether some caller is inside Acquire and waiting
// for a live source.
func (o *Orchestrator) IsStreamNeeded() bool {
	return o.streamNeeded.Load() > 0
}

// Acquire returns a usable, open device.
//
// Already open devices are preferred, then the ranked devices are opened in
// turn, and as a last resort a fresh detection run is awaited and opening is
// retried. It returns (nil, nil) when no device exists and a
// *device.DetectionError carrying the last failure when every open attempt
// failed.
func (o *Orchestrator) Acquire(ctx context.Context) (device.Device, error) {
	o.streamNeeded.Add(1)
	defer o.streamNeeded.Add(-1)

	if !o.catalog.IsAnyConfirmed() {
		o.BeginDetection()
		if !o.waitForDevice(ctx, 0) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			o.logger.Info("No positioning device found")
			return nil, nil
		}
	}

	ranked := o.catalog.Rank()
	for _, d := range ranked {
		if d.IsOpen() {
			o.logger.WithField("device", d.Name()).Debug("Reusing open device")
			return d, nil
		}
	}

	var last *device.DetectionError
	if d := o.openFirst(ranked, &last, 2); d != nil {
		return d, nil
	}

	o.logger.Info("No device could be opened, detecting again")
	o.BeginDetection()
	o.waitForDetection(ctx, 0)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d := o.openFirst(o.catalog.Rank(), &last, 3); d != nil {
		return d, nil
	}

	if last != nil {
		return nil, last
	}
	return nil, nil
}

func (o *Orchestrator) openFirst(ranked []device.Device, last **device.DetectionError, pass int) device.Device {
	for _, d := range ranked {
		if !d.AllowConnections() {
			continue
		}
		err := d.Open()
		if err == nil {
			o.logger.WithFields(logrus.Fields{"device": d.Name(), "pass": pass}).Info("Device opened")
			return d
		}
		_ = d.Close()
		*last = device.NewDetectionError(d, err)
		o.logger.WithFields(logrus.Fields{"device": d.Name(), "pass": pass}).WithError(err).Warn("Failed to open device")
	}
	return nil
}
