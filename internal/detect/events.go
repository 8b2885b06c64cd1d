package detect

import (
	"time"

	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/ringchan"
)

// EventType identifies a detection lifecycle event
type EventType int

const (
	DetectionStarted EventType = iota
	DetectionAttempted
	DetectionAttemptFailed
	DeviceDetected
	DeviceDiscovered
	DetectionCanceled
	DetectionCompleted
)

func (t EventType) String() string {
	switch t {
	case DetectionStarted:
		return "detection_started"
	case DetectionAttempted:
		return "detection_attempted"
	case DetectionAttemptFailed:
		return "detection_attempt_failed"
	case DeviceDetected:
		return "device_detected"
	case DeviceDiscovered:
		return "device_discovered"
	case DetectionCanceled:
		return "detection_canceled"
	case DetectionCompleted:
		return "detection_completed"
	default:
		return "unknown"
	}
}

// Event is a detection lifecycle notification. Device is set for the
// per-device events; Err is set for DetectionAttemptFailed.
type Event struct {
	Type   EventType
	Device device.Device
	Err    *device.DetectionError
	Time   time.Time
}

// Subscribe registers fn for every lifecycle event. Events of one run are
// delivered in causal order; per-device events arrive on probe goroutines,
// so fn must be safe for concurrent use.
func (o *Orchestrator) Subscribe(fn func(Event)) (unsubscribe func()) {
	return o.events.Subscribe(fn)
}

// Events returns a bounded channel subscription and a function that ends it.
func (o *Orchestrator) Events(capacity int) (*ringchan.RingChannel[Event], func()) {
	return o.events.Channel(capacity)
}

func (o *Orchestrator) emit(t EventType, d device.Device, err *device.DetectionError) {
	e := Event{Type: t, Device: d, Err: err, Time: time.Now()}

	entry := o.logger.WithField("event", t.String())
	if d != nil {
		entry = entry.WithField("device", d.Name())
	}
	if err != nil {
		entry = entry.WithError(err.Err)
	}
	entry.Debug("Detection event")

	o.events.Publish(e)
}
