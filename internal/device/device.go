package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the transport a device is reached through.
type Kind string

const (
	KindSerial   Kind = "serial"
	KindWireless Kind = "wireless"
)

// Identity is the stable key used to deduplicate devices.
// Key is the port name for serial devices and the address for wireless ones.
type Identity struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Key  string `json:"key" yaml:"key"`
}

func (i Identity) String() string {
	return string(i.Kind) + ":" + i.Key
}

// Equal reports whether two identities name the same device. Keys compare
// case-insensitively: "COM3:" equals "com3:", "aa:bb" equals "AA:BB".
func (i Identity) Equal(o Identity) bool {
	return i.Kind == o.Kind && strings.EqualFold(i.Key, o.Key)
}

// Reliability is the historical detection record of a device.
type Reliability struct {
	Successes    int       `json:"successes" yaml:"successes"`
	Failures     int       `json:"failures" yaml:"failures"`
	LastDetected time.Time `json:"last_detected,omitempty" yaml:"last_detected,omitempty"`
}

// Score returns the success ratio in [0,1]; devices without history score 0.
func (r Reliability) Score() float64 {
	total := r.Successes + r.Failures
	if total == 0 {
		return 0
	}
	return float64(r.Successes) / float64(total)
}

// Reporter receives the outcome of a probe. Exactly one of the methods is
// called per probe that runs to completion; a canceled probe reports nothing.
// The call happens before the probe's completion signal is set.
type Reporter interface {
	ProbeSucceeded(d Device)
	ProbeFailed(err *DetectionError)
}

// Device is the capability surface every candidate positioning device offers.
type Device interface {
	Identity() Identity
	Name() string

	Open() error
	Close() error
	IsOpen() bool
	AllowConnections() bool

	// BeginDetection starts an asynchronous probe and returns immediately.
	// Calling it while a probe is in flight is a no-op.
	BeginDetection(r Reporter)
	// CancelDetection asks the in-flight probe to stop. It does not wait.
	CancelDetection()
	// Done returns the completion signal of the current (or last) probe.
	// It returns nil if no probe was ever started or the device was disposed.
	Done() *Signal

	Reliability() Reliability
}

// PortDevice is a serial device whose port name can be rewritten between
// detection passes.
type PortDevice interface {
	Device
	Port() string
	Rename(port string)
}

// StreamDevice is a device that exposes its open data stream.
type StreamDevice interface {
	Device
	Read(p []byte) (int, error)
}

// StateError represents an open/close state problem
type StateError struct {
	State string
	Msg   string
}

func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return e.State
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare StateError values by State
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for device states
var (
	ErrNotOpen     = &StateError{State: "not_open"}
	ErrAlreadyOpen = &StateError{State: "already_open"}
	ErrDisposed    = &StateError{State: "disposed"}
)

// Probe errors
var (
	ErrNotPositioning = errors.New("no positioning data received")
	ErrBluetoothOff   = errors.New("bluetooth is turned off")
	ErrUnsupported    = errors.New("unsupported")
)

// DetectionError carries the device that failed along with the cause.
type DetectionError struct {
	Device Device
	Err    error
}

// NewDetectionError wraps err with the offending device. A nil err yields nil.
func NewDetectionError(d Device, err error) *DetectionError {
	if err == nil {
		return nil
	}
	var de *DetectionError
	if errors.As(err, &de) && de.Device == d {
		return de
	}
	return &DetectionError{Device: d, Err: err}
}

func (e *DetectionError) Error() string {
	name := "<unknown device>"
	if e.Device != nil {
		name = e.Device.Name()
	}
	return fmt.Sprintf("device %s: %v", name, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}
