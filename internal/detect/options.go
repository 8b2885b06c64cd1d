package detect

import (
	"fmt"
	"time"

	"github.com/srg/posdev/internal/device"
)

const (
	DefaultDetectionTimeout = 20 * time.Minute
	DefaultMaxPortNumber    = 20
	MaxPortNumberLimit      = 100
)

// Options configures an Orchestrator.
type Options struct {
	AllowSerial   bool
	AllowWireless bool

	// ExhaustivePortScan probes every port from 0 to MaxPortNumber in
	// addition to the known serial candidates.
	ExhaustivePortScan bool
	MaxPortNumber      int

	// DetectionTimeout bounds a whole run; it must be positive.
	DetectionTimeout time.Duration

	// StopAfterFirst cancels the run as soon as one device is confirmed.
	StopAfterFirst bool

	// PortName maps a port number to a port name for the exhaustive scan.
	// The default yields "COM<n>:".
	PortName func(n int) string

	Comparator device.Comparator
}

// DefaultOptions returns options with both transports enabled.
func DefaultOptions() Options {
	return Options{
		AllowSerial:      true,
		AllowWireless:    true,
		MaxPortNumber:    DefaultMaxPortNumber,
		DetectionTimeout: DefaultDetectionTimeout,
	}
}

func defaultPortName(n int) string {
	return fmt.Sprintf("COM%d:", n)
}

// OptionError reports an option value rejected at assignment.
type OptionError struct {
	Option string
	Value  any
	Reason string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Option, e.Value, e.Reason)
}

// ValidateDetectionTimeout rejects non-positive budgets.
func ValidateDetectionTimeout(d time.Duration) error {
	if d <= 0 {
		return &OptionError{Option: "detection timeout", Value: d, Reason: "must be greater than zero"}
	}
	return nil
}

// ValidateMaxPortNumber rejects port bounds outside 0..100.
func ValidateMaxPortNumber(n int) error {
	if n < 0 || n > MaxPortNumberLimit {
		return &OptionError{Option: "maximum port number", Value: n, Reason: fmt.Sprintf("must be between 0 and %d", MaxPortNumberLimit)}
	}
	return nil
}

// Validate checks every option that has a constrained range.
func (o Options) Validate() error {
	if err := ValidateDetectionTimeout(o.DetectionTimeout); err != nil {
		return err
	}
	return ValidateMaxPortNumber(o.MaxPortNumber)
}

func (o Options) withDefaults() Options {
	if o.PortName == nil {
		o.PortName = defaultPortName
	}
	if o.Comparator == nil {
		o.Comparator = device.BestDeviceComparator
	}
	return o
}
