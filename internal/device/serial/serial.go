// Package serial reaches positioning receivers attached to serial ports.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
)

const DefaultProbeWindow = 5 * time.Second

var (
	DefaultBaudRates = []int{4800, 9600, 38400, 115200}
	DefaultGlobs     = []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
)

// PortOpener opens a port at a baud rate. It is a variable so tests can
// substitute an in-memory port.
var PortOpener = func(path string, baud int) (io.ReadCloser, error) {
	return openPort(path, baud)
}

// PortName returns the platform's name for port number n, used by the
// exhaustive port scan.
func PortName(n int) string {
	return portName(n)
}

// Options configures a SerialDevice.
type Options struct {
	BaudRates        []int
	ProbeWindow      time.Duration
	AllowConnections bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		BaudRates:        DefaultBaudRates,
		ProbeWindow:      DefaultProbeWindow,
		AllowConnections: true,
	}
}

// SerialDevice is a receiver on a serial port. The probe tries each baud
// rate in turn and remembers the one that produced NMEA.
type SerialDevice struct {
	*device.Prober

	opts   Options
	logger *logrus.Logger

	mu     sync.Mutex
	name   string
	baud   int
	stream io.ReadCloser
}

// New creates a device for the port at path. rel seeds the detection
// history.
func New(path string, rel device.Reliability, opts Options, logger *logrus.Logger) *SerialDevice {
	if logger == nil {
		logger = logrus.New()
	}
	if len(opts.BaudRates) == 0 {
		opts.BaudRates = DefaultBaudRates
	}
	if opts.ProbeWindow <= 0 {
		opts.ProbeWindow = DefaultProbeWindow
	}
	d := &SerialDevice{
		opts:   opts,
		logger: logger,
		name:   strings.TrimSpace(path),
	}
	d.Prober = device.NewProber(d, rel, d.probe, logger)
	return d
}

func (d *SerialDevice) Identity() device.Identity {
	return device.Identity{Kind: device.KindSerial, Key: d.Port()}
}

func (d *SerialDevice) Name() string {
	return d.Port()
}

func (d *SerialDevice) Port() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// Rename changes the port name used from the next open on.
func (d *SerialDevice) Rename(port string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = strings.TrimSpace(port)
}

// Baud returns the rate confirmed by the last successful probe, or 0.
func (d *SerialDevice) Baud() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baud
}

func (d *SerialDevice) AllowConnections() bool {
	return d.opts.AllowConnections
}

func (d *SerialDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

// Open opens the port at the confirmed baud rate, or the first configured
// one if the device was never confirmed.
func (d *SerialDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return device.ErrAlreadyOpen
	}
	baud := d.baud
	if baud == 0 {
		baud = d.opts.BaudRates[0]
	}
	stream, err := PortOpener(d.name, baud)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", d.name, err)
	}
	d.stream = stream
	d.logger.WithFields(logrus.Fields{"port": d.name, "baud": baud}).Info("Serial port opened")
	return nil
}

func (d *SerialDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return 0, device.ErrNotOpen
	}
	return stream.Read(p)
}

// Close closes the port. Closing a closed device is not an error.
func (d *SerialDevice) Close() error {
	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}

func (d *SerialDevice) probe(ctx context.Context) error {
	if d.IsOpen() {
		return nil
	}

	path := d.Port()
	var lastErr error
	for _, baud := range d.opts.BaudRates {
		if err := ctx.Err(); err != nil {
			return err
		}
		stream, err := PortOpener(path, baud)
		if err != nil {
			// A missing or busy port will not get better at another rate.
			return fmt.Errorf("failed to open %s: %w", path, err)
		}

		err = device.Sniff(ctx, stream, d.opts.ProbeWindow)
		_ = stream.Close()
		if err == nil {
			d.mu.Lock()
			d.baud = baud
			d.mu.Unlock()
			d.logger.WithFields(logrus.Fields{"port": path, "baud": baud}).Debug("NMEA seen")
			return nil
		}
		if !errors.Is(err, device.ErrNotPositioning) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// Enumerate expands globs into existing port paths, sorted and without
// duplicates.
func Enumerate(globs []string) []string {
	if len(globs) == 0 {
		globs = DefaultGlobs
	}
	var out []string
	for _, g := range globs {
		matches, err := filepath.Glob(g)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				out = append(out, m)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

var _ device.StreamDevice = (*SerialDevice)(nil)
var _ device.PortDevice = (*SerialDevice)(nil)
