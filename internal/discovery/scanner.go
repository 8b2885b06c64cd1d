// Package discovery finds BLE positioning receivers for the detector.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/device/goble"
)

// Sighting is one advertisement, reduced to what discovery needs.
type Sighting struct {
	Address     string
	Name        string
	Services    []blelib.UUID
	Connectable bool
	RSSI        int
}

// Scanner is the radio side of discovery.
type Scanner interface {
	Scan(ctx context.Context, handler func(Sighting)) error
}

// bleScanner wraps ble.Device to implement the Scanner interface
type bleScanner struct {
	dev blelib.Device
}

// Scan converts each ble.Advertisement into a Sighting
func (s *bleScanner) Scan(ctx context.Context, handler func(Sighting)) error {
	return goble.NormalizeError(s.dev.Scan(ctx, false, func(adv blelib.Advertisement) {
		handler(Sighting{
			Address:     adv.Addr().String(),
			Name:        adv.LocalName(),
			Services:    adv.Services(),
			Connectable: adv.Connectable(),
			RSSI:        adv.RSSI(),
		})
	}))
}

// ScannerFactory creates the Scanner used by Discover.
// This is a variable so that it can be overridden in tests.
var ScannerFactory = func() (Scanner, error) {
	dev, err := goble.SharedDevice()
	if err != nil {
		return nil, err
	}
	return &bleScanner{dev: dev}, nil
}

// DeviceFactory turns a sighting into a candidate device.
type DeviceFactory func(s Sighting) device.Device

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration     time.Duration
	ServiceUUIDs []blelib.UUID
	AllowList    []string
	BlockList    []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 10 * time.Second,
	}
}

// Discoverer scans for receivers and reports each address once per scan.
type Discoverer struct {
	opts      *ScanOptions
	newDevice DeviceFactory
	devices   *hashmap.Map[string, device.Device]
	logger    *logrus.Logger
}

// New creates a Discoverer. newDevice builds the device handed to the
// detector for every first sighting of an address.
func New(opts *ScanOptions, newDevice DeviceFactory, logger *logrus.Logger) *Discoverer {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Discoverer{
		opts:      opts,
		newDevice: newDevice,
		devices:   hashmap.New[string, device.Device](),
		logger:    logger,
	}
}

// Available reports whether a BLE adapter can be obtained.
func (d *Discoverer) Available() bool {
	if _, err := ScannerFactory(); err != nil {
		d.logger.WithError(err).Debug("BLE unavailable")
		return false
	}
	return true
}

// Discover scans for the configured duration or until ctx is done. It
// returns once the scan has stopped.
func (d *Discoverer) Discover(ctx context.Context, found func(device.Device)) error {
	scanner, err := ScannerFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	d.devices = hashmap.New[string, device.Device]()
	if d.opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Duration)
		defer cancel()
	}

	d.logger.WithField("duration", d.opts.Duration).Info("Starting BLE scan...")
	err = scanner.Scan(ctx, func(s Sighting) {
		d.handleSighting(s, found)
	})
	d.logger.WithField("device_count", d.devices.Len()).Info("BLE scan completed")

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (d *Discoverer) handleSighting(s Sighting, found func(device.Device)) {
	key := strings.ToUpper(s.Address)
	if _, existing := d.devices.Get(key); existing {
		return
	}
	if !d.shouldInclude(s) {
		return
	}

	dev, existing := d.devices.GetOrInsert(key, d.newDevice(s))
	if existing {
		return
	}

	d.logger.WithFields(logrus.Fields{
		"device":  dev.Name(),
		"address": s.Address,
		"rssi":    s.RSSI,
	}).Info("Discovered new device")
	found(dev)
}

// shouldInclude applies the connectable, allow, block and service filters
func (d *Discoverer) shouldInclude(s Sighting) bool {
	if !s.Connectable {
		return false
	}
	for _, blocked := range d.opts.BlockList {
		if strings.EqualFold(s.Address, blocked) {
			return false
		}
	}

	if len(d.opts.AllowList) > 0 {
		allowed := false
		for _, a := range d.opts.AllowList {
			if strings.EqualFold(s.Address, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(d.opts.ServiceUUIDs) == 0 {
		return true
	}
	for _, required := range d.opts.ServiceUUIDs {
		for _, advertised := range s.Services {
			if required.Equal(advertised) {
				return true
			}
		}
	}
	return false
}
