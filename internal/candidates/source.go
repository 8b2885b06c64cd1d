// Package candidates builds the device pools the detector works through:
// devices remembered in the cache plus serial ports present on the host.
package candidates

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/cache"
	"github.com/srg/posdev/internal/detect"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/device/goble"
	"github.com/srg/posdev/internal/device/serial"
	"github.com/srg/posdev/internal/discovery"
)

// SerialFactory creates a serial device for a port.
type SerialFactory func(port string, rel device.Reliability) device.PortDevice

// WirelessFactory creates a wireless device for an address.
type WirelessFactory func(address, name string, rel device.Reliability) device.Device

// Options configures a Source.
type Options struct {
	// SerialGlobs select the host ports offered as candidates. Nil uses
	// serial.DefaultGlobs; an empty non-nil slice disables enumeration.
	SerialGlobs []string
	Serial      serial.Options
	Wireless    goble.Options
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Serial:   serial.DefaultOptions(),
		Wireless: goble.DefaultOptions(),
	}
}

// Option customizes a Source.
type Option func(*Source)

// WithSerialFactory replaces the serial transport.
func WithSerialFactory(f SerialFactory) Option {
	return func(s *Source) { s.newSerial = f }
}

// WithWirelessFactory replaces the wireless transport.
func WithWirelessFactory(f WirelessFactory) Option {
	return func(s *Source) { s.newWireless = f }
}

// Source implements detect.Candidates on top of a cache.Registry. Pool
// devices are created once per identity and reused across runs so that
// open connections and probe history carry over.
type Source struct {
	mu          sync.Mutex
	registry    *cache.Registry
	opts        Options
	logger      *logrus.Logger
	newSerial   SerialFactory
	newWireless WirelessFactory
	known       map[string]device.Device
}

// New creates a Source over registry.
func New(registry *cache.Registry, opts Options, logger *logrus.Logger, options ...Option) *Source {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Source{
		registry: registry,
		opts:     opts,
		logger:   logger,
		known:    make(map[string]device.Device),
	}
	s.newSerial = func(port string, rel device.Reliability) device.PortDevice {
		return serial.New(port, rel, s.opts.Serial, s.logger)
	}
	s.newWireless = func(address, name string, rel device.Reliability) device.Device {
		return goble.New(address, name, rel, s.opts.Wireless, s.logger)
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func knownKey(id device.Identity) string {
	return strings.ToLower(id.String())
}

func (s *Source) history(id device.Identity) device.Reliability {
	if s.registry == nil {
		return device.Reliability{}
	}
	if e, ok := s.registry.Lookup(id); ok {
		return e.Reliability()
	}
	return device.Reliability{}
}

func (s *Source) serialLocked(port string) device.PortDevice {
	id := device.Identity{Kind: device.KindSerial, Key: port}
	key := knownKey(id)
	if d, ok := s.known[key]; ok {
		if pd, ok := d.(device.PortDevice); ok {
			return pd
		}
	}
	pd := s.newSerial(port, s.history(id))
	if pd == nil {
		return nil
	}
	s.known[key] = pd
	return pd
}

// SerialCandidates returns the cached serial devices followed by host ports
// not already cached.
func (s *Source) SerialCandidates() []device.PortDevice {
	var ports []string
	if s.registry != nil {
		for _, e := range s.registry.Entries(device.KindSerial) {
			ports = append(ports, e.Key)
		}
	}
	if s.opts.SerialGlobs == nil || len(s.opts.SerialGlobs) > 0 {
		ports = append(ports, serial.Enumerate(s.opts.SerialGlobs)...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []device.PortDevice
	for _, port := range ports {
		key := strings.ToLower(port)
		if seen[key] {
			continue
		}
		seen[key] = true
		if d := s.serialLocked(port); d != nil {
			out = append(out, d)
		}
	}
	return out
}

// WirelessCandidates returns the cached wireless devices.
func (s *Source) WirelessCandidates() []device.Device {
	if s.registry == nil {
		return nil
	}
	entries := s.registry.Entries(device.KindWireless)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Device, 0, len(entries))
	for _, e := range entries {
		key := knownKey(e.Identity())
		d, ok := s.known[key]
		if !ok {
			d = s.newWireless(e.Key, e.Name, e.Reliability())
			if d == nil {
				continue
			}
			s.known[key] = d
		}
		out = append(out, d)
	}
	return out
}

// NewSerial returns the device for port, creating it on first use.
func (s *Source) NewSerial(port string) device.PortDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serialLocked(port)
}

// Discovered creates a device for a discovery sighting. Each sighting gets a
// fresh device; the detector discards the ones it already holds.
func (s *Source) Discovered(sighting discovery.Sighting) device.Device {
	id := device.Identity{Kind: device.KindWireless, Key: sighting.Address}
	return s.newWireless(sighting.Address, sighting.Name, s.history(id))
}

// Record persists a probe outcome.
func (s *Source) Record(d device.Device, confirmed bool) {
	if s.registry == nil {
		return
	}
	if err := s.registry.Record(d.Identity(), d.Name(), d.Reliability(), confirmed); err != nil {
		s.logger.WithError(err).WithField("device", d.Name()).Warn("Failed to update device cache")
	}
}

// Purge empties the cache and forgets every device created so far.
func (s *Source) Purge() error {
	s.mu.Lock()
	s.known = make(map[string]device.Device)
	s.mu.Unlock()
	if s.registry == nil {
		return nil
	}
	return s.registry.Purge()
}

var _ detect.Candidates = (*Source)(nil)
