package detect

import (
	"slices"
	"strings"
	"sync"

	"github.com/srg/posdev/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Candidates is the persistent cache collaborator. It supplies the known
// device pools and records probe outcomes.
type Candidates interface {
	SerialCandidates() []device.PortDevice
	WirelessCandidates() []device.Device
	// NewSerial creates a device for an arbitrary port name, used by the
	// exhaustive port scan. It may return nil if the port cannot exist.
	NewSerial(port string) device.PortDevice
	Record(d device.Device, confirmed bool)
	Purge() error
}

// Catalog holds the confirmed devices, kept ranked, plus the serial and
// wireless candidate pools. Pools are rebuilt lazily from the Candidates
// source after Clear.
type Catalog struct {
	mu        sync.RWMutex
	cmp       device.Comparator
	source    Candidates
	confirmed []device.Device
	serial    *orderedmap.OrderedMap[string, device.PortDevice]
	wireless  *orderedmap.OrderedMap[string, device.Device]
	available *device.Signal
}

// NewCatalog creates an empty catalog. A nil cmp selects
// device.BestDeviceComparator; a nil source yields empty pools.
func NewCatalog(source Candidates, cmp device.Comparator) *Catalog {
	if cmp == nil {
		cmp = device.BestDeviceComparator
	}
	return &Catalog{
		cmp:       cmp,
		source:    source,
		available: device.NewSignal(),
	}
}

func poolKey(id device.Identity) string {
	return strings.ToLower(id.String())
}

// Register adds d to the confirmed list unless an equal device is already
// there, and re-sorts the list in the same critical section. It reports
// whether d was added.
func (c *Catalog) Register(d device.Device) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := d.Identity()
	for _, existing := range c.confirmed {
		if existing == d || existing.Identity().Equal(id) {
			return false
		}
	}
	c.confirmed = append(c.confirmed, d)
	slices.SortStableFunc(c.confirmed, c.cmp)
	c.available.Set()
	return true
}

// Rank re-sorts the confirmed list against the devices' current state and
// returns a copy of it.
func (c *Catalog) Rank() []device.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	slices.SortStableFunc(c.confirmed, c.cmp)
	return slices.Clone(c.confirmed)
}

// Devices returns a copy of the confirmed list as last sorted.
func (c *Catalog) Devices() []device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.confirmed)
}

// IsAnyConfirmed reports whether at least one device is confirmed.
func (c *Catalog) IsAnyConfirmed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.confirmed) > 0
}

// Available returns the signal set by the first Register after a Clear.
func (c *Catalog) Available() *device.Signal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Clear drops the confirmed list and both pools. Must not be called while a
// detection run is active.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = nil
	c.serial = nil
	c.wireless = nil
	if c.available.IsSet() {
		c.available = device.NewSignal()
	}
}

func (c *Catalog) serialPoolLocked() *orderedmap.OrderedMap[string, device.PortDevice] {
	if c.serial == nil {
		c.serial = orderedmap.New[string, device.PortDevice]()
		if c.source != nil {
			for _, d := range c.source.SerialCandidates() {
				if !hasPortLocked(c.serial, d.Port()) {
					c.serial.Set(poolKey(d.Identity()), d)
				}
			}
		}
	}
	return c.serial
}

func (c *Catalog) wirelessPoolLocked() *orderedmap.OrderedMap[string, device.Device] {
	if c.wireless == nil {
		c.wireless = orderedmap.New[string, device.Device]()
		if c.source != nil {
			for _, d := range c.source.WirelessCandidates() {
				key := poolKey(d.Identity())
				if _, ok := c.wireless.Get(key); !ok {
					c.wireless.Set(key, d)
				}
			}
		}
	}
	return c.wireless
}

// SerialPool returns the serial candidates in discovery order.
func (c *Catalog) SerialPool() []device.PortDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool := c.serialPoolLocked()
	out := make([]device.PortDevice, 0, pool.Len())
	for pair := pool.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// WirelessPool returns the wireless candidates in discovery order.
func (c *Catalog) WirelessPool() []device.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool := c.wirelessPoolLocked()
	out := make([]device.Device, 0, pool.Len())
	for pair := pool.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// AddSerial appends d to the serial pool unless its port is already known.
func (c *Catalog) AddSerial(d device.PortDevice) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool := c.serialPoolLocked()
	if hasPortLocked(pool, d.Port()) {
		return false
	}
	pool.Set(poolKey(d.Identity()), d)
	return true
}

// AddWireless appends d to the wireless pool unless a device with the same
// address is already known.
func (c *Catalog) AddWireless(d device.Device) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool := c.wirelessPoolLocked()
	key := poolKey(d.Identity())
	if _, ok := pool.Get(key); ok {
		return false
	}
	pool.Set(key, d)
	return true
}

func (c *Catalog) holdsWireless(d device.Device) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.wireless == nil {
		return false
	}
	pooled, ok := c.wireless.Get(poolKey(d.Identity()))
	return ok && pooled == d
}

// HasPort reports whether a serial candidate currently carries the port name,
// compared case-insensitively.
func (c *Catalog) HasPort(port string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return hasPortLocked(c.serialPoolLocked(), port)
}

// Ports are compared by current name: pool keys go stale after a rename.
func hasPortLocked(pool *orderedmap.OrderedMap[string, device.PortDevice], port string) bool {
	for pair := pool.Oldest(); pair != nil; pair = pair.Next() {
		if strings.EqualFold(pair.Value.Port(), port) {
			return true
		}
	}
	return false
}
