package detect_test

import (
	"context"
	"sync"

	"github.com/srg/posdev/internal/detect"
	"github.com/srg/posdev/internal/device"
)

// fakeSource is an in-memory detect.Candidates.
type fakeSource struct {
	mu       sync.Mutex
	serial   []device.PortDevice
	wireless []device.Device
	factory  func(port string) device.PortDevice
	created  []string
	records  map[string][]bool
	purges   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{records: make(map[string][]bool)}
}

func (s *fakeSource) SerialCandidates() []device.PortDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]device.PortDevice(nil), s.serial...)
}

func (s *fakeSource) WirelessCandidates() []device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]device.Device(nil), s.wireless...)
}

func (s *fakeSource) NewSerial(port string) device.PortDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, port)
	if s.factory == nil {
		return nil
	}
	return s.factory(port)
}

func (s *fakeSource) Record(d device.Device, confirmed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := d.Identity().Key
	s.records[key] = append(s.records[key], confirmed)
}

func (s *fakeSource) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges++
	return nil
}

func (s *fakeSource) createdPorts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

func (s *fakeSource) recordsFor(key string) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.records[key]...)
}

// fakeDiscoverer reports a fixed list of devices and returns, or waits for
// cancellation when block is set.
type fakeDiscoverer struct {
	available bool
	block     bool
	found     []device.Device
	calls     int
	mu        sync.Mutex
}

func (f *fakeDiscoverer) Available() bool { return f.available }

func (f *fakeDiscoverer) Discover(ctx context.Context, found func(device.Device)) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, d := range f.found {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		found(d)
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeDiscoverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// eventLog records lifecycle events in delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []detect.Event
}

func (l *eventLog) observe(e detect.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []detect.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]detect.Event(nil), l.events...)
}

func (l *eventLog) types() []detect.EventType {
	events := l.snapshot()
	out := make([]detect.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) count(t detect.EventType) int {
	n := 0
	for _, et := range l.types() {
		if et == t {
			n++
		}
	}
	return n
}

// indexOf returns the position of the first event of type t for device key,
// or -1. An empty key matches run-level events.
func (l *eventLog) indexOf(t detect.EventType, key string) int {
	for i, e := range l.snapshot() {
		if e.Type != t {
			continue
		}
		if key == "" || (e.Device != nil && e.Device.Identity().Key == key) {
			return i
		}
	}
	return -1
}
