// Package navstate holds the last known navigation state and publishes a
// change event only when a field really changes.
package navstate

import (
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/hub"
	"github.com/srg/posdev/internal/ringchan"
)

// EventType marks which field an Event is about
type EventType int

const (
	PositionChanged EventType = iota
	AltitudeChanged
	SpeedChanged
	BearingChanged
	HeadingChanged
	SatellitesChanged
	UtcTimeChanged
	FixLost
	FixAcquired
)

var eventNames = map[EventType]string{
	PositionChanged:   "position_changed",
	AltitudeChanged:   "altitude_changed",
	SpeedChanged:      "speed_changed",
	BearingChanged:    "bearing_changed",
	HeadingChanged:    "heading_changed",
	SatellitesChanged: "satellites_changed",
	UtcTimeChanged:    "utc_time_changed",
	FixLost:           "fix_lost",
	FixAcquired:       "fix_acquired",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event carries the new value of the field named by Type. Only the field
// matching Type is meaningful; fix events carry Device instead.
type Event struct {
	Type       EventType
	Position   Position
	Altitude   Distance
	Speed      Speed
	Azimuth    Azimuth
	UtcTime    time.Time
	Satellites []Satellite
	Device     device.Device
}

// State is the process-wide navigation snapshot. The zero value is not
// usable; create it with New.
type State struct {
	// pub is held from the comparison through delivery, so observers see
	// changes in the order they were stored. Observers must not call setters.
	pub sync.Mutex

	mu         sync.RWMutex
	position   Position
	altitude   Distance
	speed      Speed
	bearing    Azimuth
	heading    Azimuth
	utcTime    time.Time
	satellites []Satellite

	loc    *time.Location
	events *hub.Hub[Event]
	logger *logrus.Logger
}

// Option configures a State.
type Option func(*State)

// WithLocation sets the zone DateTime converts to (time.Local by default).
func WithLocation(loc *time.Location) Option {
	return func(s *State) { s.loc = loc }
}

// New creates an empty State.
func New(logger *logrus.Logger, opts ...Option) *State {
	if logger == nil {
		logger = logrus.New()
	}
	s := &State{
		loc:    time.Local,
		events: hub.New[Event](),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for every state event.
func (s *State) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// Events returns a bounded channel subscription.
func (s *State) Events(capacity int) (*ringchan.RingChannel[Event], func()) {
	return s.events.Channel(capacity)
}

// compareAndSet stores v into *field under the write lock when it differs
// from the current value, and reports whether it did.
func compareAndSet[T comparable](s *State, field *T, v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *field == v {
		return false
	}
	*field = v
	return true
}

func (s *State) publish(e Event) {
	s.logger.WithField("event", e.Type.String()).Debug("Navigation state changed")
	s.events.Publish(e)
}

// SetPosition publishes a new position.
func (s *State) SetPosition(p Position) {
	s.pub.Lock()
	defer s.pub.Unlock()
	if compareAndSet(s, &s.position, p) {
		s.publish(Event{Type: PositionChanged, Position: p})
	}
}

// SetAltitude publishes a new altitude.
func (s *State) SetAltitude(d Distance) {
	s.pub.Lock()
	defer s.pub.Unlock()
	if compareAndSet(s, &s.altitude, d) {
		s.publish(Event{Type: AltitudeChanged, Altitude: d})
	}
}

// SetSpeed publishes a new speed.
func (s *State) SetSpeed(v Speed) {
	s.pub.Lock()
	defer s.pub.Unlock()
	if compareAndSet(s, &s.speed, v) {
		s.publish(Event{Type: SpeedChanged, Speed: v})
	}
}

// SetBearing publishes a new direction of travel.
func (s *State) SetBearing(a Azimuth) {
	s.pub.Lock()
	defer s.pub.Unlock()
	if compareAndSet(s, &s.bearing, a) {
		s.publish(Event{Type: BearingChanged, Azimuth: a})
	}
}

// SetHeading publishes a new direction of heading.
func (s *State) SetHeading(a Azimuth) {
	s.pub.Lock()
	defer s.pub.Unlock()
	if compareAndSet(s, &s.heading, a) {
		s.publish(Event{Type: HeadingChanged, Azimuth: a})
	}
}

// SetUtcTime publishes a new satellite-derived time. Instants are compared
// with time.Time.Equal, so the same instant in another zone is not a change.
func (s *State) SetUtcTime(t time.Time) {
	t = t.UTC()
	s.pub.Lock()
	defer s.pub.Unlock()
	s.mu.Lock()
	if s.utcTime.Equal(t) {
		s.mu.Unlock()
		return
	}
	s.utcTime = t
	s.mu.Unlock()

	s.publish(Event{Type: UtcTimeChanged, UtcTime: t})
}

// SetSatellites publishes a new satellite set. The slice is copied.
func (s *State) SetSatellites(sats []Satellite) {
	s.pub.Lock()
	defer s.pub.Unlock()
	s.mu.Lock()
	if EqualSatellites(s.satellites, sats) {
		s.mu.Unlock()
		return
	}
	s.satellites = slices.Clone(sats)
	published := slices.Clone(sats)
	s.mu.Unlock()

	s.publish(Event{Type: SatellitesChanged, Satellites: published})
}

// RaiseFixLost forwards a fix-lost notification from an active device.
func (s *State) RaiseFixLost(d device.Device) {
	s.pub.Lock()
	defer s.pub.Unlock()
	s.publish(Event{Type: FixLost, Device: d})
}

// RaiseFixAcquired forwards a fix-acquired notification from an active device.
func (s *State) RaiseFixAcquired(d device.Device) {
	s.pub.Lock()
	defer s.pub.Unlock()
	s.publish(Event{Type: FixAcquired, Device: d})
}

// DateTime returns UtcTime in the configured local zone.
func (s *State) DateTime() time.Time {
	return s.UtcTime().In(s.loc)
}

// SetDateTime sets UtcTime from a local time.
func (s *State) SetDateTime(t time.Time) {
	s.SetUtcTime(t.UTC())
}

func (s *State) Position() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *State) Altitude() Distance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.altitude
}

func (s *State) Speed() Speed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed
}

func (s *State) Bearing() Azimuth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bearing
}

func (s *State) Heading() Azimuth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heading
}

func (s *State) UtcTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.utcTime
}

// Satellites returns a copy of the satellite set.
func (s *State) Satellites() []Satellite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.satellites)
}

// Snapshot returns all fields read under one lock.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Position:   s.position,
		Altitude:   s.altitude,
		Speed:      s.speed,
		Bearing:    s.bearing,
		Heading:    s.heading,
		UtcTime:    s.utcTime,
		Satellites: slices.Clone(s.satellites),
	}
}
