// Package feed turns the NMEA stream of an acquired device into navigation
// state updates.
package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/navstate"
)

const (
	idlePoll      = 50 * time.Millisecond
	maxLineLength = 256
)

// Feed applies sentences to a navstate.State and raises fix transitions on
// behalf of the device they came from.
type Feed struct {
	state  *navstate.State
	source device.Device
	logger *logrus.Logger

	mu      sync.Mutex
	fixed   bool
	used    map[int64]bool
	partial map[string][]navstate.Satellite
	inView  map[string][]navstate.Satellite
}

// New creates a feed for source. source may be nil when the origin of the
// sentences is not a detected device.
func New(state *navstate.State, source device.Device, logger *logrus.Logger) *Feed {
	if logger == nil {
		logger = logrus.New()
	}
	return &Feed{
		state:   state,
		source:  source,
		logger:  logger,
		used:    make(map[int64]bool),
		partial: make(map[string][]navstate.Satellite),
		inView:  make(map[string][]navstate.Satellite),
	}
}

// Run reads r until EOF or ctx is canceled. Reads that return (0, nil) are
// treated as an idle line. Malformed sentences are skipped.
func (f *Feed) Run(ctx context.Context, r io.Reader) error {
	chunk := make([]byte, 512)
	var line bytes.Buffer

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(chunk)
		for _, b := range chunk[:n] {
			switch b {
			case '\r', '\n':
				if line.Len() > 0 {
					f.apply(line.String())
					line.Reset()
				}
			default:
				if line.Len() >= maxLineLength {
					line.Reset()
				}
				line.WriteByte(b)
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			if line.Len() > 0 {
				f.apply(line.String())
			}
			return nil
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		case n == 0:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePoll):
			}
		}
	}
}

func (f *Feed) apply(line string) {
	if err := f.Apply(line); err != nil {
		f.logger.WithError(err).WithField("sentence", line).Debug("Skipping sentence")
	}
}

// Apply parses one sentence and publishes what it carries. Sentence types
// without navigation content are ignored.
func (f *Feed) Apply(line string) error {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, "$!"); i > 0 {
		line = line[i:]
	}
	s, err := nmea.Parse(line)
	if err != nil {
		return err
	}

	switch m := s.(type) {
	case nmea.RMC:
		f.applyRMC(m)
	case nmea.GGA:
		f.applyGGA(m)
	case nmea.VTG:
		f.state.SetBearing(navstate.Azimuth(m.TrueTrack))
		f.state.SetSpeed(navstate.KnotsToSpeed(m.GroundSpeedKnots))
	case nmea.HDT:
		f.state.SetHeading(navstate.Azimuth(m.Heading))
	case nmea.GSA:
		f.applyGSA(m)
	case nmea.GSV:
		f.applyGSV(m)
	}
	return nil
}

func (f *Feed) applyRMC(m nmea.RMC) {
	if m.Validity != nmea.ValidRMC {
		f.setFix(false)
		return
	}
	f.setFix(true)
	f.state.SetPosition(navstate.Position{Latitude: m.Latitude, Longitude: m.Longitude})
	f.state.SetSpeed(navstate.KnotsToSpeed(m.Speed))
	f.state.SetBearing(navstate.Azimuth(m.Course))
	if m.Date.Valid && m.Time.Valid {
		f.state.SetUtcTime(utcTime(m.Date, m.Time))
	}
}

func (f *Feed) applyGGA(m nmea.GGA) {
	if m.FixQuality == nmea.Invalid {
		f.setFix(false)
		return
	}
	f.setFix(true)
	f.state.SetPosition(navstate.Position{Latitude: m.Latitude, Longitude: m.Longitude})
	f.state.SetAltitude(navstate.Distance(m.Altitude))
}

func (f *Feed) applyGSA(m nmea.GSA) {
	used := make(map[int64]bool, len(m.SV))
	for _, sv := range m.SV {
		if prn, err := strconv.ParseInt(sv, 10, 64); err == nil {
			used[prn] = true
		}
	}
	f.mu.Lock()
	f.used = used
	f.mu.Unlock()
}

// GSV arrives in numbered parts per talker; a set is published once its last
// part is in.
func (f *Feed) applyGSV(m nmea.GSV) {
	f.mu.Lock()
	talker := m.Talker
	if m.MessageNumber <= 1 {
		f.partial[talker] = nil
	}
	for _, info := range m.Info {
		f.partial[talker] = append(f.partial[talker], navstate.Satellite{
			PRN:       int(info.SVPRNNumber),
			Elevation: int(info.Elevation),
			Azimuth:   int(info.Azimuth),
			SNR:       int(info.SNR),
			Fixed:     f.used[info.SVPRNNumber],
		})
	}
	if m.MessageNumber < m.TotalMessages {
		f.mu.Unlock()
		return
	}
	f.inView[talker] = f.partial[talker]
	delete(f.partial, talker)

	talkers := make([]string, 0, len(f.inView))
	for t := range f.inView {
		talkers = append(talkers, t)
	}
	slices.Sort(talkers)
	var sats []navstate.Satellite
	for _, t := range talkers {
		sats = append(sats, f.inView[t]...)
	}
	f.mu.Unlock()

	f.state.SetSatellites(sats)
}

func (f *Feed) setFix(fixed bool) {
	f.mu.Lock()
	changed := f.fixed != fixed
	f.fixed = fixed
	f.mu.Unlock()
	if !changed {
		return
	}
	if fixed {
		f.state.RaiseFixAcquired(f.source)
	} else {
		f.state.RaiseFixLost(f.source)
	}
}

// HasFix reports whether the last fix-bearing sentence carried a fix.
func (f *Feed) HasFix() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fixed
}

func utcTime(d nmea.Date, t nmea.Time) time.Time {
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
