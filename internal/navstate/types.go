package navstate

import (
	"fmt"
	"time"
)

// Position is a geographic coordinate in decimal degrees.
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

func (p Position) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// Distance is a length in meters; used for altitude above mean sea level.
type Distance float64

func (d Distance) String() string { return fmt.Sprintf("%.1fm", float64(d)) }

// Speed is a rate of travel in meters per second.
type Speed float64

// KnotsToSpeed converts a speed over ground in knots.
func KnotsToSpeed(knots float64) Speed { return Speed(knots * 1852.0 / 3600.0) }

func (s Speed) String() string { return fmt.Sprintf("%.2fm/s", float64(s)) }

// Azimuth is a direction in degrees clockwise from true north.
type Azimuth float64

func (a Azimuth) String() string { return fmt.Sprintf("%.1f°", float64(a)) }

// Satellite describes one tracked satellite.
type Satellite struct {
	PRN       int  `json:"prn"`
	Elevation int  `json:"elevation"`
	Azimuth   int  `json:"azimuth"`
	SNR       int  `json:"snr"`
	Fixed     bool `json:"fixed"`
}

// EqualSatellites reports structural equality: same length and pairwise
// equal elements in the same order.
func EqualSatellites(a, b []Satellite) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Snapshot is a consistent copy of the navigation state.
type Snapshot struct {
	Position   Position    `json:"position"`
	Altitude   Distance    `json:"altitude_m"`
	Speed      Speed       `json:"speed_mps"`
	Bearing    Azimuth     `json:"bearing_deg"`
	Heading    Azimuth     `json:"heading_deg"`
	UtcTime    time.Time   `json:"utc_time"`
	Satellites []Satellite `json:"satellites"`
}
