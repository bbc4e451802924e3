// Package track holds the per-entity state model: the Track itself, the
// field fusion that merges inbound reports into it, and the lifecycle policy
// that decides how a track is displayed and when it is dropped.
package track

import (
	"strconv"
	"strings"
	"time"
)

// ID identifies a track within a store. Moving entities use the identifier
// issued by the data source (ICAO hex address, MMSI). Fixed entities use
// negative integers so they can never collide with a moving-entity id.
type ID string

// FixedID returns the id of the n-th fixed entity (n >= 1).
func FixedID(n int) ID {
	if n < 0 {
		n = -n
	}
	return ID(strconv.Itoa(-n))
}

// IsFixedRange reports whether id lies in the id space reserved for fixed
// entities.
func (id ID) IsFixedRange() bool {
	n, err := strconv.Atoi(string(id))
	return err == nil && n < 0
}

// Class determines which lifecycle and extrapolation rules apply to a track.
type Class string

const (
	ClassMovingAir            Class = "moving_air"
	ClassMovingSurface        Class = "moving_surface"
	ClassFixedAirFacility     Class = "fixed_air_facility"
	ClassFixedSurfaceFacility Class = "fixed_surface_facility"
	ClassFixedReference       Class = "fixed_reference"
)

// Fixed reports whether the class describes a non-moving reference point.
// Fixed tracks never dead reckon and never expire.
func (c Class) Fixed() bool {
	switch c {
	case ClassFixedAirFacility, ClassFixedSurfaceFacility, ClassFixedReference:
		return true
	}
	return false
}

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassMovingAir, ClassMovingSurface:
		return true
	}
	return c.Fixed()
}

// ParseClass accepts the canonical names plus the short aliases used by the
// HTTP API filters ("air", "surface", "airport", "seaport", "base").
func ParseClass(s string) (Class, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ClassMovingAir), "air", "aircraft":
		return ClassMovingAir, true
	case string(ClassMovingSurface), "surface", "ship", "vessel":
		return ClassMovingSurface, true
	case string(ClassFixedAirFacility), "airport":
		return ClassFixedAirFacility, true
	case string(ClassFixedSurfaceFacility), "seaport":
		return ClassFixedSurfaceFacility, true
	case string(ClassFixedReference), "base":
		return ClassFixedReference, true
	}
	return "", false
}

// Position is a latitude/longitude pair in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Metadata is the slow-changing side channel filled asynchronously by the
// enrichment collaborator.
type Metadata struct {
	Registration    string `json:"registration,omitempty"`
	TypeCode        string `json:"type_code,omitempty"`
	TypeDescription string `json:"type_description,omitempty"`
	WakeCategory    string `json:"wake_category,omitempty"`
}

// Empty reports whether no metadata field is set.
func (m Metadata) Empty() bool {
	return m == Metadata{}
}

// Track is the state of one tracked object. Altitude is stored in feet,
// heading and coordinates in degrees, speed in knots and altitude rate in
// feet per second. Optional values are nil until first reported.
//
// All timestamps are in the data source's time frame, never local wall
// clock time.
type Track struct {
	ID    ID
	Class Class

	positions []Position

	Heading      *float64
	Speed        *float64
	Altitude     *float64
	AltitudeRate *float64

	Name     *string
	Squawk   *string
	Category *string
	RSSI     *float64

	Metadata Metadata

	// Fixed entities only.
	Notes   []string
	Weather []string

	LastUpdateTime             time.Time
	LastPositionUpdateTime     time.Time
	LastAltitudeRateUpdateTime time.Time
}

// New returns an empty track with no position.
func New(id ID, class Class) *Track {
	return &Track{ID: id, Class: class}
}

// NewFixed returns a fixed track at the given position. The position is set
// once here and never mutated afterwards.
func NewFixed(id ID, class Class, name string, lat, lon float64, notes []string) *Track {
	t := New(id, class)
	t.positions = []Position{{Lat: lat, Lon: lon}}
	if name != "" {
		t.Name = &name
	}
	t.Notes = append([]string(nil), notes...)
	return t
}

// Fixed reports whether the track is a fixed entity.
func (t *Track) Fixed() bool {
	return t.Class.Fixed()
}

// AddPosition appends a position to the trail, evicting the oldest entries
// first so the trail never holds more than trailLength positions. Fixed
// tracks ignore the call.
func (t *Track) AddPosition(lat, lon float64, trailLength int) {
	if t.Fixed() && len(t.positions) > 0 {
		return
	}
	if trailLength < 1 {
		trailLength = 1
	}
	for len(t.positions) >= trailLength {
		t.positions = t.positions[1:]
	}
	t.positions = append(t.positions, Position{Lat: lat, Lon: lon})
}

// Position returns the latest reported position.
func (t *Track) Position() (Position, bool) {
	if len(t.positions) == 0 {
		return Position{}, false
	}
	return t.positions[len(t.positions)-1], true
}

// Trail returns a copy of the position history, oldest first.
func (t *Track) Trail() []Position {
	out := make([]Position, len(t.positions))
	copy(out, t.positions)
	return out
}

// TrailLen returns the number of stored positions.
func (t *Track) TrailLen() int {
	return len(t.positions)
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	c := *t
	c.positions = t.Trail()
	c.Heading = cloneFloat(t.Heading)
	c.Speed = cloneFloat(t.Speed)
	c.Altitude = cloneFloat(t.Altitude)
	c.AltitudeRate = cloneFloat(t.AltitudeRate)
	c.RSSI = cloneFloat(t.RSSI)
	c.Name = cloneString(t.Name)
	c.Squawk = cloneString(t.Squawk)
	c.Category = cloneString(t.Category)
	c.Notes = append([]string(nil), t.Notes...)
	c.Weather = append([]string(nil), t.Weather...)
	return &c
}

// ApplyMetadata merges enrichment results. Non-empty fields overwrite.
func (t *Track) ApplyMetadata(md Metadata) {
	if md.Registration != "" {
		t.Metadata.Registration = md.Registration
	}
	if md.TypeCode != "" {
		t.Metadata.TypeCode = md.TypeCode
	}
	if md.TypeDescription != "" {
		t.Metadata.TypeDescription = md.TypeDescription
	}
	if md.WakeCategory != "" {
		t.Metadata.WakeCategory = md.WakeCategory
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func strValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
