package track

import (
	"strings"
	"time"

	"github.com/banshee-data/traffic.picture/internal/units"
)

// Report is one entity's worth of fields from an inbound batch. Every field
// is optional; nil means "no update for this tick", never zero.
type Report struct {
	// BatchTime is the source-clock time of the batch carrying the report.
	BatchTime time.Time

	// Seen and SeenPos are ages in seconds relative to BatchTime of the
	// last message of any kind and of the last position respectively.
	Seen    *float64
	SeenPos *float64

	Lat *float64
	Lon *float64

	// Heading candidates in declared order.
	TrackAngle  *float64
	MagHeading  *float64
	TrueHeading *float64

	// Altitude candidates in declared order (feet).
	AltGeom *float64
	AltBaro *float64

	// Altitude rate candidates in declared order (feet per minute).
	GeomRate *float64
	BaroRate *float64

	// Speed candidates in declared order. Mach is dimensionless, the
	// others are knots.
	Mach *float64
	IAS  *float64
	TAS  *float64
	GS   *float64

	Flight   *string
	Squawk   *string
	Category *string
	RSSI     *float64
}

// Empty reports whether the report carries no field at all.
func (r Report) Empty() bool {
	return r.Seen == nil && r.SeenPos == nil && !r.hasPosition() &&
		lastPresent(r.TrackAngle, r.MagHeading, r.TrueHeading) == nil &&
		lastPresent(r.AltGeom, r.AltBaro) == nil &&
		lastPresent(r.GeomRate, r.BaroRate) == nil &&
		lastPresent(r.Mach, r.IAS, r.TAS, r.GS) == nil &&
		r.Flight == nil && r.Squawk == nil && r.Category == nil && r.RSSI == nil
}

func (r Report) hasPosition() bool {
	return r.Lat != nil && r.Lon != nil
}

// lastPresent returns the last non-nil candidate. Candidates are passed in
// ascending priority, so later entries override earlier ones.
func lastPresent(candidates ...*float64) *float64 {
	var best *float64
	for _, c := range candidates {
		if c != nil {
			best = c
		}
	}
	return best
}

// BestHeading fuses the heading candidates: track angle, then magnetic
// heading, then true heading.
func (r Report) BestHeading() *float64 {
	return lastPresent(r.TrackAngle, r.MagHeading, r.TrueHeading)
}

// BestAltitude fuses the altitude candidates: geometric, then barometric.
func (r Report) BestAltitude() *float64 {
	return lastPresent(r.AltGeom, r.AltBaro)
}

// BestAltitudeRate fuses the rate candidates and converts to feet per second.
func (r Report) BestAltitudeRate() *float64 {
	best := lastPresent(r.GeomRate, r.BaroRate)
	if best == nil {
		return nil
	}
	v := units.FeetPerMinuteToFeetPerSecond(*best)
	return &v
}

// BestSpeed fuses the speed candidates in knots: Mach, then indicated, then
// true airspeed, then ground speed.
func (r Report) BestSpeed() *float64 {
	var mach *float64
	if r.Mach != nil {
		v := units.MachToKnots(*r.Mach)
		mach = &v
	}
	return lastPresent(mach, r.IAS, r.TAS, r.GS)
}

// seenTime is the effective time of the report: the batch time minus the
// report's age, if given.
func (r Report) seenTime() time.Time {
	return subtractAge(r.BatchTime, r.Seen)
}

func (r Report) positionTime() time.Time {
	return subtractAge(r.BatchTime, r.SeenPos)
}

func subtractAge(batch time.Time, age *float64) time.Time {
	if age == nil {
		return batch
	}
	return batch.Add(-units.SecondsToDuration(*age))
}

// Merge folds a report into t. Absent fields leave the track untouched and an
// empty report is a no-op. Positions are appended to the trail, bounded by
// trailLength.
//
// Speed is only updated when the report carries a Mach value; see DESIGN.md.
func Merge(t *Track, r Report, trailLength int) {
	if t == nil || r.Empty() {
		return
	}

	seen := r.seenTime()
	t.LastUpdateTime = seen

	if r.RSSI != nil {
		v := *r.RSSI
		t.RSSI = &v
	}
	if r.hasPosition() {
		posTime := r.positionTime()
		// dump1090 repeats the last fix with a growing seen_pos, which maps
		// to the same position time; only genuinely new fixes extend the trail.
		last, ok := t.Position()
		if !ok || !posTime.Equal(t.LastPositionUpdateTime) || last != (Position{Lat: *r.Lat, Lon: *r.Lon}) {
			t.AddPosition(*r.Lat, *r.Lon, trailLength)
		}
		t.LastPositionUpdateTime = posTime
	}
	if h := r.BestHeading(); h != nil {
		v := units.NormalizeDegrees(*h)
		t.Heading = &v
	}
	if a := r.BestAltitude(); a != nil {
		v := *a
		t.Altitude = &v
	}
	if rate := r.BestAltitudeRate(); rate != nil {
		t.AltitudeRate = rate
		t.LastAltitudeRateUpdateTime = seen
	}
	if r.Mach != nil {
		t.Speed = r.BestSpeed()
	}
	if r.Flight != nil {
		v := strings.TrimSpace(*r.Flight)
		t.Name = &v
	}
	if r.Squawk != nil {
		v := *r.Squawk
		t.Squawk = &v
	}
	if r.Category != nil {
		v := strings.TrimSpace(*r.Category)
		t.Category = &v
	}
}
