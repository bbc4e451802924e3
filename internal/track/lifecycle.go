package track

import (
	"fmt"
	"time"

	"github.com/banshee-data/traffic.picture/internal/geodesy"
	"github.com/banshee-data/traffic.picture/internal/units"
)

// Tier classifies how stale a track's last position report is. Tiers are
// ordered: a fixed snapshot evaluated at increasing times never moves to a
// lower tier. The anticipated flag is orthogonal and reported separately.
type Tier int

const (
	TierFresh Tier = iota
	TierDeadReckoning
	TierExpired
)

func (t Tier) String() string {
	switch t {
	case TierFresh:
		return "fresh"
	case TierDeadReckoning:
		return "dead_reckoning"
	case TierExpired:
		return "expired"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fresh":
		*t = TierFresh
	case "dead_reckoning":
		*t = TierDeadReckoning
	case "expired":
		*t = TierExpired
	default:
		return fmt.Errorf("unknown tier %q", b)
	}
	return nil
}

// Thresholds are the ageing limits applied to non-fixed tracks.
type Thresholds struct {
	DeadReckon         time.Duration // position age beyond which DR is applied
	Anticipated        time.Duration // position age beyond which the symbol is marked anticipated
	Drop               time.Duration // update age beyond which the track expires
	DropAtZeroAltitude time.Duration // update age beyond which a track at zero altitude expires
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DeadReckon:         1 * time.Second,
		Anticipated:        60 * time.Second,
		Drop:               300 * time.Second,
		DropAtZeroAltitude: 30 * time.Second,
	}
}

// positionAge returns how long ago the last position was reported.
func positionAge(t *Track, now time.Time) (time.Duration, bool) {
	if t.LastPositionUpdateTime.IsZero() {
		return 0, false
	}
	return now.Sub(t.LastPositionUpdateTime), true
}

// OldEnoughToDeadReckon reports whether the position is stale enough that a
// dead-reckoned position should be shown instead of the last fix.
func OldEnoughToDeadReckon(t *Track, now time.Time, th Thresholds) bool {
	if t.Fixed() {
		return false
	}
	age, ok := positionAge(t, now)
	return ok && age > th.DeadReckon
}

// IsAnticipated reports whether the presentation layer should mark the
// position as anticipated/uncertain.
func IsAnticipated(t *Track, now time.Time, th Thresholds) bool {
	if t.Fixed() {
		return false
	}
	age, ok := positionAge(t, now)
	return ok && age > th.Anticipated
}

// DeadReckonedPosition projects the last fix along the last known heading at
// the last known speed. It needs a position, a position time, a heading and
// a speed.
func DeadReckonedPosition(t *Track, now time.Time) (Position, bool) {
	pos, ok := t.Position()
	if !ok || t.LastPositionUpdateTime.IsZero() || t.Heading == nil || t.Speed == nil {
		return Position{}, false
	}
	elapsed := now.Sub(t.LastPositionUpdateTime).Seconds()
	dist := units.KnotsToMPS(*t.Speed) * elapsed
	lat, lon := geodesy.DestinationPoint(pos.Lat, pos.Lon, *t.Heading, dist)
	return Position{Lat: lat, Lon: lon}, true
}

// ReportedAltitude returns the last reported altitude rounded down to the
// nearest 100 ft and clamped at zero.
func ReportedAltitude(t *Track) (int, bool) {
	if t.Altitude == nil {
		return 0, false
	}
	return units.FlightLevelAltitude(*t.Altitude), true
}

// DeadReckonedAltitude projects the altitude with the last known rate.
//
// Elapsed time is measured from the last position report, not from the last
// altitude-rate report. See DESIGN.md.
func DeadReckonedAltitude(t *Track, now time.Time) (int, bool) {
	if t.Altitude == nil || t.AltitudeRate == nil || t.LastAltitudeRateUpdateTime.IsZero() ||
		t.LastPositionUpdateTime.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(t.LastPositionUpdateTime).Seconds()
	return units.FlightLevelAltitude(*t.Altitude + *t.AltitudeRate*elapsed), true
}

// DisplayPosition is the position to draw: dead reckoned when the fix is
// old enough and DR is possible, otherwise the last fix.
func DisplayPosition(t *Track, now time.Time, th Thresholds) (Position, bool) {
	if OldEnoughToDeadReckon(t, now, th) {
		if p, ok := DeadReckonedPosition(t, now); ok {
			return p, true
		}
	}
	return t.Position()
}

// DisplayAltitude is the altitude to show, dead reckoned when old enough and
// an altitude rate is known.
func DisplayAltitude(t *Track, now time.Time, th Thresholds) (int, bool) {
	if OldEnoughToDeadReckon(t, now, th) {
		if a, ok := DeadReckonedAltitude(t, now); ok {
			return a, true
		}
	}
	return ReportedAltitude(t)
}

// IsExpired reports whether the track should be removed. Tracks at zero or
// unknown altitude expire after the shorter DropAtZeroAltitude threshold:
// they have most likely landed or moored.
func IsExpired(t *Track, now time.Time, th Thresholds) bool {
	if t.Fixed() || t.LastUpdateTime.IsZero() {
		return false
	}
	age := now.Sub(t.LastUpdateTime)
	if age > th.Drop {
		return true
	}
	return age > th.DropAtZeroAltitude && atZeroAltitude(t, now, th)
}

// atZeroAltitude tests the displayed altitude. A track with no altitude
// counts as being on the ground.
func atZeroAltitude(t *Track, now time.Time, th Thresholds) bool {
	alt, ok := DisplayAltitude(t, now, th)
	if !ok {
		return true
	}
	return alt <= 0
}

// Evaluate classifies the track at now. Nothing is stored: the tier is
// re-derived from the timestamps on every call.
func Evaluate(t *Track, now time.Time, th Thresholds) (tier Tier, anticipated bool) {
	if t.Fixed() {
		return TierFresh, false
	}
	anticipated = IsAnticipated(t, now, th)
	switch {
	case IsExpired(t, now, th):
		return TierExpired, anticipated
	case OldEnoughToDeadReckon(t, now, th) && canDeadReckonPosition(t):
		return TierDeadReckoning, anticipated
	default:
		return TierFresh, anticipated
	}
}

func canDeadReckonPosition(t *Track) bool {
	_, ok := t.Position()
	return ok && t.Heading != nil && t.Speed != nil
}
