// Package units provides the unit conversions shared by fusion, dead
// reckoning and the display layer.
// Tracks store speed in knots, altitude in feet and altitude rate in feet
// per second.
package units

import (
	"math"
	"strings"
	"time"
)

const (
	// MachToKnotsFactor is the fixed Mach-to-knots constant used when Mach
	// is fused with airspeeds. It is not corrected for altitude.
	MachToKnotsFactor = 666.739
	// KnotsToMPSFactor converts knots to metres per second.
	KnotsToMPSFactor = 0.514444
)

// Speed unit names accepted by the API.
const (
	KTS  = "kts"
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid speed unit values
var ValidUnits = []string{KTS, MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// MachToKnots converts a Mach number to knots.
func MachToKnots(mach float64) float64 {
	return mach * MachToKnotsFactor
}

// KnotsToMPS converts knots to metres per second.
func KnotsToMPS(kts float64) float64 {
	return kts * KnotsToMPSFactor
}

// ConvertSpeed converts a speed in knots to the target units.
// Unknown units leave the value in knots.
func ConvertSpeed(kts float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return KnotsToMPS(kts)
	case MPH:
		return KnotsToMPS(kts) * 2.2369362920544
	case KMPH, KPH:
		return KnotsToMPS(kts) * 3.6
	default:
		return kts
	}
}

// FeetPerMinuteToFeetPerSecond converts a vertical rate.
func FeetPerMinuteToFeetPerSecond(fpm float64) float64 {
	return fpm / 60.0
}

// SecondsToDuration converts fractional seconds to a time.Duration.
func SecondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// NormalizeDegrees maps any angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	// math.Mod(-1e-15, 360) + 360 rounds to 360.
	if d >= 360 {
		d = 0
	}
	return d
}

// FlightLevelAltitude rounds an altitude in feet down to the nearest 100 ft
// and clamps it at zero.
func FlightLevelAltitude(ft float64) int {
	return int(math.Max(0, math.Floor(ft/100)*100))
}
