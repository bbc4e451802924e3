package units

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		kts      float64
		units    string
		expected float64
	}{
		{"100 kts to kts", 100.0, KTS, 100.0},
		{"100 kts to mps", 100.0, MPS, 51.4444},
		{"100 kts to kmph", 100.0, KMPH, 185.2},
		{"100 kts to kph", 100.0, KPH, 185.2},
		{"100 kts to mph", 100.0, MPH, 115.078},
		{"unknown units default to kts", 100.0, "unknown", 100.0},
		{"0 kts to mph", 0.0, MPH, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.kts, tt.units)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.kts, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false, want true", u)
		}
	}
	for _, u := range []string{"", "knots", "MPS", "fps"} {
		if IsValid(u) {
			t.Errorf("IsValid(%q) = true, want false", u)
		}
	}
}

func TestGetValidUnitsString(t *testing.T) {
	got := GetValidUnitsString()
	if got != "kts, mps, mph, kmph, kph" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
	for _, u := range ValidUnits {
		if !strings.Contains(got, u) {
			t.Errorf("GetValidUnitsString() = %q, missing %q", got, u)
		}
	}
}

func TestMachToKnots(t *testing.T) {
	if got := MachToKnots(0.8); math.Abs(got-533.3912) > 1e-9 {
		t.Errorf("MachToKnots(0.8) = %f, want 533.3912", got)
	}
}

func TestFeetPerMinuteToFeetPerSecond(t *testing.T) {
	if got := FeetPerMinuteToFeetPerSecond(-1200); got != -20 {
		t.Errorf("got %f, want -20", got)
	}
}

func TestSecondsToDuration(t *testing.T) {
	if got := SecondsToDuration(1.5); got != 1500*time.Millisecond {
		t.Errorf("got %v, want 1.5s", got)
	}
	if got := SecondsToDuration(0); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func TestNormalizeDegrees(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 90},
		{360, 0},
		{370, 10},
		{-90, 270},
		{-360, 0},
		{719.5, 359.5},
	}
	for _, tt := range tests {
		if got := NormalizeDegrees(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeDegrees(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFlightLevelAltitude(t *testing.T) {
	tests := []struct {
		ft   float64
		want int
	}{
		{5000, 5000},
		{5099, 5000},
		{99, 0},
		{0, 0},
		{-250, 0},
		{37012.5, 37000},
	}
	for _, tt := range tests {
		if got := FlightLevelAltitude(tt.ft); got != tt.want {
			t.Errorf("FlightLevelAltitude(%v) = %d, want %d", tt.ft, got, tt.want)
		}
	}
}
