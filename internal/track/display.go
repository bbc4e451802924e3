package track

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// categoryDescriptions maps Mode S emitter categories to short descriptions.
var categoryDescriptions = map[string]string{
	"A0": "",
	"A1": "Light",
	"A2": "Small",
	"A3": "Large",
	"A4": "High Vortex",
	"A5": "Heavy",
	"A6": "High Perf",
	"A7": "Rotary Wing",
	"B0": "",
	"B1": "Glider",
	"B2": "Lighter-than-Air",
	"B3": "Para",
	"B4": "Ultralight",
	"B5": "",
	"B6": "UAV",
	"B7": "Space",
	"C0": "",
	"C1": "Emergency Veh.",
	"C2": "Service Veh.",
	"C3": "Obstruction",
}

// CategoryDescription returns the description of an emitter category, or ""
// when unknown or undescribed.
func CategoryDescription(cat string) string {
	return categoryDescriptions[strings.ToUpper(cat)]
}

// DisplayState is everything the presentation layer needs to draw a track.
// It is a pure function of the track, the current source-frame time and
// whether the track is selected.
type DisplayState struct {
	ID          ID        `json:"id"`
	Class       Class     `json:"class"`
	Position    *Position `json:"position,omitempty"`
	Altitude    *int      `json:"altitude,omitempty"`
	Heading     *float64  `json:"heading,omitempty"`
	Speed       *float64  `json:"speed,omitempty"`
	Tier        Tier      `json:"tier"`
	Anticipated bool      `json:"anticipated"`
	Selected    bool      `json:"selected"`
	Label       string    `json:"label"`
	SubLabel    string    `json:"sub_label,omitempty"`
	Detail      *Detail   `json:"detail,omitempty"`
}

// Detail carries the extended fields shown only for the selected track.
type Detail struct {
	FirstDescription  string     `json:"first_description,omitempty"`
	SecondDescription string     `json:"second_description,omitempty"`
	FlightLevel       string     `json:"flight_level,omitempty"`
	SpeedText         string     `json:"speed_text,omitempty"`
	DTG               string     `json:"dtg,omitempty"`
	Location          string     `json:"location,omitempty"`
	Squawk            string     `json:"squawk,omitempty"`
	Trail             []Position `json:"trail,omitempty"`
	// DeadReckonLeg joins the last fix to the dead-reckoned position while
	// dead reckoning is applied.
	DeadReckonLeg []Position `json:"dead_reckon_leg,omitempty"`
}

// Display computes the display state of t at now.
func Display(t *Track, now time.Time, th Thresholds, selected bool) DisplayState {
	tier, anticipated := Evaluate(t, now, th)
	ds := DisplayState{
		ID:          t.ID,
		Class:       t.Class,
		Heading:     cloneFloat(t.Heading),
		Speed:       cloneFloat(t.Speed),
		Tier:        tier,
		Anticipated: anticipated,
		Selected:    selected,
		Label:       Label(t),
		SubLabel:    SubLabel(t),
	}
	pos, hasPos := DisplayPosition(t, now, th)
	if hasPos {
		ds.Position = &pos
	}
	if alt, ok := DisplayAltitude(t, now, th); ok {
		ds.Altitude = &alt
	}
	if selected {
		ds.Detail = detail(t, ds)
	}
	return ds
}

// Label is the primary text: flight id or vessel name, then registration,
// then the raw id.
func Label(t *Track) string {
	if name := strValue(t.Name); name != "" {
		return name
	}
	if t.Metadata.Registration != "" {
		return t.Metadata.Registration
	}
	return "T:" + string(t.ID)
}

// SubLabel describes the kind of object in more detail than its class, in
// descending preference:
//  1. the full type description from enrichment, e.g. "BOEING 747-400"
//  2. type code plus category description, e.g. "B744 (Heavy)"
//  3. type code alone
//  4. category and its description, e.g. "(A5 Heavy)"
func SubLabel(t *Track) string {
	cat := strValue(t.Category)
	md := t.Metadata
	switch {
	case md.TypeDescription != "":
		return md.TypeDescription
	case md.TypeCode != "":
		if d := CategoryDescription(cat); d != "" {
			return md.TypeCode + " (" + d + ")"
		}
		return md.TypeCode
	case cat != "":
		if d := CategoryDescription(cat); d != "" {
			return "(" + cat + " " + d + ")"
		}
		return "(" + cat + ")"
	}
	return ""
}

var airlinePrefix = regexp.MustCompile(`^[a-zA-Z]*`)

// AirlineCode returns the leading letters of the flight id, upper-cased,
// or "" when the track has no name.
func AirlineCode(t *Track) string {
	name := strings.TrimSpace(strValue(t.Name))
	if name == "" {
		return ""
	}
	return strings.ToUpper(airlinePrefix.FindString(name))
}

func detail(t *Track, ds DisplayState) *Detail {
	d := &Detail{
		Squawk: strValue(t.Squawk),
		Trail:  t.Trail(),
	}
	switch {
	case t.Fixed():
		lines := append(append([]string(nil), t.Notes...), t.Weather...)
		if len(lines) > 0 {
			d.FirstDescription = lines[0]
		}
		if len(lines) > 1 {
			d.SecondDescription = strings.Join(lines[1:], " ")
		}
	default:
		d.FirstDescription = ds.SubLabel
		d.SecondDescription = AirlineCode(t)
	}
	if ds.Altitude != nil {
		d.FlightLevel = fmt.Sprintf("FL%d", *ds.Altitude/100)
	}
	if t.Speed != nil {
		d.SpeedText = fmt.Sprintf("%.0fKTS", *t.Speed)
	}
	if !t.Fixed() && !t.LastPositionUpdateTime.IsZero() {
		d.DTG = FormatDTG(t.LastPositionUpdateTime)
	}
	if ds.Position != nil {
		d.Location = FormatLocation(*ds.Position)
	}
	if ds.Tier == TierDeadReckoning {
		if last, ok := t.Position(); ok {
			d.DeadReckonLeg = []Position{last, *ds.Position}
		}
	}
	return d
}

// FormatDTG renders a date-time group such as "17134502ZOCT26".
func FormatDTG(ts time.Time) string {
	return strings.ToUpper(ts.UTC().Format("02150405ZJan06"))
}

// FormatLocation renders a position as zero-padded decimal degrees with
// hemisphere letters, e.g. "50.7513N001.9017W".
func FormatLocation(p Position) string {
	ns := "N"
	if p.Lat < 0 {
		ns = "S"
	}
	ew := "E"
	if p.Lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%07.4f%s%08.4f%s", math.Abs(p.Lat), ns, math.Abs(p.Lon), ew)
}
