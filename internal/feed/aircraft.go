// Package feed fetches and decodes the dump1090-fa JSON feed: the live
// aircraft.json, receiver.json and the history_N.json ring.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/traffic.picture/internal/timeutil"
	"github.com/banshee-data/traffic.picture/internal/track"
)

// Batch is one aircraft.json or history_N.json document.
type Batch struct {
	// Now is the source clock at the time the file was written, in
	// fractional Unix seconds.
	Now      float64          `json:"now"`
	Messages int              `json:"messages"`
	Aircraft []AircraftReport `json:"aircraft"`
}

// Time returns Now as a UTC time.
func (b Batch) Time() time.Time {
	return timeutil.FromUnixSeconds(b.Now)
}

// Reports converts every aircraft with a usable hex id into a fusion report
// stamped with the batch time.
func (b Batch) Reports() []IdentifiedReport {
	at := b.Time()
	out := make([]IdentifiedReport, 0, len(b.Aircraft))
	for _, a := range b.Aircraft {
		id := a.ID()
		if id == "" {
			continue
		}
		out = append(out, IdentifiedReport{ID: id, Class: track.ClassMovingAir, Report: a.ToReport(at)})
	}
	return out
}

// IdentifiedReport pairs a report with the track it is for.
type IdentifiedReport struct {
	ID     track.ID
	Class  track.Class
	Report track.Report
}

// SortBatches orders batches by source time. Batches with equal times keep
// their relative order.
func SortBatches(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool { return batches[i].Now < batches[j].Now })
}

// AircraftReport is one entry of the "aircraft" array.
type AircraftReport struct {
	Hex         string       `json:"hex"`
	Flight      *string      `json:"flight,omitempty"`
	AltBaro     BaroAltitude `json:"alt_baro"`
	AltGeom     *float64     `json:"alt_geom,omitempty"`
	GS          *float64     `json:"gs,omitempty"`
	IAS         *float64     `json:"ias,omitempty"`
	TAS         *float64     `json:"tas,omitempty"`
	Mach        *float64     `json:"mach,omitempty"`
	Track       *float64     `json:"track,omitempty"`
	MagHeading  *float64     `json:"mag_heading,omitempty"`
	TrueHeading *float64     `json:"true_heading,omitempty"`
	BaroRate    *float64     `json:"baro_rate,omitempty"`
	GeomRate    *float64     `json:"geom_rate,omitempty"`
	Squawk      *string      `json:"squawk,omitempty"`
	Category    *string      `json:"category,omitempty"`
	Lat         *float64     `json:"lat,omitempty"`
	Lon         *float64     `json:"lon,omitempty"`
	Seen        *float64     `json:"seen,omitempty"`
	SeenPos     *float64     `json:"seen_pos,omitempty"`
	RSSI        *float64     `json:"rssi,omitempty"`
	Messages    int          `json:"messages,omitempty"`
}

// ID returns the normalised track id, or "" when hex is blank.
func (a AircraftReport) ID() track.ID {
	return track.ID(strings.ToLower(strings.TrimSpace(a.Hex)))
}

// ToReport maps the feed fields onto a fusion report.
func (a AircraftReport) ToReport(batchTime time.Time) track.Report {
	r := track.Report{
		BatchTime:   batchTime,
		Seen:        a.Seen,
		SeenPos:     a.SeenPos,
		Lat:         a.Lat,
		Lon:         a.Lon,
		TrackAngle:  a.Track,
		MagHeading:  a.MagHeading,
		TrueHeading: a.TrueHeading,
		AltGeom:     a.AltGeom,
		GeomRate:    a.GeomRate,
		BaroRate:    a.BaroRate,
		Mach:        a.Mach,
		IAS:         a.IAS,
		TAS:         a.TAS,
		GS:          a.GS,
		Flight:      a.Flight,
		Squawk:      a.Squawk,
		Category:    a.Category,
		RSSI:        a.RSSI,
	}
	if a.AltBaro.Known {
		v := a.AltBaro.Feet
		r.AltBaro = &v
	}
	return r
}

// BaroAltitude decodes alt_baro, which is either a number of feet or the
// string "ground".
type BaroAltitude struct {
	Feet  float64
	Known bool
}

// UnmarshalJSON implements json.Unmarshaler. Unrecognised strings leave
// the altitude unknown rather than failing the whole batch.
func (b *BaroAltitude) UnmarshalJSON(data []byte) error {
	*b = BaroAltitude{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("alt_baro: %w", err)
		}
		if strings.EqualFold(strings.TrimSpace(s), "ground") {
			b.Known = true
		}
		return nil
	}
	if err := json.Unmarshal(data, &b.Feet); err != nil {
		return fmt.Errorf("alt_baro: %w", err)
	}
	b.Known = true
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b BaroAltitude) MarshalJSON() ([]byte, error) {
	if !b.Known {
		return []byte("null"), nil
	}
	return json.Marshal(b.Feet)
}

// Receiver is the subset of receiver.json the engine needs.
type Receiver struct {
	Version string   `json:"version"`
	Refresh int      `json:"refresh"`
	History int      `json:"history"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}
