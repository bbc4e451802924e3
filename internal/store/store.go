// Package store owns the mapping from track id to track state. It applies
// inbound reports through field fusion and evicts tracks the lifecycle
// policy has expired.
//
// A Store is not safe for concurrent use. The engine owns it from a single
// goroutine; fusion is not commutative, so concurrent upserts for the same
// id would give order-dependent results.
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/traffic.picture/internal/track"
)

var (
	// ErrFixedClass is returned when the live feed path tries to create a
	// fixed entity. Fixed entities are provisioned with AddFixed only.
	ErrFixedClass = errors.New("fixed classes cannot be upserted")
	// ErrReservedID is returned when a moving entity uses an id from the
	// range reserved for fixed entities.
	ErrReservedID = errors.New("id is reserved for fixed entities")
	// ErrUnknownClass is returned for a class outside the known set.
	ErrUnknownClass = errors.New("unknown track class")
	// ErrDuplicateID is returned by AddFixed when the id is taken.
	ErrDuplicateID = errors.New("duplicate track id")
)

// Enricher receives a request whenever a moving track is created. It must
// not block: results come back later through ApplyMetadata.
type Enricher interface {
	RequestMetadata(id track.ID, class track.Class)
}

// Config holds the store's construction-time settings.
type Config struct {
	TrailLength int
	Thresholds  track.Thresholds
	Enricher    Enricher
}

// Store maps ids to tracks.
type Store struct {
	cfg    Config
	tracks map[track.ID]*track.Track
}

// New creates an empty store. A zero trail length means 500 and zero
// thresholds mean track.DefaultThresholds.
func New(cfg Config) *Store {
	if cfg.TrailLength < 1 {
		cfg.TrailLength = 500
	}
	if cfg.Thresholds == (track.Thresholds{}) {
		cfg.Thresholds = track.DefaultThresholds()
	}
	return &Store{cfg: cfg, tracks: make(map[track.ID]*track.Track)}
}

// Thresholds returns the lifecycle thresholds the store evicts with.
func (s *Store) Thresholds() track.Thresholds {
	return s.cfg.Thresholds
}

// TrailLength returns the per-track trail bound.
func (s *Store) TrailLength() int {
	return s.cfg.TrailLength
}

// AddFixed provisions a fixed entity.
func (s *Store) AddFixed(t *track.Track) error {
	if !t.Fixed() {
		return fmt.Errorf("add fixed %s: class %q is not fixed", t.ID, t.Class)
	}
	if !t.ID.IsFixedRange() {
		return fmt.Errorf("add fixed %s: fixed entities need a negative id", t.ID)
	}
	if _, ok := s.tracks[t.ID]; ok {
		return fmt.Errorf("add fixed %s: %w", t.ID, ErrDuplicateID)
	}
	s.tracks[t.ID] = t
	return nil
}

// Upsert looks up or creates the track for id and merges the report into
// it. Creating a track triggers a metadata request on the Enricher and
// stamps it with the batch time, so a track created from an empty report
// still expires. An existing track keeps its class.
func (s *Store) Upsert(id track.ID, class track.Class, r track.Report) error {
	switch {
	case !class.Valid():
		return fmt.Errorf("upsert %s: %w: %q", id, ErrUnknownClass, class)
	case class.Fixed():
		return fmt.Errorf("upsert %s: %w", id, ErrFixedClass)
	case id.IsFixedRange():
		return fmt.Errorf("upsert %s: %w", id, ErrReservedID)
	}

	t, ok := s.tracks[id]
	if !ok {
		t = track.New(id, class)
		t.LastUpdateTime = r.BatchTime
		s.tracks[id] = t
		if s.cfg.Enricher != nil {
			s.cfg.Enricher.RequestMetadata(id, class)
		}
	}
	track.Merge(t, r, s.cfg.TrailLength)
	return nil
}

// ApplyMetadata merges an enrichment result. It reports false, and
// discards the result, when the track no longer exists.
func (s *Store) ApplyMetadata(id track.ID, md track.Metadata) bool {
	t, ok := s.tracks[id]
	if !ok {
		return false
	}
	t.ApplyMetadata(md)
	return true
}

// ApplyWeather replaces the weather lines of a fixed track. It reports
// false when the track is missing or not fixed.
func (s *Store) ApplyWeather(id track.ID, lines []string) bool {
	t, ok := s.tracks[id]
	if !ok || !t.Fixed() {
		return false
	}
	t.Weather = append([]string(nil), lines...)
	return true
}

// Remove deletes a track and reports whether it existed.
func (s *Store) Remove(id track.ID) bool {
	if _, ok := s.tracks[id]; !ok {
		return false
	}
	delete(s.tracks, id)
	return true
}

// Get returns the track for id, or nil.
func (s *Store) Get(id track.ID) *track.Track {
	return s.tracks[id]
}

// All returns every track. The order is unspecified.
func (s *Store) All() []*track.Track {
	out := make([]*track.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// Sorted returns every track ordered by id.
func (s *Store) Sorted() []*track.Track {
	out := s.All()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tracks.
func (s *Store) Len() int {
	return len(s.tracks)
}

// CountByClass returns the number of tracks per class.
func (s *Store) CountByClass() map[track.Class]int {
	out := make(map[track.Class]int)
	for _, t := range s.tracks {
		out[t.Class]++
	}
	return out
}

// EvictExpired removes every non-fixed track that is expired at now and
// returns the removed tracks. Calling it again at the same now removes
// nothing.
func (s *Store) EvictExpired(now time.Time) []*track.Track {
	var evicted []*track.Track
	for id, t := range s.tracks {
		if t.Fixed() {
			continue
		}
		if track.IsExpired(t, now, s.cfg.Thresholds) {
			evicted = append(evicted, t)
			delete(s.tracks, id)
		}
	}
	return evicted
}

// ReplaceNonFixed drops every non-fixed track and inserts tracks in order.
// Fixed tracks are never touched, and fixed or reserved-id entries in
// tracks are skipped. Ids that were not present before the call trigger a
// metadata request.
func (s *Store) ReplaceNonFixed(tracks []*track.Track) {
	previous := make(map[track.ID]bool, len(s.tracks))
	for id, t := range s.tracks {
		if t.Fixed() {
			continue
		}
		previous[id] = true
		delete(s.tracks, id)
	}
	for _, t := range tracks {
		if t == nil || t.Fixed() || t.ID.IsFixedRange() {
			continue
		}
		s.tracks[t.ID] = t
		if !previous[t.ID] && s.cfg.Enricher != nil {
			s.cfg.Enricher.RequestMetadata(t.ID, t.Class)
		}
		previous[t.ID] = true
	}
}
