// Package api serves the track picture over HTTP: the published snapshot,
// per-track detail, selection, the expired-track archive and a debug chart
// of a track's trail.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/traffic.picture/internal/engine"
	"github.com/banshee-data/traffic.picture/internal/httputil"
	"github.com/banshee-data/traffic.picture/internal/monitoring"
	"github.com/banshee-data/traffic.picture/internal/track"
	"github.com/banshee-data/traffic.picture/internal/trackdb"
	"github.com/banshee-data/traffic.picture/internal/units"
	"github.com/banshee-data/traffic.picture/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultArchiveLimit = 100
	maxArchiveLimit     = 1000
)

// Picture is the part of the engine the API reads and drives.
type Picture interface {
	Snapshot() *engine.Snapshot
	Select(ctx context.Context, id track.ID) error
	Deselect(ctx context.Context) error
	Track(ctx context.Context, id track.ID) (engine.TrackView, error)
}

// ArchiveReader lists tracks archived on expiry.
type ArchiveReader interface {
	RecentTracks(ctx context.Context, limit int) ([]trackdb.ArchivedTrack, error)
}

type Server struct {
	picture Picture
	archive ArchiveReader
	metrics *monitoring.Metrics
}

// NewServer returns a Server over p. archive and metrics may be nil: the
// archive endpoint then answers 503 and /metrics falls back to the default
// Prometheus gatherer.
func NewServer(p Picture, archive ArchiveReader, metrics *monitoring.Metrics) *Server {
	return &Server{
		picture: p,
		archive: archive,
		metrics: metrics,
	}
}

// parseUnits reads the optional 'units' query parameter. Tracks carry speed
// in knots, which is also the default.
func parseUnits(r *http.Request) (string, error) {
	u := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("units")))
	if u == "" {
		return units.KTS, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter, must be one of: %s", units.GetValidUnitsString())
	}
	return u, nil
}

// convertDisplaySpeed returns ds with its speed in target units. Snapshot
// states are shared, so the speed is copied rather than modified in place.
func convertDisplaySpeed(ds track.DisplayState, target string) track.DisplayState {
	if ds.Speed != nil && target != units.KTS {
		converted := units.ConvertSpeed(*ds.Speed, target)
		ds.Speed = &converted
	}
	return ds
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tracks", s.listTracks)
	mux.HandleFunc("/api/tracks/{id}", s.getTrack)
	mux.HandleFunc("/api/select", s.selectTrack)
	mux.HandleFunc("/api/deselect", s.deselectTrack)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/archive", s.listArchive)
	mux.HandleFunc("/debug/trail", s.handleTrailChart)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

type tracksResponse struct {
	Time     time.Time            `json:"time"`
	Online   bool                 `json:"online"`
	Selected track.ID             `json:"selected,omitempty"`
	Units    string               `json:"units"`
	Tracks   []track.DisplayState `json:"tracks"`
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	filter, err := parseClassFilter(r.URL.Query().Get("class"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	speedUnits, err := parseUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	snap := s.picture.Snapshot()
	resp := tracksResponse{
		Time:     snap.Time,
		Online:   snap.Online,
		Selected: snap.Selected,
		Units:    speedUnits,
		Tracks:   make([]track.DisplayState, 0, len(snap.Tracks)),
	}
	for _, ds := range snap.Tracks {
		if filter == nil || filter[ds.Class] {
			resp.Tracks = append(resp.Tracks, convertDisplaySpeed(ds, speedUnits))
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// parseClassFilter parses a comma-separated class list. "fixed" selects
// every fixed class. An empty list returns a nil filter, which matches
// everything.
func parseClassFilter(raw string) (map[track.Class]bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	filter := make(map[track.Class]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.EqualFold(name, "fixed") {
			filter[track.ClassFixedAirFacility] = true
			filter[track.ClassFixedSurfaceFacility] = true
			filter[track.ClassFixedReference] = true
			continue
		}
		c, ok := track.ParseClass(name)
		if !ok {
			return nil, fmt.Errorf("unknown class %q", name)
		}
		filter[c] = true
	}
	if len(filter) == 0 {
		return nil, nil
	}
	return filter, nil
}

func normalizeID(raw string) track.ID {
	return track.ID(strings.ToLower(strings.TrimSpace(raw)))
}

func (s *Server) getTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := normalizeID(r.PathValue("id"))
	if id == "" {
		httputil.BadRequest(w, "missing track id")
		return
	}
	speedUnits, err := parseUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	view, err := s.picture.Track(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, convertDisplaySpeed(view.Display, speedUnits))
}

func (s *Server) selectTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id := normalizeID(r.FormValue("id"))
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}

	if err := s.picture.Select(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]track.ID{"selected": id})
}

func (s *Server) deselectTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.picture.Deselect(r.Context()); err != nil {
		s.writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]track.ID{"selected": ""})
}

// writeEngineError maps engine errors onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownTrack):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, engine.ErrStopped):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

type statusResponse struct {
	Time               time.Time      `json:"time"`
	Online             bool           `json:"online"`
	ClockOffsetSeconds float64        `json:"clock_offset_seconds"`
	HistoryLoaded      bool           `json:"history_loaded"`
	HistoryBatches     int            `json:"history_batches"`
	LiveUpdates        int            `json:"live_updates"`
	Selected           track.ID       `json:"selected,omitempty"`
	Counts             map[string]int `json:"counts"`
	Build              version.Info   `json:"build"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.picture.Snapshot()
	httputil.WriteJSONOK(w, statusResponse{
		Time:               snap.Time,
		Online:             snap.Online,
		ClockOffsetSeconds: snap.ClockOffset.Seconds(),
		HistoryLoaded:      snap.HistoryLoaded,
		HistoryBatches:     snap.HistoryBatches,
		LiveUpdates:        snap.LiveUpdates,
		Selected:           snap.Selected,
		Counts:             snap.Counts,
		Build:              version.Get(),
	})
}

func (s *Server) listArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.archive == nil {
		httputil.ServiceUnavailable(w, "track archive is not configured")
		return
	}

	limit := defaultArchiveLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxArchiveLimit {
			httputil.BadRequest(w, fmt.Sprintf("Invalid 'limit' parameter (1-%d)", maxArchiveLimit))
			return
		}
		limit = parsed
	}

	tracks, err := s.archive.RecentTracks(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve archived tracks: %v", err))
		return
	}
	if tracks == nil {
		tracks = []trackdb.ArchivedTrack{}
	}
	httputil.WriteJSONOK(w, tracks)
}
