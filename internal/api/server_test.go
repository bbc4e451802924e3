package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.picture/internal/engine"
	"github.com/banshee-data/traffic.picture/internal/monitoring"
	"github.com/banshee-data/traffic.picture/internal/testutil"
	"github.com/banshee-data/traffic.picture/internal/track"
	"github.com/banshee-data/traffic.picture/internal/trackdb"
)

var snapTime = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type fakePicture struct {
	snap     *engine.Snapshot
	views    map[track.ID]engine.TrackView
	selected track.ID
	err      error
}

func (f *fakePicture) Snapshot() *engine.Snapshot { return f.snap }

func (f *fakePicture) Select(_ context.Context, id track.ID) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.views[id]; !ok {
		return fmt.Errorf("select %s: %w", id, engine.ErrUnknownTrack)
	}
	f.selected = id
	return nil
}

func (f *fakePicture) Deselect(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.selected = ""
	return nil
}

func (f *fakePicture) Track(_ context.Context, id track.ID) (engine.TrackView, error) {
	if f.err != nil {
		return engine.TrackView{}, f.err
	}
	v, ok := f.views[id]
	if !ok {
		return engine.TrackView{}, fmt.Errorf("track %s: %w", id, engine.ErrUnknownTrack)
	}
	return v, nil
}

type fakeArchive struct {
	tracks    []trackdb.ArchivedTrack
	err       error
	lastLimit int
}

func (f *fakeArchive) RecentTracks(_ context.Context, limit int) ([]trackdb.ArchivedTrack, error) {
	f.lastLimit = limit
	return f.tracks, f.err
}

func alt(v int) *int { return &v }

func newFakePicture() *fakePicture {
	air := track.DisplayState{
		ID: "4ca7b5", Class: track.ClassMovingAir, Label: "RYR8XY",
		Position: &track.Position{Lat: 51.5, Lon: -0.2}, Altitude: alt(12000),
		Speed: testutil.Float(200), Tier: track.TierFresh,
	}
	ship := track.DisplayState{
		ID: "235000001", Class: track.ClassMovingSurface, Label: "T:235000001",
		Position: &track.Position{Lat: 50.8, Lon: -1.1},
	}
	airport := track.DisplayState{
		ID: "-2", Class: track.ClassFixedAirFacility, Label: "EGLL",
		Position: &track.Position{Lat: 51.47, Lon: -0.4543},
	}
	base := track.DisplayState{
		ID: "-1", Class: track.ClassFixedReference, Label: "Base",
		Position: &track.Position{Lat: 51.0, Lon: -0.5},
	}

	selectedAir := air
	selectedAir.Selected = true
	selectedAir.Tier = track.TierDeadReckoning
	selectedAir.Position = &track.Position{Lat: 51.52, Lon: -0.18}
	selectedAir.Detail = &track.Detail{
		FlightLevel: "FL120",
		Trail: []track.Position{
			{Lat: 51.48, Lon: -0.22},
			{Lat: 51.49, Lon: -0.21},
			{Lat: 51.5, Lon: -0.2},
		},
		DeadReckonLeg: []track.Position{
			{Lat: 51.5, Lon: -0.2},
			{Lat: 51.52, Lon: -0.18},
		},
	}
	noPos := track.DisplayState{ID: "abcdef", Class: track.ClassMovingAir, Label: "T:abcdef", Detail: &track.Detail{}}

	return &fakePicture{
		snap: &engine.Snapshot{
			Time:           snapTime,
			Online:         true,
			ClockOffset:    2500 * time.Millisecond,
			HistoryLoaded:  true,
			HistoryBatches: 0,
			LiveUpdates:    7,
			Tracks:         []track.DisplayState{base, airport, ship, air},
			Counts: map[string]int{
				string(track.ClassMovingAir):        1,
				string(track.ClassMovingSurface):    1,
				string(track.ClassFixedAirFacility): 1,
				string(track.ClassFixedReference):   1,
			},
		},
		views: map[track.ID]engine.TrackView{
			"4ca7b5": {Display: selectedAir},
			"abcdef": {Display: noPos},
		},
	}
}

func newTestServer(t *testing.T, p Picture, a ArchiveReader) http.Handler {
	t.Helper()
	metrics, err := monitoring.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return NewServer(p, a, metrics).ServeMux()
}

func trackIDs(states []track.DisplayState) []track.ID {
	out := make([]track.ID, len(states))
	for i, ds := range states {
		out[i] = ds.ID
	}
	return out
}

func TestListTracks(t *testing.T) {
	h := newTestServer(t, newFakePicture(), nil)

	cases := []struct {
		query string
		want  []track.ID
	}{
		{"", []track.ID{"-1", "-2", "235000001", "4ca7b5"}},
		{"?class=air", []track.ID{"4ca7b5"}},
		{"?class=air,surface", []track.ID{"235000001", "4ca7b5"}},
		{"?class=fixed", []track.ID{"-1", "-2"}},
		{"?class=airport", []track.ID{"-2"}},
		{"?class=moving_surface,%20base", []track.ID{"-1", "235000001"}},
		{"?class=,", []track.ID{"-1", "-2", "235000001", "4ca7b5"}},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			rec := testutil.Serve(h, http.MethodGet, "/api/tracks"+tc.query)
			testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

			var resp tracksResponse
			testutil.DecodeJSON(t, rec, &resp)
			assert.Equal(t, tc.want, trackIDs(resp.Tracks))
			assert.True(t, resp.Online)
			assert.True(t, resp.Time.Equal(snapTime))
		})
	}
}

func TestListTracksRejectsUnknownClass(t *testing.T) {
	h := newTestServer(t, newFakePicture(), nil)

	rec := testutil.Serve(h, http.MethodGet, "/api/tracks?class=air,submarine")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	assert.Contains(t, rec.Body.String(), "submarine")

	rec = testutil.Serve(h, http.MethodPost, "/api/tracks")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestSpeedUnits(t *testing.T) {
	p := newFakePicture()
	h := newTestServer(t, p, nil)

	rec := testutil.Serve(h, http.MethodGet, "/api/tracks?class=air&units=kmph")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp tracksResponse
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, "kmph", resp.Units)
	require.Len(t, resp.Tracks, 1)
	require.NotNil(t, resp.Tracks[0].Speed)
	assert.InDelta(t, 370.4, *resp.Tracks[0].Speed, 0.01)

	// The published snapshot is shared and must stay in knots.
	assert.InDelta(t, 200.0, *p.snap.Tracks[3].Speed, 1e-9)

	rec = testutil.Serve(h, http.MethodGet, "/api/tracks")
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, "kts", resp.Units)

	rec = testutil.Serve(h, http.MethodGet, "/api/tracks?units=furlongs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	assert.Contains(t, rec.Body.String(), "kts, mps, mph, kmph, kph")

	rec = testutil.Serve(h, http.MethodGet, "/api/tracks/4ca7b5?units=furlongs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestGetTrack(t *testing.T) {
	h := newTestServer(t, newFakePicture(), nil)

	rec := testutil.Serve(h, http.MethodGet, "/api/tracks/4CA7B5")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var ds track.DisplayState
	testutil.DecodeJSON(t, rec, &ds)
	assert.Equal(t, track.ID("4ca7b5"), ds.ID)
	assert.Equal(t, track.TierDeadReckoning, ds.Tier)
	require.NotNil(t, ds.Detail)
	assert.Equal(t, "FL120", ds.Detail.FlightLevel)
	assert.Len(t, ds.Detail.Trail, 3)

	rec = testutil.Serve(h, http.MethodGet, "/api/tracks/ffffff")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = testutil.Serve(h, http.MethodDelete, "/api/tracks/4ca7b5")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestSelectAndDeselect(t *testing.T) {
	p := newFakePicture()
	h := newTestServer(t, p, nil)

	rec := testutil.Serve(h, http.MethodPost, "/api/select?id=4CA7B5")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, track.ID("4ca7b5"), p.selected)

	rec = testutil.Serve(h, http.MethodPost, "/api/select?id=nope")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	assert.Equal(t, track.ID("4ca7b5"), p.selected)

	rec = testutil.Serve(h, http.MethodPost, "/api/select")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.Serve(h, http.MethodGet, "/api/select?id=4ca7b5")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	rec = testutil.Serve(h, http.MethodPost, "/api/deselect")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, track.ID(""), p.selected)

	rec = testutil.Serve(h, http.MethodGet, "/api/deselect")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{engine.ErrStopped, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			p := newFakePicture()
			p.err = tc.err
			h := newTestServer(t, p, nil)

			testutil.AssertStatusCode(t, testutil.Serve(h, http.MethodPost, "/api/select?id=4ca7b5").Code, tc.want)
			testutil.AssertStatusCode(t, testutil.Serve(h, http.MethodPost, "/api/deselect").Code, tc.want)
			testutil.AssertStatusCode(t, testutil.Serve(h, http.MethodGet, "/api/tracks/4ca7b5").Code, tc.want)
		})
	}
}

func TestShowStatus(t *testing.T) {
	h := newTestServer(t, newFakePicture(), nil)

	rec := testutil.Serve(h, http.MethodGet, "/api/status")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp statusResponse
	testutil.DecodeJSON(t, rec, &resp)
	assert.True(t, resp.Online)
	assert.True(t, resp.HistoryLoaded)
	assert.Equal(t, 7, resp.LiveUpdates)
	assert.InDelta(t, 2.5, resp.ClockOffsetSeconds, 1e-9)
	assert.Equal(t, 1, resp.Counts[string(track.ClassMovingAir)])
	assert.NotEmpty(t, resp.Build.Version)
}

func TestListArchive(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newTestServer(t, newFakePicture(), nil)
		rec := testutil.Serve(h, http.MethodGet, "/api/archive")
		testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
	})

	t.Run("default limit and empty list", func(t *testing.T) {
		a := &fakeArchive{}
		h := newTestServer(t, newFakePicture(), a)
		rec := testutil.Serve(h, http.MethodGet, "/api/archive")
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		assert.Equal(t, defaultArchiveLimit, a.lastLimit)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("explicit limit", func(t *testing.T) {
		a := &fakeArchive{tracks: []trackdb.ArchivedTrack{{TrackID: "4ca7b5", Label: "RYR8XY"}}}
		h := newTestServer(t, newFakePicture(), a)
		rec := testutil.Serve(h, http.MethodGet, "/api/archive?limit=5")
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		assert.Equal(t, 5, a.lastLimit)

		var got []trackdb.ArchivedTrack
		testutil.DecodeJSON(t, rec, &got)
		require.Len(t, got, 1)
		assert.Equal(t, "RYR8XY", got[0].Label)
	})

	t.Run("bad limit", func(t *testing.T) {
		h := newTestServer(t, newFakePicture(), &fakeArchive{})
		for _, q := range []string{"0", "-3", "abc", "1001"} {
			rec := testutil.Serve(h, http.MethodGet, "/api/archive?limit="+q)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("store error", func(t *testing.T) {
		h := newTestServer(t, newFakePicture(), &fakeArchive{err: errors.New("disk full")})
		rec := testutil.Serve(h, http.MethodGet, "/api/archive")
		testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
		assert.Contains(t, rec.Body.String(), "disk full")
	})
}

func TestTrailChart(t *testing.T) {
	h := newTestServer(t, newFakePicture(), nil)

	rec := testutil.Serve(h, http.MethodGet, "/debug/trail?id=4ca7b5")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "RYR8XY")
	assert.Contains(t, body, "dead reckoning")

	testutil.AssertStatusCode(t, testutil.Serve(h, http.MethodGet, "/debug/trail").Code, http.StatusBadRequest)
	testutil.AssertStatusCode(t, testutil.Serve(h, http.MethodGet, "/debug/trail?id=ffffff").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, testutil.Serve(h, http.MethodGet, "/debug/trail?id=abcdef").Code, http.StatusNotFound)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(reg)
	require.NoError(t, err)
	metrics.SetSourceOnline(true)
	h := NewServer(newFakePicture(), nil, metrics).ServeMux()

	rec := testutil.Serve(h, http.MethodGet, "/metrics")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.True(t, strings.Contains(rec.Body.String(), "trackd_source_online 1"), rec.Body.String())
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := testutil.Serve(LoggingMiddleware(inner), http.MethodGet, "/api/status")
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)

	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(503), colorBoldRed)
	assert.Equal(t, "101", statusCodeColor(101))
}
