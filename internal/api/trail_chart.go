package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/traffic.picture/internal/httputil"
	"github.com/banshee-data/traffic.picture/internal/track"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleTrailChart renders the snail trail of one track, its dead-reckoning
// leg and the displayed position as an HTML scatter plot. Debugging only.
// Query params:
//   - id (required)
func (s *Server) handleTrailChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := normalizeID(r.URL.Query().Get("id"))
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}

	view, err := s.picture.Track(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	ds := view.Display

	var trail, leg []track.Position
	if ds.Detail != nil {
		trail = ds.Detail.Trail
		leg = ds.Detail.DeadReckonLeg
	}
	var current []track.Position
	if ds.Position != nil {
		current = []track.Position{*ds.Position}
	}
	if len(trail) == 0 && len(current) == 0 {
		httputil.NotFound(w, fmt.Sprintf("track %s has no position", id))
		return
	}

	b := newBounds()
	trailPts := scatterPoints(trail, b)
	legPts := scatterPoints(leg, b)
	currentPts := scatterPoints(current, b)
	xMin, xMax, yMin, yMax := b.padded()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Track Trail", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: ds.Label, Subtitle: fmt.Sprintf("id=%s tier=%s trail=%d", ds.ID, ds.Tier, len(trail))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: xMin, Max: xMax, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: yMin, Max: yMax, Name: "Latitude", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("trail", trailPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))
	scatter.AddSeries("dead reckoning", legPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ffb300"}))
	scatter.AddSeries("position", currentPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render trail chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

type bounds struct {
	minLon, maxLon, minLat, maxLat float64
}

func newBounds() *bounds {
	return &bounds{
		minLon: math.Inf(1), maxLon: math.Inf(-1),
		minLat: math.Inf(1), maxLat: math.Inf(-1),
	}
}

func (b *bounds) add(p track.Position) {
	b.minLon = math.Min(b.minLon, p.Lon)
	b.maxLon = math.Max(b.maxLon, p.Lon)
	b.minLat = math.Min(b.minLat, p.Lat)
	b.maxLat = math.Max(b.maxLat, p.Lat)
}

// padded returns the axis ranges with a 5% margin, and at least 0.01
// degrees either side of a single point.
func (b *bounds) padded() (xMin, xMax, yMin, yMax float64) {
	padLon := math.Max((b.maxLon-b.minLon)*0.05, 0.01)
	padLat := math.Max((b.maxLat-b.minLat)*0.05, 0.01)
	return b.minLon - padLon, b.maxLon + padLon, b.minLat - padLat, b.maxLat + padLat
}

func scatterPoints(ps []track.Position, b *bounds) []opts.ScatterData {
	out := make([]opts.ScatterData, 0, len(ps))
	for _, p := range ps {
		b.add(p)
		out = append(out, opts.ScatterData{Value: []interface{}{p.Lon, p.Lat}})
	}
	return out
}
