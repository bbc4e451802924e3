package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus instruments exported by the tracking
// engine. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	Tracks         *prometheus.GaugeVec
	Reports        *prometheus.CounterVec
	Fetches        *prometheus.CounterVec
	FetchDurations *prometheus.HistogramVec
	Evictions      prometheus.Counter
	Enrichments    *prometheus.CounterVec
	ClockOffset    prometheus.Gauge
	SourceOnline   prometheus.Gauge
}

// NewMetrics registers the engine metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice against the same
// registry returns the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tracks, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trackd_tracks",
		Help: "Current number of tracks in the store, labeled by class.",
	}, []string{"class"}), "trackd_tracks")
	if err != nil {
		return nil, err
	}
	reports, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackd_reports_total",
		Help: "Reports merged into the store, labeled by origin (live or history).",
	}, []string{"origin"}), "trackd_reports_total")
	if err != nil {
		return nil, err
	}
	fetches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackd_fetches_total",
		Help: "Feed fetches, labeled by feed and result.",
	}, []string{"feed", "result"}), "trackd_fetches_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trackd_fetch_duration_seconds",
		Help:    "Feed fetch latency in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"feed"}), "trackd_fetch_duration_seconds")
	if err != nil {
		return nil, err
	}
	evictions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackd_evictions_total",
		Help: "Tracks removed because they expired.",
	}), "trackd_evictions_total")
	if err != nil {
		return nil, err
	}
	enrichments, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackd_enrichments_total",
		Help: "Enrichment lookups, labeled by kind (metadata, weather) and result.",
	}, []string{"kind", "result"}), "trackd_enrichments_total")
	if err != nil {
		return nil, err
	}
	offset, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trackd_clock_offset_seconds",
		Help: "Local clock minus data source clock as of the last live batch.",
	}), "trackd_clock_offset_seconds")
	if err != nil {
		return nil, err
	}
	online, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trackd_source_online",
		Help: "1 when the last live fetch succeeded, 0 otherwise.",
	}), "trackd_source_online")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:       gatherer,
		Tracks:         tracks,
		Reports:        reports,
		Fetches:        fetches,
		FetchDurations: durations,
		Evictions:      evictions,
		Enrichments:    enrichments,
		ClockOffset:    offset,
		SourceOnline:   online,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch records one feed fetch.
func (m *Metrics) ObserveFetch(feed string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Fetches.WithLabelValues(feed, result).Inc()
	m.FetchDurations.WithLabelValues(feed).Observe(d.Seconds())
}

// AddReports counts merged reports by origin.
func (m *Metrics) AddReports(origin string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Reports.WithLabelValues(origin).Add(float64(n))
}

// SetTrackCounts replaces the per-class track gauges. Classes missing from
// counts are reset to zero.
func (m *Metrics) SetTrackCounts(classes []string, counts map[string]int) {
	if m == nil {
		return
	}
	for _, c := range classes {
		m.Tracks.WithLabelValues(c).Set(float64(counts[c]))
	}
}

// AddEvictions counts expired tracks.
func (m *Metrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evictions.Add(float64(n))
}

// ObserveEnrichment records one metadata or weather lookup.
func (m *Metrics) ObserveEnrichment(kind, result string) {
	if m == nil {
		return
	}
	m.Enrichments.WithLabelValues(kind, result).Inc()
}

// SetClockOffset records the current clock offset.
func (m *Metrics) SetClockOffset(d time.Duration) {
	if m == nil {
		return
	}
	m.ClockOffset.Set(d.Seconds())
}

// SetSourceOnline records whether the data source is reachable.
func (m *Metrics) SetSourceOnline(online bool) {
	if m == nil {
		return
	}
	v := 0.0
	if online {
		v = 1
	}
	m.SourceOnline.Set(v)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
