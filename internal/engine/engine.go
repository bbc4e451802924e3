// Package engine runs the track picture: it polls the feed, folds batches
// into the track store, loads startup history, dispatches enrichment and
// publishes immutable snapshots for readers.
//
// All store mutation happens on the goroutine running Engine.Run. Fetches
// and lookups run on their own goroutines and post results back to it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/traffic.picture/internal/feed"
	"github.com/banshee-data/traffic.picture/internal/monitoring"
	"github.com/banshee-data/traffic.picture/internal/store"
	"github.com/banshee-data/traffic.picture/internal/timeutil"
	"github.com/banshee-data/traffic.picture/internal/track"
)

const (
	defaultLivePollInterval   = 10 * time.Second
	defaultRenderInterval     = time.Second
	defaultHistorySettleDelay = 9 * time.Second
	defaultWeatherInterval    = 30 * time.Minute
	defaultHistoryConcurrency = 4

	metadataWorkers   = 4
	metadataQueueSize = 1024
	archiveQueueSize  = 256
)

var (
	// ErrStopped is returned by calls made after Run has returned.
	ErrStopped = errors.New("engine stopped")
	// ErrUnknownTrack is returned when an id is not in the store.
	ErrUnknownTrack = errors.New("unknown track")
)

// Source is the inbound report feed.
type Source interface {
	FetchLive(ctx context.Context) (feed.Batch, error)
	FetchReceiver(ctx context.Context) (feed.Receiver, error)
	FetchAllHistory(ctx context.Context, n, limit int) ([]feed.Batch, error)
}

// MetadataSource resolves aircraft metadata by ICAO address.
type MetadataSource interface {
	Lookup(ctx context.Context, icao string) (track.Metadata, error)
}

// WeatherSource returns METAR lines for an airport.
type WeatherSource interface {
	Lookup(ctx context.Context, icao string) ([]string, error)
}

// Archiver records tracks as they expire.
type Archiver interface {
	ArchiveTrack(ctx context.Context, t *track.Track, at time.Time) error
}

// Config wires an Engine. Source is required; every other collaborator is
// optional.
type Config struct {
	Source   Source
	Metadata MetadataSource
	Weather  WeatherSource
	Archiver Archiver
	Metrics  *monitoring.Metrics
	Clock    timeutil.Clock

	Thresholds  track.Thresholds
	TrailLength int

	// FixedTracks are provisioned at construction. WeatherStations maps
	// fixed ids to the ICAO codes used for weather lookups.
	FixedTracks     []*track.Track
	WeatherStations map[track.ID]string

	LivePollInterval   time.Duration
	RenderInterval     time.Duration
	HistorySettleDelay time.Duration
	WeatherInterval    time.Duration
	HistoryConcurrency int
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.LivePollInterval <= 0 {
		c.LivePollInterval = defaultLivePollInterval
	}
	if c.RenderInterval <= 0 {
		c.RenderInterval = defaultRenderInterval
	}
	if c.HistorySettleDelay <= 0 {
		c.HistorySettleDelay = defaultHistorySettleDelay
	}
	if c.WeatherInterval <= 0 {
		c.WeatherInterval = defaultWeatherInterval
	}
	if c.HistoryConcurrency <= 0 {
		c.HistoryConcurrency = defaultHistoryConcurrency
	}
}

type liveResult struct {
	batch feed.Batch
	err   error
}

type historyResult struct {
	batches []feed.Batch
	err     error
}

type metadataResult struct {
	id track.ID
	md track.Metadata
}

type weatherResult struct {
	id    track.ID
	lines []string
}

// Engine owns the track store. Create it with New and start it with Run.
type Engine struct {
	cfg        Config
	clock      timeutil.Clock
	reconciler *timeutil.Reconciler
	store      *store.Store

	commands  chan func()
	live      chan liveResult
	history   chan historyResult
	metadata  chan metadataResult
	weather   chan weatherResult
	metaQueue chan track.ID
	archive   chan archiveItem

	snapshot atomic.Pointer[Snapshot]
	running  atomic.Bool
	stopped  chan struct{}
	runCtx   context.Context
	wg       sync.WaitGroup

	// Owned by the Run goroutine.
	online        bool
	liveInFlight  bool
	historyLoaded bool
	historyBuffer []feed.Batch
	liveUpdates   int
	selected      track.ID
}

// New validates cfg, provisions the fixed tracks and returns an Engine
// ready to Run.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("engine: nil source")
	}
	cfg.applyDefaults()

	e := &Engine{
		cfg:        cfg,
		clock:      cfg.Clock,
		reconciler: timeutil.NewReconciler(cfg.Clock),
		commands:   make(chan func()),
		live:       make(chan liveResult),
		history:    make(chan historyResult),
		metadata:   make(chan metadataResult, metadataWorkers),
		weather:    make(chan weatherResult),
		metaQueue:  make(chan track.ID, metadataQueueSize),
		archive:    make(chan archiveItem, archiveQueueSize),
		stopped:    make(chan struct{}),
	}

	var enr store.Enricher
	if cfg.Metadata != nil {
		enr = metadataRequester{e: e}
	}
	e.store = store.New(store.Config{
		TrailLength: cfg.TrailLength,
		Thresholds:  cfg.Thresholds,
		Enricher:    enr,
	})
	for _, f := range cfg.FixedTracks {
		if err := e.store.AddFixed(f.Clone()); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	e.publish()
	return e, nil
}

// Run drives the engine until ctx is cancelled. It may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.runCtx = ctx
	defer func() {
		cancel()
		e.wg.Wait()
		close(e.stopped)
	}()

	livePoll := e.clock.NewTicker(e.cfg.LivePollInterval)
	defer livePoll.Stop()
	render := e.clock.NewTicker(e.cfg.RenderInterval)
	defer render.Stop()
	settle := e.clock.NewTimer(e.cfg.HistorySettleDelay)
	defer settle.Stop()

	var weatherC <-chan time.Time
	if e.weatherEnabled() {
		weatherTick := e.clock.NewTicker(e.cfg.WeatherInterval)
		defer weatherTick.Stop()
		weatherC = weatherTick.C()
		e.refreshWeather()
	}

	if e.cfg.Metadata != nil {
		for i := 0; i < metadataWorkers; i++ {
			e.goTracked(e.metadataWorker)
		}
	}
	if e.cfg.Archiver != nil {
		e.goTracked(e.archiveWorker)
	}

	// A single live shot gets something on screen while history loads.
	e.requestLive()
	e.goTracked(e.loadHistory)

	monitoring.Logf("engine: started, history settles in %s", e.cfg.HistorySettleDelay)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("engine: stopping: %v", ctx.Err())
			return nil

		case <-livePoll.C():
			e.requestLive()

		case <-render.C():
			e.evictExpired()
			e.publish()

		case <-settle.C():
			e.commitHistory()
			e.requestLive()

		case <-weatherC:
			e.refreshWeather()

		case res := <-e.live:
			e.liveInFlight = false
			e.handleLive(res)

		case res := <-e.history:
			e.bufferHistory(res)

		case res := <-e.metadata:
			if e.store.ApplyMetadata(res.id, res.md) {
				e.publish()
			}

		case res := <-e.weather:
			if e.store.ApplyWeather(res.id, res.lines) {
				e.publish()
			}

		case cmd := <-e.commands:
			cmd()
		}
	}
}

// goTracked runs fn on a goroutine that Run waits for before returning.
func (e *Engine) goTracked(fn func(ctx context.Context)) {
	ctx := e.runCtx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
}

// post delivers v on ch unless ctx is done first.
func post[T any](ctx context.Context, ch chan<- T, v T) {
	select {
	case ch <- v:
	case <-ctx.Done():
	}
}

func (e *Engine) requestLive() {
	if e.liveInFlight {
		monitoring.Debugf("engine: live fetch still in flight, skipping poll")
		return
	}
	e.liveInFlight = true
	e.goTracked(func(ctx context.Context) {
		start := e.clock.Now()
		b, err := e.cfg.Source.FetchLive(ctx)
		e.cfg.Metrics.ObserveFetch("live", e.clock.Now().Sub(start), err)
		post(ctx, e.live, liveResult{batch: b, err: err})
	})
}

func (e *Engine) loadHistory(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.HistorySettleDelay)
	defer cancel()

	start := e.clock.Now()
	rx, err := e.cfg.Source.FetchReceiver(ctx)
	if err != nil {
		e.cfg.Metrics.ObserveFetch("history", e.clock.Now().Sub(start), err)
		post(ctx, e.history, historyResult{err: err})
		return
	}
	batches, err := e.cfg.Source.FetchAllHistory(ctx, rx.History, e.cfg.HistoryConcurrency)
	e.cfg.Metrics.ObserveFetch("history", e.clock.Now().Sub(start), err)
	post(ctx, e.history, historyResult{batches: batches, err: err})
}

func (e *Engine) weatherEnabled() bool {
	return e.cfg.Weather != nil && len(e.cfg.WeatherStations) > 0
}

func (e *Engine) refreshWeather() {
	stations := make(map[track.ID]string, len(e.cfg.WeatherStations))
	for id, icao := range e.cfg.WeatherStations {
		stations[id] = icao
	}
	e.goTracked(func(ctx context.Context) {
		for id, icao := range stations {
			lines, err := e.cfg.Weather.Lookup(ctx, icao)
			if err != nil {
				e.cfg.Metrics.ObserveEnrichment("weather", "error")
				monitoring.Debugf("engine: weather %s: %v", icao, err)
				continue
			}
			e.cfg.Metrics.ObserveEnrichment("weather", "ok")
			post(ctx, e.weather, weatherResult{id: id, lines: lines})
		}
	})
}
