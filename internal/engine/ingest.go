package engine

import (
	"github.com/banshee-data/traffic.picture/internal/feed"
	"github.com/banshee-data/traffic.picture/internal/monitoring"
	"github.com/banshee-data/traffic.picture/internal/store"
	"github.com/banshee-data/traffic.picture/internal/track"
)

// handleLive applies a live fetch result. A failed fetch only marks the
// source offline; tracks keep dead reckoning and ageing either way.
func (e *Engine) handleLive(res liveResult) {
	if res.err != nil {
		if e.online || e.liveUpdates == 0 {
			monitoring.Logf("engine: live fetch failed, source offline: %v", res.err)
		}
		e.setOnline(false)
	} else {
		if !e.online {
			monitoring.Logf("engine: source online")
		}
		e.setOnline(true)
		e.reconciler.RecordLiveBatchTime(res.batch.Time())
		e.cfg.Metrics.SetClockOffset(e.reconciler.Offset())
		n := applyBatch(e.store, res.batch)
		e.cfg.Metrics.AddReports("live", n)
		e.liveUpdates++
	}
	e.evictExpired()
	e.publish()
}

func (e *Engine) setOnline(online bool) {
	e.online = online
	e.cfg.Metrics.SetSourceOnline(online)
}

// bufferHistory holds history batches until the settle timer fires.
// Anything arriving after that is stale and dropped.
func (e *Engine) bufferHistory(res historyResult) {
	if res.err != nil {
		monitoring.Logf("engine: history load incomplete: %v", res.err)
	}
	if e.historyLoaded {
		monitoring.Debugf("engine: dropping %d history batches received after settle", len(res.batches))
		return
	}
	e.historyBuffer = append(e.historyBuffer, res.batches...)
	e.publish()
}

// commitHistory replaces every moving track with the state rebuilt from
// the buffered history, applied in source-time order. Live data applied
// before this point is discarded; the live fetch that follows tops it up.
func (e *Engine) commitHistory() {
	if e.historyLoaded {
		return
	}
	e.historyLoaded = true

	batches := e.historyBuffer
	e.historyBuffer = nil
	feed.SortBatches(batches)

	scratch := store.New(store.Config{
		TrailLength: e.store.TrailLength(),
		Thresholds:  e.store.Thresholds(),
	})
	reports := 0
	for _, b := range batches {
		reports += applyBatch(scratch, b)
	}
	e.store.ReplaceNonFixed(scratch.Sorted())
	e.cfg.Metrics.AddReports("history", reports)

	monitoring.Logf("engine: history loaded: %d batches, %d reports, %d tracks",
		len(batches), reports, e.store.Len())

	e.evictExpired()
	e.publish()
}

// applyBatch folds every report of b into s and returns how many were
// applied. Rejected reports are logged and skipped.
func applyBatch(s *store.Store, b feed.Batch) int {
	n := 0
	for _, r := range b.Reports() {
		if err := s.Upsert(r.ID, r.Class, r.Report); err != nil {
			monitoring.Logf("engine: skipping report: %v", err)
			continue
		}
		n++
	}
	return n
}

// evictExpired drops expired tracks at the current source-frame time and
// hands them to the archiver.
func (e *Engine) evictExpired() {
	now := e.reconciler.NowInSourceFrame()
	evicted := e.store.EvictExpired(now)
	if len(evicted) == 0 {
		return
	}
	e.cfg.Metrics.AddEvictions(len(evicted))
	for _, t := range evicted {
		if t.ID == e.selected {
			e.selected = ""
		}
		e.enqueueArchive(t, now)
	}
	monitoring.Debugf("engine: evicted %d tracks", len(evicted))
}

// countByClass returns per-class counts keyed by class name, with every
// known class present.
func countByClass(s *store.Store) map[string]int {
	out := make(map[string]int, len(allClasses))
	for _, c := range allClasses {
		out[string(c)] = 0
	}
	for c, n := range s.CountByClass() {
		out[string(c)] = n
	}
	return out
}

var allClasses = []track.Class{
	track.ClassMovingAir,
	track.ClassMovingSurface,
	track.ClassFixedAirFacility,
	track.ClassFixedSurfaceFacility,
	track.ClassFixedReference,
}

func classNames() []string {
	out := make([]string, len(allClasses))
	for i, c := range allClasses {
		out[i] = string(c)
	}
	return out
}
