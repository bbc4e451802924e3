package engine

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/traffic.picture/internal/enrich"
	"github.com/banshee-data/traffic.picture/internal/monitoring"
	"github.com/banshee-data/traffic.picture/internal/track"
)

// metadataRequester is the store's Enricher. It is called on the Run
// goroutine and must not block, so a full queue drops the request.
type metadataRequester struct {
	e *Engine
}

func (r metadataRequester) RequestMetadata(id track.ID, class track.Class) {
	if class != track.ClassMovingAir {
		return
	}
	select {
	case r.e.metaQueue <- id:
	default:
		r.e.cfg.Metrics.ObserveEnrichment("metadata", "dropped")
		monitoring.Debugf("engine: metadata queue full, dropping %s", id)
	}
}

func (e *Engine) metadataWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.metaQueue:
			md, err := e.cfg.Metadata.Lookup(ctx, string(id))
			switch {
			case errors.Is(err, enrich.ErrNotFound):
				e.cfg.Metrics.ObserveEnrichment("metadata", "miss")
				continue
			case err != nil:
				e.cfg.Metrics.ObserveEnrichment("metadata", "error")
				monitoring.Debugf("engine: metadata %s: %v", id, err)
				continue
			}
			e.cfg.Metrics.ObserveEnrichment("metadata", "hit")
			if md.Empty() {
				continue
			}
			post(ctx, e.metadata, metadataResult{id: id, md: md})
		}
	}
}

type archiveItem struct {
	t  *track.Track
	at time.Time
}

// enqueueArchive hands an evicted track to the archive worker. The track
// has already left the store, so the worker owns it.
func (e *Engine) enqueueArchive(t *track.Track, at time.Time) {
	if e.cfg.Archiver == nil {
		return
	}
	select {
	case e.archive <- archiveItem{t: t, at: at}:
	default:
		monitoring.Logf("engine: archive queue full, dropping %s", t.ID)
	}
}

func (e *Engine) archiveWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drainArchive()
			return
		case item := <-e.archive:
			if err := e.cfg.Archiver.ArchiveTrack(ctx, item.t, item.at); err != nil {
				monitoring.Logf("engine: archive %s: %v", item.t.ID, err)
			}
		}
	}
}

// drainArchive writes whatever is still queued at shutdown.
func (e *Engine) drainArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case item := <-e.archive:
			if err := e.cfg.Archiver.ArchiveTrack(ctx, item.t, item.at); err != nil {
				monitoring.Logf("engine: archive %s: %v", item.t.ID, err)
			}
		default:
			return
		}
	}
}
