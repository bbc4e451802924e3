package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/traffic.picture/internal/track"
)

// Snapshot is an immutable view of the picture at one instant. Readers
// must not modify it.
type Snapshot struct {
	// Time is the source-frame time the display states were computed at.
	Time        time.Time
	Online      bool
	ClockOffset time.Duration

	HistoryLoaded  bool
	HistoryBatches int
	LiveUpdates    int

	Selected track.ID
	Tracks   []track.DisplayState
	Counts   map[string]int
}

// Find returns the display state for id.
func (s *Snapshot) Find(id track.ID) (track.DisplayState, bool) {
	for _, ds := range s.Tracks {
		if ds.ID == id {
			return ds, true
		}
	}
	return track.DisplayState{}, false
}

// Snapshot returns the most recently published snapshot. It never returns
// nil.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// publish recomputes every display state at the current source-frame time.
// Called on the Run goroutine, and once from New before Run starts.
func (e *Engine) publish() {
	now := e.reconciler.NowInSourceFrame()
	th := e.store.Thresholds()
	tracks := e.store.Sorted()

	snap := &Snapshot{
		Time:           now,
		Online:         e.online,
		ClockOffset:    e.reconciler.Offset(),
		HistoryLoaded:  e.historyLoaded,
		HistoryBatches: len(e.historyBuffer),
		LiveUpdates:    e.liveUpdates,
		Selected:       e.selected,
		Tracks:         make([]track.DisplayState, 0, len(tracks)),
		Counts:         countByClass(e.store),
	}
	for _, t := range tracks {
		snap.Tracks = append(snap.Tracks, track.Display(t, now, th, t.ID == e.selected))
	}
	e.snapshot.Store(snap)
	e.cfg.Metrics.SetTrackCounts(classNames(), snap.Counts)
}

// do runs fn on the Run goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		fn()
		close(done)
	}
	select {
	case e.commands <- cmd:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Select marks id as the selected track, so its display state carries the
// detail block. Selecting a new track replaces the previous selection.
func (e *Engine) Select(ctx context.Context, id track.ID) error {
	var err error
	if cmdErr := e.do(ctx, func() {
		if e.store.Get(id) == nil {
			err = fmt.Errorf("select %s: %w", id, ErrUnknownTrack)
			return
		}
		e.selected = id
		e.publish()
	}); cmdErr != nil {
		return cmdErr
	}
	return err
}

// Deselect clears the selection.
func (e *Engine) Deselect(ctx context.Context) error {
	return e.do(ctx, func() {
		e.selected = ""
		e.publish()
	})
}

// TrackView is the full state of one track: its display state with the
// detail block, and a private copy of the underlying track.
type TrackView struct {
	Display track.DisplayState `json:"display"`
	Track   *track.Track       `json:"-"`
}

// Track returns the current view of id.
func (e *Engine) Track(ctx context.Context, id track.ID) (TrackView, error) {
	var (
		view TrackView
		err  error
	)
	if cmdErr := e.do(ctx, func() {
		t := e.store.Get(id)
		if t == nil {
			err = fmt.Errorf("track %s: %w", id, ErrUnknownTrack)
			return
		}
		now := e.reconciler.NowInSourceFrame()
		view.Display = track.Display(t, now, e.store.Thresholds(), true)
		view.Display.Selected = id == e.selected
		view.Track = t.Clone()
	}); cmdErr != nil {
		return TrackView{}, cmdErr
	}
	return view, err
}

// Tracks returns private copies of every track, ordered by id.
func (e *Engine) Tracks(ctx context.Context) ([]*track.Track, error) {
	var out []*track.Track
	err := e.do(ctx, func() {
		for _, t := range e.store.Sorted() {
			out = append(out, t.Clone())
		}
	})
	return out, err
}
