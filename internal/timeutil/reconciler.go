package timeutil

import (
	"sync"
	"time"
)

// Reconciler tracks the offset between the local clock and the clock that
// stamps inbound data batches. Staleness is always judged in the source's
// frame so a skewed local clock neither ages nor freshens tracks.
//
// The offset starts at zero and changes only when a live batch is recorded.
// Replayed history must never be recorded: its timestamps are in the past
// on purpose.
type Reconciler struct {
	clock Clock

	mu       sync.RWMutex
	offset   time.Duration
	lastLive time.Time
}

// NewReconciler returns a Reconciler reading local time from clock. A nil
// clock means RealClock.
func NewReconciler(clock Clock) *Reconciler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Reconciler{clock: clock}
}

// RecordLiveBatchTime sets the offset to local now minus the batch's source
// timestamp.
func (r *Reconciler) RecordLiveBatchTime(source time.Time) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = now.Sub(source)
	r.lastLive = source
}

// NowInSourceFrame returns local now translated into the source's frame.
func (r *Reconciler) NowInSourceFrame() time.Time {
	now := r.clock.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return now.Add(-r.offset)
}

// Offset returns local time minus source time as of the last live batch.
func (r *Reconciler) Offset() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.offset
}

// LastLiveBatchTime returns the source timestamp of the last live batch, or
// the zero time if none has been recorded.
func (r *Reconciler) LastLiveBatchTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastLive
}

// FromUnixSeconds converts a fractional Unix timestamp, as carried by the
// data feeds, to a time.Time in UTC.
func FromUnixSeconds(sec float64) time.Time {
	whole := int64(sec)
	frac := sec - float64(whole)
	return time.Unix(whole, int64(frac*float64(time.Second))).UTC()
}
