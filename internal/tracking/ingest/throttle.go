package ingest

import (
	"sync"
	"time"

	"trackhub/internal/tracking/models"
)

// Throttle limits position reports per vehicle with a sliding window. A
// sliding window avoids the burst a fixed window allows at its boundary.
type Throttle struct {
	mu      sync.Mutex
	windows map[models.VehicleID]*slidingWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
}

// NewThrottle allows limit reports per vehicle within window. A non-positive
// limit disables throttling.
func NewThrottle(limit int, window time.Duration) *Throttle {
	return &Throttle{
		windows: make(map[models.VehicleID]*slidingWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records a report for vehicle and reports whether it is within limit.
func (t *Throttle) Allow(vehicle models.VehicleID) bool {
	if t == nil || t.limit <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w := t.windows[vehicle]
	if w == nil {
		w = &slidingWindow{}
		t.windows[vehicle] = w
	}
	w.cleanup(now.Add(-t.window))
	if len(w.timestamps) >= t.limit {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

// Sweep drops windows with no report inside the window and returns how many
// were removed.
func (t *Throttle) Sweep() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.window)
	removed := 0
	for vehicle, w := range t.windows {
		w.cleanup(cutoff)
		if len(w.timestamps) == 0 {
			delete(t.windows, vehicle)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of vehicles with a live window.
func (t *Throttle) Tracked() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// cleanup removes timestamps at or before cutoff.
func (w *slidingWindow) cleanup(cutoff time.Time) {
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
