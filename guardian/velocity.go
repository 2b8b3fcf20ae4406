package guardian

import "time"

type velocityEntry struct {
	at      time.Time
	orderID string
}

// VelocityWindow counts distinct order arrivals over the last T seconds.
// Not safe for concurrent use on its own; the Guard's critical section
// serializes all access.
type VelocityWindow struct {
	window     time.Duration
	threshold  int
	maxEntries int
	entries    []velocityEntry
	seen       map[string]time.Time
	overflowed bool
}

func NewVelocityWindow(window time.Duration, threshold int, maxEntries int) *VelocityWindow {
	if window <= 0 {
		window = 60 * time.Second
	}
	if threshold <= 0 {
		threshold = 5
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &VelocityWindow{
		window:     window,
		threshold:  threshold,
		maxEntries: maxEntries,
		seen:       make(map[string]time.Time),
	}
}

// Record notes one order arrival. An order id already seen within the window
// is ignored. Returns true when a new entry was appended. Once the entry cap
// is exceeded the window stops accepting until Reset.
func (w *VelocityWindow) Record(orderID string, now time.Time) bool {
	w.Prune(now)
	if w.overflowed {
		return false
	}
	if _, dup := w.seen[orderID]; dup {
		return false
	}
	if len(w.entries) >= w.maxEntries {
		w.overflowed = true
		return false
	}
	// Entries stay sorted even if the clock steps backwards.
	if n := len(w.entries); n > 0 && now.Before(w.entries[n-1].at) {
		now = w.entries[n-1].at
	}
	w.entries = append(w.entries, velocityEntry{at: now, orderID: orderID})
	w.seen[orderID] = now
	return true
}

// Prune drops entries older than now-T.
func (w *VelocityWindow) Prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		delete(w.seen, w.entries[i].orderID)
		i++
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

func (w *VelocityWindow) Count(now time.Time) int {
	w.Prune(now)
	return len(w.entries)
}

func (w *VelocityWindow) IsOverThreshold(now time.Time) bool {
	return w.Count(now) >= w.threshold
}

func (w *VelocityWindow) Threshold() int { return w.threshold }

func (w *VelocityWindow) Window() time.Duration { return w.window }

func (w *VelocityWindow) Overflowed() bool { return w.overflowed }

// Reset empties the window and re-arms it after an overflow.
func (w *VelocityWindow) Reset() {
	w.entries = nil
	w.seen = make(map[string]time.Time)
	w.overflowed = false
}
