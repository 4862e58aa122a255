package sandbox

import (
	"sync"
	"time"
)

// rateWindow is the sliding interval rate caps are measured over.
const rateWindow = time.Minute

// rollingWindow counts events in the trailing rateWindow. Stale timestamps
// are pruned on every call, so memory stays bounded by the cap.
type rollingWindow struct {
	mu     sync.Mutex
	cap    int
	stamps []time.Time
	now    func() time.Time
}

// newRollingWindow returns a window enforcing cap events per minute.
// A cap of zero or below disables the limit.
func newRollingWindow(cap int, now func() time.Time) *rollingWindow {
	return &rollingWindow{cap: cap, now: now}
}

// Allow records one event and reports whether it fits the cap. Events that
// do not fit are not recorded.
func (w *rollingWindow) Allow() bool {
	if w.cap <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-rateWindow)

	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= w.cap {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Full reports whether the window is at its cap, recording nothing.
func (w *rollingWindow) Full() bool {
	if w.cap <= 0 {
		return false
	}
	return w.Count() >= w.cap
}

// Count reports the current in-window event count.
func (w *rollingWindow) Count() int {
	if w.cap <= 0 {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-rateWindow)
	n := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
