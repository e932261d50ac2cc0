package chat

import (
	"sync"
	"time"
)

// dedupIndex absorbs duplicate message deliveries inside a bounded time
// window. Two ingest paths can carry the same logical message (the signaling
// mirror of a channel send comes back as a signaling event); the index keys
// on (from, to, body) so the echo collapses onto the first delivery.
type dedupIndex struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
}

func newDedupIndex(window time.Duration) *dedupIndex {
	return &dedupIndex{
		window:  window,
		entries: make(map[string]time.Time),
	}
}

func dedupKey(from, to, body string) string {
	return from + "\x00" + to + "\x00" + body
}

// observe reports whether an equal message was already seen inside the
// window, recording this one if not. Expired entries are pruned on the way.
func (d *dedupIndex) observe(from, to, body string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-d.window)
	for key, seen := range d.entries {
		if seen.Before(cutoff) {
			delete(d.entries, key)
		}
	}

	key := dedupKey(from, to, body)
	if seen, ok := d.entries[key]; ok && !seen.Before(cutoff) {
		return true
	}
	d.entries[key] = now
	return false
}

// forget removes a recorded tuple. Called when the delivery it was recorded
// for failed to persist, so a retry is not absorbed as a duplicate.
func (d *dedupIndex) forget(from, to, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, dedupKey(from, to, body))
}
