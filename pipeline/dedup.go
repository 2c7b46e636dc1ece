package pipeline

import (
	"time"
)

// SubjectUnknown is the synthetic dedup bucket for faces that matched no
// enrolled identity.
const SubjectUnknown = "unknown"

// dedupEvictionFactor controls lazy eviction: entries untouched for this many
// window durations are purged so long-running cameras with many transient
// unknown sightings stay bounded in memory.
const dedupEvictionFactor = 4

type dedupEntry struct {
	lastEmit time.Time // last time ShouldEmit returned true; never moves backwards
	lastSeen time.Time // last sighting, emitted or suppressed; drives eviction
}

// Window suppresses repeated event emission for the same subject within a
// sliding interval. Each camera worker owns its own Window, so no locking is
// needed on the hot path; keys are identity IDs or the unknown bucket.
type Window struct {
	interval  time.Duration
	entries   map[string]*dedupEntry
	lastSweep time.Time
}

// NewWindow creates a dedup window with the given suppression interval.
func NewWindow(interval time.Duration) *Window {
	return &Window{
		interval: interval,
		entries:  make(map[string]*dedupEntry),
	}
}

// ShouldEmit reports whether an event for subject may be emitted at now.
// Returns true when no entry exists yet or the suppression interval has
// elapsed since the last emission; the emission timestamp is updated only on
// true, while the sighting timestamp is refreshed either way. Timestamps are
// frame capture times, so the decision is deterministic for a given frame
// sequence regardless of processing latency.
func (w *Window) ShouldEmit(subject string, now time.Time) bool {
	w.maybeSweep(now)

	entry, ok := w.entries[subject]
	if !ok {
		w.entries[subject] = &dedupEntry{lastEmit: now, lastSeen: now}
		return true
	}

	entry.lastSeen = now
	if now.Sub(entry.lastEmit) >= w.interval {
		// guard the monotone invariant against out-of-order capture times
		if now.After(entry.lastEmit) {
			entry.lastEmit = now
		}
		return true
	}
	return false
}

// Len returns the number of live dedup entries. Exposed for metrics.
func (w *Window) Len() int { return len(w.entries) }

// maybeSweep purges stale entries at most once per interval.
func (w *Window) maybeSweep(now time.Time) {
	if now.Sub(w.lastSweep) < w.interval {
		return
	}
	w.lastSweep = now
	cutoff := now.Add(-dedupEvictionFactor * w.interval)
	for subject, entry := range w.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(w.entries, subject)
		}
	}
}
