package ratelimit

import (
	"sync"
	"time"

	"github.com/wardline/wardline/internal/clock"
)

// entry is one address's timestamp history, independently lockable so that
// contention on one address never serializes lookups for another.
type entry struct {
	mu   sync.Mutex
	hits []time.Time
}

// WindowSet tracks a sliding time window of observation timestamps per key
// (typically a source address). Callers record an observation with Add and
// ask how many observations remain within the threshold with Size, both of
// which prune entries older than the window as a side effect.
type WindowSet struct {
	clk     clock.Clock
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewWindowSet creates an empty WindowSet using the given clock (use
// clock.RealClock{} in production, clock.MockClock in tests).
func NewWindowSet(clk clock.Clock) *WindowSet {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &WindowSet{clk: clk, entries: make(map[string]*entry)}
}

func (w *WindowSet) entryFor(key string) *entry {
	w.mu.RLock()
	e, ok := w.entries[key]
	w.mu.RUnlock()
	if ok {
		return e
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[key]; ok {
		return e
	}
	e = &entry{}
	w.entries[key] = e
	return e
}

// prune drops timestamps older than now-threshold. Caller holds e.mu.
func prune(e *entry, now time.Time, threshold time.Duration) {
	cutoff := now.Add(-threshold)
	i := 0
	for i < len(e.hits) && e.hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		e.hits = e.hits[i:]
	}
}

// Add records an observation for key at the current time and returns the
// number of observations remaining in the window after pruning (inclusive
// of the one just added).
func (w *WindowSet) Add(key string, threshold time.Duration) int {
	e := w.entryFor(key)
	now := w.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	prune(e, now, threshold)
	e.hits = append(e.hits, now)
	return len(e.hits)
}

// Size reports how many observations for key remain within threshold of
// now, pruning expired entries as a side effect. An address with no prior
// observations — including one whose window prunes to empty — reports 0;
// this is never treated as an error, only as "no block".
func (w *WindowSet) Size(key string, threshold time.Duration) int {
	w.mu.RLock()
	e, ok := w.entries[key]
	w.mu.RUnlock()
	if !ok {
		return 0
	}

	now := w.clk.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	prune(e, now, threshold)
	return len(e.hits)
}

// Reset discards all recorded observations for key.
func (w *WindowSet) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
}

// DistinctPorts counts, within the given recent window, the number of
// distinct destination ports observed for key — used by the port-scan
// detector. ports is the full, unpruned sequence of (time, port) pairs the
// caller has separately retained; this helper exists purely to share the
// prune-by-threshold logic rather than duplicate it.
func DistinctPorts(observedAt []time.Time, ports []string, now time.Time, threshold time.Duration) int {
	cutoff := now.Add(-threshold)
	seen := make(map[string]struct{})
	for i, t := range observedAt {
		if t.Before(cutoff) {
			continue
		}
		if i < len(ports) {
			seen[ports[i]] = struct{}{}
		}
	}
	return len(seen)
}
