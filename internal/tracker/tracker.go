// Package tracker maps named series onto pool buffers and keeps the
// registry consistent under concurrent use.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xtxerr/hitrate/internal/history"
	"github.com/xtxerr/hitrate/internal/logging"
)

var (
	// ErrPoolExhausted means every pool buffer is already assigned.
	ErrPoolExhausted = errors.New("no free buffer in pool")

	// ErrUnknownSeries means the series key was never registered.
	ErrUnknownSeries = errors.New("unknown series")
)

// Tracker assigns pool buffers to string series keys on first use and
// routes observations to them. All methods are safe for concurrent
// use.
type Tracker struct {
	mu sync.RWMutex

	pool    *history.Pool
	series  map[string]int
	free    []int
	keyByIx []string

	stats Stats
	log   *slog.Logger
}

// Stats holds tracker counters.
type Stats struct {
	ActiveSeries  int64
	Observations  int64
	Hits          int64
	SeriesCreated int64
	SeriesDropped int64
}

// SeriesStats is one series' identity plus its lifetime totals.
type SeriesStats struct {
	Key    string
	Index  int
	Totals history.Totals
}

// New creates a tracker over pool. The pool must not be shared with
// another writer.
func New(pool *history.Pool) *Tracker {
	n := pool.BufferCount()
	free := make([]int, 0, n)
	for i := n - 1; i >= 0; i-- {
		free = append(free, i)
	}
	return &Tracker{
		pool:    pool,
		series:  make(map[string]int, n),
		free:    free,
		keyByIx: make([]string, n),
		log:     logging.Component("tracker"),
	}
}

// Pool returns the underlying pool, for snapshotting and export.
func (t *Tracker) Pool() *history.Pool { return t.pool }

// Labels returns the series key per buffer index, empty where the
// buffer is unassigned. The slice is a copy.
func (t *Tracker) Labels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	labels := make([]string, len(t.keyByIx))
	copy(labels, t.keyByIx)
	return labels
}

// Restore rebuilds a tracker from a pool and the per-buffer labels a
// labeled snapshot preserved. Buffers with an empty label stay on the
// free list.
func Restore(pool *history.Pool, labels []string) (*Tracker, error) {
	if labels != nil && len(labels) != pool.BufferCount() {
		return nil, fmt.Errorf("%d labels for %d buffers", len(labels), pool.BufferCount())
	}

	t := New(pool)
	if labels == nil {
		return t, nil
	}

	t.free = t.free[:0]
	for i := pool.BufferCount() - 1; i >= 0; i-- {
		key := labels[i]
		if key == "" {
			t.free = append(t.free, i)
			continue
		}
		if _, dup := t.series[key]; dup {
			return nil, fmt.Errorf("duplicate series label %q", key)
		}
		t.series[key] = i
		t.keyByIx[i] = key
	}
	return t, nil
}

// Series returns the buffer index assigned to key, registering the
// series if it is new.
func (t *Tracker) Series(key string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.series[key]; ok {
		return idx, nil
	}
	return t.registerLocked(key)
}

// Record notes one hit or miss for the series, registering it on
// first sight.
func (t *Tracker) Record(key string, hit bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.series[key]
	if !ok {
		var err error
		idx, err = t.registerLocked(key)
		if err != nil {
			return err
		}
	}

	if err := t.pool.Record(idx, hit); err != nil {
		return fmt.Errorf("series %q: %w", key, err)
	}
	t.stats.Observations++
	if hit {
		t.stats.Hits++
	}
	return nil
}

func (t *Tracker) registerLocked(key string) (int, error) {
	if len(t.free) == 0 {
		return 0, fmt.Errorf("series %q: %w", key, ErrPoolExhausted)
	}
	idx := t.free[len(t.free)-1]
	// The buffer may have belonged to a dropped series; a new key must
	// not inherit its history.
	if err := t.pool.Reset(idx); err != nil {
		return 0, fmt.Errorf("series %q: %w", key, err)
	}
	t.free = t.free[:len(t.free)-1]
	t.series[key] = idx
	t.keyByIx[idx] = key
	t.stats.SeriesCreated++
	t.log.Debug("series registered", "series", key, "buffer", idx)
	return idx, nil
}

// Lookup returns the buffer index assigned to key.
func (t *Tracker) Lookup(key string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.series[key]
	return idx, ok
}

// Drop releases a series and returns its buffer to the free list. The
// buffer's accumulated history stays readable through the pool until
// the index is reassigned, at which point it is cleared.
func (t *Tracker) Drop(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.series[key]
	if !ok {
		return fmt.Errorf("%q: %w", key, ErrUnknownSeries)
	}
	delete(t.series, key)
	t.keyByIx[idx] = ""
	t.free = append(t.free, idx)
	t.stats.SeriesDropped++
	t.log.Debug("series dropped", "series", key, "buffer", idx)
	return nil
}

// SeriesTotals returns lifetime totals for one series. The registry
// lock is held across the pool read so a concurrent Record cannot
// mutate the buffer mid-query.
func (t *Tracker) SeriesTotals(key string) (history.Totals, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.series[key]
	if !ok {
		return history.Totals{}, fmt.Errorf("%q: %w", key, ErrUnknownSeries)
	}
	return t.pool.Totals(idx)
}

// WindowTotals returns totals for the trailing window observations of
// one series.
func (t *Tracker) WindowTotals(key string, window int) (history.Totals, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.series[key]
	if !ok {
		return history.Totals{}, fmt.Errorf("%q: %w", key, ErrUnknownSeries)
	}
	return t.pool.HistoryTotals(idx, window)
}

// AllStats returns per-series stats for every registered series,
// sorted by key.
func (t *Tracker) AllStats() []SeriesStats {
	t.mu.RLock()
	out := make([]SeriesStats, 0, len(t.series))
	for key, idx := range t.series {
		tot, err := t.pool.Totals(idx)
		if err != nil {
			continue
		}
		out = append(out, SeriesStats{Key: key, Index: idx, Totals: tot})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SeriesWindowStats is SeriesStats plus totals over trailing windows.
// WindowTotals[j] covers the trailing WindowLengths[j] observations.
type SeriesWindowStats struct {
	SeriesStats
	WindowLengths []int
	WindowTotals  []history.Totals
}

// AllWindowStats returns per-series stats with one windowed total per
// requested window length, sorted by key. All pool reads happen under
// the registry lock, so the result is a consistent cut even while
// writers are active.
func (t *Tracker) AllWindowStats(windows []int) []SeriesWindowStats {
	t.mu.RLock()
	out := make([]SeriesWindowStats, 0, len(t.series))
	for key, idx := range t.series {
		tot, err := t.pool.Totals(idx)
		if err != nil {
			continue
		}
		s := SeriesWindowStats{
			SeriesStats: SeriesStats{Key: key, Index: idx, Totals: tot},
		}
		for _, w := range windows {
			wt, err := t.pool.HistoryTotals(idx, w)
			if err != nil {
				continue
			}
			s.WindowLengths = append(s.WindowLengths, w)
			s.WindowTotals = append(s.WindowTotals, wt)
		}
		out = append(out, s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats returns tracker counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := t.stats
	stats.ActiveSeries = int64(len(t.series))
	return stats
}

// ActiveCount returns the number of registered series.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.series)
}
