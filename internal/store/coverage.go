package store

import (
	"sync"
	"time"

	"github.com/minhos/mdic/internal/model"
)

// coverageKey identifies one (symbol, timeframe) coverage series. Ticks use
// the empty Timeframe.
type coverageKey struct {
	Symbol    string
	Timeframe model.Timeframe
}

// coverageTracker maintains an in-memory CoverageIndex per (symbol,
// timeframe), extended on every successful insert. It never deletes
// intervals, matching spec.md §4.6's "intervals are only added, never
// deleted" rule.
type coverageTracker struct {
	mu    sync.RWMutex
	index map[coverageKey]*model.CoverageIndex
}

func newCoverageTracker() *coverageTracker {
	return &coverageTracker{index: make(map[coverageKey]*model.CoverageIndex)}
}

func (c *coverageTracker) extend(symbol string, tf model.Timeframe, iv model.Interval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := coverageKey{Symbol: symbol, Timeframe: tf}
	idx, ok := c.index[key]
	if !ok {
		idx = model.NewCoverageIndex()
		c.index[key] = idx
	}
	idx.Add(iv)
}

func (c *coverageTracker) get(symbol string, tf model.Timeframe) *model.CoverageIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx, ok := c.index[coverageKey{Symbol: symbol, Timeframe: tf}]; ok {
		return idx
	}
	return model.NewCoverageIndex()
}

// Coverage implements coverage(symbol, timeframe) → CoverageIndex.
func (s *Store) Coverage(symbol string, tf model.Timeframe) *model.CoverageIndex {
	return s.coverage.get(symbol, tf)
}

// extendCoverageTick and extendCoverageBar are called after a successful insert to extend the
// tracked index. ticks use an instantaneous interval per timestamp merged
// by CoverageIndex.Add; bars extend by [start, start+barDuration).
func (s *Store) extendCoverageTick(symbol string, tsUs int64) {
	t := time.UnixMicro(tsUs)
	s.coverage.extend(symbol, "", model.Interval{Start: t, End: t.Add(time.Microsecond)})
}

func (s *Store) extendCoverageBar(symbol string, tf model.Timeframe, start time.Time, duration time.Duration) {
	s.coverage.extend(symbol, tf, model.Interval{Start: start, End: start.Add(duration)})
}
