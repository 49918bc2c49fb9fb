package model

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) valid() bool { return iv.Start.Before(iv.End) }

// Contains reports whether t falls within the half-open interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Overlaps reports whether iv and other share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Adjacent reports whether iv ends exactly where other begins, or vice versa.
func (iv Interval) Adjacent(other Interval) bool {
	return iv.End.Equal(other.Start) || other.End.Equal(iv.Start)
}

// CoverageIndex is a disjoint, sorted set of half-open intervals for which a
// Store holds data for one (symbol, timeframe) pair (spec.md §3). Intervals
// are only ever added, never removed.
type CoverageIndex struct {
	intervals []Interval
}

// NewCoverageIndex builds a CoverageIndex from an arbitrary set of intervals,
// normalizing overlaps/adjacency immediately.
func NewCoverageIndex(ivs ...Interval) *CoverageIndex {
	c := &CoverageIndex{}
	for _, iv := range ivs {
		c.Add(iv)
	}
	return c
}

// Add merges iv into the index, coalescing with any overlapping or adjacent
// existing interval. A zero-width or inverted interval is ignored.
func (c *CoverageIndex) Add(iv Interval) {
	if !iv.valid() {
		return
	}
	merged := []Interval{iv}
	var kept []Interval
	for _, existing := range c.intervals {
		if existing.Overlaps(iv) || existing.Adjacent(iv) {
			merged = append(merged, existing)
		} else {
			kept = append(kept, existing)
		}
	}
	start := merged[0].Start
	end := merged[0].End
	for _, m := range merged[1:] {
		if m.Start.Before(start) {
			start = m.Start
		}
		if m.End.After(end) {
			end = m.End
		}
	}
	kept = append(kept, Interval{Start: start, End: end})
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start.Before(kept[j].Start) })
	c.intervals = kept
}

// Intervals returns the disjoint, sorted intervals currently held. The
// returned slice must not be mutated by the caller.
func (c *CoverageIndex) Intervals() []Interval {
	return c.intervals
}

// Gaps returns the sub-intervals of want not covered by c, i.e.
// want - actual_coverage, restricted to want's bounds.
func (c *CoverageIndex) Gaps(want Interval) []Interval {
	if !want.valid() {
		return nil
	}
	cursor := want.Start
	var gaps []Interval
	for _, iv := range c.intervals {
		if iv.End.Before(cursor) || !iv.Start.Before(want.End) {
			continue
		}
		s := iv.Start
		if s.Before(cursor) {
			s = cursor
		}
		if s.After(cursor) {
			gaps = append(gaps, Interval{Start: cursor, End: s})
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
		if !cursor.Before(want.End) {
			break
		}
	}
	if cursor.Before(want.End) {
		gaps = append(gaps, Interval{Start: cursor, End: want.End})
	}
	return gaps
}
