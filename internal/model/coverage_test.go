package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2026, 1, n, 0, 0, 0, 0, time.UTC)
}

func TestCoverageIndexAddMergesOverlapping(t *testing.T) {
	c := NewCoverageIndex()
	c.Add(Interval{Start: day(1), End: day(5)})
	c.Add(Interval{Start: day(3), End: day(8)})
	require.Len(t, c.Intervals(), 1)
	assert.True(t, c.Intervals()[0].Start.Equal(day(1)))
	assert.True(t, c.Intervals()[0].End.Equal(day(8)))
}

func TestCoverageIndexAddMergesAdjacent(t *testing.T) {
	c := NewCoverageIndex()
	c.Add(Interval{Start: day(1), End: day(5)})
	c.Add(Interval{Start: day(5), End: day(10)})
	require.Len(t, c.Intervals(), 1)
	assert.True(t, c.Intervals()[0].End.Equal(day(10)))
}

func TestCoverageIndexAddKeepsDisjoint(t *testing.T) {
	c := NewCoverageIndex()
	c.Add(Interval{Start: day(1), End: day(3)})
	c.Add(Interval{Start: day(10), End: day(12)})
	require.Len(t, c.Intervals(), 2)
}

func TestCoverageIndexGapsNoCoverage(t *testing.T) {
	c := NewCoverageIndex()
	gaps := c.Gaps(Interval{Start: day(1), End: day(5)})
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Start.Equal(day(1)))
	assert.True(t, gaps[0].End.Equal(day(5)))
}

func TestCoverageIndexGapsFullyCovered(t *testing.T) {
	c := NewCoverageIndex()
	c.Add(Interval{Start: day(1), End: day(10)})
	gaps := c.Gaps(Interval{Start: day(2), End: day(5)})
	assert.Empty(t, gaps)
}

func TestCoverageIndexGapsPartial(t *testing.T) {
	c := NewCoverageIndex()
	c.Add(Interval{Start: day(1), End: day(3)})
	c.Add(Interval{Start: day(7), End: day(9)})
	gaps := c.Gaps(Interval{Start: day(1), End: day(9)})
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Start.Equal(day(3)))
	assert.True(t, gaps[0].End.Equal(day(7)))
}

func TestCoverageIndexGapsTrailing(t *testing.T) {
	c := NewCoverageIndex()
	c.Add(Interval{Start: day(1), End: day(5)})
	gaps := c.Gaps(Interval{Start: day(1), End: day(10)})
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Start.Equal(day(5)))
	assert.True(t, gaps[0].End.Equal(day(10)))
}

func TestIntervalContainsOverlapsAdjacent(t *testing.T) {
	a := Interval{Start: day(1), End: day(5)}
	assert.True(t, a.Contains(day(2)))
	assert.False(t, a.Contains(day(5))) // half-open
	assert.True(t, a.Overlaps(Interval{Start: day(4), End: day(6)}))
	assert.True(t, a.Adjacent(Interval{Start: day(5), End: day(7)}))
}
