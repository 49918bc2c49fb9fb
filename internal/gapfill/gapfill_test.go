package gapfill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
)

type fakeBridge struct {
	text   map[string][]byte
	binary map[string][]byte
	calls  int
}

func (f *fakeBridge) ReadText(_ context.Context, path string) ([]byte, error) {
	f.calls++
	b, ok := f.text[path]
	if !ok {
		return nil, mdicerr.NotFoundf("fakeBridge.ReadText", "no file at %q", path)
	}
	return b, nil
}

func (f *fakeBridge) ReadBinary(_ context.Context, path string, _, _ int64) ([]byte, error) {
	f.calls++
	b, ok := f.binary[path]
	if !ok {
		return nil, mdicerr.NotFoundf("fakeBridge.ReadBinary", "no file at %q", path)
	}
	return b, nil
}

type fakeStore struct {
	coverage      *model.CoverageIndex
	insertedTicks []model.Tick
	insertedBars  []model.DailyBar
}

func (f *fakeStore) InsertTicks(_ context.Context, _ string, ticks []model.Tick) error {
	f.insertedTicks = append(f.insertedTicks, ticks...)
	return nil
}

func (f *fakeStore) InsertBars(_ context.Context, _ string, _ model.Timeframe, bars []model.DailyBar) error {
	f.insertedBars = append(f.insertedBars, bars...)
	return nil
}

func (f *fakeStore) Coverage(_ string, _ model.Timeframe) *model.CoverageIndex {
	if f.coverage == nil {
		return model.NewCoverageIndex()
	}
	return f.coverage
}

type fakePriorities struct{ priority map[string]int }

func (f *fakePriorities) Priority(root string) (int, error) { return f.priority[root], nil }

func TestScanFindsUncoveredSessionWindows(t *testing.T) {
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC) // a Monday
	store := &fakeStore{}
	d := New(&fakeBridge{}, store, DefaultGlobexHours(), DefaultPathResolver("/data"), &fakePriorities{}, DefaultConfig())

	gaps := d.Scan([]Target{{Root: "NQ", Symbol: "NQU25-CME", Timeframe: model.TimeframeDaily}}, now, 2*24*time.Hour)
	assert.NotEmpty(t, gaps, "no coverage at all should produce at least one gap")
	for _, g := range gaps {
		assert.True(t, g.Interval.Start.Before(g.Interval.End))
	}
}

func TestScanSkipsFullyCoveredWindow(t *testing.T) {
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC)
	sessions := DefaultGlobexHours()
	from := now.Add(-2 * 24 * time.Hour)
	covered := model.NewCoverageIndex()
	for _, s := range sessions.Sessions("NQU25-CME", from, now) {
		covered.Add(s)
	}
	store := &fakeStore{coverage: covered}
	d := New(&fakeBridge{}, store, sessions, DefaultPathResolver("/data"), &fakePriorities{}, DefaultConfig())

	gaps := d.Scan([]Target{{Root: "NQ", Symbol: "NQU25-CME", Timeframe: model.TimeframeDaily}}, now, 2*24*time.Hour)
	assert.Empty(t, gaps)
}

func TestPrioritizeRecentGapsFirst(t *testing.T) {
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC)
	d := New(&fakeBridge{}, &fakeStore{}, DefaultGlobexHours(), DefaultPathResolver("/data"), &fakePriorities{}, DefaultConfig())

	old := Gap{Target: Target{Root: "NQ", Symbol: "NQU25-CME"}, Interval: model.Interval{Start: now.Add(-20 * 24 * time.Hour), End: now.Add(-19 * 24 * time.Hour)}}
	recent := Gap{Target: Target{Root: "ES", Symbol: "ESU25-CME"}, Interval: model.Interval{Start: now.Add(-2 * time.Hour), End: now.Add(-1 * time.Hour)}}

	out := d.Prioritize([]Gap{old, recent}, now)
	require.Len(t, out, 2)
	assert.Equal(t, "ESU25-CME", out[0].Symbol, "the gap ending within RecentWindow must sort first")
}

func TestPrioritizeTieBrokenByRegistryPriority(t *testing.T) {
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC)
	priorities := &fakePriorities{priority: map[string]int{"NQ": 1, "ES": 0}}
	d := New(&fakeBridge{}, &fakeStore{}, DefaultGlobexHours(), DefaultPathResolver("/data"), priorities, DefaultConfig())

	end := now.Add(-30 * time.Minute)
	gapNQ := Gap{Target: Target{Root: "NQ", Symbol: "NQU25-CME"}, Interval: model.Interval{Start: end.Add(-time.Hour), End: end}}
	gapES := Gap{Target: Target{Root: "ES", Symbol: "ESU25-CME"}, Interval: model.Interval{Start: end.Add(-time.Hour), End: end}}

	out := d.Prioritize([]Gap{gapNQ, gapES}, now)
	require.Len(t, out, 2)
	assert.Equal(t, "ESU25-CME", out[0].Symbol, "lower registry priority value must sort first on a tie")
}

func TestRepairDailyInsertsBarsRestrictedToGap(t *testing.T) {
	gapStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	gapEnd := time.Date(2026, 7, 3, 0, 0, 0, 0, time.UTC)
	csv := "date,open,high,low,close,volume\n" +
		"2026/06/30,100,101,99,100.5,1000\n" + // outside gap: dropped
		"2026/07/01,101,102,100,101.5,1200\n" + // inside gap
		"2026/07/05,103,104,102,103.5,1300\n" // outside gap: dropped

	bridge := &fakeBridge{text: map[string][]byte{"/data/daily/NQU25-CME.csv": []byte(csv)}}
	store := &fakeStore{}
	d := New(bridge, store, DefaultGlobexHours(), DefaultPathResolver("/data"), &fakePriorities{}, DefaultConfig())

	gap := Gap{Target: Target{Root: "NQ", Symbol: "NQU25-CME", Timeframe: model.TimeframeDaily}, Interval: model.Interval{Start: gapStart, End: gapEnd}}
	err := d.Repair(context.Background(), gap)
	require.NoError(t, err)
	require.Len(t, store.insertedBars, 1)
	assert.Equal(t, "2026-07-01", store.insertedBars[0].Date.Format("2006-01-02"))
}

func TestRepairAllMarksUnrepairableOnNotFound(t *testing.T) {
	now := time.Now()
	bridge := &fakeBridge{} // no files registered: every read 404s
	store := &fakeStore{}
	d := New(bridge, store, DefaultGlobexHours(), DefaultPathResolver("/data"), &fakePriorities{}, DefaultConfig())

	gap := Gap{Target: Target{Root: "NQ", Symbol: "NQU25-CME", Timeframe: model.TimeframeDaily}, Interval: model.Interval{Start: now.Add(-time.Hour), End: now}}
	err := d.RepairAll(context.Background(), []Gap{gap}, now)
	require.NoError(t, err, "a NotFound repair must not fail the whole batch")

	assert.False(t, d.eligible(gap, now), "the gap must be in cooldown immediately after marking unrepairable")
	assert.True(t, d.eligible(gap, now.Add(25*time.Hour)), "the gap must be eligible again after the cooldown elapses")
}

func TestRepairAllRespectsConcurrencyLimit(t *testing.T) {
	now := time.Now()
	bridge := &fakeBridge{text: map[string][]byte{}}
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.MaxConcurrentRepairs = 2
	d := New(bridge, store, DefaultGlobexHours(), DefaultPathResolver("/data"), &fakePriorities{}, cfg)

	var gaps []Gap
	for i := 0; i < 10; i++ {
		gaps = append(gaps, Gap{
			Target:   Target{Root: "NQ", Symbol: "NQU25-CME", Timeframe: model.TimeframeDaily},
			Interval: model.Interval{Start: now.Add(-time.Hour), End: now},
		})
	}
	err := d.RepairAll(context.Background(), gaps, now)
	require.NoError(t, err)
}
