// Package gapfill implements the Gap Detector & Backfiller (C7): it compares
// a Store's actual coverage against the scheduled market-open intervals for
// a window, prioritizes the missing ranges, and repairs each by reading and
// decoding the corresponding file from the Bridge.
package gapfill

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/minhos/mdic/internal/dailybar"
	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
	"github.com/minhos/mdic/internal/scid"
)

// bridgeClient is the subset of *bridge.Bridge the detector needs.
type bridgeClient interface {
	ReadText(ctx context.Context, path string) ([]byte, error)
	ReadBinary(ctx context.Context, path string, offset, length int64) ([]byte, error)
}

// storeClient is the subset of *store.Store the detector needs.
type storeClient interface {
	InsertTicks(ctx context.Context, symbol string, ticks []model.Tick) error
	InsertBars(ctx context.Context, symbol string, tf model.Timeframe, bars []model.DailyBar) error
	Coverage(symbol string, tf model.Timeframe) *model.CoverageIndex
}

// priorityLookup resolves a logical root's tie-break priority, satisfied by
// *symbol.Registry.
type priorityLookup interface {
	Priority(root string) (int, error)
}

// Target names one (root, contract symbol, timeframe) the detector scans
// for gaps.
type Target struct {
	Root      string
	Symbol    string
	Timeframe model.Timeframe
}

// Gap is one contiguous missing range for a Target.
type Gap struct {
	Target
	Interval model.Interval
}

func (g Gap) key() string {
	return fmt.Sprintf("%s|%s|%d|%d", g.Symbol, g.Timeframe, g.Interval.Start.UnixMicro(), g.Interval.End.UnixMicro())
}

// Config controls lookback depth, concurrency, and retry cooldown.
type Config struct {
	Lookback             time.Duration // default scan window
	InitialLookback      time.Duration // used for the startup full scan
	RecentWindow         time.Duration // gaps ending within this of now are prioritized first
	MaxConcurrentRepairs int
	UnrepairableCooldown time.Duration
	MaxIntradayFileBytes int64
}

// DefaultConfig matches spec.md §4.7's defaults.
func DefaultConfig() Config {
	return Config{
		Lookback:             30 * 24 * time.Hour,
		InitialLookback:      730 * 24 * time.Hour,
		RecentWindow:         7 * 24 * time.Hour,
		MaxConcurrentRepairs: 4,
		UnrepairableCooldown: 24 * time.Hour,
		MaxIntradayFileBytes: 64 << 20,
	}
}

// Detector is the Gap Detector & Backfiller (C7).
type Detector struct {
	bridge     bridgeClient
	store      storeClient
	sessions   SessionTable
	paths      PathResolver
	priorities priorityLookup
	cfg        Config

	mu         sync.Mutex
	cooldowns  map[string]time.Time // gap key -> next eligible retry instant
}

// New builds a Detector.
func New(bridge bridgeClient, store storeClient, sessions SessionTable, paths PathResolver, priorities priorityLookup, cfg Config) *Detector {
	return &Detector{
		bridge: bridge, store: store, sessions: sessions, paths: paths, priorities: priorities,
		cfg: cfg, cooldowns: make(map[string]time.Time),
	}
}

// Scan computes gaps = expected_coverage − actual_coverage for every target
// over the trailing lookback window ending at now, restricted to scheduled
// market-open intervals.
func (d *Detector) Scan(targets []Target, now time.Time, lookback time.Duration) []Gap {
	from := now.Add(-lookback)
	var gaps []Gap
	for _, t := range targets {
		sessions := d.sessions.Sessions(t.Symbol, from, now)
		coverage := d.store.Coverage(t.Symbol, t.Timeframe)
		for _, session := range sessions {
			for _, missing := range coverage.Gaps(session) {
				gaps = append(gaps, Gap{Target: t, Interval: missing})
			}
		}
	}
	return d.Prioritize(gaps, now)
}

// InitialScan runs Scan over the full InitialLookback window, for use at
// startup.
func (d *Detector) InitialScan(targets []Target, now time.Time) []Gap {
	return d.Scan(targets, now, d.cfg.InitialLookback)
}

// Prioritize orders gaps per spec.md §4.7: any gap ending within
// RecentWindow of now first, then the rest newest-end-first; ties broken by
// Symbol Registry priority (lower priority value sorts first).
func (d *Detector) Prioritize(gaps []Gap, now time.Time) []Gap {
	cutoff := now.Add(-d.cfg.RecentWindow)
	recent := func(g Gap) bool { return g.Interval.End.After(cutoff) }

	out := make([]Gap, len(gaps))
	copy(out, gaps)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := recent(out[i]), recent(out[j])
		if ri != rj {
			return ri // recent gaps first
		}
		if !out[i].Interval.End.Equal(out[j].Interval.End) {
			return out[i].Interval.End.After(out[j].Interval.End) // newest end first
		}
		pi, _ := d.priorities.Priority(out[i].Root)
		pj, _ := d.priorities.Priority(out[j].Root)
		return pi < pj
	})
	return out
}

// RepairAll repairs gaps with up to MaxConcurrentRepairs running in
// parallel. It returns the first error encountered by any repair, after all
// in-flight repairs have finished; a cancelled context stops remaining
// repairs from starting.
func (d *Detector) RepairAll(ctx context.Context, gaps []Gap, now time.Time) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrentRepairs)

	for _, gap := range gaps {
		gap := gap
		if !d.eligible(gap, now) {
			continue
		}
		g.Go(func() error {
			err := d.Repair(ctx, gap)
			if mdicerr.KindOf(err) == mdicerr.NotFound {
				d.markUnrepairable(gap, now)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (d *Detector) eligible(gap Gap, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, marked := d.cooldowns[gap.key()]
	return !marked || now.After(until)
}

func (d *Detector) markUnrepairable(gap Gap, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldowns[gap.key()] = now.Add(d.cfg.UnrepairableCooldown)
}

// Repair fetches, decodes, and inserts the data covering one gap. A
// NotFound from the bridge is returned unwrapped so callers can distinguish
// it from a transient failure.
func (d *Detector) Repair(ctx context.Context, gap Gap) error {
	jobID := uuid.NewString()
	log.Printf("gapfill[%s]: repairing %s %s [%s, %s)", jobID, gap.Symbol, gap.Timeframe,
		gap.Interval.Start.Format(time.RFC3339), gap.Interval.End.Format(time.RFC3339))

	var err error
	if gap.Timeframe == model.TimeframeDaily {
		err = d.repairDaily(ctx, gap)
	} else {
		err = d.repairIntraday(ctx, gap)
	}
	if err != nil {
		log.Printf("gapfill[%s]: failed: %v", jobID, err)
	} else {
		log.Printf("gapfill[%s]: done", jobID)
	}
	return err
}

func (d *Detector) repairDaily(ctx context.Context, gap Gap) error {
	path := d.paths.DailyBarPath(gap.Symbol)
	data, err := d.bridge.ReadText(ctx, path)
	if err != nil {
		return err
	}
	bars, _, err := dailybar.Decode(gap.Symbol, data)
	if err != nil {
		return err
	}
	restricted := make([]model.DailyBar, 0, len(bars))
	for _, b := range bars {
		if gap.Interval.Contains(b.Date) {
			restricted = append(restricted, b)
		}
	}
	if len(restricted) == 0 {
		return nil
	}
	return d.store.InsertBars(ctx, gap.Symbol, gap.Timeframe, restricted)
}

func (d *Detector) repairIntraday(ctx context.Context, gap Gap) error {
	path := d.paths.IntradayPath(gap.Symbol, gap.Interval.Start)
	data, err := d.bridge.ReadBinary(ctx, path, 0, d.cfg.MaxIntradayFileBytes)
	if err != nil {
		return err
	}
	_, records, _, err := scid.DecodeRecords(data)
	if err != nil {
		return err
	}

	var ticks []model.Tick
	var bars []model.DailyBar
	for _, rec := range records {
		ts := time.UnixMicro(rec.TimestampUs)
		if !gap.Interval.Contains(ts) {
			continue
		}
		if rec.IsTick {
			ticks = append(ticks, rec.ToTick(gap.Symbol))
		} else {
			bars = append(bars, rec.ToBar())
		}
	}
	if len(ticks) > 0 {
		if err := d.store.InsertTicks(ctx, gap.Symbol, ticks); err != nil {
			return err
		}
	}
	if len(bars) > 0 {
		if err := d.store.InsertBars(ctx, gap.Symbol, gap.Timeframe, bars); err != nil {
			return err
		}
	}
	return nil
}
