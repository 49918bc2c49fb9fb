package gapfill

import (
	"time"

	"github.com/minhos/mdic/internal/model"
)

// SessionTable computes the scheduled market-open intervals for a symbol
// over a window, used to derive expected_coverage. Implementations vary by
// asset class (futures trade nearly around the clock on weekdays; equities
// trade a single daily window); the default below matches CME-style globex
// futures hours.
type SessionTable interface {
	Sessions(symbol string, from, to time.Time) []model.Interval
}

// GlobexHours is a SessionTable for CME Globex-style futures: each calendar
// day opens after a daily maintenance break and runs to midnight, except
// Friday (closes early for the weekend) and Sunday (opens late after the
// weekend); Saturday has no session at all.
type GlobexHours struct {
	Location        *time.Location
	MaintenanceEnd  time.Duration // offset from midnight each day's session begins
	FridayClose     time.Duration // offset from midnight Friday's session ends early
	SundayOpen      time.Duration // offset from midnight Sunday's session begins late
	WeekendDay      time.Weekday  // day with no session at all (Saturday)
}

// DefaultGlobexHours uses America/Chicago time: each day's session opens at
// 17:00 and runs to midnight, and the hours before 17:00 belong to no
// session. Friday's early close is also 17:00, so Friday has no session;
// Saturday has none; Sunday opens at 18:00.
func DefaultGlobexHours() GlobexHours {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		loc = time.UTC
	}
	return GlobexHours{
		Location:       loc,
		MaintenanceEnd: 17 * time.Hour,
		FridayClose:    17 * time.Hour,
		SundayOpen:     18 * time.Hour,
		WeekendDay:     time.Saturday,
	}
}

// Sessions walks day by day across [from, to) and returns the open
// intervals, clipped to [from, to).
func (g GlobexHours) Sessions(symbol string, from, to time.Time) []model.Interval {
	if !from.Before(to) {
		return nil
	}
	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)

	var out []model.Interval
	for day.Before(to) {
		if day.Weekday() == g.WeekendDay {
			day = day.AddDate(0, 0, 1)
			continue
		}
		open := day.Add(g.MaintenanceEnd)
		close := day.AddDate(0, 0, 1) // midnight the next day
		switch day.Weekday() {
		case time.Friday:
			close = day.Add(g.FridayClose)
		case time.Sunday:
			open = day.Add(g.SundayOpen)
		}
		iv := model.Interval{Start: open, End: close}
		if iv.Start.Before(iv.End) && iv.Start.Before(to) && iv.End.After(from) {
			if iv.Start.Before(from) {
				iv.Start = from
			}
			if iv.End.After(to) {
				iv.End = to
			}
			out = append(out, iv)
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}
