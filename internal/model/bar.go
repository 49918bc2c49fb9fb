package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DailyBar is an OHLCV record at daily resolution, keyed by calendar day in
// the exchange's time zone.
type DailyBar struct {
	Date         time.Time // truncated to calendar day
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
	OpenInterest *int64 // nullable
}

// Validate checks the OHLC invariants from spec.md §3.
func (b DailyBar) Validate() error {
	if b.Low.GreaterThan(b.High) {
		return fmt.Errorf("bar %s: low %s > high %s", b.Date.Format("2006-01-02"), b.Low, b.High)
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return fmt.Errorf("bar %s: open %s outside [low,high]", b.Date.Format("2006-01-02"), b.Open)
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return fmt.Errorf("bar %s: close %s outside [low,high]", b.Date.Format("2006-01-02"), b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume %d", b.Date.Format("2006-01-02"), b.Volume)
	}
	return nil
}

// Timeframe identifies a bar resolution used for Store keys.
type Timeframe string

const (
	TimeframeDaily Timeframe = "1d"
	Timeframe1Min  Timeframe = "1m"
	Timeframe5Min  Timeframe = "5m"
)

// ParseTimeframe validates a wire/CLI timeframe string against the known
// constants.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeDaily, Timeframe1Min, Timeframe5Min:
		return Timeframe(s), nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// Duration returns the wall-clock span one bar of this timeframe covers.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1Min:
		return time.Minute
	case Timeframe5Min:
		return 5 * time.Minute
	default:
		return 24 * time.Hour
	}
}

// BarKey is the (symbol, timeframe, start_time) triple the Store uses for
// idempotent insertion.
type BarKey struct {
	Symbol    string
	Timeframe Timeframe
	Start     time.Time
}
