// Package model holds the data types shared across the market data
// integration core: contracts, bars, ticks, coverage, and orders.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass categorizes a Contract's instrument type.
type AssetClass string

const (
	AssetFuture    AssetClass = "Future"
	AssetForex     AssetClass = "Forex"
	AssetIndex     AssetClass = "Index"
	AssetCommodity AssetClass = "Commodity"
)

// MonthCode is a CME-style quarterly expiration month letter.
type MonthCode byte

const (
	MonthMar MonthCode = 'H'
	MonthJun MonthCode = 'M'
	MonthSep MonthCode = 'U'
	MonthDec MonthCode = 'Z'
)

// IsQuarterly reports whether m is one of the four quarterly codes.
func (m MonthCode) IsQuarterly() bool {
	switch m {
	case MonthMar, MonthJun, MonthSep, MonthDec:
		return true
	}
	return false
}

// Contract is a tradeable instrument identifier, immutable once created.
type Contract struct {
	Root       string
	Exchange   string
	Month      MonthCode
	Year       int // two-digit year, e.g. 25 for 2025
	TickSize   decimal.Decimal
	Multiplier decimal.Decimal
	AssetClass AssetClass
}

// Canonical renders the contract's canonical symbol string, e.g. "NQU25-CME".
func (c Contract) Canonical() string {
	return fmt.Sprintf("%s%c%02d-%s", c.Root, byte(c.Month), c.Year, c.Exchange)
}

func (c Contract) String() string { return c.Canonical() }

// Validate checks the invariants from spec.md §3: month code must be
// quarterly, tick size must be positive.
func (c Contract) Validate() error {
	if !c.Month.IsQuarterly() {
		return fmt.Errorf("contract %s: month code %q is not a quarterly code", c.Root, c.Month)
	}
	if c.TickSize.Sign() <= 0 {
		return fmt.Errorf("contract %s: tick size %s must be positive", c.Root, c.TickSize)
	}
	return nil
}

// RolloverEntry pins one Contract to the window during which it is the
// front-month symbol returned for its Root. Per spec.md §4.1 the active
// contract at instant t is the earliest-expiring contract whose
// rollover_date is after t, so a contract's front-month window ends at its
// own RolloverAt, not at its actual expiration.
type RolloverEntry struct {
	Contract      Contract
	EffectiveFrom time.Time // first instant this contract is front month
	ExpiresAt     time.Time // contract's actual last trade date (informational)
	RolloverAt    time.Time // = expiration_date - N business days; ends this entry's front-month window
}

// RolloverSchedule is the ordered, non-overlapping sequence of front-month
// assignments for one root symbol (spec.md §4.1).
type RolloverSchedule struct {
	Root    string
	Entries []RolloverEntry // sorted by EffectiveFrom ascending
}

// At returns the contract that is front month at instant t, and whether one
// was found.
func (s RolloverSchedule) At(t time.Time) (Contract, bool) {
	for _, e := range s.Entries {
		if !t.Before(e.EffectiveFrom) && t.Before(e.RolloverAt) {
			return e.Contract, true
		}
	}
	return Contract{}, false
}

// DaysUntilRollover returns the number of calendar days between t and the
// front-month entry's RolloverAt, or -1 if t falls outside every entry.
func (s RolloverSchedule) DaysUntilRollover(t time.Time) int {
	for _, e := range s.Entries {
		if !t.Before(e.EffectiveFrom) && t.Before(e.RolloverAt) {
			return int(e.RolloverAt.Sub(t).Hours() / 24)
		}
	}
	return -1
}
