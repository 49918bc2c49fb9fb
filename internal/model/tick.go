package model

import (
	"github.com/shopspring/decimal"
)

// Side is the trade aggressor side for a tick.
type Side byte

const (
	SideBuy     Side = 'B'
	SideSell    Side = 'S'
	SideUnknown Side = '?'
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "Buy"
	case SideSell:
		return "Sell"
	default:
		return "Unknown"
	}
}

// Tick is a single trade or quote update for a resolved contract symbol.
//
// Sequence is the producer's 16-bit monotonic tag (spec.md §3); timestamps
// are microseconds since the Unix epoch and must be non-decreasing within a
// symbol's stream.
type Tick struct {
	Symbol           string
	TimestampUs      int64
	Price            decimal.Decimal
	Size             uint32
	Bid              decimal.Decimal
	Ask              decimal.Decimal
	BidSize          uint32
	AskSize          uint32
	Side             Side
	Sequence         uint16
	VWAP             decimal.Decimal
	CumulativeVolume int64
	TradeCount       int64
}

// SequenceForward reports whether next is a forward progression of sequence
// modulo 2^16 relative to last, per spec.md §4.5: "new = (last + k) mod
// 2^16 for some k in [1, 32768]".
func SequenceForward(last, next uint16) (k uint16, forward bool) {
	k = next - last // wraps correctly via uint16 arithmetic
	if k == 0 {
		return 0, false
	}
	return k, k <= 32768
}
