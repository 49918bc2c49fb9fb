// Package ticksnap implements the Tick Snapshot Ingestor (C5): it polls a
// per-symbol JSON snapshot file through the Bridge Transport, deduplicates
// and freshness-checks it, and fans accepted ticks out to subscribers.
package ticksnap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhos/mdic/internal/broadcast"
	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
)

// DefaultPollInterval is the snapshot polling cadence spec.md §4.5 names.
const DefaultPollInterval = 100 * time.Millisecond

// StaleAfter is the duration without an accepted snapshot after which a
// symbol is flagged stale.
const StaleAfter = 60 * time.Second

// snapshotReader abstracts bridge.Bridge.ReadText so this package can be
// tested without a live HTTP server.
type snapshotReader interface {
	ReadText(ctx context.Context, path string) ([]byte, error)
}

// wireSnapshot mirrors the JSON object the remote producer writes
// atomically per subscribed symbol (spec.md §4.5).
type wireSnapshot struct {
	Symbol      string          `json:"symbol"`
	TimestampUs int64           `json:"timestamp_us"`
	Price       decimal.Decimal `json:"price"`
	Volume      uint32          `json:"volume"`
	Bid         decimal.Decimal `json:"bid"`
	Ask         decimal.Decimal `json:"ask"`
	BidSize     uint32          `json:"bid_size"`
	AskSize     uint32          `json:"ask_size"`
	LastSize    uint32          `json:"last_size"`
	Side        string          `json:"side"`
	Sequence    uint16          `json:"sequence"`
	VWAP        decimal.Decimal `json:"vwap"`
	Precision   int             `json:"precision"`
	Source      string          `json:"source"`
	TotalVolume int64           `json:"total_volume"`
	TradeCount  int64           `json:"trade_count"`
}

// StaleSymbol is the one-shot event published when a symbol has had no
// accepted snapshot for longer than StaleAfter.
type StaleSymbol struct {
	Symbol     string
	LastAccepted time.Time
}

type symbolState struct {
	mu           sync.Mutex
	lastSequence uint16
	haveSequence bool
	lastAccepted time.Time
	firedStale   bool
	outOfOrder   uint64
	duplicates   uint64
}

// Ingestor polls one symbol's snapshot file per configured interval,
// deduplicates by sequence, and publishes accepted ticks.
type Ingestor struct {
	bridge   snapshotReader
	interval time.Duration

	ticks *broadcast.Hub[model.Tick]
	stale *broadcast.Hub[StaleSymbol]

	mu      sync.Mutex
	states  map[string]*symbolState
	onAccept func(model.Tick) // hook for C6 persistence
}

// New builds an Ingestor. onAccept is invoked synchronously for every
// accepted tick before it's published to subscribers — C8 wires this to
// C6's insert_ticks.
func New(bridge snapshotReader, interval time.Duration, onAccept func(model.Tick)) *Ingestor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Ingestor{
		bridge:   bridge,
		interval: interval,
		ticks:    broadcast.NewHub[model.Tick](broadcast.DefaultBufferSize),
		stale:    broadcast.NewHub[StaleSymbol](broadcast.DefaultBufferSize),
		states:   make(map[string]*symbolState),
		onAccept: onAccept,
	}
}

// Subscribe registers a new tick subscriber.
func (ing *Ingestor) Subscribe() *broadcast.Subscriber[model.Tick] { return ing.ticks.Subscribe() }

// SubscribeStale registers a new StaleSymbol event subscriber.
func (ing *Ingestor) SubscribeStale() *broadcast.Subscriber[StaleSymbol] { return ing.stale.Subscribe() }

func (ing *Ingestor) stateFor(symbol string) *symbolState {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	st, ok := ing.states[symbol]
	if !ok {
		st = &symbolState{}
		ing.states[symbol] = st
	}
	return st
}

// PollOnce reads and processes one snapshot for symbol at path. It returns
// true if the snapshot was accepted.
func (ing *Ingestor) PollOnce(ctx context.Context, symbol, path string) (bool, error) {
	data, err := ing.bridge.ReadText(ctx, path)
	if err != nil {
		return false, err
	}

	var snap wireSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, mdicerr.Decode("ticksnap.PollOnce", fmt.Errorf("symbol %s: %w", symbol, err)).WithSymbol(symbol)
	}

	st := ing.stateFor(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.haveSequence {
		if snap.Sequence == st.lastSequence {
			st.duplicates++
			return false, nil
		}
		_, forward := model.SequenceForward(st.lastSequence, snap.Sequence)
		if !forward {
			st.outOfOrder++
			return false, nil
		}
	}

	tick := model.Tick{
		Symbol:           symbol,
		TimestampUs:      snap.TimestampUs,
		Price:            snap.Price,
		Size:             snap.LastSize,
		Bid:              snap.Bid,
		Ask:              snap.Ask,
		BidSize:          snap.BidSize,
		AskSize:          snap.AskSize,
		Side:             sideFromString(snap.Side),
		Sequence:         snap.Sequence,
		VWAP:             snap.VWAP,
		CumulativeVolume: snap.TotalVolume,
		TradeCount:       snap.TradeCount,
	}

	st.lastSequence = snap.Sequence
	st.haveSequence = true
	st.lastAccepted = time.Now()
	st.firedStale = false

	if ing.onAccept != nil {
		ing.onAccept(tick)
	}
	ing.ticks.Publish(tick)
	return true, nil
}

func sideFromString(s string) model.Side {
	switch s {
	case "B", "buy", "BUY":
		return model.SideBuy
	case "S", "sell", "SELL":
		return model.SideSell
	default:
		return model.SideUnknown
	}
}

// CheckStale scans every known symbol and publishes a StaleSymbol event
// (once per stale episode) for any symbol with no accepted snapshot for
// longer than StaleAfter.
func (ing *Ingestor) CheckStale(now time.Time) {
	ing.mu.Lock()
	states := make(map[string]*symbolState, len(ing.states))
	for k, v := range ing.states {
		states[k] = v
	}
	ing.mu.Unlock()

	for symbol, st := range states {
		st.mu.Lock()
		stale := st.haveSequence && now.Sub(st.lastAccepted) > StaleAfter && !st.firedStale
		if stale {
			st.firedStale = true
		}
		lastAccepted := st.lastAccepted
		st.mu.Unlock()

		if stale {
			ing.stale.Publish(StaleSymbol{Symbol: symbol, LastAccepted: lastAccepted})
		}
	}
}

// Stats reports dedup counters for a symbol, for diagnostics/tests.
func (ing *Ingestor) Stats(symbol string) (duplicates, outOfOrder uint64) {
	st := ing.stateFor(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.duplicates, st.outOfOrder
}
