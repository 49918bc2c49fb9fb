// Package livefeed implements the Live Market Data Service (C8): the
// composition root that wires the Symbol Registry (C1), Bridge Transport
// (C2), Tick Snapshot Ingestor (C5), and Time-Series Store (C6) together
// and exposes the unified subscribe/latest/historical/status contract of
// spec.md §4.8.
package livefeed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/minhos/mdic/internal/bridge"
	"github.com/minhos/mdic/internal/broadcast"
	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
	"github.com/minhos/mdic/internal/symbol"
	"github.com/minhos/mdic/internal/ticksnap"
)

// storeClient is the subset of *store.Store the service needs.
type storeClient interface {
	InsertTicks(ctx context.Context, symbol string, ticks []model.Tick) error
	RangeBars(ctx context.Context, symbol string, tf model.Timeframe, t0, t1 time.Time) ([]model.DailyBar, error)
	Coverage(symbol string, tf model.Timeframe) *model.CoverageIndex
}

// registryClient is the subset of *symbol.Registry the service needs.
type registryClient interface {
	AllActive() []model.Contract
	Subscribe() <-chan symbol.ChangeEvent
	Refresh()
}

// bridgeClient is the subset of *bridge.Bridge the service needs, beyond
// what it hands to the embedded Ingestor.
type bridgeClient interface {
	IsDegraded() bool
}

// Config controls per-symbol polling and the wire path template for
// snapshot files.
type Config struct {
	PollInterval     time.Duration            // default cadence (spec.md §4.5: 100ms)
	SymbolOverride   map[string]time.Duration // per-symbol cadence override
	SnapshotPath     func(contractSymbol string) string
	SubscriberBuffer int // per-root-subscriber buffer size (default broadcast.DefaultBufferSize)
	Logger           *log.Logger
}

type rootPoller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Status is the service-wide health snapshot (spec.md §4.8).
type Status struct {
	PerSymbolFreshness map[string]time.Time
	IsDegraded         bool
}

// Service is the C8 Live Market Data Service.
type Service struct {
	registry registryClient
	bridge   bridgeClient
	store    storeClient
	ing      *ticksnap.Ingestor
	cfg      Config
	logger   *log.Logger

	pollersMu       sync.Mutex
	pollers         map[string]*rootPoller // root -> active poller
	currentContract map[string]string      // root -> currently polled contract symbol
	symbolRoot      map[string]string      // contract symbol -> root

	hubMu sync.Mutex
	hubs  map[string]*broadcast.Hub[model.Tick] // root -> subscriber fan-out

	freshMu  sync.RWMutex
	freshest map[string]time.Time // contract symbol -> last accepted tick time
	latestMu sync.RWMutex
	latest   map[string]model.Tick // root -> most recent tick
}

// New builds a Service. It does not start polling until Run is called.
func New(b *bridge.Bridge, registry *symbol.Registry, store storeClient, cfg Config) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = ticksnap.DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Service{
		registry:        registry,
		bridge:          b,
		store:           store,
		cfg:             cfg,
		logger:          logger,
		pollers:         make(map[string]*rootPoller),
		currentContract: make(map[string]string),
		symbolRoot:      make(map[string]string),
		hubs:            make(map[string]*broadcast.Hub[model.Tick]),
		freshest:        make(map[string]time.Time),
		latest:          make(map[string]model.Tick),
	}
	s.ing = ticksnap.New(b, cfg.PollInterval, s.onAccept)
	return s
}

func (s *Service) onAccept(t model.Tick) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.InsertTicks(ctx, t.Symbol, []model.Tick{t}); err != nil {
		s.logger.Printf("livefeed: insert tick for %s: %v", t.Symbol, err)
	}

	s.freshMu.Lock()
	s.freshest[t.Symbol] = time.Now()
	s.freshMu.Unlock()

	s.pollersMu.Lock()
	root, ok := s.symbolRoot[t.Symbol]
	s.pollersMu.Unlock()
	if !ok {
		return
	}

	s.latestMu.Lock()
	s.latest[root] = t
	s.latestMu.Unlock()

	s.hubFor(root).Publish(t)
}

func (s *Service) hubFor(root string) *broadcast.Hub[model.Tick] {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	h, ok := s.hubs[root]
	if !ok {
		h = broadcast.NewHub[model.Tick](s.cfg.SubscriberBuffer)
		s.hubs[root] = h
	}
	return h
}

// Run subscribes to the Symbol Registry's change events, performs an
// initial Refresh to seed polling for every currently active contract, and
// blocks until ctx is cancelled, at which point all per-root pollers stop.
func (s *Service) Run(ctx context.Context) {
	changes := s.registry.Subscribe()
	s.registry.Refresh() // publishes the initial all_active() set as a change event

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case ev := <-changes:
			s.handleChange(ctx, ev)
		}
	}
}

func (s *Service) handleChange(ctx context.Context, ev symbol.ChangeEvent) {
	for _, c := range ev.Active {
		root := c.Root
		canonical := c.Canonical()

		s.pollersMu.Lock()
		current, exists := s.currentContract[root]
		s.pollersMu.Unlock()
		if exists && current == canonical {
			continue
		}

		s.stopPolling(root) // waits for the old contract's last in-flight poll to be forwarded
		s.startPolling(ctx, root, c)
	}
}

func (s *Service) pollIntervalFor(contractSymbol string) time.Duration {
	if d, ok := s.cfg.SymbolOverride[contractSymbol]; ok && d > 0 {
		return d
	}
	return s.cfg.PollInterval
}

func (s *Service) startPolling(ctx context.Context, root string, c model.Contract) {
	canonical := c.Canonical()
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.pollersMu.Lock()
	s.symbolRoot[canonical] = root
	s.currentContract[root] = canonical
	s.pollers[root] = &rootPoller{cancel: cancel, done: done}
	s.pollersMu.Unlock()

	interval := s.pollIntervalFor(canonical)
	path := s.cfg.SnapshotPath(canonical)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.ing.PollOnce(pollCtx, canonical, path); err != nil && mdicerr.KindOf(err) != mdicerr.NotFound {
					s.logger.Printf("livefeed: poll %s: %v", canonical, err)
				}
			}
		}
	}()
}

// stopPolling cancels root's current poller and waits for its goroutine to
// exit, so the last tick it accepted is guaranteed to have been forwarded
// (synchronously, inside PollOnce) before a new contract starts polling —
// this is what makes the rollover changeover atomic (spec.md §4.8).
func (s *Service) stopPolling(root string) {
	s.pollersMu.Lock()
	p, ok := s.pollers[root]
	delete(s.pollers, root)
	s.pollersMu.Unlock()
	if !ok {
		return
	}
	p.cancel()
	<-p.done
}

func (s *Service) stopAll() {
	s.pollersMu.Lock()
	roots := make([]string, 0, len(s.pollers))
	for root := range s.pollers {
		roots = append(roots, root)
	}
	s.pollersMu.Unlock()
	for _, root := range roots {
		s.stopPolling(root)
	}
}

// TickStream is a bounded live subscription for one root. A subscriber
// that falls behind is disconnected with a terminal LaggingSubscriber
// event rather than allowed to back-pressure the service (spec.md §4.5,
// §5, Scenario F).
type TickStream struct {
	root      string
	hub       *broadcast.Hub[model.Tick]
	sub       *broadcast.Subscriber[model.Tick]
	terminal  chan TerminalEvent
	stopWatch chan struct{}
}

// TerminalEvent is delivered once, after which no further ticks arrive.
type TerminalEvent struct {
	Reason string // "LaggingSubscriber" or "Cancelled"
}

// Ticks returns the channel of delivered ticks, strictly increasing in
// timestamp_us for this subscriber (spec.md §5).
func (ts *TickStream) Ticks() <-chan model.Tick { return ts.sub.Recv() }

// Terminal returns the channel on which the one-shot terminal event is
// delivered when this subscription ends.
func (ts *TickStream) Terminal() <-chan TerminalEvent { return ts.terminal }

// Close disconnects the subscription.
func (ts *TickStream) Close() {
	close(ts.stopWatch)
	ts.hub.Unsubscribe(ts.sub)
}

// Subscribe registers a new live tick subscription for root (spec.md §4.8's
// subscribe(symbol) -> Stream of Tick, keyed by logical root).
func (s *Service) Subscribe(root string) *TickStream {
	hub := s.hubFor(root)
	sub := hub.Subscribe()
	ts := &TickStream{
		root:      root,
		hub:       hub,
		sub:       sub,
		terminal:  make(chan TerminalEvent, 1),
		stopWatch: make(chan struct{}),
	}
	go ts.watchForLag()
	return ts
}

// watchForLag polls the subscriber's Dropped counter and disconnects the
// subscription the first time a publish has overflowed its buffer.
func (ts *TickStream) watchForLag() {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ts.stopWatch:
			return
		case <-ts.sub.Done():
			return
		case <-ticker.C:
			if ts.sub.Dropped.Load() > 0 {
				select {
				case ts.terminal <- TerminalEvent{Reason: "LaggingSubscriber"}:
				default:
				}
				ts.hub.Unsubscribe(ts.sub)
				return
			}
		}
	}
}

// Latest implements latest(symbol) -> Tick | None, keyed by logical root.
func (s *Service) Latest(root string) (model.Tick, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	t, ok := s.latest[root]
	return t, ok
}

// Historical implements historical(symbol, timeframe, [t0,t1)) -> Sequence
// of Bar, keyed by contract symbol.
func (s *Service) Historical(ctx context.Context, contractSymbol string, tf model.Timeframe, t0, t1 time.Time) ([]model.DailyBar, error) {
	return s.store.RangeBars(ctx, contractSymbol, tf, t0, t1)
}

// Status implements status() -> {per_symbol_freshness, is_degraded}.
func (s *Service) Status() Status {
	s.freshMu.RLock()
	fresh := make(map[string]time.Time, len(s.freshest))
	for k, v := range s.freshest {
		fresh[k] = v
	}
	s.freshMu.RUnlock()
	return Status{PerSymbolFreshness: fresh, IsDegraded: s.bridge.IsDegraded()}
}

// StaleSymbols forwards the ingestor's StaleSymbol events to callers
// driving a status dashboard (spec.md §4.5).
func (s *Service) StaleSymbols() *broadcast.Subscriber[ticksnap.StaleSymbol] {
	return s.ing.SubscribeStale()
}

// CheckStale drives the ingestor's staleness scan; intended to be called
// by the Scheduler (spec.md §4.10).
func (s *Service) CheckStale(now time.Time) { s.ing.CheckStale(now) }
