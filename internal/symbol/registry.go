// Package symbol implements the Symbol Registry (C1): it resolves logical
// roots such as "NQ" to the currently active Contract and tracks rollover
// schedules loaded from a declarative configuration table.
package symbol

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
)

// RootConfig is one row of the declarative symbol table: everything the
// Registry needs to know about a logical root, with no hard-coded symbol
// strings anywhere else in the program.
type RootConfig struct {
	Root        string   `yaml:"root"`
	Exchange    string   `yaml:"exchange"`
	Months      []string `yaml:"months"` // e.g. ["H","M","U","Z"]
	TickSize    string   `yaml:"tick_size"`
	Multiplier  string   `yaml:"multiplier"`
	AssetClass  string   `yaml:"asset_class"`
	Expirations []string `yaml:"expiration_dates"` // YYYY-MM-DD dates, next 2 years

	// PreRollBusinessDays is a pointer so an explicit `pre_roll_business_days: 0`
	// (roll exactly at expiration) is distinguishable from the key being
	// absent (roll defaultPreRollBusinessDays business days early).
	PreRollBusinessDays *int `yaml:"pre_roll_business_days"`
	Priority            int  `yaml:"priority"`
}

// ChangeEvent is published whenever all_active() changes.
type ChangeEvent struct {
	Sequence uint64
	Active   []model.Contract
	At       time.Time
}

// AlertThresholds is the default monotonically decreasing list of
// days-until-rollover at which a rollover-pending notification fires.
var AlertThresholds = []int{30, 15, 7, 3, 1}

// RolloverAlert is emitted once per (contract, threshold) pair.
type RolloverAlert struct {
	Contract  model.Contract
	Threshold int
	DaysLeft  int
}

type rootState struct {
	schedule     model.RolloverSchedule
	priority     int
	firedAlerts  map[string]bool // "contract|threshold" -> fired
}

// Registry is read-mostly: writes happen only on configuration reload or
// scheduled rollover; reads take a read lock over an otherwise immutable
// snapshot of schedules.
type Registry struct {
	mu       sync.RWMutex
	roots    map[string]*rootState
	lastActive []model.Contract

	subMu sync.Mutex
	subs  []chan ChangeEvent
	seq   uint64
}

// NewRegistry builds a Registry from a set of declarative root configs,
// computing each root's RolloverSchedule immediately.
func NewRegistry(configs []RootConfig) (*Registry, error) {
	r := &Registry{roots: make(map[string]*rootState, len(configs))}
	for _, c := range configs {
		sched, priority, err := buildSchedule(c)
		if err != nil {
			return nil, mdicerr.Configuration("symbol.NewRegistry", err).WithSymbol(c.Root)
		}
		r.roots[c.Root] = &rootState{schedule: sched, priority: priority, firedAlerts: make(map[string]bool)}
	}
	return r, nil
}

// Current returns the active contract for root at the current instant.
func (r *Registry) Current(root string) (model.Contract, error) {
	return r.At(root, time.Now())
}

// At returns the active contract for root per the rollover rule (spec.md
// §4.1): the earliest-expiring contract whose rollover_date is after now.
func (r *Registry) At(root string, now time.Time) (model.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.roots[root]
	if !ok {
		return model.Contract{}, mdicerr.NotFoundf("symbol.At", "unknown root %q", root).WithSymbol(root)
	}
	c, ok := st.schedule.At(now)
	if !ok {
		return model.Contract{}, mdicerr.Configuration("symbol.At",
			errNoActiveContract(root)).WithSymbol(root)
	}
	return c, nil
}

// Schedule returns the full rollover schedule for root.
func (r *Registry) Schedule(root string) (model.RolloverSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.roots[root]
	if !ok {
		return model.RolloverSchedule{}, mdicerr.NotFoundf("symbol.Schedule", "unknown root %q", root).WithSymbol(root)
	}
	return st.schedule, nil
}

// AllActive returns the currently active contract for every configured
// root, sorted by priority then root name.
func (r *Registry) AllActive() []model.Contract {
	now := time.Now()
	r.mu.RLock()
	type entry struct {
		c        model.Contract
		priority int
	}
	entries := make([]entry, 0, len(r.roots))
	for root, st := range r.roots {
		if c, ok := st.schedule.At(now); ok {
			entries = append(entries, entry{c: c, priority: st.priority})
		}
		_ = root
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].c.Root < entries[j].c.Root
	})
	out := make([]model.Contract, len(entries))
	for i, e := range entries {
		out[i] = e.c
	}
	return out
}

// DaysUntilRollover returns the number of days remaining before root's
// active contract is superseded.
func (r *Registry) DaysUntilRollover(root string, now time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.roots[root]
	if !ok {
		return 0, mdicerr.NotFoundf("symbol.DaysUntilRollover", "unknown root %q", root).WithSymbol(root)
	}
	return st.schedule.DaysUntilRollover(now), nil
}

// Priority returns the configured tie-break priority for root (lower sorts
// first), used by C7 to order gap repairs when two gaps end at the same
// instant.
func (r *Registry) Priority(root string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.roots[root]
	if !ok {
		return 0, mdicerr.NotFoundf("symbol.Priority", "unknown root %q", root).WithSymbol(root)
	}
	return st.priority, nil
}

// Subscribe registers a channel that receives a ChangeEvent whenever
// all_active() changes. The channel is never closed by the Registry; the
// caller is responsible for dropping it.
func (r *Registry) Subscribe() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 1)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

// Refresh re-evaluates all_active() against the previously published set
// and, if it differs, publishes a totally-ordered ChangeEvent to every
// subscriber. Call this from the Scheduler's rollover-check task.
func (r *Registry) Refresh() {
	active := r.AllActive()

	r.mu.Lock()
	changed := !sameContracts(r.lastActive, active)
	r.lastActive = active
	r.mu.Unlock()

	if !changed {
		return
	}

	r.subMu.Lock()
	r.seq++
	ev := ChangeEvent{Sequence: r.seq, Active: active, At: time.Now()}
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default: // slow subscriber: drop, it will catch up on next AllActive() poll
		}
	}
	r.subMu.Unlock()
}

// PendingAlerts evaluates the rollover-pending thresholds for every active
// contract and returns the alerts that have newly crossed a threshold
// since the last call. Each (contract, threshold) pair fires at most once.
func (r *Registry) PendingAlerts(now time.Time) []RolloverAlert {
	r.mu.Lock()
	defer r.mu.Unlock()

	var alerts []RolloverAlert
	for _, st := range r.roots {
		c, ok := st.schedule.At(now)
		if !ok {
			continue
		}
		days := st.schedule.DaysUntilRollover(now)
		if days < 0 {
			continue
		}
		for _, threshold := range AlertThresholds {
			if days > threshold {
				continue
			}
			key := c.Canonical() + "|" + strconv.Itoa(threshold)
			if st.firedAlerts[key] {
				continue
			}
			st.firedAlerts[key] = true
			alerts = append(alerts, RolloverAlert{Contract: c, Threshold: threshold, DaysLeft: days})
		}
	}
	return alerts
}

func sameContracts(a, b []model.Contract) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

