// Package orders implements the Order Submission Bridge (C9): it encodes
// an OrderCommand to the remote's trade-execute wire format, transmits it
// via the Bridge Transport, and polls the trade-status endpoint for a
// correlated response, following the Created -> Transmitted -> Pending ->
// Resolved state machine of spec.md §4.9.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
)

// DefaultDeadline and DefaultPollInterval match spec.md §4.9/§5.
const (
	DefaultDeadline     = 10 * time.Second
	DefaultPollInterval = 200 * time.Millisecond

	// lateGrace bounds how long the background poller keeps watching for a
	// response after the caller's deadline elapses, purely so a late
	// response can be logged and dropped per spec.md §4.9 / Scenario D.
	lateGrace = 5 * time.Second
)

// tradeBridge is the subset of *bridge.Bridge the order bridge needs.
type tradeBridge interface {
	SubmitOrder(ctx context.Context, content []byte) ([]byte, error)
	PollOrderStatus(ctx context.Context, orderID string) ([]byte, error)
}

// activeChecker reports the currently active contract set, satisfied by
// *symbol.Registry.
type activeChecker interface {
	AllActive() []model.Contract
}

// Config controls poll cadence.
type Config struct {
	PollInterval time.Duration
	Logger       *log.Logger
}

// State is a step in the per-order state machine.
type State int

const (
	StateCreated State = iota
	StateTransmitted
	StatePending
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateTransmitted:
		return "transmitted"
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

type pendingOrder struct {
	mu       sync.Mutex
	state    State
	resolved bool
	response model.OrderResponse
}

// Bridge is the C9 Order Submission Bridge. One Bridge owns the pending-order
// correlation table for its lifetime.
type Bridge struct {
	bridge tradeBridge
	active activeChecker
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]*pendingOrder
}

// New builds a Bridge. active resolves which contracts are currently
// tradeable, used to refuse orders for inactive symbols per spec.md §4.9's
// safety invariant.
func New(bridge tradeBridge, active activeChecker, cfg Config) *Bridge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		bridge:  bridge,
		active:  active,
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]*pendingOrder),
	}
}

func (b *Bridge) isActive(symbol string) bool {
	for _, c := range b.active.AllActive() {
		if c.Canonical() == symbol {
			return true
		}
	}
	return false
}

// State reports the current state machine position of orderID, if known.
func (b *Bridge) State(orderID string) (State, bool) {
	b.mu.Lock()
	po, ok := b.pending[orderID]
	b.mu.Unlock()
	if !ok {
		return 0, false
	}
	po.mu.Lock()
	defer po.mu.Unlock()
	return po.state, true
}

// Submit transmits cmd and blocks until the first OrderResponse for it is
// observed and decoded (whatever its status, terminal or not) or deadline
// elapses, per spec.md §4.9 and Scenario D/E. Submitting a
// duplicate order_id for an order that is not yet Resolved fails
// synchronously with DuplicateOrderId and never transmits.
func (b *Bridge) Submit(ctx context.Context, cmd model.OrderCommand, deadline time.Time) (model.OrderResponse, error) {
	if cmd.OrderID == "" {
		cmd.OrderID = uuid.NewString()
	}
	if err := cmd.Validate(); err != nil {
		return model.OrderResponse{}, mdicerr.Configuration("orders.Submit", err).WithSymbol(cmd.Symbol)
	}
	if !b.isActive(cmd.Symbol) {
		return model.OrderResponse{}, mdicerr.Configuration("orders.Submit",
			fmt.Errorf("symbol %q is not currently active in the registry", cmd.Symbol)).WithSymbol(cmd.Symbol)
	}

	b.mu.Lock()
	if existing, ok := b.pending[cmd.OrderID]; ok {
		existing.mu.Lock()
		unresolved := !existing.resolved
		existing.mu.Unlock()
		if unresolved {
			b.mu.Unlock()
			return model.OrderResponse{}, mdicerr.DuplicateOrder("orders.Submit", cmd.OrderID).WithSymbol(cmd.Symbol)
		}
	}
	po := &pendingOrder{state: StateCreated}
	b.pending[cmd.OrderID] = po
	b.mu.Unlock()

	data, err := json.Marshal(toWireCommand(cmd))
	if err != nil {
		b.resolve(po, model.OrderResponse{}, false)
		return model.OrderResponse{}, mdicerr.Configuration("orders.Submit", err).WithSymbol(cmd.Symbol)
	}

	if _, err := b.bridge.SubmitOrder(ctx, data); err != nil {
		b.resolve(po, model.OrderResponse{}, false)
		return model.OrderResponse{}, err
	}

	po.mu.Lock()
	po.state = StateTransmitted
	po.mu.Unlock()

	return b.pollUntilResolved(ctx, cmd.OrderID, deadline, po)
}

func (b *Bridge) resolve(po *pendingOrder, resp model.OrderResponse, haveResponse bool) {
	po.mu.Lock()
	defer po.mu.Unlock()
	po.state = StateResolved
	po.resolved = true
	if haveResponse {
		po.response = resp
	}
}

func (b *Bridge) pollUntilResolved(ctx context.Context, orderID string, deadline time.Time, po *pendingOrder) (model.OrderResponse, error) {
	po.mu.Lock()
	po.state = StatePending
	po.mu.Unlock()

	found := make(chan model.OrderResponse, 1)
	stop := make(chan struct{})
	go b.pollLoop(orderID, po, found, stop, deadline.Add(lateGrace))

	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case resp := <-found:
		close(stop)
		return resp, nil
	case <-ctx.Done():
		close(stop)
		b.resolve(po, model.OrderResponse{OrderID: orderID, Status: model.StatusFailed, Message: "cancelled"}, true)
		po.mu.Lock()
		resp := po.response
		po.mu.Unlock()
		return resp, ctx.Err()
	case <-timer.C:
		// A response that arrived exactly as the deadline elapsed wins
		// (spec.md §8: "response_ts <= deadline, response wins").
		select {
		case resp := <-found:
			close(stop)
			return resp, nil
		default:
		}
		b.resolve(po, model.OrderResponse{OrderID: orderID, Status: model.StatusFailed, Message: "timeout"}, true)
		po.mu.Lock()
		resp := po.response
		po.mu.Unlock()
		return resp, nil
	}
}

// pollLoop runs detached from Submit's deadline select so a response that
// arrives shortly after timeout can still be observed, logged, and
// dropped (spec.md §4.9: "a response observed after Resolved is logged and
// dropped").
func (b *Bridge) pollLoop(orderID string, po *pendingOrder, found chan<- model.OrderResponse, stop <-chan struct{}, hardDeadline time.Time) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if time.Now().After(hardDeadline) {
				return
			}
			data, err := b.bridge.PollOrderStatus(context.Background(), orderID)
			if err != nil {
				continue // not yet resolved (NotFound) or a transient fault: keep polling
			}

			var wire wireOrderResponse
			if jsonErr := json.Unmarshal(data, &wire); jsonErr != nil {
				b.logger.Printf("orders: order %s: malformed status response: %v", orderID, jsonErr)
				continue
			}
			resp := fromWireResponse(wire)

			po.mu.Lock()
			already := po.resolved
			if !already {
				po.resolved = true
				po.state = StateResolved
				po.response = resp
			}
			po.mu.Unlock()

			if already {
				b.logger.Printf("orders: order %s: response observed after resolution (status=%s), discarding", orderID, resp.Status)
				return
			}
			select {
			case found <- resp:
			default:
			}
			return
		}
	}
}
