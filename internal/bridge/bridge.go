// Package bridge implements the Bridge Transport (C2): an HTTP client to
// the remote market-data bridge, with path allow-listing, exponential
// backoff retry, and health-driven degraded-state reporting.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/minhos/mdic/internal/jitter"
	"github.com/minhos/mdic/internal/mdicerr"
)

// Config controls connection pooling, timeouts, and retry/health policy.
type Config struct {
	BaseURL         string
	AllowedRoots    []string // path prefixes requests are restricted to
	RequestTimeout  time.Duration
	MaxIdleConns    int
	HealthInterval  time.Duration
	FailureStreak   int // consecutive health failures before degraded
	RetryBase       time.Duration
	RetryFactor     float64
	RetryCap        time.Duration
	RetryJitterFrac float64
}

// DefaultConfig matches spec.md §4.2's transport policy.
func DefaultConfig(baseURL string, allowedRoots ...string) Config {
	return Config{
		BaseURL:         baseURL,
		AllowedRoots:    allowedRoots,
		RequestTimeout:  5 * time.Second,
		MaxIdleConns:    32,
		HealthInterval:  30 * time.Second,
		FailureStreak:   3,
		RetryBase:       100 * time.Millisecond,
		RetryFactor:     2,
		RetryCap:        5 * time.Second,
		RetryJitterFrac: 0.2,
	}
}

// DirEntry is one row of a list_dir response.
type DirEntry struct {
	Name  string
	Size  int64
	Mtime time.Time
}

// Health is the remote's reported health status.
type Health struct {
	Status            string
	LastDataTimestamp time.Time
}

// Bridge is the C2 Bridge Transport client.
type Bridge struct {
	cfg    Config
	http   *resty.Client
	rng    *jitter.RNG
	health gobreaker.CircuitBreaker
}

// New builds a Bridge over the given config. The HTTP client uses a
// persistent connection pool with keep-alive, matching spec.md §4.2.
func New(cfg Config) *Bridge {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetTransport(transport).
		SetRetryCount(0) // retries are driven explicitly by Bridge.withRetry, not resty's own loop

	b := &Bridge{
		cfg:  cfg,
		http: httpClient,
		rng:  jitter.New(time.Now().UnixNano()),
	}

	b.health = *gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bridge-health",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.HealthInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.FailureStreak
		},
	})

	return b
}

// IsDegraded reports whether the health breaker has tripped: a failure
// streak at or above the configured threshold. Per spec.md §4.2 this never
// blocks requests — it is observability only.
func (b *Bridge) IsDegraded() bool {
	return b.health.State() != gobreaker.StateClosed
}

// PollHealth issues one health() check and feeds the result into the
// breaker that backs IsDegraded. Intended to be called by the Scheduler's
// health-poll task every HealthInterval.
func (b *Bridge) PollHealth(ctx context.Context) (Health, error) {
	h, err := b.health.Execute(func() (interface{}, error) {
		return b.doHealth(ctx)
	})
	if err != nil {
		return Health{}, err
	}
	return h.(Health), nil
}

func (b *Bridge) doHealth(ctx context.Context) (Health, error) {
	var result struct {
		Status         string `json:"status"`
		LastDataUpdate string `json:"last_data_update"`
	}
	resp, err := b.http.R().SetContext(ctx).SetResult(&result).Get("/health")
	if err != nil {
		return Health{}, mdicerr.Network("bridge.health", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Health{}, mdicerr.Network("bridge.health", fmt.Errorf("status %d", resp.StatusCode()))
	}
	lastData, err := time.Parse(time.RFC3339, result.LastDataUpdate)
	if err != nil {
		return Health{}, mdicerr.Decode("bridge.health", fmt.Errorf("parsing last_data_update: %w", err))
	}
	return Health{
		Status:            result.Status,
		LastDataTimestamp: lastData,
	}, nil
}

// validatePath rejects any path outside the configured allow-list roots
// before a request is ever sent, per spec.md §4.2.
func (b *Bridge) validatePath(p string) error {
	if len(b.cfg.AllowedRoots) == 0 {
		return nil
	}
	clean := path.Clean("/" + p)
	for _, root := range b.cfg.AllowedRoots {
		if clean == root || strings.HasPrefix(clean, strings.TrimSuffix(root, "/")+"/") {
			return nil
		}
	}
	return mdicerr.New("bridge.validatePath", mdicerr.PermissionDenied,
		fmt.Errorf("path %q is outside allowed roots %v", p, b.cfg.AllowedRoots)).WithPath(p)
}

// ReadText implements read_text(path) → bytes via
// GET /api/file/read?path=P, per spec.md §6.1.
func (b *Bridge) ReadText(ctx context.Context, p string) ([]byte, error) {
	if err := b.validatePath(p); err != nil {
		return nil, err
	}
	var body []byte
	err := b.withRetry(ctx, "bridge.ReadText", func() error {
		resp, err := b.http.R().SetContext(ctx).SetQueryParam("path", p).Get("/api/file/read")
		if err != nil {
			return mdicerr.Network("bridge.ReadText", err).WithPath(p)
		}
		switch resp.StatusCode() {
		case http.StatusOK:
			body = resp.Body()
			return nil
		case http.StatusNotFound:
			return mdicerr.NotFoundf("bridge.ReadText", "remote has no file at %q", p).WithPath(p)
		case http.StatusForbidden:
			return mdicerr.New("bridge.ReadText", mdicerr.PermissionDenied, fmt.Errorf("remote rejected path")).WithPath(p)
		default:
			return mdicerr.Network("bridge.ReadText", fmt.Errorf("status %d", resp.StatusCode())).WithPath(p)
		}
	})
	return body, err
}

// ReadBinary implements read_binary(path, offset, length) → bytes via
// GET /api/file/read_binary?path=P&offset=N&length=M, per spec.md §6.1.
func (b *Bridge) ReadBinary(ctx context.Context, p string, offset, length int64) ([]byte, error) {
	if err := b.validatePath(p); err != nil {
		return nil, err
	}
	var body []byte
	err := b.withRetry(ctx, "bridge.ReadBinary", func() error {
		resp, err := b.http.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"path":   p,
				"offset": strconv.FormatInt(offset, 10),
				"length": strconv.FormatInt(length, 10),
			}).
			Get("/api/file/read_binary")
		if err != nil {
			return mdicerr.Network("bridge.ReadBinary", err).WithPath(p)
		}
		switch resp.StatusCode() {
		case http.StatusOK, http.StatusPartialContent:
			body = resp.Body()
			return nil
		case http.StatusNotFound:
			return mdicerr.NotFoundf("bridge.ReadBinary", "remote has no file at %q", p).WithPath(p)
		case http.StatusForbidden:
			return mdicerr.New("bridge.ReadBinary", mdicerr.PermissionDenied, fmt.Errorf("remote rejected path")).WithPath(p)
		default:
			return mdicerr.Network("bridge.ReadBinary", fmt.Errorf("status %d", resp.StatusCode())).WithPath(p)
		}
	})
	return body, err
}

// SubmitOrder implements submit_order(content) → ack via
// POST /api/trade/execute, per spec.md §6.1. The response body is returned
// unparsed so the caller (internal/orders) can decode it against its own
// wire response type.
func (b *Bridge) SubmitOrder(ctx context.Context, content []byte) ([]byte, error) {
	var body []byte
	err := b.withRetry(ctx, "bridge.SubmitOrder", func() error {
		resp, err := b.http.R().SetContext(ctx).SetBody(content).Post("/api/trade/execute")
		if err != nil {
			return mdicerr.Network("bridge.SubmitOrder", err)
		}
		if resp.StatusCode() >= 300 {
			return mdicerr.Network("bridge.SubmitOrder", fmt.Errorf("status %d", resp.StatusCode()))
		}
		body = resp.Body()
		return nil
	})
	return body, err
}

// PollOrderStatus implements read_response(order_id) → bytes via
// GET /api/trade/status/{order_id}, per spec.md §6.1.
func (b *Bridge) PollOrderStatus(ctx context.Context, orderID string) ([]byte, error) {
	var body []byte
	err := b.withRetry(ctx, "bridge.PollOrderStatus", func() error {
		resp, err := b.http.R().SetContext(ctx).Get("/api/trade/status/" + orderID)
		if err != nil {
			return mdicerr.Network("bridge.PollOrderStatus", err)
		}
		switch resp.StatusCode() {
		case http.StatusOK:
			body = resp.Body()
			return nil
		case http.StatusNotFound:
			return mdicerr.NotFoundf("bridge.PollOrderStatus", "no response yet for order %q", orderID)
		default:
			return mdicerr.Network("bridge.PollOrderStatus", fmt.Errorf("status %d", resp.StatusCode()))
		}
	})
	return body, err
}

// ListDir implements list_dir(path) → list of {name, size, mtime} via
// GET /api/list?path=P, per spec.md §6.1.
func (b *Bridge) ListDir(ctx context.Context, p string) ([]DirEntry, error) {
	if err := b.validatePath(p); err != nil {
		return nil, err
	}
	var entries []DirEntry
	err := b.withRetry(ctx, "bridge.ListDir", func() error {
		var result struct {
			Entries []struct {
				Name  string `json:"name"`
				Size  int64  `json:"size"`
				Mtime string `json:"mtime"`
			} `json:"entries"`
		}
		resp, err := b.http.R().SetContext(ctx).SetQueryParam("path", p).SetResult(&result).Get("/api/list")
		if err != nil {
			return mdicerr.Network("bridge.ListDir", err).WithPath(p)
		}
		if resp.StatusCode() != http.StatusOK {
			return mdicerr.Network("bridge.ListDir", fmt.Errorf("status %d", resp.StatusCode())).WithPath(p)
		}
		entries = make([]DirEntry, len(result.Entries))
		for i, r := range result.Entries {
			mtime, _ := time.Parse(time.RFC3339, r.Mtime)
			entries[i] = DirEntry{Name: r.Name, Size: r.Size, Mtime: mtime}
		}
		return nil
	})
	return entries, err
}

// withRetry runs op with exponential backoff (base, factor, cap, ±jitter)
// for NetworkError only; 4xx-derived errors (NotFound, PermissionDenied)
// are surfaced immediately without retry, per spec.md §4.2.
func (b *Bridge) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := b.cfg.RetryBase
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !mdicerr.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt >= maxRetryAttempts(b.cfg) {
			return lastErr
		}

		wait := b.rng.Jitter(delay, b.cfg.RetryJitterFrac)
		select {
		case <-ctx.Done():
			return mdicerr.New(op, mdicerr.Timeout, ctx.Err())
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * b.cfg.RetryFactor)
		if delay > b.cfg.RetryCap {
			delay = b.cfg.RetryCap
		}
	}
}

// maxRetryAttempts derives a retry budget from the cap/base ratio so the
// delay sequence saturates at RetryCap rather than growing unbounded.
func maxRetryAttempts(cfg Config) int {
	if cfg.RetryFactor <= 1 {
		return 5
	}
	n := 0
	d := cfg.RetryBase
	for d < cfg.RetryCap && n < 20 {
		d = time.Duration(float64(d) * cfg.RetryFactor)
		n++
	}
	return n + 2
}
