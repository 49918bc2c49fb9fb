package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhos/mdic/internal/mdicerr"
)

func TestReadTextOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL, "/data")
	b := New(cfg)

	got, err := b.ReadText(context.Background(), "/data/foo.csv")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestReadTextNotFoundNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL, "/data")
	b := New(cfg)

	_, err := b.ReadText(context.Background(), "/data/missing.csv")
	require.Error(t, err)
	assert.Equal(t, mdicerr.NotFound, mdicerr.KindOf(err))
	assert.Equal(t, 1, calls, "404 must not be retried")
}

func TestReadTextUsesFileReadEndpoint(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("path")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	b := New(DefaultConfig(srv.URL, "/data"))
	_, err := b.ReadText(context.Background(), "/data/foo.csv")
	require.NoError(t, err)
	assert.Equal(t, "/api/file/read", gotPath)
	assert.Equal(t, "/data/foo.csv", gotQuery)
}

func TestReadBinaryUsesFileReadBinaryEndpoint(t *testing.T) {
	var gotPath string
	var gotOffset, gotLength string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOffset = r.URL.Query().Get("offset")
		gotLength = r.URL.Query().Get("length")
		w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	b := New(DefaultConfig(srv.URL, "/data"))
	_, err := b.ReadBinary(context.Background(), "/data/foo.scid", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, "/api/file/read_binary", gotPath)
	assert.Equal(t, "10", gotOffset)
	assert.Equal(t, "20", gotLength)
}

func TestSubmitOrderUsesTradeExecuteEndpoint(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.Write([]byte(`{"status":"SUBMITTED","order_id":"X1","message":"ok"}`))
	}))
	defer srv.Close()

	b := New(DefaultConfig(srv.URL))
	got, err := b.SubmitOrder(context.Background(), []byte(`{"order_id":"X1"}`))
	require.NoError(t, err)
	assert.Equal(t, "/api/trade/execute", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Contains(t, string(got), "SUBMITTED")
}

func TestPollOrderStatusUsesTradeStatusEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"order_id":"X1","status":"FILLED"}`))
	}))
	defer srv.Close()

	b := New(DefaultConfig(srv.URL))
	got, err := b.PollOrderStatus(context.Background(), "X1")
	require.NoError(t, err)
	assert.Equal(t, "/api/trade/status/X1", gotPath)
	assert.Contains(t, string(got), "FILLED")
}

func TestValidatePathRejectsOutsideAllowedRoots(t *testing.T) {
	cfg := DefaultConfig("http://example.invalid", "/data")
	b := New(cfg)

	_, err := b.ReadText(context.Background(), "/etc/passwd")
	require.Error(t, err)
	assert.Equal(t, mdicerr.PermissionDenied, mdicerr.KindOf(err))
}

func TestWithRetryRetriesNetworkErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL, "/data")
	cfg.RetryBase = time.Millisecond
	cfg.RetryCap = 5 * time.Millisecond
	b := New(cfg)

	got, err := b.ReadText(context.Background(), "/data/flaky.csv")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestPollHealthTripsDegradedAfterFailureStreak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.FailureStreak = 3
	b := New(cfg)

	assert.False(t, b.IsDegraded())
	for i := 0; i < 3; i++ {
		_, _ = b.PollHealth(context.Background())
	}
	assert.True(t, b.IsDegraded())
}

func TestPollHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","last_data_update":"2023-11-14T22:13:20Z"}`))
	}))
	defer srv.Close()

	b := New(DefaultConfig(srv.URL))
	h, err := b.PollHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "2023-11-14T22:13:20Z", h.LastDataTimestamp.Format(time.RFC3339))
	assert.False(t, b.IsDegraded())
}
