package ticksnap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	bodies map[string][]byte
}

func (f *fakeBridge) ReadText(_ context.Context, path string) ([]byte, error) {
	b, ok := f.bodies[path]
	if !ok {
		return nil, fmt.Errorf("no such path %q", path)
	}
	return b, nil
}

func snapJSON(seq uint16, price string) []byte {
	return []byte(fmt.Sprintf(`{"symbol":"NQU25-CME","timestamp_us":1000,"price":%q,"volume":10,"bid":"%s","ask":"%s","sequence":%d,"side":"B"}`,
		price, price, price, seq))
}

func TestPollOnceDedupAndOutOfOrder(t *testing.T) {
	fb := &fakeBridge{bodies: map[string][]byte{"/a": snapJSON(1, "100.00")}}
	ing := New(fb, time.Millisecond, nil)

	ok, err := ing.PollOnce(context.Background(), "NQU25-CME", "/a")
	require.NoError(t, err)
	assert.True(t, ok)

	// Same sequence again: duplicate, dropped.
	ok, err = ing.PollOnce(context.Background(), "NQU25-CME", "/a")
	require.NoError(t, err)
	assert.False(t, ok)

	dup, ooo := ing.Stats("NQU25-CME")
	assert.Equal(t, uint64(1), dup)
	assert.Equal(t, uint64(0), ooo)

	// Backward sequence: out of order, dropped.
	fb.bodies["/a"] = snapJSON(0, "100.00")
	ok, err = ing.PollOnce(context.Background(), "NQU25-CME", "/a")
	require.NoError(t, err)
	assert.False(t, ok)

	dup, ooo = ing.Stats("NQU25-CME")
	assert.Equal(t, uint64(1), dup)
	assert.Equal(t, uint64(1), ooo)
}

func TestPollOnceForwardSequenceAccepted(t *testing.T) {
	fb := &fakeBridge{bodies: map[string][]byte{"/a": snapJSON(1, "100.00")}}
	ing := New(fb, time.Millisecond, nil)

	ok, err := ing.PollOnce(context.Background(), "NQU25-CME", "/a")
	require.NoError(t, err)
	assert.True(t, ok)

	fb.bodies["/a"] = snapJSON(2, "100.50")
	ok, err = ing.PollOnce(context.Background(), "NQU25-CME", "/a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPollOnceMapsTotalVolumeAndTradeCount(t *testing.T) {
	body := []byte(`{"symbol":"NQU25-CME","timestamp_us":1000,"price":"100.00","volume":3,
		"bid":"99.75","ask":"100.25","last_size":3,"sequence":1,"side":"B",
		"total_volume":10452,"trade_count":1234}`)
	fb := &fakeBridge{bodies: map[string][]byte{"/a": body}}
	ing := New(fb, time.Millisecond, nil)
	sub := ing.Subscribe()

	ok, err := ing.PollOnce(context.Background(), "NQU25-CME", "/a")
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case tick := <-sub.Recv():
		assert.Equal(t, int64(10452), tick.CumulativeVolume)
		assert.Equal(t, int64(1234), tick.TradeCount)
	case <-time.After(time.Second):
		t.Fatal("expected a published tick")
	}
}

func TestPublishFanOut(t *testing.T) {
	fb := &fakeBridge{bodies: map[string][]byte{"/a": snapJSON(1, "100.00")}}
	ing := New(fb, time.Millisecond, nil)
	sub := ing.Subscribe()

	ok, err := ing.PollOnce(context.Background(), "NQU25-CME", "/a")
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case tick := <-sub.Recv():
		assert.Equal(t, "NQU25-CME", tick.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected a published tick")
	}
}

func TestCheckStaleFiresOnce(t *testing.T) {
	fb := &fakeBridge{bodies: map[string][]byte{"/a": snapJSON(1, "100.00")}}
	ing := New(fb, time.Millisecond, nil)
	sub := ing.SubscribeStale()

	_, err := ing.PollOnce(context.Background(), "NQU25-CME", "/a")
	require.NoError(t, err)

	future := time.Now().Add(2 * time.Minute)
	ing.CheckStale(future)
	ing.CheckStale(future) // second call must not republish

	select {
	case ev := <-sub.Recv():
		assert.Equal(t, "NQU25-CME", ev.Symbol)
	default:
		t.Fatal("expected one stale event")
	}
	select {
	case <-sub.Recv():
		t.Fatal("stale event must fire only once per episode")
	default:
	}
}
