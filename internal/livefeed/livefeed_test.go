package livefeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhos/mdic/internal/bridge"
	"github.com/minhos/mdic/internal/model"
	"github.com/minhos/mdic/internal/symbol"
)

type fakeStore struct {
	inserted []model.Tick
}

func (f *fakeStore) InsertTicks(_ context.Context, _ string, ticks []model.Tick) error {
	f.inserted = append(f.inserted, ticks...)
	return nil
}

func (f *fakeStore) RangeBars(_ context.Context, _ string, _ model.Timeframe, _, _ time.Time) ([]model.DailyBar, error) {
	return nil, nil
}

func (f *fakeStore) Coverage(_ string, _ model.Timeframe) *model.CoverageIndex { return nil }

type fakeDegraded struct{ degraded bool }

func (f *fakeDegraded) IsDegraded() bool { return f.degraded }

func intp(n int) *int { return &n }

func testRegistry(t *testing.T) *symbol.Registry {
	t.Helper()
	reg, err := symbol.NewRegistry([]symbol.RootConfig{{
		Root: "NQ", Exchange: "CME", Months: []string{"Z"},
		TickSize: "0.25", Multiplier: "20", AssetClass: "Future",
		Expirations: []string{"2027-12-17"}, PreRollBusinessDays: intp(10), Priority: 1,
	}})
	require.NoError(t, err)
	return reg
}

func testTick(symbolStr string, seq uint16, ts int64) model.Tick {
	return model.Tick{Symbol: symbolStr, TimestampUs: ts, Sequence: seq, Side: model.SideBuy}
}

func newTestService(t *testing.T, bufSize int) (*Service, *fakeStore) {
	t.Helper()
	b := bridge.New(bridge.DefaultConfig("http://127.0.0.1:0"))
	reg := testRegistry(t)
	store := &fakeStore{}
	svc := New(b, reg, store, Config{
		PollInterval:     10 * time.Millisecond,
		SubscriberBuffer: bufSize,
		SnapshotPath:     func(sym string) string { return "/snapshots/" + sym + ".json" },
	})
	return svc, store
}

func TestOnAcceptPublishesAndUpdatesLatest(t *testing.T) {
	svc, store := newTestService(t, 16)

	svc.pollersMu.Lock()
	svc.symbolRoot["NQZ27-CME"] = "NQ"
	svc.pollersMu.Unlock()

	stream := svc.Subscribe("NQ")
	defer stream.Close()

	tick := testTick("NQZ27-CME", 1, 1000)
	svc.onAccept(tick)

	select {
	case got := <-stream.Ticks():
		assert.Equal(t, tick, got)
	case <-time.After(time.Second):
		t.Fatal("tick not delivered to subscriber")
	}

	latest, ok := svc.Latest("NQ")
	require.True(t, ok)
	assert.Equal(t, tick, latest)
	assert.Len(t, store.inserted, 1)
}

func TestTickStreamDisconnectsLaggingSubscriber(t *testing.T) {
	svc, _ := newTestService(t, 1)

	svc.pollersMu.Lock()
	svc.symbolRoot["NQZ27-CME"] = "NQ"
	svc.pollersMu.Unlock()

	stream := svc.Subscribe("NQ")
	defer stream.Close()

	// Flood past the buffer without draining Ticks() so the subscriber lags.
	for i := 0; i < 10; i++ {
		svc.onAccept(testTick("NQZ27-CME", uint16(i+1), int64(i+1)*1000))
	}

	select {
	case ev := <-stream.Terminal():
		assert.Equal(t, "LaggingSubscriber", ev.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("lagging subscriber was not disconnected")
	}
}

func TestStatusReportsDegradedState(t *testing.T) {
	svc, _ := newTestService(t, 16)
	svc.bridge = &fakeDegraded{degraded: true}

	st := svc.Status()
	assert.True(t, st.IsDegraded)
}

func TestHubForIsStablePerRoot(t *testing.T) {
	svc, _ := newTestService(t, 16)
	h1 := svc.hubFor("NQ")
	h2 := svc.hubFor("NQ")
	assert.Same(t, h1, h2)
}
