package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	h := NewHub[int](4)
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish(42)

	assert.Equal(t, 42, <-a.Recv())
	assert.Equal(t, 42, <-b.Recv())
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	h := NewHub[int](1)
	sub := h.Subscribe()

	h.Publish(1) // fills the buffer
	h.Publish(2) // dropped, buffer still full

	assert.Equal(t, uint64(1), sub.Dropped.Load())
	assert.Equal(t, 1, <-sub.Recv())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub[int](4)
	sub := h.Subscribe()
	h.Unsubscribe(sub)

	require.Equal(t, 0, h.Count())
	select {
	case <-sub.Done():
	default:
		t.Fatal("expected subscriber to be marked done after Unsubscribe")
	}
}

func TestDefaultBufferSizeApplied(t *testing.T) {
	h := NewHub[int](0)
	assert.Equal(t, DefaultBufferSize, h.bufferSize)
}
