package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFiresPeriodically(t *testing.T) {
	s := New(nil)
	var runs int32
	s.Register(Task{
		Name:   "counter",
		Period: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(3))
}

func TestOverlappingRunIsDroppedAsOverrun(t *testing.T) {
	s := New(nil)
	var concurrent int32
	var maxConcurrent int32

	s.Register(Task{
		Name:   "slow",
		Period: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			time.Sleep(40 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))

	overruns, ok := s.Overruns("slow")
	require.True(t, ok)
	assert.Greater(t, overruns, uint64(0))
}

func TestTriggerNowRunsImmediately(t *testing.T) {
	s := New(nil)
	done := make(chan struct{})
	s.Register(Task{
		Name:   "oneoff",
		Period: time.Hour,
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	ok := s.TriggerNow(ctx, "oneoff")
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("triggered task did not run")
	}
}

func TestTriggerNowUnknownTaskReturnsFalse(t *testing.T) {
	s := New(nil)
	assert.False(t, s.TriggerNow(context.Background(), "nope"))
}
