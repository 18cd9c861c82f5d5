package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunner_InvokesJobOnEachTick(t *testing.T) {
	var calls int32
	r := NewRunner(nil, Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	time.Sleep(55 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestRunner_StopHaltsFurtherTicks(t *testing.T) {
	var calls int32
	r := NewRunner(nil, Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	r.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	r.Stop()
	after := atomic.LoadInt32(&calls)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&calls), "job must not keep ticking after Stop")
}

func TestRunner_SkipsJobsWithoutIntervalOrRun(t *testing.T) {
	r := NewRunner(nil, Job{Name: "no-op"})
	// Must not panic or busy-loop; Start should simply skip it.
	r.Start(context.Background())
	defer r.Stop()
	time.Sleep(5 * time.Millisecond)
}
