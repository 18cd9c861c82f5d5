package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/apperr"
)

func TestPool_RunsSubmittedTask(t *testing.T) {
	p := NewPool(2, 10)
	p.Start()
	defer p.Stop()

	var ran int32
	err := p.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), ran)
}

func TestPool_PropagatesTaskError(t *testing.T) {
	p := NewPool(1, 10)
	p.Start()
	defer p.Stop()

	sentinel := apperr.ErrInvalidArgument
	err := p.Submit(context.Background(), func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestPool_RejectsWhenQueueSaturated(t *testing.T) {
	p := NewPool(1, 1)
	p.Start()
	defer p.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	go p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	// The one worker is busy and the watermark-1 queue has no slack,
	// so a concurrent submit must be rejected rather than queued.
	done := make(chan error, 1)
	go func() {
		done <- p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, apperr.ErrResourceExhausted)
	case <-time.After(time.Second):
		t.Fatal("expected immediate rejection, Submit blocked instead")
	}
	close(block)
}

func TestPool_SubmitAfterStopIsCancelled(t *testing.T) {
	p := NewPool(1, 4)
	p.Start()
	p.Stop()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrCancelled)
}
