package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p, err := NewPool(4, zerolog.Nop())
	require.NoError(t, err)

	var n atomic.Int32
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(func(context.Context) { n.Add(1) }))
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.EqualValues(t, 4, n.Load())
}

func TestPoolRejectsWhenFull(t *testing.T) {
	p, err := NewPool(1, zerolog.Nop())
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrOverloaded)
	assert.Equal(t, 1, p.Running())

	close(release)
	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrStopped)
}

func TestPoolStopTimesOut(t *testing.T) {
	p, err := NewPool(1, zerolog.Nop())
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Submit(func(context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
}

func TestPoolRecoversPanics(t *testing.T) {
	p, err := NewPool(1, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolQueueWaitsForFreeWorker(t *testing.T) {
	p, err := NewPool(1, zerolog.Nop(), WithQueue(0))
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	ran := make(chan struct{})
	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(func(context.Context) { close(ran) })
	}()
	assert.Eventually(t, func() bool { return p.Waiting() == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-submitted)
	<-ran
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolQueueLimit(t *testing.T) {
	p, err := NewPool(1, zerolog.Nop(), WithQueue(1))
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	queued := make(chan error, 1)
	go func() { queued <- p.Submit(func(context.Context) {}) }()
	assert.Eventually(t, func() bool { return p.Waiting() == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrOverloaded)

	close(release)
	require.NoError(t, <-queued)
	require.NoError(t, p.Stop(context.Background()))
}
