// Package worker runs background tasks on a bounded goroutine pool.
package worker

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrOverloaded is returned by Submit when every worker is busy and no
// more submitters may wait.
var ErrOverloaded = errors.New("worker pool is at capacity")

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("worker pool is stopped")

type Task func(ctx context.Context)

type options struct {
	queue     bool
	maxQueued int
}

type Option func(*options)

// WithQueue makes Submit wait for a free worker instead of failing. At most
// maxQueued submitters wait at once; zero means no limit.
func WithQueue(maxQueued int) Option {
	return func(o *options) {
		o.queue = true
		o.maxQueued = maxQueued
	}
}

// Pool executes tasks on a fixed number of goroutines. By default
// submissions beyond the pool size are rejected; WithQueue makes them wait.
type Pool struct {
	pool   *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu      sync.Mutex
	stopped bool
}

func NewPool(size int, logger zerolog.Logger, opts ...Option) (*Pool, error) {
	if size <= 0 {
		size = 4
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.With().Str("component", "worker_pool").Logger()
	p, err := ants.NewPool(size,
		ants.WithNonblocking(!o.queue),
		ants.WithMaxBlockingTasks(o.maxQueued),
		ants.WithPanicHandler(func(v interface{}) {
			log.Error().Interface("panic", v).Msg("task panicked")
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create worker pool")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{pool: p, ctx: ctx, cancel: cancel, logger: log}, nil
}

// Submit hands task to a worker. With a queue it blocks until one is free.
// A task accepted before Stop is counted in the drain even while it waits.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.wg.Add(1)
	p.mu.Unlock()

	err := p.pool.Submit(func() {
		defer p.wg.Done()
		task(p.ctx)
	})
	if err != nil {
		p.wg.Done()
		switch {
		case errors.Is(err, ants.ErrPoolClosed), p.pool.IsClosed():
			// waiters woken by Release get an overload error from ants
			return ErrStopped
		case errors.Is(err, ants.ErrPoolOverload):
			return ErrOverloaded
		}
		return errors.Wrap(err, "submit task")
	}
	return nil
}

// Waiting returns the number of submitters blocked on a free worker.
func (p *Pool) Waiting() int {
	return p.pool.Waiting()
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return p.pool.Running()
}

func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Stop rejects new tasks and waits for running ones until ctx is done.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer p.pool.Release()
	select {
	case <-done:
		p.logger.Info().Msg("Worker pool drained")
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
