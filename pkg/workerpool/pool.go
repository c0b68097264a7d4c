// Package workerpool runs jobs on a fixed number of goroutines fed by a
// bounded queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

var ErrPoolClosed = errors.New("worker pool closed")

type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	name string
	job  Job
}

type Pool struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan task
	wg     sync.WaitGroup
}

func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{jobs: make(chan task, queueSize)}
	for i := 1; i <= workers; i++ {
		p.wg.Add(1)
		go func(workerId int) {
			defer p.wg.Done()
			for t := range p.jobs {
				p.run(workerId, t)
			}
		}(i)
	}
	return p
}

// Submit queues job to run with ctx and returns without waiting for it to
// run. While the queue is full it blocks, which holds back the consumer
// until a worker frees a slot, and gives up when submitCtx is done.
func (p *Pool) Submit(submitCtx, ctx context.Context, name string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- task{ctx: ctx, name: name, job: job}:
		return nil
	case <-submitCtx.Done():
		return submitCtx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish, or for ctx to be done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(workerId int, t task) {
	logger := zerolog.Ctx(t.ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("job", t.name).
				Int("worker_id", workerId).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("job panicked")
		}
	}()

	if err := t.job(t.ctx); err != nil {
		logger.Error().Err(err).Str("job", t.name).Int("worker_id", workerId).Msg("job failed")
		return
	}
	logger.Debug().Str("job", t.name).Int("worker_id", workerId).Msg("job finished")
}
