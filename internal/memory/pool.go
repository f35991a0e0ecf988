// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package memory

import (
	"context"
	"sync"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Pool is the bounded background task pool for ingest processing.
// Submission is non-blocking: a full queue rejects, the caller logs,
// and the node stays PENDING for the recovery sweep. Shutdown drains
// with a deadline.
type Pool struct {
	tasks  chan func(context.Context)
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines over a queue of queueSize.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan func(context.Context), queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task(p.ctx)
			}
		}()
	}
	return p
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task func(context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return engramerr.New(engramerr.CodeInternalFailure, "worker pool is shut down")
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return engramerr.New(engramerr.CodeInternalFailure, "worker pool queue is full")
	}
}

// Shutdown stops intake and drains queued work. When ctx expires first,
// in-flight tasks are cancelled and whatever remains is left for the
// recovery worker.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
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
		p.cancel()
		<-done
		return ctx.Err()
	}
}
