// Package queue runs small operations one at a time on a dedicated worker
// goroutine so callers on latency-sensitive paths never block on I/O.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when enqueueing on a closed queue.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned by TryEnqueue when the buffer is full.
	ErrFull = errors.New("queue full")
)

// Op is one unit of work. It receives a context that is canceled when the
// queue closes.
type Op interface {
	Apply(ctx context.Context) error
}

// Func adapts a function into an Op.
type Func func(ctx context.Context) error

func (f Func) Apply(ctx context.Context) error { return f(ctx) }

// Queue serializes operations onto a single goroutine. Errors returned by
// operations go to OnError when it is set.
type Queue struct {
	OnError func(error)

	ch     chan Op
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a queue with a fixed buffer.
func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{ch: make(chan Op, buffer), ctx: ctx, cancel: cancel}
}

// Start begins the worker goroutine. Safe to call multiple times.
func (q *Queue) Start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go q.run()
	})
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			// drain what is already buffered, bounded by a short deadline
			deadline := time.After(10 * time.Millisecond)
			for {
				select {
				case op := <-q.ch:
					q.apply(op)
				case <-deadline:
					return
				default:
					return
				}
			}
		case op := <-q.ch:
			q.apply(op)
		}
	}
}

func (q *Queue) apply(op Op) {
	if op == nil {
		return
	}
	if err := op.Apply(q.ctx); err != nil && q.OnError != nil {
		q.OnError(err)
	}
}

// Enqueue adds an operation, waiting for buffer space.
func (q *Queue) Enqueue(op Op) error {
	if q == nil || q.ch == nil {
		return errors.New("queue not initialized")
	}
	if q.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case q.ch <- op:
		return nil
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// TryEnqueue adds an operation without waiting. It returns ErrFull when
// the buffer has no room.
func (q *Queue) TryEnqueue(op Op) error {
	if q == nil || q.ch == nil {
		return errors.New("queue not initialized")
	}
	if q.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case q.ch <- op:
		return nil
	default:
		return ErrFull
	}
}

// RunSync enqueues fn and waits for it to finish, returning its error.
func (q *Queue) RunSync(fn Func) error {
	done := make(chan error, 1)
	if err := q.Enqueue(Func(func(ctx context.Context) error {
		err := fn(ctx)
		done <- err
		return err
	})); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-q.ctx.Done():
		return context.Canceled
	}
}

// Close stops the worker and waits for it to finish.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
}
